package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"tournament-payments/internal/models"
	"tournament-payments/internal/provider"
	"tournament-payments/internal/service"
	"tournament-payments/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Stripe caps event payloads well below this
const maxWebhookBytes = 1 << 20

// WebhookDedup remembers provider event ids already accepted
type WebhookDedup interface {
	CheckIdempotencyKey(ctx context.Context, key string) (bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the HTTP handlers call into
type Deps struct {
	Ledger    *service.Ledger
	Purchases *service.PurchaseService
	Catalog   *service.Catalog
	Charges   *service.ChargeExecutor
	Voids     *service.VoidExecutor
	Scheduler *service.ChargeScheduler
	Provider  provider.PaymentProvider
	Queue     service.JobQueue
	Dedup     WebhookDedup
	DedupTTL  time.Duration
	Checks    map[string]Pinger
}

// Handler contains HTTP handlers
type Handler struct {
	deps   Deps
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Deps) *Handler {
	return &Handler{
		deps:   deps,
		logger: util.Named("api"),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/stripe", h.stripeWebhook)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/bowlers/:id/balance", h.getBalance)
		v1.GET("/bowlers/:id/ledger", h.getLedger)
		v1.GET("/bowlers/:id/purchases", h.listPurchases)
		v1.POST("/bowlers/:id/purchases", h.createPurchase)
		v1.POST("/purchases/:id/void", h.voidPurchase)
		v1.POST("/purchases/:id/pay", h.payPurchase)

		v1.POST("/tournaments/:id/purchasable_items", h.addPurchasableItem)
		v1.POST("/purchasable_items/:id/stripe_products", h.mapStripeProduct)

		v1.POST("/tournaments/:id/late_fee_check", h.lateFeeCheck)
		v1.POST("/purchasable_items/:id/discount_void_check", h.discountVoidCheck)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.deps.Checks {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// stripeWebhook verifies a provider event and queues it for reconciliation.
// Known event ids are acknowledged without queueing them again.
func (h *Handler) stripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("Webhook body too large", zap.Int64("limit", tooLarge.Limit))
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	event, err := h.deps.Provider.VerifyWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("Rejected webhook", zap.Error(err))
		util.WebhookEventsTotal.WithLabelValues("unverified", "rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	ctx := c.Request.Context()
	dedupKey := "webhook:" + event.ID
	if h.deps.Dedup != nil {
		seen, err := h.deps.Dedup.CheckIdempotencyKey(ctx, dedupKey)
		if err != nil {
			// the reconciler re-checks persisted state, so a dedup outage only costs a redundant job
			h.logger.Warn("Webhook dedup lookup failed", zap.String("event_id", event.ID), zap.Error(err))
		}
		if seen {
			util.WebhookEventsTotal.WithLabelValues(event.Type, "duplicate").Inc()
			c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
			return
		}
	}

	job, err := models.NewJob(models.JobTypeStripeEvent, models.StripeEventJob{
		EventID:   event.ID,
		AccountID: event.Account,
	})
	if err == nil {
		err = h.deps.Queue.Enqueue(ctx, job)
	}
	if err != nil {
		h.logger.Error("Failed to enqueue webhook event", zap.String("event_id", event.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue event"})
		return
	}

	if h.deps.Dedup != nil {
		if err := h.deps.Dedup.SetIdempotencyKey(ctx, dedupKey, event.Type, h.deps.DedupTTL); err != nil {
			h.logger.Warn("Failed to store webhook dedup key", zap.String("event_id", event.ID), zap.Error(err))
		}
	}

	util.WebhookEventsTotal.WithLabelValues(event.Type, "queued").Inc()
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// getBalance returns amounts due, paid and outstanding for a bowler
func (h *Handler) getBalance(c *gin.Context) {
	bowlerID, ok := parseID(c, "bowler")
	if !ok {
		return
	}

	balance, err := h.deps.Ledger.Balance(c.Request.Context(), bowlerID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bowler_id":          bowlerID,
		"amount_due":         money(balance.AmountDue),
		"amount_paid":        money(balance.AmountPaid),
		"amount_outstanding": money(balance.AmountOutstanding),
	})
}

// getLedger lists a bowler's ledger entries
func (h *Handler) getLedger(c *gin.Context) {
	bowlerID, ok := parseID(c, "bowler")
	if !ok {
		return
	}

	entries, err := h.deps.Ledger.Entries(c.Request.Context(), bowlerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// listPurchases lists a bowler's purchases
func (h *Handler) listPurchases(c *gin.Context) {
	bowlerID, ok := parseID(c, "bowler")
	if !ok {
		return
	}

	purchases, err := h.deps.Purchases.PurchasesForBowler(c.Request.Context(), bowlerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchases": purchases})
}

type createPurchaseRequest struct {
	PurchasableItemID int64  `json:"purchasable_item_id" binding:"required"`
	Source            string `json:"source"`
}

// createPurchase attaches an item to a bowler as an unpaid purchase
func (h *Handler) createPurchase(c *gin.Context) {
	bowlerID, ok := parseID(c, "bowler")
	if !ok {
		return
	}

	var req createPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	source := models.SourcePurchase
	if req.Source == models.SourceRegistration {
		source = models.SourceRegistration
	}

	_, purchase, err := h.deps.Charges.Execute(c.Request.Context(), models.AddPurchasableItemJob{
		BowlerID: bowlerID,
		ItemID:   req.PurchasableItemID,
		Source:   source,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, purchase)
}

type voidPurchaseRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// voidPurchase voids an unpaid purchase
func (h *Handler) voidPurchase(c *gin.Context) {
	purchaseID, ok := parseID(c, "purchase")
	if !ok {
		return
	}

	var req voidPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	result, err := h.deps.Voids.Execute(c.Request.Context(), models.VoidPurchaseJob{
		PurchaseID: purchaseID,
		Reason:     req.Reason,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"purchase_id": purchaseID,
		"result":      result.String(),
	})
}

type payPurchaseRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Notes      string `json:"notes"`
}

// payPurchase marks a purchase paid outside the payment provider
func (h *Handler) payPurchase(c *gin.Context) {
	purchaseID, ok := parseID(c, "purchase")
	if !ok {
		return
	}

	var req payPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	purchase, err := h.deps.Purchases.MarkPaidManually(c.Request.Context(), purchaseID, req.Identifier, req.Notes)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, purchase)
}

type addItemRequest struct {
	Name          string               `json:"name" binding:"required"`
	Category      string               `json:"category" binding:"required"`
	Determination string               `json:"determination" binding:"required"`
	Refinement    string               `json:"refinement"`
	Value         decimal.Decimal      `json:"value"`
	Configuration models.Configuration `json:"configuration"`
	Enabled       *bool                `json:"enabled"`
}

// addPurchasableItem adds a catalog item to a tournament
func (h *Handler) addPurchasableItem(c *gin.Context) {
	tournamentID, ok := parseID(c, "tournament")
	if !ok {
		return
	}

	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	item := &models.PurchasableItem{
		TournamentID:  tournamentID,
		Name:          req.Name,
		Category:      req.Category,
		Determination: req.Determination,
		Refinement:    req.Refinement,
		Value:         req.Value,
		Configuration: req.Configuration,
		Enabled:       req.Enabled == nil || *req.Enabled,
	}
	if err := h.deps.Catalog.AddItem(c.Request.Context(), item); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

type mapProductRequest struct {
	PriceID   string `json:"price_id" binding:"required"`
	ProductID string `json:"product_id" binding:"required"`
}

// mapStripeProduct links a provider price/product pair to an item
func (h *Handler) mapStripeProduct(c *gin.Context) {
	itemID, ok := parseID(c, "purchasable item")
	if !ok {
		return
	}

	var req mapProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	sp, err := h.deps.Catalog.MapProviderProduct(c.Request.Context(), itemID, req.PriceID, req.ProductID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sp)
}

// lateFeeCheck runs the late fee check for one tournament
func (h *Handler) lateFeeCheck(c *gin.Context) {
	tournamentID, ok := parseID(c, "tournament")
	if !ok {
		return
	}

	scheduled, err := h.deps.Scheduler.ScheduleLateFeeCheck(c.Request.Context(), tournamentID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"scheduled": scheduled})
}

// discountVoidCheck runs the discount expiry check for one item
func (h *Handler) discountVoidCheck(c *gin.Context) {
	itemID, ok := parseID(c, "purchasable item")
	if !ok {
		return
	}

	scheduled, err := h.deps.Scheduler.ScheduleDiscountVoidCheck(c.Request.Context(), itemID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"scheduled": scheduled})
}

// respondError maps the error taxonomy onto status codes
func (h *Handler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "Internal error"

	switch {
	case errors.Is(err, models.ErrNotFound):
		status, message = http.StatusNotFound, "Not found"
	case errors.Is(err, models.ErrAlreadyTerminal):
		status, message = http.StatusPreconditionFailed, "Already in a terminal state"
	case errors.Is(err, models.ErrSingleUseViolation):
		status, message = http.StatusConflict, "Single-use item already purchased"
	case errors.Is(err, models.ErrCatalogConflict):
		status, message = http.StatusConflict, "Catalog conflict"
	case errors.Is(err, models.ErrInvalidAmount):
		status, message = http.StatusBadRequest, "Invalid amount"
	case errors.Is(err, models.ErrProviderCommunication):
		status, message = http.StatusBadGateway, "Payment provider unavailable"
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}

func parseID(c *gin.Context, kind string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + kind + " ID",
		})
		return 0, false
	}
	return id, true
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
