package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tournament-payments/internal/models"
	"tournament-payments/internal/util"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Stripe talks to the Stripe API. Network retries are disabled: a failed
// call is surfaced and the job abandoned rather than risking a duplicate
// financial side effect.
type Stripe struct {
	api           *client.API
	webhookSecret string
}

// NewStripe creates a Stripe client
func NewStripe(secretKey, webhookSecret string, timeout time.Duration) *Stripe {
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
	})

	return &Stripe{
		api:           client.New(secretKey, &stripe.Backends{API: backend}),
		webhookSecret: webhookSecret,
	}
}

// Name returns the provider name
func (s *Stripe) Name() string {
	return "stripe"
}

// RetrieveCheckoutSession fetches a checkout session and pages through its line items
func (s *Stripe) RetrieveCheckoutSession(ctx context.Context, id, accountID string) (*CheckoutSession, error) {
	ctx, span := util.StartSpan(ctx, "Stripe.RetrieveCheckoutSession")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ProviderRequestLatency.WithLabelValues("retrieve_checkout_session").Observe(time.Since(start).Seconds())
	}()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	if accountID != "" {
		params.SetStripeAccount(accountID)
	}

	cs, err := s.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, &models.ProviderCommunicationError{Op: "retrieve checkout session " + id, Err: err}
	}

	session := &CheckoutSession{
		ID:          cs.ID,
		Status:      string(cs.Status),
		AmountTotal: decimal.New(cs.AmountTotal, -2),
	}
	if cs.PaymentIntent != nil {
		session.PaymentIntentID = cs.PaymentIntent.ID
	}

	liParams := &stripe.CheckoutSessionListLineItemsParams{Session: stripe.String(id)}
	liParams.Context = ctx
	if accountID != "" {
		liParams.SetStripeAccount(accountID)
	}

	iter := s.api.CheckoutSessions.ListLineItems(liParams)
	for iter.Next() {
		li := iter.LineItem()
		item := LineItem{Quantity: li.Quantity}
		if li.Price != nil {
			item.PriceID = li.Price.ID
			if li.Price.Product != nil {
				item.ProductID = li.Price.Product.ID
			}
		}
		session.LineItems = append(session.LineItems, item)
	}
	if err := iter.Err(); err != nil {
		return nil, &models.ProviderCommunicationError{Op: "list line items " + id, Err: err}
	}

	return session, nil
}

// RetrieveEvent fetches an event by ID
func (s *Stripe) RetrieveEvent(ctx context.Context, id, accountID string) (*Event, error) {
	ctx, span := util.StartSpan(ctx, "Stripe.RetrieveEvent")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ProviderRequestLatency.WithLabelValues("retrieve_event").Observe(time.Since(start).Seconds())
	}()

	params := &stripe.EventParams{}
	params.Context = ctx
	if accountID != "" {
		params.SetStripeAccount(accountID)
	}

	ev, err := s.api.Events.Get(id, params)
	if err != nil {
		return nil, &models.ProviderCommunicationError{Op: "retrieve event " + id, Err: err}
	}
	return convertEvent(ev)
}

// VerifyWebhook validates the Stripe-Signature header against the endpoint secret
func (s *Stripe) VerifyWebhook(payload []byte, signature string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("invalid webhook signature: %w", err)
	}
	return convertEvent(&ev)
}

func convertEvent(ev *stripe.Event) (*Event, error) {
	out := &Event{
		ID:      ev.ID,
		Type:    string(ev.Type),
		Account: ev.Account,
		Created: time.Unix(ev.Created, 0).UTC(),
	}
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return out, nil
	}

	var object struct {
		ID            string          `json:"id"`
		PaymentIntent json.RawMessage `json:"payment_intent"`
	}
	if err := json.Unmarshal(ev.Data.Raw, &object); err != nil {
		return nil, fmt.Errorf("failed to decode event %s object: %w", ev.ID, err)
	}
	out.ObjectID = object.ID
	out.PaymentIntentID = expandableID(object.PaymentIntent)
	return out, nil
}

// expandableID reads a field that is either an id string or an expanded object
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}
