package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tournament-payments/internal/models"
	"tournament-payments/internal/provider"
	"tournament-payments/internal/store"
	"tournament-payments/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PaymentReconciler maps provider events onto payment sessions, purchases and
// the ledger. Every decision is taken against persisted state, so duplicate
// and out-of-order deliveries settle into the same result.
type PaymentReconciler struct {
	store     *store.Store
	provider  provider.PaymentProvider
	purchases *PurchaseService
	ledger    *Ledger
	catalog   *Catalog
	notifier  Notifier
	logger    *zap.Logger
}

// NewPaymentReconciler creates a new reconciler. notifier may be nil.
func NewPaymentReconciler(
	store *store.Store,
	provider provider.PaymentProvider,
	purchases *PurchaseService,
	ledger *Ledger,
	catalog *Catalog,
	notifier Notifier,
) *PaymentReconciler {
	return &PaymentReconciler{
		store:     store,
		provider:  provider,
		purchases: purchases,
		ledger:    ledger,
		catalog:   catalog,
		notifier:  notifier,
		logger:    util.Named("reconciler"),
	}
}

// HandleEvent reconciles one provider event. An event already processed, or
// one addressing a session that is no longer open, is a logged no-op.
func (r *PaymentReconciler) HandleEvent(ctx context.Context, job models.StripeEventJob) (models.TransitionResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentReconciler.HandleEvent",
		attribute.String("event_id", job.EventID))
	defer span.End()

	processed, err := r.store.IsEventProcessed(ctx, job.EventID)
	if err != nil {
		return models.TransitionNoop, fmt.Errorf("failed to check processed events: %w", err)
	}
	if processed {
		r.logger.Info("Event already processed, skipping", zap.String("event_id", job.EventID))
		util.WebhookEventsTotal.WithLabelValues("unknown", "duplicate").Inc()
		return models.TransitionNoop, nil
	}

	event, err := r.provider.RetrieveEvent(ctx, job.EventID, job.AccountID)
	if err != nil {
		span.RecordError(err)
		return models.TransitionNoop, err
	}
	span.SetAttributes(attribute.String("event_type", event.Type))

	var result models.TransitionResult
	switch event.Type {
	case provider.EventCheckoutCompleted, provider.EventCheckoutAsyncPaymentSucceeded:
		result, err = r.completeSession(ctx, event, job.AccountID)
	case provider.EventCheckoutExpired:
		result, err = r.expireSession(ctx, event, func(repo *store.Repo) (*models.ExternalPayment, error) {
			return repo.GetExternalPaymentByIdentifier(ctx, event.ObjectID)
		})
	case provider.EventChargeRefunded:
		result, err = r.expireSession(ctx, event, func(repo *store.Repo) (*models.ExternalPayment, error) {
			return repo.GetExternalPaymentByPaymentIntent(ctx, event.PaymentIntentID)
		})
	default:
		r.logger.Debug("Ignoring event type", zap.String("event_type", event.Type))
		result, err = models.TransitionNoop, r.store.MarkEventProcessed(ctx, event.ID, event.Type)
	}

	outcome := "applied"
	switch {
	case err != nil && models.IsNoop(err):
		r.logger.Info("Payment session already terminal, dropping event",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.Error(err))
		result, err, outcome = models.TransitionNoop, nil, "noop"
	case err != nil:
		span.RecordError(err)
		outcome = "failed"
	case result == models.TransitionNoop:
		outcome = "noop"
	}
	util.WebhookEventsTotal.WithLabelValues(event.Type, outcome).Inc()
	return result, err
}

// completeSession marks every purchase named by the session's line items paid
// and appends one provider credit for the session, atomically. When the entry
// fee is among them the bowler's unpaid early discounts are settled too.
func (r *PaymentReconciler) completeSession(ctx context.Context, event *provider.Event, accountID string) (models.TransitionResult, error) {
	ep, err := r.store.GetExternalPaymentByIdentifier(ctx, event.ObjectID)
	if err != nil {
		return models.TransitionNoop, err
	}
	if _, err := ep.Status.Transition(models.SessionCompleted); err != nil {
		return models.TransitionNoop, &models.AlreadyTerminalError{Kind: "external_payment", ID: ep.ID, State: string(ep.Status)}
	}

	session, err := r.provider.RetrieveCheckoutSession(ctx, event.ObjectID, accountID)
	if err != nil {
		return models.TransitionNoop, err
	}

	paidAt := event.Created
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}

	var paid []models.PurchasableItem
	err = r.store.WithTx(ctx, func(repo *store.Repo) error {
		var intent *string
		if session.PaymentIntentID != "" {
			intent = &session.PaymentIntentID
		}
		ok, err := repo.TransitionExternalPayment(ctx, ep.ID, models.SessionCompleted, intent)
		if err != nil {
			return fmt.Errorf("failed to complete payment session: %w", err)
		}
		if !ok {
			return &models.AlreadyTerminalError{Kind: "external_payment", ID: ep.ID, State: "no longer open"}
		}

		for _, li := range session.LineItems {
			item, err := r.catalog.ItemForProviderPrice(ctx, repo, li.PriceID, li.ProductID)
			if err != nil {
				return err
			}
			unpaid, err := repo.UnpaidPurchasesForBowlerItem(ctx, ep.BowlerID, item.ID)
			if err != nil {
				return fmt.Errorf("failed to load unpaid purchases: %w", err)
			}
			if int64(len(unpaid)) != li.Quantity {
				return &models.DataIntegrityError{
					SessionID: session.ID,
					ItemID:    item.ID,
					Expected:  li.Quantity,
					Found:     len(unpaid),
				}
			}
			for i := range unpaid {
				if err := r.purchases.MarkPaid(ctx, repo, &unpaid[i], paidAt, &ep.ID); err != nil {
					return err
				}
			}
			paid = append(paid, *item)
		}

		if coversEntryFee(paid) {
			// discounts never appear as line items; paying the fee settles them
			discounts, err := repo.UnpaidLedgerPurchasesForBowler(ctx, ep.BowlerID, models.DeterminationEarlyDiscount)
			if err != nil {
				return fmt.Errorf("failed to load unpaid discounts: %w", err)
			}
			for i := range discounts {
				if err := r.purchases.MarkPaid(ctx, repo, &discounts[i], paidAt, &ep.ID); err != nil {
					return err
				}
			}
		}

		if _, err := r.ledger.Record(ctx, repo, ep.BowlerID,
			Credit(session.AmountTotal, models.SourceStripe, session.ID)); err != nil {
			return err
		}
		return repo.MarkEventProcessed(ctx, event.ID, event.Type)
	})
	if err != nil {
		var integrity *models.DataIntegrityError
		if errors.As(err, &integrity) {
			r.logger.Error("Checkout session does not match unpaid purchases",
				zap.String("event_id", event.ID),
				zap.String("session_id", integrity.SessionID),
				zap.Int64("item_id", integrity.ItemID),
				zap.Int64("quantity", integrity.Expected),
				zap.Int("unpaid", integrity.Found),
				zap.Bool("manual_review", true))
		}
		return models.TransitionNoop, err
	}

	r.logger.Info("Checkout session reconciled",
		zap.String("event_id", event.ID),
		zap.String("session_id", session.ID),
		zap.Int64("bowler_id", ep.BowlerID),
		zap.String("amount", session.AmountTotal.String()),
		zap.Int("line_items", len(session.LineItems)))

	r.notify(ctx, models.NotificationPaymentReceipt, ep)
	if coversEntryFee(paid) {
		r.notify(ctx, models.NotificationRegistrationConfirmation, ep)
	}
	return models.TransitionApplied, nil
}

func coversEntryFee(items []models.PurchasableItem) bool {
	for _, item := range items {
		if item.IsLedgerItem() && item.Determination == models.DeterminationEntryFee {
			return true
		}
	}
	return false
}

// expireSession moves the session found by lookup from open to expired
func (r *PaymentReconciler) expireSession(ctx context.Context, event *provider.Event, lookup func(*store.Repo) (*models.ExternalPayment, error)) (models.TransitionResult, error) {
	err := r.store.WithTx(ctx, func(repo *store.Repo) error {
		ep, err := lookup(repo)
		if err != nil {
			return err
		}
		if _, err := ep.Status.Transition(models.SessionExpired); err != nil {
			return &models.AlreadyTerminalError{Kind: "external_payment", ID: ep.ID, State: string(ep.Status)}
		}
		ok, err := repo.TransitionExternalPayment(ctx, ep.ID, models.SessionExpired, nil)
		if err != nil {
			return fmt.Errorf("failed to expire payment session: %w", err)
		}
		if !ok {
			return &models.AlreadyTerminalError{Kind: "external_payment", ID: ep.ID, State: "no longer open"}
		}
		return repo.MarkEventProcessed(ctx, event.ID, event.Type)
	})
	if err != nil {
		return models.TransitionNoop, err
	}

	r.logger.Info("Payment session expired",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type))
	return models.TransitionApplied, nil
}

func (r *PaymentReconciler) notify(ctx context.Context, kind string, ep *models.ExternalPayment) {
	if r.notifier == nil {
		return
	}
	n := &models.Notification{
		BaseEvent: models.BaseEvent{
			EventID:   ep.Identifier + ":" + kind,
			EventType: kind,
			Timestamp: time.Now().UTC(),
		},
		BowlerID:        ep.BowlerID,
		ExternalPayment: ep.Identifier,
	}
	if err := r.notifier.Notify(ctx, n); err != nil {
		r.logger.Warn("Failed to send notification",
			zap.String("type", kind),
			zap.Int64("bowler_id", ep.BowlerID),
			zap.Error(err))
	}
}
