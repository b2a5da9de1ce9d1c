package store

import (
	"context"

	"tournament-payments/internal/models"
)

// CreateExternalPayment records an open checkout session
func (r *Repo) CreateExternalPayment(ctx context.Context, ep *models.ExternalPayment) error {
	ep.CreatedAt = r.now()
	ep.UpdatedAt = ep.CreatedAt
	if ep.Status == "" {
		ep.Status = models.SessionOpen
	}
	query := `
		INSERT INTO external_payments (bowler_id, identifier, status, payment_intent_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`

	return translate(r.get(ctx, &ep.ID, query,
		ep.BowlerID, ep.Identifier, ep.Status, ep.PaymentIntentID, ep.CreatedAt, ep.UpdatedAt))
}

// GetExternalPaymentByIdentifier retrieves a session by provider session id
func (r *Repo) GetExternalPaymentByIdentifier(ctx context.Context, identifier string) (*models.ExternalPayment, error) {
	var ep models.ExternalPayment
	err := r.get(ctx, &ep, "SELECT * FROM external_payments WHERE identifier = ?", identifier)
	if isNoRows(err) {
		return nil, &models.NotFoundError{Kind: "external_payment", Key: identifier}
	}
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

// GetExternalPaymentByPaymentIntent retrieves a session by provider payment intent id
func (r *Repo) GetExternalPaymentByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.ExternalPayment, error) {
	var ep models.ExternalPayment
	err := r.get(ctx, &ep, "SELECT * FROM external_payments WHERE payment_intent_id = ?", paymentIntentID)
	if isNoRows(err) {
		return nil, &models.NotFoundError{Kind: "external_payment", Key: paymentIntentID}
	}
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

// TransitionExternalPayment moves an open session to a terminal status.
// It reports false when the session was no longer open.
func (r *Repo) TransitionExternalPayment(ctx context.Context, id int64, to models.SessionStatus, paymentIntentID *string) (bool, error) {
	n, err := r.exec(ctx, `
		UPDATE external_payments
		SET status = ?, payment_intent_id = COALESCE(?, payment_intent_id), updated_at = ?
		WHERE id = ? AND status = ?`,
		to, paymentIntentID, r.now(), id, models.SessionOpen)
	return n == 1, err
}

// IsEventProcessed checks if an event has been processed
func (r *Repo) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := r.get(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = ?)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (r *Repo) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := r.exec(ctx,
		"INSERT INTO processed_events (event_id, event_type, processed_at) VALUES (?, ?, ?) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType, r.now())
	return err
}
