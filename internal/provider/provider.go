package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Event types the reconciler acts on
const (
	EventCheckoutCompleted             = "checkout.session.completed"
	EventCheckoutAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventCheckoutExpired               = "checkout.session.expired"
	EventChargeRefunded                = "charge.refunded"
)

// Event is a provider webhook event reduced to what reconciliation needs.
// ObjectID is the checkout session id for checkout.session.* events.
type Event struct {
	ID              string
	Type            string
	Account         string
	Created         time.Time
	ObjectID        string
	PaymentIntentID string
}

// LineItem is one purchased price within a checkout session
type LineItem struct {
	PriceID   string
	ProductID string
	Quantity  int64
}

// CheckoutSession is a provider checkout session with its full line item list
type CheckoutSession struct {
	ID              string
	Status          string
	PaymentIntentID string
	AmountTotal     decimal.Decimal
	LineItems       []LineItem
}

// PaymentProvider is the payment processor client
type PaymentProvider interface {
	Name() string

	// RetrieveCheckoutSession fetches a session and all of its line items
	RetrieveCheckoutSession(ctx context.Context, id, accountID string) (*CheckoutSession, error)

	// RetrieveEvent re-fetches an event so that its content is trusted
	RetrieveEvent(ctx context.Context, id, accountID string) (*Event, error)

	// VerifyWebhook checks the signature header and decodes the payload
	VerifyWebhook(payload []byte, signature string) (*Event, error)
}
