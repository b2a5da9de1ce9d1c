package provider

import (
	"fmt"
	"time"

	"tournament-payments/config"
)

// NewProvider builds the configured payment provider
func NewProvider(cfg config.PaymentConfig) (PaymentProvider, error) {
	switch cfg.Provider {
	case "stripe":
		if cfg.StripeSecretKey == "" {
			return nil, fmt.Errorf("STRIPE_SECRET_KEY is required for the stripe provider")
		}
		return NewStripe(cfg.StripeSecretKey, cfg.StripeWebhookSecret, time.Duration(cfg.TimeoutSeconds)*time.Second), nil
	case "stub":
		return NewStub(cfg.StripeWebhookSecret), nil
	default:
		return nil, fmt.Errorf("unknown payment provider: %s", cfg.Provider)
	}
}
