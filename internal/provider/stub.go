package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"tournament-payments/internal/models"
)

// Stub is an in-memory provider for local runs and tests.
// Webhooks carry an HMAC SHA-256 hex signature of the body.
type Stub struct {
	secret string

	mu       sync.Mutex
	sessions map[string]*CheckoutSession
	events   map[string]*Event
	failures map[string]error
	calls    map[string]int
}

// NewStub creates a stub provider
func NewStub(secret string) *Stub {
	return &Stub{
		secret:   secret,
		sessions: make(map[string]*CheckoutSession),
		events:   make(map[string]*Event),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

// Name returns the provider name
func (p *Stub) Name() string { return "stub" }

// PutSession registers a checkout session
func (p *Stub) PutSession(s *CheckoutSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[s.ID] = s
}

// PutEvent registers an event
func (p *Stub) PutEvent(e *Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[e.ID] = e
}

// FailOn makes the next calls for id fail with err
func (p *Stub) FailOn(id string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[id] = err
}

// Calls returns how many times id was retrieved
func (p *Stub) Calls(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id]
}

// RetrieveCheckoutSession returns a registered session
func (p *Stub) RetrieveCheckoutSession(ctx context.Context, id, accountID string) (*CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[id]++

	if err, ok := p.failures[id]; ok {
		return nil, &models.ProviderCommunicationError{Op: "retrieve checkout session " + id, Err: err}
	}
	s, ok := p.sessions[id]
	if !ok {
		return nil, &models.ProviderCommunicationError{Op: "retrieve checkout session " + id, Err: fmt.Errorf("no such checkout session")}
	}
	copied := *s
	copied.LineItems = append([]LineItem(nil), s.LineItems...)
	return &copied, nil
}

// RetrieveEvent returns a registered event
func (p *Stub) RetrieveEvent(ctx context.Context, id, accountID string) (*Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[id]++

	if err, ok := p.failures[id]; ok {
		return nil, &models.ProviderCommunicationError{Op: "retrieve event " + id, Err: err}
	}
	e, ok := p.events[id]
	if !ok {
		return nil, &models.ProviderCommunicationError{Op: "retrieve event " + id, Err: fmt.Errorf("no such event")}
	}
	copied := *e
	return &copied, nil
}

type stubPayload struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Account string `json:"account"`
	Created int64  `json:"created"`
	Data    struct {
		Object struct {
			ID            string `json:"id"`
			PaymentIntent string `json:"payment_intent"`
		} `json:"object"`
	} `json:"data"`
}

// VerifyWebhook checks the HMAC signature and decodes a Stripe-shaped payload
func (p *Stub) VerifyWebhook(payload []byte, signature string) (*Event, error) {
	if signature == "" || !hmac.Equal([]byte(signature), []byte(p.Sign(payload))) {
		return nil, fmt.Errorf("invalid webhook signature")
	}

	var pl stubPayload
	if err := json.Unmarshal(payload, &pl); err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}
	return &Event{
		ID:              pl.ID,
		Type:            pl.Type,
		Account:         pl.Account,
		Created:         time.Unix(pl.Created, 0).UTC(),
		ObjectID:        pl.Data.Object.ID,
		PaymentIntentID: pl.Data.Object.PaymentIntent,
	}, nil
}

// Sign computes the signature VerifyWebhook expects
func (p *Stub) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(p.secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
