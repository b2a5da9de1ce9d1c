package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Tournament holds the configuration flags consulted by the sweeps
type Tournament struct {
	ID                     int64     `db:"id" json:"id"`
	Identifier             string    `db:"identifier" json:"identifier"`
	Name                   string    `db:"name" json:"name"`
	StripeAccountID        string    `db:"stripe_account_id" json:"-"`
	AutomaticLateFees      bool      `db:"automatic_late_fees" json:"automatic_late_fees"`
	AutomaticDiscountVoids bool      `db:"automatic_discount_voids" json:"automatic_discount_voids"`
	CreatedAt              time.Time `db:"created_at" json:"created_at"`
}

// Bowler is a tournament registrant
type Bowler struct {
	ID           int64     `db:"id" json:"id"`
	TournamentID int64     `db:"tournament_id" json:"tournament_id"`
	Identifier   string    `db:"identifier" json:"identifier"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Item categories
const (
	CategoryLedger  = "ledger"
	CategoryBowling = "bowling"
	CategoryBanquet = "banquet"
	CategoryRaffle  = "raffle"
	CategoryProduct = "product"
)

// Item determinations
const (
	DeterminationEntryFee       = "entry_fee"
	DeterminationEarlyDiscount  = "early_discount"
	DeterminationLateFee        = "late_fee"
	DeterminationBundleDiscount = "bundle_discount"
	DeterminationEvent          = "event"
	DeterminationSingleUse      = "single_use"
	DeterminationMultiUse       = "multi_use"
)

// Item refinements
const (
	RefinementSingleUse      = "single_use"
	RefinementMultiUse       = "multi_use"
	RefinementDivisionLinked = "division"
	RefinementEventLinked    = "event_linked"
)

// Configuration keys
const (
	ConfigAppliesAt  = "applies_at"
	ConfigValidUntil = "valid_until"
	ConfigEvent      = "event"
)

// Configuration is the type-specific parameter map of a purchasable item
type Configuration map[string]string

// Value implements driver.Valuer
func (c Configuration) Value() (driver.Value, error) {
	if c == nil {
		return "{}", nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (c *Configuration) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*c = Configuration{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported configuration type %T", src)
	}
	m := Configuration{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("failed to decode configuration: %w", err)
		}
	}
	*c = m
	return nil
}

// Time parses an RFC3339 timestamp stored under key
func (c Configuration) Time(key string) (time.Time, bool) {
	v, ok := c[key]
	if !ok || v == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// PurchasableItem is a catalog entry belonging to a tournament
type PurchasableItem struct {
	ID            int64           `db:"id" json:"id"`
	TournamentID  int64           `db:"tournament_id" json:"tournament_id"`
	Identifier    string          `db:"identifier" json:"identifier"`
	Name          string          `db:"name" json:"name"`
	Category      string          `db:"category" json:"category"`
	Determination string          `db:"determination" json:"determination"`
	Refinement    string          `db:"refinement" json:"refinement"`
	Value         decimal.Decimal `db:"value" json:"value"`
	Configuration Configuration   `db:"configuration" json:"configuration"`
	Enabled       bool            `db:"enabled" json:"enabled"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// IsLedgerItem reports whether the item is a fee or discount tracked at ledger level
func (i *PurchasableItem) IsLedgerItem() bool {
	return i.Category == CategoryLedger
}

// IsSingleUse reports whether a bowler may hold at most one purchase of the item
func (i *PurchasableItem) IsSingleUse() bool {
	if i.IsLedgerItem() {
		return true
	}
	return i.Refinement == RefinementSingleUse || i.Determination == DeterminationSingleUse
}

// IsDiscount reports whether charging the item credits the bowler
func (i *PurchasableItem) IsDiscount() bool {
	return i.Determination == DeterminationEarlyDiscount || i.Determination == DeterminationBundleDiscount
}

// Purchase is one acquisition of a purchasable item by a bowler
type Purchase struct {
	ID                int64           `db:"id" json:"id"`
	BowlerID          int64           `db:"bowler_id" json:"bowler_id"`
	PurchasableItemID int64           `db:"purchasable_item_id" json:"purchasable_item_id"`
	Identifier        string          `db:"identifier" json:"identifier"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	PaidAt            *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	VoidedAt          *time.Time      `db:"voided_at" json:"voided_at,omitempty"`
	VoidReason        *string         `db:"void_reason" json:"void_reason,omitempty"`
	ExternalPaymentID *int64          `db:"external_payment_id" json:"external_payment_id,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
}

// State derives the lifecycle state from the paid/voided timestamps
func (p *Purchase) State() PurchaseState {
	switch {
	case p.PaidAt != nil:
		return PurchasePaid
	case p.VoidedAt != nil:
		return PurchaseVoided
	default:
		return PurchaseUnpaid
	}
}

// Ledger entry sources
const (
	SourceRegistration = "registration"
	SourceAutomatic    = "automatic"
	SourcePurchase     = "purchase"
	SourceStripe       = "stripe"
	SourceManual       = "manual"
	SourceVoid         = "void"
)

// LedgerEntry is one append-only accounting record for a bowler
type LedgerEntry struct {
	ID         int64           `db:"id" json:"id"`
	BowlerID   int64           `db:"bowler_id" json:"bowler_id"`
	Debit      decimal.Decimal `db:"debit" json:"debit"`
	Credit     decimal.Decimal `db:"credit" json:"credit"`
	Source     string          `db:"source" json:"source"`
	Identifier string          `db:"identifier" json:"identifier"`
	Notes      string          `db:"notes" json:"notes,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// ExternalPayment is a checkout attempt initiated with the payment provider
type ExternalPayment struct {
	ID              int64         `db:"id" json:"id"`
	BowlerID        int64         `db:"bowler_id" json:"bowler_id"`
	Identifier      string        `db:"identifier" json:"identifier"`
	Status          SessionStatus `db:"status" json:"status"`
	PaymentIntentID *string       `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// StripeProduct maps a provider price/product pair to a purchasable item
type StripeProduct struct {
	ID                int64     `db:"id" json:"id"`
	PurchasableItemID int64     `db:"purchasable_item_id" json:"purchasable_item_id"`
	PriceID           string    `db:"price_id" json:"price_id"`
	ProductID         string    `db:"product_id" json:"product_id"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
