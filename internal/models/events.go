package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job types
const (
	JobTypeLateFeeScheduling  = "LATE_FEE_SCHEDULING"
	JobTypeDiscountVoidCheck  = "DISCOUNT_VOID_CHECK"
	JobTypeAddPurchasableItem = "ADD_PURCHASABLE_ITEM"
	JobTypeVoidPurchase       = "VOID_PURCHASE"
	JobTypeStripeEvent        = "STRIPE_EVENT"
)

// Notification types
const (
	NotificationPaymentReceipt           = "PAYMENT_RECEIPT"
	NotificationRegistrationConfirmation = "REGISTRATION_CONFIRMATION"
)

// BaseEvent contains common fields for all queued messages
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// Job is a unit of background work travelling through the job queue.
// Payload holds one of the *Job structs below, selected by EventType.
type Job struct {
	BaseEvent
	Payload json.RawMessage `json:"payload"`
}

// LateFeeSchedulingJob finds bowlers owing a late fee for one tournament
type LateFeeSchedulingJob struct {
	TournamentID int64 `json:"tournament_id"`
	ItemID       int64 `json:"item_id"`
}

// DiscountVoidCheckJob fans out void jobs for an expired early discount
type DiscountVoidCheckJob struct {
	ItemID int64 `json:"item_id"`
}

// AddPurchasableItemJob charges one item to one bowler
type AddPurchasableItemJob struct {
	BowlerID  int64  `json:"bowler_id"`
	ItemID    int64  `json:"item_id"`
	Source    string `json:"source"`
	Automatic bool   `json:"automatic"`
}

// VoidPurchaseJob voids one unpaid purchase
type VoidPurchaseJob struct {
	PurchaseID int64  `json:"purchase_id"`
	Reason     string `json:"reason"`
}

// StripeEventJob reconciles one provider event
type StripeEventJob struct {
	EventID   string `json:"stripe_event_id"`
	AccountID string `json:"account_id"`
}

// Notification is a fire-and-forget message for the notification service
type Notification struct {
	BaseEvent
	BowlerID        int64  `json:"bowler_id"`
	ExternalPayment string `json:"external_payment,omitempty"`
}

// NewJob wraps a job payload into a queue envelope
func NewJob(jobType string, payload interface{}) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", jobType, err)
	}
	return &Job{
		BaseEvent: BaseEvent{
			EventID:   uuid.New().String(),
			EventType: jobType,
			Timestamp: time.Now().UTC(),
		},
		Payload: raw,
	}, nil
}

// Decode unmarshals the job payload into v
func (j *Job) Decode(v interface{}) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", j.EventType, err)
	}
	return nil
}
