package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Charge round status.
const (
	RoundInFlight  = "in_flight"
	RoundSucceeded = "succeeded"
	RoundFailed    = "failed"
	RoundCancelled = "cancelled"
)

// Per-member charge attempt outcome.
const (
	AttemptPending   = "pending"
	AttemptSucceeded = "succeeded"
	AttemptFailed    = "failed"
	AttemptSkipped   = "skipped"
)

// ChargeRound is one attempt to collect payment from every confirmed member.
type ChargeRound struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	GroupID     uuid.UUID  `gorm:"type:uuid;index" json:"group_id"`
	Status      string     `gorm:"default:in_flight;size:20" json:"status"`
	StartedBy   uuid.UUID  `gorm:"type:uuid" json:"started_by"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Attempts    []ChargeAttempt `gorm:"foreignKey:RoundID" json:"attempts,omitempty"`
}

func (r *ChargeRound) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// ChargeAttempt is one member's charge within a round. The idempotency key is
// derived from (round, group, user) and is storage-unique, so a retried
// submission can never produce a second attempt row or a second charge.
type ChargeAttempt struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RoundID          uuid.UUID `gorm:"type:uuid;index" json:"round_id"`
	GroupID          uuid.UUID `gorm:"type:uuid;index" json:"group_id"`
	UserID           uuid.UUID `gorm:"type:uuid" json:"user_id"`
	IdempotencyKey   string    `gorm:"uniqueIndex;not null;size:128" json:"idempotency_key"`
	ExternalChargeID string    `gorm:"size:64" json:"external_charge_id,omitempty"`
	Outcome          string    `gorm:"default:pending;size:20" json:"outcome"`
	FailReason       string    `gorm:"size:255" json:"fail_reason,omitempty"`
	AmountCharged    int64     `json:"amount_charged"` // gross amount in cents
	AttemptedAt      time.Time `json:"attempted_at"`
}

func (a *ChargeAttempt) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// Response structs
type RoundResponse struct {
	ID        uuid.UUID         `json:"id"`
	GroupID   uuid.UUID         `json:"group_id"`
	Status    string            `json:"status"`
	Summary   string            `json:"summary"`
	StartedAt time.Time         `json:"started_at"`
	Attempts  []AttemptResponse `json:"attempts"`
}

type AttemptResponse struct {
	UserID        uuid.UUID `json:"user_id"`
	Outcome       string    `json:"outcome"`
	FailReason    string    `json:"fail_reason,omitempty"`
	AmountCharged int64     `json:"amount_charged"`
}
