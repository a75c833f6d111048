package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Lifecycle phases of a group subscription.
const (
	PhaseForming      = "forming"
	PhaseConfirming   = "confirming"
	PhaseAllConfirmed = "all_confirmed"
	PhaseCharging     = "charging"
	PhaseActive       = "active"
	PhaseRenewing     = "renewing"
)

type Group struct {
	ID                 uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	Name               string       `gorm:"not null;size:100" json:"name"`
	Kind               string       `gorm:"default:shared;size:20" json:"kind"`         // shared, personal
	Visibility         string       `gorm:"default:private;size:20" json:"visibility"`  // private, friends
	SubscriptionAmount int64        `gorm:"not null" json:"subscription_amount"`        // total bill in cents
	AmountEach         int64        `json:"amount_each"`                                // per-member share in cents
	CycleDays          int          `gorm:"not null;default:30" json:"cycle_days"`
	MaxMembers         int          `gorm:"not null;default:6" json:"max_members"`
	MemberCount        int          `gorm:"not null;default:0" json:"member_count"`
	Phase              string       `gorm:"default:forming;size:20" json:"phase"`
	StartDate          *time.Time   `json:"start_date,omitempty"` // set when the first cycle is collected
	CardID             string       `gorm:"size:64" json:"-"`
	CardLast4          string       `gorm:"size:4" json:"card_last4,omitempty"`
	CreatedBy          uuid.UUID    `gorm:"type:uuid" json:"created_by"`
	Creator            User         `gorm:"foreignKey:CreatedBy" json:"creator,omitempty"`
	Members            []Membership `gorm:"foreignKey:GroupID" json:"members,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

func (g *Group) BeforeCreate(tx *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}

const (
	RoleLeader = "leader"
	RoleMember = "member"
)

type Membership struct {
	GroupID  uuid.UUID `gorm:"type:uuid;primaryKey" json:"group_id"`
	UserID   uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	User     User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Role     string    `gorm:"default:member;size:20" json:"role"` // leader, member
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

// Request structs
type CreateGroupRequest struct {
	Name               string `json:"name" binding:"required"`
	Kind               string `json:"kind"`
	Visibility         string `json:"visibility"`
	SubscriptionAmount int64  `json:"subscription_amount" binding:"required,gt=0"`
	CycleDays          int    `json:"cycle_days"`
	MaxMembers         int    `json:"max_members"`
}

// Response structs
type GroupResponse struct {
	ID                 uuid.UUID        `json:"id"`
	Name               string           `json:"name"`
	Kind               string           `json:"kind"`
	Visibility         string           `json:"visibility"`
	SubscriptionAmount int64            `json:"subscription_amount"`
	AmountEach         int64            `json:"amount_each"`
	CycleDays          int              `json:"cycle_days"`
	MaxMembers         int              `json:"max_members"`
	MemberCount        int              `json:"member_count"`
	Phase              string           `json:"phase"`
	StartDate          *time.Time       `json:"start_date,omitempty"`
	CardLast4          string           `json:"card_last4,omitempty"`
	CreatedBy          uuid.UUID        `json:"created_by"`
	Members            []MemberResponse `json:"members"`
	CreatedAt          time.Time        `json:"created_at"`
}

type MemberResponse struct {
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Confirmed *bool     `json:"confirmed,omitempty"`
	JoinedAt  time.Time `json:"joined_at"`
}

type BillingResponse struct {
	GroupID         uuid.UUID  `json:"group_id"`
	AmountEach      int64      `json:"amount_each"`
	CycleDays       int        `json:"cycle_days"`
	StartDate       *time.Time `json:"start_date,omitempty"`
	NextPaymentDate *time.Time `json:"next_payment_date,omitempty"`
	DaysUntil       int        `json:"days_until_next_payment"`
}
