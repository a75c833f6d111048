package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Invitation kinds. A leader-initiated invitation and a member-initiated join
// request share one table but are tagged so handling stays exhaustive.
const (
	InviteKindInvitation  = "invitation"
	InviteKindJoinRequest = "join_request"
)

const (
	InviteStatusPending  = "pending"
	InviteStatusAccepted = "accepted"
	InviteStatusDeclined = "declined"
)

type Invitation struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	GroupID   uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_invite_pair" json:"group_id"`
	Group     Group     `gorm:"foreignKey:GroupID" json:"group,omitempty"`
	UserID    uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_invite_pair" json:"user_id"`
	User      User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
	CreatedBy uuid.UUID `gorm:"type:uuid" json:"created_by"`
	Kind      string    `gorm:"not null;size:20" json:"kind"`           // invitation, join_request
	Status    string    `gorm:"default:pending;size:20" json:"status"` // pending, accepted, declined
	CreatedAt time.Time `json:"created_at"`
}

func (i *Invitation) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

type InviteRequest struct {
	UserID string `json:"user_id" binding:"required"`
}
