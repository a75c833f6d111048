package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ShareConfirmation records a member's agreement to their current share.
// Rows exist only for users who were members when the leader finalized the
// list; they are reset whenever the split changes.
type ShareConfirmation struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	GroupID     uuid.UUID  `gorm:"type:uuid;uniqueIndex:idx_confirm_pair" json:"group_id"`
	UserID      uuid.UUID  `gorm:"type:uuid;uniqueIndex:idx_confirm_pair" json:"user_id"`
	User        User       `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Confirmed   bool       `gorm:"default:false" json:"confirmed"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (sc *ShareConfirmation) BeforeCreate(tx *gorm.DB) error {
	if sc.ID == uuid.Nil {
		sc.ID = uuid.New()
	}
	return nil
}
