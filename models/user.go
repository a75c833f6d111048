package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Email            string    `gorm:"uniqueIndex;not null;size:255" json:"email"`
	Name             string    `gorm:"not null;size:100" json:"name"`
	PasswordHash     string    `gorm:"not null;size:255" json:"-"`
	ExternalID       string    `gorm:"index:idx_users_external_id,unique,where:external_id <> '';size:64" json:"-"` // identity-provider reference
	PaymentMethodRef string    `gorm:"size:64" json:"-"`             // processor customer reference
	FCMToken         string    `json:"-"`
	Currency         string    `gorm:"default:USD;size:3" json:"currency"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// Response struct (what we return to clients)
type UserResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}

func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Currency:  u.Currency,
		CreatedAt: u.CreatedAt,
	}
}
