package models

import (
	"time"

	"gorm.io/gorm"
)

type RegistrationStatus string

const (
	RegistrationStatusConfirmed RegistrationStatus = "confirmed"
	RegistrationStatusCancelled RegistrationStatus = "cancelled"
)

// Registration links a user to an event once its payment is confirmed.
// The unique index on PaymentID keeps finalization idempotent across processes.
type Registration struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	EventID    uint               `gorm:"index" json:"event_id"`
	UserID     uint               `gorm:"index" json:"user_id"`
	PaymentID  string             `gorm:"type:varchar(64);uniqueIndex" json:"payment_id"`
	TicketCode string             `gorm:"type:varchar(64);uniqueIndex" json:"ticket_code"`
	Status     RegistrationStatus `gorm:"type:varchar(20);default:'confirmed'" json:"status"`

	// Relationships
	Event Event `gorm:"foreignKey:EventID" json:"event,omitempty"`
	User  User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
}
