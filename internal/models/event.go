package models

import (
	"time"

	"gorm.io/gorm"
)

// Event is something participants register and pay for
type Event struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Name     string    `gorm:"type:varchar(255)" json:"name"`
	Price    int64     `json:"price"`
	Currency string    `gorm:"type:varchar(10);default:'IDR'" json:"currency"`
	Capacity int       `json:"capacity"` // 0 means unlimited
	StartsAt time.Time `json:"starts_at"`
	IsActive bool      `gorm:"default:true" json:"is_active"`

	// Relationships
	Registrations []Registration `gorm:"foreignKey:EventID" json:"registrations,omitempty"`
}

// IsFree reports whether the event can be joined without a payment
func (e Event) IsFree() bool {
	return e.Price <= 0
}
