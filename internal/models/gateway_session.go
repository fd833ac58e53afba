package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GatewaySession keeps the raw charge request and response for one payment
type GatewaySession struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	PaymentID        string         `gorm:"type:varchar(64);index" json:"payment_id"`
	UserID           uint           `json:"user_id"`
	PaymentGateway   PaymentGateway `gorm:"type:varchar(50);not null" json:"payment_gateway"`
	OrderID          string         `gorm:"type:varchar(100);index" json:"order_id"`
	IsActive         bool           `gorm:"default:true" json:"is_active"`
	RequestMetadata  datatypes.JSON `gorm:"type:jsonb" json:"request_metadata"`
	ResponseMetadata datatypes.JSON `gorm:"type:jsonb" json:"response_metadata"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}
