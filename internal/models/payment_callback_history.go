package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PaymentGateway string

const (
	PaymentGatewayMidtrans PaymentGateway = "midtrans"
	PaymentGatewayManual   PaymentGateway = "manual"
	PaymentGatewayCrypto   PaymentGateway = "crypto"
)

// PaymentCallbackHistory stores every gateway notification as received
type PaymentCallbackHistory struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	PaymentGateway    PaymentGateway `gorm:"type:varchar(50);not null" json:"payment_gateway"`
	OrderID           string         `gorm:"type:varchar(100);index" json:"order_id"`
	TransactionStatus string         `gorm:"type:varchar(50)" json:"transaction_status"`
	SignatureValid    bool           `json:"signature_valid"`
	Metadata          datatypes.JSON `gorm:"type:jsonb" json:"metadata"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}
