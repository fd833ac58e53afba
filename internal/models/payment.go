package models

import (
	"time"

	"gorm.io/gorm"
)

type PaymentStatus string

const (
	PaymentStatusPending       PaymentStatus = "PENDING"
	PaymentStatusPendingReview PaymentStatus = "PENDING_REVIEW"
	PaymentStatusPaid          PaymentStatus = "PAID"
	PaymentStatusFailed        PaymentStatus = "FAILED"
	PaymentStatusExpired       PaymentStatus = "EXPIRED"
	PaymentStatusCancelled     PaymentStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is allowed from s
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusPaid, PaymentStatusFailed, PaymentStatusExpired, PaymentStatusCancelled:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodGateway      PaymentMethod = "gateway"
	PaymentMethodQR           PaymentMethod = "qr"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCrypto       PaymentMethod = "crypto"
)

// Valid reports whether m is one of the supported checkout methods
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodGateway, PaymentMethodQR, PaymentMethodBankTransfer, PaymentMethodCrypto:
		return true
	}
	return false
}

// Payment is one checkout attempt for an event registration.
// OrderID is the correlation key shared with the gateway; PaymentID is the
// public identifier used for cancel and finalize.
type Payment struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	PaymentID string        `gorm:"type:varchar(64);uniqueIndex" json:"payment_id"`
	OrderID   string        `gorm:"type:varchar(100);uniqueIndex" json:"order_id"`
	UserID    uint          `gorm:"index" json:"user_id"`
	EventID   uint          `gorm:"index" json:"event_id"`
	Method    PaymentMethod `gorm:"type:varchar(20)" json:"method"`
	Amount    int64         `json:"amount"`
	Currency  string        `gorm:"type:varchar(10);default:'IDR'" json:"currency"`
	Status    PaymentStatus `gorm:"type:varchar(20);index" json:"status"`

	PaymentGateway PaymentGateway `gorm:"type:varchar(50)" json:"payment_gateway"`
	GatewayStatus  string         `gorm:"type:varchar(50)" json:"gateway_status,omitempty"`

	// Method specific instructions, only the ones matching Method are filled
	RedirectURL   string `gorm:"type:text" json:"redirect_url,omitempty"`
	QRCodeURL     string `gorm:"type:text" json:"qr_code_url,omitempty"`
	BankName      string `gorm:"type:varchar(50)" json:"bank_name,omitempty"`
	VANumber      string `gorm:"type:varchar(50)" json:"va_number,omitempty"`
	WalletAddress string `gorm:"type:varchar(100)" json:"wallet_address,omitempty"`
	TxHash        string `gorm:"type:varchar(66)" json:"tx_hash,omitempty"`

	RegistrationID *uint      `json:"registration_id"`
	ExpiresAt      *time.Time `json:"expires_at"`
	PaidAt         *time.Time `json:"paid_at"`

	// Relationships
	User         User          `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Event        Event         `gorm:"foreignKey:EventID" json:"event,omitempty"`
	Registration *Registration `gorm:"foreignKey:RegistrationID" json:"registration,omitempty"`
}
