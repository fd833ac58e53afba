package models

import (
	"time"

	"gorm.io/gorm"
)

type NotificationType string

const (
	NotificationTypeRegistrationConfirmed NotificationType = "REGISTRATION_CONFIRMED"
	NotificationTypePaymentSuccess        NotificationType = "PAYMENT_SUCCESS"
	NotificationTypePaymentFailed         NotificationType = "PAYMENT_FAILED"
	NotificationTypePaymentCancelled      NotificationType = "PAYMENT_CANCELLED"
	NotificationTypePaymentExpired        NotificationType = "PAYMENT_EXPIRED"
	NotificationTypePaymentPendingReview  NotificationType = "PAYMENT_PENDING_REVIEW"
)

// Notification is an in-app message; delivery over email or WhatsApp is
// handled by the send_notification task.
type Notification struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	UserID  uint                   `gorm:"index" json:"user_id"`
	Type    NotificationType       `gorm:"type:varchar(50)" json:"type"`
	Title   string                 `gorm:"type:varchar(255)" json:"title"`
	Body    string                 `gorm:"type:text" json:"body"`
	Payload map[string]interface{} `gorm:"serializer:json" json:"payload"`

	ReadAt      *time.Time `json:"read_at"`
	DeliveredAt *time.Time `json:"delivered_at"`

	User User `gorm:"foreignKey:UserID" json:"-"`
}
