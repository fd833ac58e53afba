package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"eventpay_echo/internal/models"
)

var ErrNotificationNotFound = errors.New("notification not found")

// DeliveryScheduler queues delivery of a stored notification over the
// user's preferred channel. It runs inside the creating transaction.
type DeliveryScheduler func(tx *gorm.DB, n *models.Notification) error

// NotificationService builds and stores notifications with a fixed shape per
// payment event
type NotificationService struct {
	db       *gorm.DB
	schedule DeliveryScheduler
	log      *zap.Logger
}

func NewNotificationService(db *gorm.DB, schedule DeliveryScheduler, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{db: db, schedule: schedule, log: logger.Named("notifications")}
}

func (s *NotificationService) RegistrationConfirmed(ctx context.Context, reg *models.Registration, eventName string) (*models.Notification, error) {
	return s.create(ctx, reg.UserID, models.NotificationTypeRegistrationConfirmed,
		"Registration confirmed",
		fmt.Sprintf("You are registered for %s. Your ticket code is %s.", eventNameOr(eventName), reg.TicketCode),
		map[string]interface{}{
			"registration_id": reg.ID,
			"event_id":        reg.EventID,
			"payment_id":      reg.PaymentID,
			"ticket_code":     reg.TicketCode,
		})
}

func (s *NotificationService) PaymentSucceeded(ctx context.Context, p *models.Payment) (*models.Notification, error) {
	return s.create(ctx, p.UserID, models.NotificationTypePaymentSuccess,
		"Payment received",
		fmt.Sprintf("We received your payment of %s for %s.", formatAmount(p.Amount, p.Currency), eventNameOr(p.Event.Name)),
		paymentPayload(p))
}

func (s *NotificationService) PaymentFailed(ctx context.Context, p *models.Payment) (*models.Notification, error) {
	return s.create(ctx, p.UserID, models.NotificationTypePaymentFailed,
		"Payment failed",
		fmt.Sprintf("Your payment for %s could not be completed. Please start a new payment.", eventNameOr(p.Event.Name)),
		paymentPayload(p))
}

func (s *NotificationService) PaymentCancelled(ctx context.Context, p *models.Payment) (*models.Notification, error) {
	return s.create(ctx, p.UserID, models.NotificationTypePaymentCancelled,
		"Payment cancelled",
		fmt.Sprintf("Your payment for %s was cancelled.", eventNameOr(p.Event.Name)),
		paymentPayload(p))
}

func (s *NotificationService) PaymentExpired(ctx context.Context, p *models.Payment) (*models.Notification, error) {
	return s.create(ctx, p.UserID, models.NotificationTypePaymentExpired,
		"Payment expired",
		fmt.Sprintf("Your payment for %s expired before it was completed.", eventNameOr(p.Event.Name)),
		paymentPayload(p))
}

func (s *NotificationService) PaymentPendingReview(ctx context.Context, p *models.Payment) (*models.Notification, error) {
	return s.create(ctx, p.UserID, models.NotificationTypePaymentPendingReview,
		"Payment under review",
		fmt.Sprintf("Your payment for %s is being reviewed by our finance team.", eventNameOr(p.Event.Name)),
		paymentPayload(p))
}

// ForPaymentStatus picks the factory matching a payment's new status
func (s *NotificationService) ForPaymentStatus(ctx context.Context, p *models.Payment) (*models.Notification, error) {
	switch p.Status {
	case models.PaymentStatusPaid:
		return s.PaymentSucceeded(ctx, p)
	case models.PaymentStatusFailed:
		return s.PaymentFailed(ctx, p)
	case models.PaymentStatusCancelled:
		return s.PaymentCancelled(ctx, p)
	case models.PaymentStatusExpired:
		return s.PaymentExpired(ctx, p)
	case models.PaymentStatusPendingReview:
		return s.PaymentPendingReview(ctx, p)
	}
	return nil, nil
}

func (s *NotificationService) create(ctx context.Context, userID uint, kind models.NotificationType, title, body string, payload map[string]interface{}) (*models.Notification, error) {
	n := &models.Notification{
		UserID:  userID,
		Type:    kind,
		Title:   title,
		Body:    body,
		Payload: payload,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(n).Error; err != nil {
			return fmt.Errorf("failed to create notification: %w", err)
		}
		if s.schedule == nil {
			return nil
		}
		if err := s.schedule(tx, n); err != nil {
			return fmt.Errorf("failed to schedule notification delivery: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug("notification created", zap.Uint("user_id", userID), zap.String("type", string(kind)), zap.Uint("notification_id", n.ID))
	return n, nil
}

// ListForUser returns the newest notifications first
func (s *NotificationService) ListForUser(ctx context.Context, userID uint, unreadOnly bool, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("read_at IS NULL")
	}

	var items []models.Notification
	if err := query.Order("created_at desc, id desc").Limit(limit).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return items, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, userID, id uint) error {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Where("read_at IS NULL").
		Update("read_at", &now)
	if res.Error != nil {
		return fmt.Errorf("failed to mark notification read: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		s.db.WithContext(ctx).Model(&models.Notification{}).Where("id = ? AND user_id = ?", id, userID).Count(&count)
		if count == 0 {
			return ErrNotificationNotFound
		}
	}
	return nil
}

func paymentPayload(p *models.Payment) map[string]interface{} {
	return map[string]interface{}{
		"order_id":   p.OrderID,
		"payment_id": p.PaymentID,
		"event_id":   p.EventID,
		"method":     p.Method,
		"amount":     p.Amount,
		"currency":   p.Currency,
		"status":     p.Status,
	}
}

func eventNameOr(name string) string {
	if name == "" {
		return "your event"
	}
	return name
}

// formatAmount renders 50000 IDR as "IDR 50.000"
func formatAmount(amount int64, currency string) string {
	if currency == "" {
		currency = "IDR"
	}
	neg := amount < 0
	if neg {
		amount = -amount
	}
	digits := fmt.Sprintf("%d", amount)
	var out []byte
	for i := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out = append(out, '.')
		}
		out = append(out, digits[i])
	}
	if neg {
		return currency + " -" + string(out)
	}
	return currency + " " + string(out)
}
