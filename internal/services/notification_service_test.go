package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"eventpay_echo/internal/models"
)

func TestNotificationFactories(t *testing.T) {
	db := newTestDB(t)
	var scheduled []uint
	svc := NewNotificationService(db, func(tx *gorm.DB, n *models.Notification) error {
		scheduled = append(scheduled, n.ID)
		return nil
	}, nil)
	ctx := context.Background()

	p := &models.Payment{
		UserID: 7, OrderID: "ORD-1", PaymentID: "PAY-1", Amount: 50000, Currency: "IDR",
		Event: models.Event{Name: "DevFest"},
	}

	tests := []struct {
		status models.PaymentStatus
		want   models.NotificationType
		title  string
	}{
		{models.PaymentStatusPaid, models.NotificationTypePaymentSuccess, "Payment received"},
		{models.PaymentStatusFailed, models.NotificationTypePaymentFailed, "Payment failed"},
		{models.PaymentStatusCancelled, models.NotificationTypePaymentCancelled, "Payment cancelled"},
		{models.PaymentStatusExpired, models.NotificationTypePaymentExpired, "Payment expired"},
		{models.PaymentStatusPendingReview, models.NotificationTypePaymentPendingReview, "Payment under review"},
	}
	for _, tt := range tests {
		p.Status = tt.status
		n, err := svc.ForPaymentStatus(ctx, p)
		require.NoError(t, err)
		require.NotNil(t, n)
		assert.Equal(t, tt.want, n.Type)
		assert.Equal(t, tt.title, n.Title)
		assert.Equal(t, "ORD-1", n.Payload["order_id"])
	}

	p.Status = models.PaymentStatusPending
	n, err := svc.ForPaymentStatus(ctx, p)
	require.NoError(t, err)
	assert.Nil(t, n)

	success, err := svc.PaymentSucceeded(ctx, p)
	require.NoError(t, err)
	assert.Contains(t, success.Body, "IDR 50.000")
	assert.Contains(t, success.Body, "DevFest")

	reg := &models.Registration{UserID: 7, EventID: 1, PaymentID: "PAY-1", TicketCode: "TICKET-1"}
	confirmed, err := svc.RegistrationConfirmed(ctx, reg, "")
	require.NoError(t, err)
	assert.Equal(t, models.NotificationTypeRegistrationConfirmed, confirmed.Type)
	assert.Contains(t, confirmed.Body, "your event")
	assert.Contains(t, confirmed.Body, "TICKET-1")

	assert.Len(t, scheduled, 7)
}

func TestNotificationScheduleFailureRollsBack(t *testing.T) {
	db := newTestDB(t)
	svc := NewNotificationService(db, func(tx *gorm.DB, n *models.Notification) error {
		return errors.New("queue unavailable")
	}, nil)

	_, err := svc.PaymentFailed(context.Background(), &models.Payment{UserID: 3})
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&models.Notification{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestNotificationListAndMarkRead(t *testing.T) {
	db := newTestDB(t)
	svc := NewNotificationService(db, nil, nil)
	ctx := context.Background()

	first, err := svc.PaymentExpired(ctx, &models.Payment{UserID: 1})
	require.NoError(t, err)
	second, err := svc.PaymentCancelled(ctx, &models.Payment{UserID: 1})
	require.NoError(t, err)
	_, err = svc.PaymentCancelled(ctx, &models.Payment{UserID: 2})
	require.NoError(t, err)

	items, err := svc.ListForUser(ctx, 1, false, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, second.ID, items[0].ID)

	require.NoError(t, svc.MarkRead(ctx, 1, first.ID))
	// marking twice is fine
	require.NoError(t, svc.MarkRead(ctx, 1, first.ID))

	unread, err := svc.ListForUser(ctx, 1, true, 10)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, second.ID, unread[0].ID)

	assert.ErrorIs(t, svc.MarkRead(ctx, 2, first.ID), ErrNotificationNotFound)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "IDR 50.000", formatAmount(50000, "IDR"))
	assert.Equal(t, "IDR 999", formatAmount(999, ""))
	assert.Equal(t, "USD 1.250.000", formatAmount(1250000, "USD"))
	assert.Equal(t, "IDR -1.000", formatAmount(-1000, "IDR"))
}
