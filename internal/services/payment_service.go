package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"eventpay_echo/internal/models"
	"eventpay_echo/internal/reconcile"
)

var (
	ErrEventNotFound         = errors.New("event not found")
	ErrEventFull             = errors.New("event is full")
	ErrInvalidAmount         = errors.New("event has no payable amount")
	ErrAlreadyRegistered     = errors.New("user is already registered for this event")
	ErrPaymentAlreadyMade    = errors.New("payment already made")
	ErrPaymentNotFound       = errors.New("payment not found")
	ErrPaymentNotPaid        = errors.New("payment is not paid")
	ErrPaymentNotCancellable = errors.New("payment can no longer be cancelled")
	ErrPaymentNotInReview    = errors.New("payment is not waiting for review")
	ErrMethodMismatch        = errors.New("operation does not match the payment method")
	ErrTxHashUsed            = errors.New("transaction hash already submitted for another payment")
	ErrInvalidSignature      = errors.New("invalid notification signature")
	ErrFinalizeInProgress    = errors.New("registration finalize already in progress")
	ErrCryptoNotConfigured   = errors.New("crypto payments are not configured")
	ErrGatewayFailure        = errors.New("payment gateway failure")
	ErrInvalidNotification   = errors.New("invalid gateway notification")
)

const (
	eventCacheTTL   = 5 * time.Minute
	finalizeLockTTL = 30 * time.Second
)

// PaymentConfig holds payment settings taken from config.Config
type PaymentConfig struct {
	AppURL              string
	PaymentTTL          time.Duration
	CryptoWalletAddress string
	BankTransferBank    string
}

type PaymentServiceDeps struct {
	DB       *gorm.DB
	Gateway  TransactionGateway
	Cache    *RedisCache
	Notifier *NotificationService
	Events   EventPublisher
	Logger   *zap.Logger
	Config   PaymentConfig
}

// PaymentService is the payment record store: it creates payments, keeps
// their status in sync with the gateway and finalizes registrations
type PaymentService struct {
	db       *gorm.DB
	gateway  TransactionGateway
	cache    *RedisCache
	notifier *NotificationService
	events   EventPublisher
	log      *zap.Logger
	cfg      PaymentConfig
}

func NewPaymentService(deps PaymentServiceDeps) *PaymentService {
	if deps.Events == nil {
		deps.Events = NoopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Config.PaymentTTL <= 0 {
		deps.Config.PaymentTTL = 24 * time.Hour
	}
	return &PaymentService{
		db:       deps.DB,
		gateway:  deps.Gateway,
		cache:    deps.Cache,
		notifier: deps.Notifier,
		events:   deps.Events,
		log:      deps.Logger.Named("payments"),
		cfg:      deps.Config,
	}
}

type CreatePaymentRequest struct {
	UserID   uint
	EventID  uint
	Method   models.PaymentMethod
	ForceNew bool
}

// CreatePaymentResult holds the result of a creation attempt
type CreatePaymentResult struct {
	Payment    *models.Payment
	IsExisting bool
}

// CreatePayment starts a payment for an event registration. A still pending
// payment for the same user, event and method is reused unless ForceNew is
// set, in which case it is cancelled first.
func (s *PaymentService) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error) {
	if !req.Method.Valid() {
		return nil, fmt.Errorf("%w: %q", reconcile.ErrUnsupportedMethod, req.Method)
	}

	event, err := s.GetEvent(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	if event.IsFree() {
		return nil, ErrInvalidAmount
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, req.UserID).Error; err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", req.UserID, err)
	}

	var registered int64
	if err := s.db.WithContext(ctx).Model(&models.Registration{}).
		Where("event_id = ? AND user_id = ? AND status = ?", event.ID, user.ID, models.RegistrationStatusConfirmed).
		Count(&registered).Error; err != nil {
		return nil, fmt.Errorf("failed to check registration: %w", err)
	}
	if registered > 0 {
		return nil, ErrAlreadyRegistered
	}

	if event.Capacity > 0 {
		var taken int64
		if err := s.db.WithContext(ctx).Model(&models.Registration{}).
			Where("event_id = ? AND status = ?", event.ID, models.RegistrationStatusConfirmed).
			Count(&taken).Error; err != nil {
			return nil, fmt.Errorf("failed to count registrations: %w", err)
		}
		if int(taken) >= event.Capacity {
			return nil, ErrEventFull
		}
	}

	existing, err := s.resolvePending(ctx, &user, event, req)
	if err != nil || existing != nil {
		return existing, err
	}

	return s.createNew(ctx, &user, event, req.Method)
}

// resolvePending returns a reusable pending payment, or clears the way for a
// new one by cancelling whatever is still pending
func (s *PaymentService) resolvePending(ctx context.Context, user *models.User, event *models.Event, req CreatePaymentRequest) (*CreatePaymentResult, error) {
	var pending []models.Payment
	if err := s.db.WithContext(ctx).Preload("Event").
		Where("user_id = ? AND event_id = ? AND status IN ?", user.ID, event.ID,
			[]models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusPendingReview}).
		Order("created_at desc").Find(&pending).Error; err != nil {
		return nil, fmt.Errorf("failed to check pending payments: %w", err)
	}

	for i := range pending {
		p := &pending[i]

		// a transfer under review has money attached to it
		if p.Status == models.PaymentStatusPendingReview {
			return nil, ErrPaymentAlreadyMade
		}

		if p.Method == req.Method && !req.ForceNew && !s.isExpired(p, time.Now()) {
			status, err := s.syncPayment(ctx, p)
			if err != nil {
				s.log.Warn("sync of reusable payment failed", zap.String("order_id", p.OrderID), zap.Error(err))
			}
			switch {
			case status == models.PaymentStatusPaid || status == models.PaymentStatusPendingReview:
				return nil, ErrPaymentAlreadyMade
			case status == models.PaymentStatusPending:
				return &CreatePaymentResult{Payment: p, IsExisting: true}, nil
			}
			// failed, expired or cancelled: fall through and create a new one
			continue
		}

		if _, err := s.cancel(ctx, p); err != nil && !errors.Is(err, ErrPaymentNotCancellable) {
			return nil, err
		}
		if p.Status == models.PaymentStatusPaid || p.Status == models.PaymentStatusPendingReview {
			return nil, ErrPaymentAlreadyMade
		}
	}
	return nil, nil
}

func (s *PaymentService) createNew(ctx context.Context, user *models.User, event *models.Event, method models.PaymentMethod) (*CreatePaymentResult, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.PaymentTTL)
	payment := &models.Payment{
		PaymentID: "PAY-" + uuid.NewString(),
		OrderID:   fmt.Sprintf("event-%d-%d-%d-%s", event.ID, user.ID, now.UnixMilli(), uuid.NewString()[:8]),
		UserID:    user.ID,
		EventID:   event.ID,
		Method:    method,
		Amount:    event.Price,
		Currency:  event.Currency,
		Status:    models.PaymentStatusPending,
		ExpiresAt: &expiresAt,
	}
	if payment.Currency == "" {
		payment.Currency = "IDR"
	}

	var reqBytes, respBytes []byte
	if method == models.PaymentMethodCrypto {
		if s.cfg.CryptoWalletAddress == "" {
			return nil, ErrCryptoNotConfigured
		}
		payment.PaymentGateway = models.PaymentGatewayCrypto
		payment.WalletAddress = s.cfg.CryptoWalletAddress
	} else {
		charge, err := s.gateway.Charge(ChargeRequest{
			OrderID:       payment.OrderID,
			Amount:        payment.Amount,
			Method:        method,
			Bank:          s.cfg.BankTransferBank,
			CustomerName:  user.Name,
			CustomerEmail: user.Email,
			ItemID:        fmt.Sprintf("event-%d", event.ID),
			ItemName:      fmt.Sprintf("Registration for %s", event.Name),
			FinishURL:     strings.TrimRight(s.cfg.AppURL, "/") + "/checkout/" + payment.OrderID,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrGatewayFailure, err)
		}
		payment.PaymentGateway = models.PaymentGatewayMidtrans
		payment.RedirectURL = charge.RedirectURL
		payment.QRCodeURL = charge.QRCodeURL
		payment.BankName = charge.Bank
		payment.VANumber = charge.VANumber
		reqBytes, _ = json.Marshal(charge.RawRequest)
		respBytes, _ = json.Marshal(charge.RawResponse)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(payment).Error; err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}
		session := models.GatewaySession{
			PaymentID:        payment.PaymentID,
			UserID:           user.ID,
			PaymentGateway:   payment.PaymentGateway,
			OrderID:          payment.OrderID,
			IsActive:         true,
			RequestMetadata:  reqBytes,
			ResponseMetadata: respBytes,
		}
		if err := tx.Create(&session).Error; err != nil {
			return fmt.Errorf("failed to create gateway session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	payment.Event = *event
	s.log.Info("payment created", zap.String("order_id", payment.OrderID), zap.String("payment_id", payment.PaymentID), zap.String("method", string(method)))
	s.publish(ctx, newPaymentEvent(EventPaymentCreated, payment))

	return &CreatePaymentResult{Payment: payment}, nil
}

// GetEvent returns an active event, cached for a few minutes
func (s *PaymentService) GetEvent(ctx context.Context, eventID uint) (*models.Event, error) {
	event, err := GetOrSet(s.cache, ctx, fmt.Sprintf("event:%d", eventID), eventCacheTTL, func() (models.Event, error) {
		var e models.Event
		err := s.db.WithContext(ctx).Where("is_active = ?", true).First(&e, eventID).Error
		return e, err
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load event %d: %w", eventID, err)
	}
	return &event, nil
}

// GetPaymentByOrderID reads a payment by the gateway correlation key
func (s *PaymentService) GetPaymentByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	return s.findPayment(ctx, "order_id = ?", orderID)
}

func (s *PaymentService) GetPaymentByPaymentID(ctx context.Context, paymentID string) (*models.Payment, error) {
	return s.findPayment(ctx, "payment_id = ?", paymentID)
}

func (s *PaymentService) findPayment(ctx context.Context, query string, arg interface{}) (*models.Payment, error) {
	var p models.Payment
	err := s.db.WithContext(ctx).Preload("Event").Where(query, arg).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	return &p, nil
}

// SyncPaymentStatus asks the gateway for the latest status of an order and
// stores it. Terminal and crypto payments are returned as they are.
func (s *PaymentService) SyncPaymentStatus(ctx context.Context, orderID string) (models.PaymentStatus, error) {
	p, err := s.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return "", err
	}
	return s.syncPayment(ctx, p)
}

func (s *PaymentService) syncPayment(ctx context.Context, p *models.Payment) (models.PaymentStatus, error) {
	if p.Status.IsTerminal() {
		return p.Status, nil
	}

	if p.PaymentGateway == models.PaymentGatewayCrypto {
		if p.Status == models.PaymentStatusPending && s.isExpired(p, time.Now()) {
			if _, err := s.applyStatus(ctx, p, models.PaymentStatusExpired, ""); err != nil {
				return p.Status, err
			}
		}
		return p.Status, nil
	}

	st, err := s.gateway.Status(p.OrderID)
	if err != nil {
		return p.Status, fmt.Errorf("%w: %w", ErrGatewayFailure, err)
	}

	next := st.Status
	if next == models.PaymentStatusPending && s.isExpired(p, time.Now()) {
		if err := s.gateway.Cancel(p.OrderID); err != nil && st.TransactionStatus != "" {
			// still payable at the gateway; retried on the next sync or sweep
			s.log.Warn("cancel of expired payment failed", zap.String("order_id", p.OrderID), zap.Error(err))
			return p.Status, nil
		}
		next = models.PaymentStatusExpired
	}

	if _, err := s.applyStatus(ctx, p, next, st.TransactionStatus); err != nil {
		return p.Status, err
	}
	return p.Status, nil
}

// CancelPayment cancels a pending payment. The stored payment is only
// cancelled once the gateway has cancelled it or holds no transaction for it;
// otherwise it keeps whatever status the gateway reports.
func (s *PaymentService) CancelPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	p, err := s.GetPaymentByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return s.cancel(ctx, p)
}

func (s *PaymentService) cancel(ctx context.Context, p *models.Payment) (*models.Payment, error) {
	if p.Status.IsTerminal() || p.Status == models.PaymentStatusPendingReview {
		return p, ErrPaymentNotCancellable
	}

	if p.PaymentGateway == models.PaymentGatewayMidtrans {
		if err := s.gateway.Cancel(p.OrderID); err != nil {
			s.log.Warn("gateway cancel failed", zap.String("order_id", p.OrderID), zap.Error(err))
			done, err := s.afterFailedCancel(ctx, p, err)
			if done || err != nil {
				return p, err
			}
		}
	}

	changed, err := s.applyStatus(ctx, p, models.PaymentStatusCancelled, "cancel")
	if err != nil {
		return nil, err
	}
	if !changed && p.Status != models.PaymentStatusCancelled {
		// lost a race with the webhook or another sync
		return p, ErrPaymentNotCancellable
	}
	return p, nil
}

// afterFailedCancel reconciles p with the gateway when a cancel was refused.
// It reports done when p took the gateway's status instead of CANCELLED.
func (s *PaymentService) afterFailedCancel(ctx context.Context, p *models.Payment, cancelErr error) (bool, error) {
	st, err := s.gateway.Status(p.OrderID)
	if err != nil {
		return true, fmt.Errorf("%w: cancel: %w", ErrGatewayFailure, cancelErr)
	}

	switch st.Status {
	case models.PaymentStatusPending:
		if st.TransactionStatus == "" {
			// the gateway never saw the order, nothing can be paid on it
			return false, nil
		}
		// still payable at the gateway; the expiry sweep settles it later
		return true, fmt.Errorf("%w: cancel: %w", ErrGatewayFailure, cancelErr)
	case models.PaymentStatusCancelled:
		return false, nil
	}

	if _, err := s.applyStatus(ctx, p, st.Status, st.TransactionStatus); err != nil {
		return true, err
	}
	if p.Status == models.PaymentStatusPaid || p.Status == models.PaymentStatusPendingReview {
		return true, ErrPaymentNotCancellable
	}
	return true, nil
}

// FinalizeRegistration turns a paid payment into a confirmed registration.
// It is idempotent: an already finalized payment returns its registration.
func (s *PaymentService) FinalizeRegistration(ctx context.Context, paymentID string) (*models.Registration, error) {
	if s.cache != nil {
		release, ok, err := s.cache.Lock(ctx, "lock:finalize:"+paymentID, finalizeLockTTL)
		if err != nil {
			// the unique index on registrations.payment_id still holds
			s.log.Warn("finalize lock unavailable", zap.String("payment_id", paymentID), zap.Error(err))
		} else if !ok {
			return s.awaitRegistration(ctx, paymentID)
		}
		defer release()
	}

	var (
		reg     models.Registration
		payment models.Payment
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("Event").Where("payment_id = ?", paymentID).First(&payment).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPaymentNotFound
			}
			return err
		}

		if payment.RegistrationID != nil {
			return tx.First(&reg, *payment.RegistrationID).Error
		}
		if payment.Status != models.PaymentStatusPaid {
			return ErrPaymentNotPaid
		}

		err := tx.Where("payment_id = ?", paymentID).First(&reg).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			reg = models.Registration{
				EventID:    payment.EventID,
				UserID:     payment.UserID,
				PaymentID:  payment.PaymentID,
				TicketCode: uuid.NewString(),
				Status:     models.RegistrationStatusConfirmed,
			}
			if err := tx.Create(&reg).Error; err != nil {
				return fmt.Errorf("failed to create registration: %w", err)
			}
			created = true
		case err != nil:
			return err
		}

		return tx.Model(&payment).Update("registration_id", reg.ID).Error
	})
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) || errors.Is(err, ErrPaymentNotPaid) {
			return nil, err
		}
		// a concurrent finalize may have won the unique index
		if existing, lookupErr := s.registrationFor(ctx, paymentID); lookupErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to finalize registration: %w", err)
	}

	if created {
		payment.RegistrationID = &reg.ID
		s.log.Info("registration finalized", zap.String("payment_id", paymentID), zap.Uint("registration_id", reg.ID))
		if s.notifier != nil {
			if _, err := s.notifier.RegistrationConfirmed(ctx, &reg, payment.Event.Name); err != nil {
				s.log.Error("registration notification failed", zap.String("payment_id", paymentID), zap.Error(err))
			}
		}
		s.publish(ctx, newPaymentEvent(EventRegistrationConfirmed, &payment))
	}
	return &reg, nil
}

func (s *PaymentService) awaitRegistration(ctx context.Context, paymentID string) (*models.Registration, error) {
	for i := 0; i < 10; i++ {
		if reg, err := s.registrationFor(ctx, paymentID); err == nil {
			return reg, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return nil, ErrFinalizeInProgress
}

func (s *PaymentService) registrationFor(ctx context.Context, paymentID string) (*models.Registration, error) {
	var reg models.Registration
	if err := s.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&reg).Error; err != nil {
		return nil, err
	}
	return &reg, nil
}

// VerifyCryptoPayment records the payer's tx hash and parks the payment for
// finance review
func (s *PaymentService) VerifyCryptoPayment(ctx context.Context, orderID, txHash string) (models.PaymentStatus, error) {
	if !reconcile.ValidTxHash(txHash) {
		return "", reconcile.ErrInvalidTxHash
	}
	txHash = strings.ToLower(txHash)

	p, err := s.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return "", err
	}
	if p.Method != models.PaymentMethodCrypto {
		return p.Status, ErrMethodMismatch
	}
	if p.Status == models.PaymentStatusPendingReview && p.TxHash == txHash {
		return p.Status, nil
	}
	if p.Status != models.PaymentStatusPending {
		return p.Status, nil
	}

	var used int64
	if err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("tx_hash = ? AND id <> ?", txHash, p.ID).Count(&used).Error; err != nil {
		return p.Status, fmt.Errorf("failed to check tx hash: %w", err)
	}
	if used > 0 {
		return p.Status, ErrTxHashUsed
	}

	if err := s.db.WithContext(ctx).Model(p).Update("tx_hash", txHash).Error; err != nil {
		return p.Status, fmt.Errorf("failed to store tx hash: %w", err)
	}
	p.TxHash = txHash

	if _, err := s.applyStatus(ctx, p, models.PaymentStatusPendingReview, ""); err != nil {
		return p.Status, err
	}
	return p.Status, nil
}

// ReviewCryptoPayment lets finance approve (PAID) or reject (FAILED) a
// payment waiting in PENDING_REVIEW
func (s *PaymentService) ReviewCryptoPayment(ctx context.Context, orderID string, approve bool) (*models.Payment, error) {
	p, err := s.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if p.Status != models.PaymentStatusPendingReview {
		return p, ErrPaymentNotInReview
	}

	next := models.PaymentStatusFailed
	if approve {
		next = models.PaymentStatusPaid
	}
	changed, err := s.applyStatus(ctx, p, next, "review")
	if err != nil {
		return nil, err
	}
	if !changed {
		return p, ErrPaymentNotInReview
	}
	return p, nil
}

// GatewayNotification is the subset of a Midtrans HTTP notification we use
type GatewayNotification struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	PaymentType       string `json:"payment_type"`
}

// HandleGatewayNotification records and applies a gateway webhook
func (s *PaymentService) HandleGatewayNotification(ctx context.Context, raw []byte) error {
	var n GatewayNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidNotification, err)
	}

	valid := s.gateway.VerifySignature(n.OrderID, n.StatusCode, n.GrossAmount, n.SignatureKey)
	history := models.PaymentCallbackHistory{
		PaymentGateway:    models.PaymentGatewayMidtrans,
		OrderID:           n.OrderID,
		TransactionStatus: n.TransactionStatus,
		SignatureValid:    valid,
		Metadata:          raw,
	}
	if err := s.db.WithContext(ctx).Create(&history).Error; err != nil {
		s.log.Error("failed to store callback history", zap.String("order_id", n.OrderID), zap.Error(err))
	}

	if !valid {
		s.log.Warn("notification with invalid signature", zap.String("order_id", n.OrderID))
		return ErrInvalidSignature
	}

	p, err := s.GetPaymentByOrderID(ctx, n.OrderID)
	if err != nil {
		return err
	}

	_, err = s.applyStatus(ctx, p, MapTransactionStatus(n.TransactionStatus, n.FraudStatus), n.TransactionStatus)
	return err
}

// ExpireStalePayments expires pending payments past their ExpiresAt
func (s *PaymentService) ExpireStalePayments(ctx context.Context, now time.Time) (int, error) {
	var stale []models.Payment
	if err := s.db.WithContext(ctx).Preload("Event").
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", models.PaymentStatusPending, now).
		Find(&stale).Error; err != nil {
		return 0, fmt.Errorf("failed to find stale payments: %w", err)
	}

	expired := 0
	for i := range stale {
		p := &stale[i]
		if p.PaymentGateway == models.PaymentGatewayMidtrans {
			// the gateway decides: a late settlement wins over the TTL
			status, err := s.syncPayment(ctx, p)
			if err != nil {
				s.log.Warn("sync of stale payment failed", zap.String("order_id", p.OrderID), zap.Error(err))
				continue
			}
			if status == models.PaymentStatusExpired {
				expired++
			}
			continue
		}
		changed, err := s.applyStatus(ctx, p, models.PaymentStatusExpired, "expire")
		if err != nil {
			return expired, err
		}
		if changed {
			expired++
		}
	}
	return expired, nil
}

func (s *PaymentService) isExpired(p *models.Payment, now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// applyStatus moves p to next if the transition is allowed and no one else
// moved it first. Notifications and events fire only for the winner.
func (s *PaymentService) applyStatus(ctx context.Context, p *models.Payment, next models.PaymentStatus, gatewayStatus string) (bool, error) {
	if !canTransition(p.Status, next) {
		if gatewayStatus != "" && gatewayStatus != p.GatewayStatus && !p.Status.IsTerminal() {
			if err := s.db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", p.ID).
				Update("gateway_status", gatewayStatus).Error; err != nil {
				s.log.Warn("failed to store gateway status", zap.String("order_id", p.OrderID), zap.Error(err))
			} else {
				p.GatewayStatus = gatewayStatus
			}
		}
		return false, nil
	}

	prev := p.Status
	updates := map[string]interface{}{"status": next}
	if gatewayStatus != "" {
		updates["gateway_status"] = gatewayStatus
	}
	var paidAt time.Time
	if next == models.PaymentStatusPaid {
		paidAt = time.Now()
		updates["paid_at"] = &paidAt
	}

	res := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", p.ID, prev).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update payment status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// someone else moved it; report what is stored now
		var current models.Payment
		if err := s.db.WithContext(ctx).First(&current, p.ID).Error; err == nil {
			p.Status = current.Status
			p.GatewayStatus = current.GatewayStatus
			p.RegistrationID = current.RegistrationID
		}
		return false, nil
	}

	p.Status = next
	if gatewayStatus != "" {
		p.GatewayStatus = gatewayStatus
	}
	if next == models.PaymentStatusPaid {
		p.PaidAt = &paidAt
	}

	if next.IsTerminal() {
		if err := s.db.WithContext(ctx).Model(&models.GatewaySession{}).
			Where("payment_id = ? AND is_active = ?", p.PaymentID, true).
			Update("is_active", false).Error; err != nil {
			s.log.Warn("failed to close gateway session", zap.String("order_id", p.OrderID), zap.Error(err))
		}
	}

	s.log.Info("payment status changed",
		zap.String("order_id", p.OrderID),
		zap.String("from", string(prev)),
		zap.String("to", string(next)),
		zap.String("gateway_status", gatewayStatus))

	if s.notifier != nil {
		if _, err := s.notifier.ForPaymentStatus(ctx, p); err != nil {
			s.log.Error("payment notification failed", zap.String("order_id", p.OrderID), zap.Error(err))
		}
	}

	evt := newPaymentEvent(EventPaymentStatusChanged, p)
	evt.PreviousStatus = prev
	s.publish(ctx, evt)
	return true, nil
}

// canTransition keeps statuses monotonic: PENDING may go anywhere else,
// PENDING_REVIEW only to a terminal status, terminal statuses nowhere
func canTransition(from, to models.PaymentStatus) bool {
	if from == to || from.IsTerminal() {
		return false
	}
	switch to {
	case models.PaymentStatusPending:
		return false
	case models.PaymentStatusPendingReview:
		return from == models.PaymentStatusPending
	}
	return true
}

func (s *PaymentService) publish(ctx context.Context, evt PaymentEvent) {
	if err := s.events.Publish(ctx, evt); err != nil {
		s.log.Warn("failed to publish payment event", zap.String("type", evt.Type), zap.String("order_id", evt.OrderID), zap.Error(err))
	}
}
