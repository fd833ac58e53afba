package services

import (
	"context"
	"strconv"

	"eventpay_echo/internal/models"
	"eventpay_echo/internal/reconcile"
)

// CheckoutBackend adapts PaymentService to the reconcile engine for a single
// user. Payments owned by someone else are reported as not found.
type CheckoutBackend struct {
	payments *PaymentService
	userID   uint
}

func NewCheckoutBackend(payments *PaymentService, userID uint) *CheckoutBackend {
	return &CheckoutBackend{payments: payments, userID: userID}
}

var (
	_ reconcile.Gateway = (*CheckoutBackend)(nil)
	_ reconcile.Store   = (*CheckoutBackend)(nil)
)

// CreatePayment charges the event price; the requested amount is informational
func (b *CheckoutBackend) CreatePayment(ctx context.Context, req reconcile.CreateRequest) (*reconcile.Created, error) {
	res, err := b.payments.CreatePayment(ctx, CreatePaymentRequest{
		UserID:   b.userID,
		EventID:  req.Order.EventID,
		Method:   models.PaymentMethod(req.Method),
		ForceNew: req.ForceNew,
	})
	if err != nil {
		return nil, err
	}
	p := res.Payment
	return &reconcile.Created{
		OrderID:      p.OrderID,
		PaymentID:    p.PaymentID,
		Amount:       p.Amount,
		Currency:     p.Currency,
		Instructions: InstructionsFor(p),
	}, nil
}

func (b *CheckoutBackend) SyncPayment(ctx context.Context, orderID string) (reconcile.StoreStatus, error) {
	p, err := b.owned(ctx, orderID)
	if err != nil {
		return "", err
	}
	status, err := b.payments.syncPayment(ctx, p)
	return reconcile.StoreStatus(status), err
}

func (b *CheckoutBackend) CancelPayment(ctx context.Context, paymentID string) error {
	p, err := b.payments.GetPaymentByPaymentID(ctx, paymentID)
	if err != nil {
		return err
	}
	if p.UserID != b.userID {
		return ErrPaymentNotFound
	}
	_, err = b.payments.cancel(ctx, p)
	return err
}

func (b *CheckoutBackend) VerifyCrypto(ctx context.Context, orderID, txHash string) (reconcile.StoreStatus, error) {
	if _, err := b.owned(ctx, orderID); err != nil {
		return "", err
	}
	status, err := b.payments.VerifyCryptoPayment(ctx, orderID, txHash)
	return reconcile.StoreStatus(status), err
}

func (b *CheckoutBackend) GetPayment(ctx context.Context, orderID string) (*reconcile.Record, error) {
	p, err := b.owned(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return RecordFor(p), nil
}

func (b *CheckoutBackend) FinalizeRegistration(ctx context.Context, paymentID string) (string, error) {
	p, err := b.payments.GetPaymentByPaymentID(ctx, paymentID)
	if err != nil {
		return "", err
	}
	if p.UserID != b.userID {
		return "", ErrPaymentNotFound
	}
	reg, err := b.payments.FinalizeRegistration(ctx, paymentID)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(uint64(reg.ID), 10), nil
}

func (b *CheckoutBackend) owned(ctx context.Context, orderID string) (*models.Payment, error) {
	p, err := b.payments.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if p.UserID != b.userID {
		return nil, ErrPaymentNotFound
	}
	return p, nil
}

// RecordFor converts a stored payment into the engine's view of it
func RecordFor(p *models.Payment) *reconcile.Record {
	r := &reconcile.Record{
		OrderID:      p.OrderID,
		PaymentID:    p.PaymentID,
		Status:       reconcile.StoreStatus(p.Status),
		Amount:       p.Amount,
		Currency:     p.Currency,
		Method:       reconcile.Method(p.Method),
		Instructions: InstructionsFor(p),
	}
	if p.RegistrationID != nil {
		r.RegistrationID = strconv.FormatUint(uint64(*p.RegistrationID), 10)
	}
	return r
}

// InstructionsFor returns what the payer needs to act on, or nil when the
// payment carries nothing for its method
func InstructionsFor(p *models.Payment) reconcile.Instructions {
	switch p.Method {
	case models.PaymentMethodGateway:
		if p.RedirectURL != "" {
			return reconcile.HostedCheckout{RedirectURL: p.RedirectURL}
		}
	case models.PaymentMethodQR:
		if p.QRCodeURL != "" {
			return reconcile.QRCode{ImageURL: p.QRCodeURL}
		}
	case models.PaymentMethodBankTransfer:
		if p.VANumber != "" {
			return reconcile.BankTransfer{Bank: p.BankName, VANumber: p.VANumber}
		}
	case models.PaymentMethodCrypto:
		if p.WalletAddress != "" {
			return reconcile.CryptoDeposit{WalletAddress: p.WalletAddress}
		}
	}
	return nil
}
