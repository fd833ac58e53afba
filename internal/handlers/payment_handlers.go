package handlers

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"eventpay_echo/internal/middleware"
	"eventpay_echo/internal/models"
	"eventpay_echo/internal/services"
)

type CreatePaymentRequest struct {
	EventID  uint   `json:"event_id" validate:"required"`
	Method   string `json:"method" validate:"required,oneof=gateway qr bank_transfer crypto"`
	ForceNew bool   `json:"force_new"`
}

type CryptoVerifyRequest struct {
	TxHash string `json:"tx_hash" validate:"required"`
}

type ReviewRequest struct {
	Approve *bool `json:"approve" validate:"required"`
}

// PaymentResponse is the public shape of a payment
type PaymentResponse struct {
	OrderID        string               `json:"order_id"`
	PaymentID      string               `json:"payment_id"`
	EventID        uint                 `json:"event_id"`
	Method         models.PaymentMethod `json:"method"`
	Amount         int64                `json:"amount"`
	Currency       string               `json:"currency"`
	Status         models.PaymentStatus `json:"status"`
	RedirectURL    string               `json:"redirect_url,omitempty"`
	QRCodeURL      string               `json:"qr_code_url,omitempty"`
	Bank           string               `json:"bank,omitempty"`
	VANumber       string               `json:"va_number,omitempty"`
	WalletAddress  string               `json:"wallet_address,omitempty"`
	RegistrationID *uint                `json:"registration_id,omitempty"`
	IsExisting     bool                 `json:"is_existing,omitempty"`
}

func newPaymentResponse(p *models.Payment) PaymentResponse {
	return PaymentResponse{
		OrderID:        p.OrderID,
		PaymentID:      p.PaymentID,
		EventID:        p.EventID,
		Method:         p.Method,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Status:         p.Status,
		RedirectURL:    p.RedirectURL,
		QRCodeURL:      p.QRCodeURL,
		Bank:           p.BankName,
		VANumber:       p.VANumber,
		WalletAddress:  p.WalletAddress,
		RegistrationID: p.RegistrationID,
	}
}

// PaymentHandler exposes the payment record store over HTTP
type PaymentHandler struct {
	payments *services.PaymentService
	log      *zap.Logger
}

func NewPaymentHandler(payments *services.PaymentService, logger *zap.Logger) *PaymentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentHandler{payments: payments, log: logger.Named("http.payments")}
}

// CreatePayment handles POST /api/payments
func (h *PaymentHandler) CreatePayment(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req CreatePaymentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	res, err := h.payments.CreatePayment(c.Request().Context(), services.CreatePaymentRequest{
		UserID:   user.ID,
		EventID:  req.EventID,
		Method:   models.PaymentMethod(req.Method),
		ForceNew: req.ForceNew,
	})
	if err != nil {
		return toHTTPError(err)
	}

	resp := newPaymentResponse(res.Payment)
	resp.IsExisting = res.IsExisting
	status := http.StatusCreated
	if res.IsExisting {
		status = http.StatusOK
	}
	return c.JSON(status, resp)
}

// GetOrder handles GET /api/orders/:orderId
func (h *PaymentHandler) GetOrder(c echo.Context) error {
	p, err := h.ownedByOrder(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newPaymentResponse(p))
}

// SyncOrder handles POST /api/orders/:orderId/sync
func (h *PaymentHandler) SyncOrder(c echo.Context) error {
	p, err := h.ownedByOrder(c)
	if err != nil {
		return err
	}

	status, err := h.payments.SyncPaymentStatus(c.Request().Context(), p.OrderID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"status": status})
}

// VerifyCrypto handles POST /api/orders/:orderId/crypto-verify
func (h *PaymentHandler) VerifyCrypto(c echo.Context) error {
	p, err := h.ownedByOrder(c)
	if err != nil {
		return err
	}

	var req CryptoVerifyRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	status, err := h.payments.VerifyCryptoPayment(c.Request().Context(), p.OrderID, req.TxHash)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"status": status})
}

// CancelPayment handles POST /api/payments/:paymentId/cancel
func (h *PaymentHandler) CancelPayment(c echo.Context) error {
	p, err := h.ownedByPayment(c)
	if err != nil {
		return err
	}

	updated, err := h.payments.CancelPayment(c.Request().Context(), p.PaymentID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"cancelled": updated.Status == models.PaymentStatusCancelled,
		"status":    updated.Status,
	})
}

// FinalizeRegistration handles POST /api/payments/:paymentId/finalize
func (h *PaymentHandler) FinalizeRegistration(c echo.Context) error {
	p, err := h.ownedByPayment(c)
	if err != nil {
		return err
	}

	reg, err := h.payments.FinalizeRegistration(c.Request().Context(), p.PaymentID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"registration_id": reg.ID,
		"ticket_code":     reg.TicketCode,
	})
}

// ReviewCryptoPayment handles POST /api/admin/orders/:orderId/review
func (h *PaymentHandler) ReviewCryptoPayment(c echo.Context) error {
	var req ReviewRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	reviewer, err := currentUser(c)
	if err != nil {
		return err
	}
	p, err := h.payments.ReviewCryptoPayment(c.Request().Context(), c.Param("orderId"), *req.Approve)
	if err != nil {
		return toHTTPError(err)
	}

	h.log.Info("crypto payment reviewed",
		zap.String("order_id", p.OrderID),
		zap.Bool("approved", *req.Approve),
		zap.Uint("reviewer_id", reviewer.ID))
	return c.JSON(http.StatusOK, newPaymentResponse(p))
}

// MidtransWebhook handles POST /webhooks/midtrans. Midtrans retries on
// anything but 2xx, so only bad signatures and unknown orders are refused.
func (h *PaymentHandler) MidtransWebhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}

	if err := h.payments.HandleGatewayNotification(c.Request().Context(), body); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *PaymentHandler) ownedByOrder(c echo.Context) (*models.Payment, error) {
	p, err := h.payments.GetPaymentByOrderID(c.Request().Context(), c.Param("orderId"))
	if err != nil {
		return nil, toHTTPError(err)
	}
	return checkOwner(c, p)
}

func (h *PaymentHandler) ownedByPayment(c echo.Context) (*models.Payment, error) {
	p, err := h.payments.GetPaymentByPaymentID(c.Request().Context(), c.Param("paymentId"))
	if err != nil {
		return nil, toHTTPError(err)
	}
	return checkOwner(c, p)
}

// checkOwner hides payments of other users; finance and admins see all
func checkOwner(c echo.Context, p *models.Payment) (*models.Payment, error) {
	user, err := currentUser(c)
	if err != nil {
		return nil, err
	}
	if p.UserID != user.ID && !user.HasRole(models.UserTypeAdmin, models.UserTypeFinance) {
		return nil, toHTTPError(services.ErrPaymentNotFound)
	}
	return p, nil
}

func currentUser(c echo.Context) (*models.User, error) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusUnauthorized)
	}
	return user, nil
}

func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return err
	}
	return nil
}
