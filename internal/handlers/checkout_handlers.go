package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"eventpay_echo/internal/models"
	"eventpay_echo/internal/reconcile"
	"eventpay_echo/internal/services"
)

type StartCheckoutRequest struct {
	OrderID  string `json:"order_id"`
	EventID  uint   `json:"event_id" validate:"required_without=OrderID"`
	Method   string `json:"method" validate:"omitempty,oneof=gateway qr bank_transfer crypto"`
	ForceNew bool   `json:"force_new"`
}

// CheckoutResponse is a session snapshot plus the last refresh errors
type CheckoutResponse struct {
	reconcile.PaymentSession
	SyncError     string `json:"sync_error,omitempty"`
	FinalizeError string `json:"finalize_error,omitempty"`
}

func newCheckoutResponse(u reconcile.StatusUpdate) CheckoutResponse {
	resp := CheckoutResponse{PaymentSession: u.Session}
	if u.Err != nil {
		resp.SyncError = u.Err.Error()
	}
	if u.FinalizeErr != nil {
		resp.FinalizeError = u.FinalizeErr.Error()
	}
	return resp
}

// CheckoutHandler runs reconciliation sessions on the server, one per order
type CheckoutHandler struct {
	payments *services.PaymentService
	manager  *reconcile.Manager
	opts     reconcile.Options
	log      *zap.Logger
}

func NewCheckoutHandler(payments *services.PaymentService, manager *reconcile.Manager, opts reconcile.Options) *CheckoutHandler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &CheckoutHandler{
		payments: payments,
		manager:  manager,
		opts:     opts,
		log:      opts.Logger.Named("http.checkout"),
	}
}

func (h *CheckoutHandler) engineFor(user *models.User) *reconcile.Engine {
	backend := services.NewCheckoutBackend(h.payments, user.ID)
	return reconcile.NewEngine(backend, backend, h.opts)
}

func (h *CheckoutHandler) onUpdate(u reconcile.StatusUpdate) {
	if !u.Changed() && u.FinalizeErr == nil && u.Source != reconcile.SourceWindow {
		return
	}
	h.log.Info("checkout update",
		zap.String("order_id", u.Session.OrderID),
		zap.String("source", string(u.Source)),
		zap.String("from", string(u.Previous)),
		zap.String("to", string(u.Session.Status)),
		zap.Bool("polling_expired", u.Session.PollingExpired),
		zap.NamedError("finalize_error", u.FinalizeErr))
}

// Start handles POST /api/checkout: create a payment and start polling it,
// or resume the session of an existing order
func (h *CheckoutHandler) Start(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req StartCheckoutRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if req.OrderID != "" {
		s, err := h.session(c.Request().Context(), user, req.OrderID)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, newCheckoutResponse(reconcile.StatusUpdate{Session: s.Snapshot()}))
	}

	if req.Method == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "method is required")
	}
	event, err := h.eventFor(c.Request().Context(), req.EventID)
	if err != nil {
		return err
	}

	s, err := h.engineFor(user).StartSession(c.Request().Context(), reconcile.StartRequest{
		Method:   reconcile.Method(req.Method),
		Order:    reconcile.OrderContext{EventID: req.EventID, Description: event.Name},
		Amount:   event.Price,
		Currency: event.Currency,
		ForceNew: req.ForceNew,
		OnUpdate: h.onUpdate,
	})
	if err != nil {
		return toHTTPError(err)
	}

	h.manager.Attach(s)
	return c.JSON(http.StatusCreated, newCheckoutResponse(reconcile.StatusUpdate{Session: s.Snapshot()}))
}

// Get handles GET /api/checkout/:orderId
func (h *CheckoutHandler) Get(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	s, err := h.session(c.Request().Context(), user, c.Param("orderId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newCheckoutResponse(reconcile.StatusUpdate{Session: s.Snapshot()}))
}

// Sync handles POST /api/checkout/:orderId/sync
func (h *CheckoutHandler) Sync(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	s, err := h.session(c.Request().Context(), user, c.Param("orderId"))
	if err != nil {
		return err
	}

	u, err := s.ManualSync(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, newCheckoutResponse(u))
}

// Cancel handles POST /api/checkout/:orderId/cancel
func (h *CheckoutHandler) Cancel(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	s, err := h.session(c.Request().Context(), user, c.Param("orderId"))
	if err != nil {
		return err
	}

	if err := s.Cancel(c.Request().Context()); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, newCheckoutResponse(reconcile.StatusUpdate{Session: s.Snapshot()}))
}

// VerifyCrypto handles POST /api/checkout/:orderId/crypto
func (h *CheckoutHandler) VerifyCrypto(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req CryptoVerifyRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	s, err := h.session(c.Request().Context(), user, c.Param("orderId"))
	if err != nil {
		return err
	}

	u, err := s.VerifyCrypto(c.Request().Context(), req.TxHash)
	if err != nil {
		return toHTTPError(err)
	}
	if u.Err != nil {
		return toHTTPError(u.Err)
	}
	return c.JSON(http.StatusOK, newCheckoutResponse(u))
}

// Teardown handles DELETE /api/checkout/:orderId
func (h *CheckoutHandler) Teardown(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	if _, err := h.owned(c.Request().Context(), user, c.Param("orderId")); err != nil {
		return err
	}

	h.manager.Close(c.Param("orderId"))
	return c.NoContent(http.StatusNoContent)
}

// session returns the live session for orderID, resuming it from the store
// when this process has none
func (h *CheckoutHandler) session(ctx context.Context, user *models.User, orderID string) (*reconcile.Session, error) {
	p, err := h.owned(ctx, user, orderID)
	if err != nil {
		return nil, err
	}

	if s, ok := h.manager.Get(orderID); ok {
		return s, nil
	}

	// sessions are resumed with the owner's backend so finance can watch too
	owner := &models.User{ID: p.UserID}
	s, err := h.engineFor(owner).StartSession(ctx, reconcile.StartRequest{
		OrderID:  orderID,
		OnUpdate: h.onUpdate,
	})
	if err != nil {
		return nil, toHTTPError(err)
	}
	// a concurrent request may have resumed the same order first
	return h.manager.AttachIfAbsent(s), nil
}

func (h *CheckoutHandler) owned(ctx context.Context, user *models.User, orderID string) (*models.Payment, error) {
	p, err := h.payments.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, toHTTPError(err)
	}
	if p.UserID != user.ID && !user.HasRole(models.UserTypeAdmin, models.UserTypeFinance) {
		return nil, toHTTPError(services.ErrPaymentNotFound)
	}
	return p, nil
}

func (h *CheckoutHandler) eventFor(ctx context.Context, eventID uint) (*models.Event, error) {
	event, err := h.payments.GetEvent(ctx, eventID)
	if errors.Is(err, services.ErrEventNotFound) {
		return nil, toHTTPError(err)
	}
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError).SetInternal(err)
	}
	return event, nil
}

// PruneLoop drops finished sessions until ctx is done
func (h *CheckoutHandler) PruneLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := h.manager.Prune(); n > 0 {
				h.log.Debug("pruned checkout sessions", zap.Int("count", n))
			}
		}
	}
}
