// Package reconcile drives a single checkout payment from creation to a
// terminal outcome: it polls the gateway, supports manual sync and
// cancellation, and finalizes the registration at most once per session.
package reconcile

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultPollWindow   = 10 * time.Minute
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ValidTxHash reports whether h looks like an EVM transaction hash
func ValidTxHash(h string) bool {
	return txHashPattern.MatchString(h)
}

type Options struct {
	// PollInterval is the delay between background status checks
	PollInterval time.Duration
	// PollWindow bounds background polling and finalize retries. When it
	// elapses the session only answers ManualSync.
	PollWindow time.Duration
	Logger     *zap.Logger
}

// Engine creates and resumes sessions against one gateway and store
type Engine struct {
	gateway Gateway
	store   Store
	opts    Options
	log     *zap.Logger
}

func NewEngine(gateway Gateway, store Store, opts Options) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PollWindow <= 0 {
		opts.PollWindow = DefaultPollWindow
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		gateway: gateway,
		store:   store,
		opts:    opts,
		log:     opts.Logger.Named("reconcile"),
	}
}

// StartRequest either resumes OrderID or creates a new payment with Method
type StartRequest struct {
	OrderID  string
	Method   Method
	Order    OrderContext
	Amount   int64
	Currency string
	ForceNew bool
	// OnUpdate is called after every status refresh, outside the session
	// lock and possibly from the polling goroutine.
	OnUpdate func(StatusUpdate)
}

// StartSession creates a new payment or resumes an existing one.
//
// A creation failure returns the session in FAILED together with an error
// wrapping ErrCreateFailed; no polling is started for it.
func (e *Engine) StartSession(ctx context.Context, req StartRequest) (*Session, error) {
	if req.OrderID != "" {
		return e.resume(ctx, req)
	}

	if !req.Method.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, req.Method)
	}

	s := e.newSession(req.OnUpdate)
	s.method = req.Method
	s.amount = req.Amount
	s.currency = req.Currency

	created, err := e.gateway.CreatePayment(ctx, CreateRequest{
		Order:    req.Order,
		Method:   req.Method,
		Amount:   req.Amount,
		Currency: req.Currency,
		ForceNew: req.ForceNew,
	})
	if err == nil && (created == nil || created.OrderID == "") {
		err = ErrMissingOrderID
	}
	if err != nil {
		s.mu.Lock()
		s.status = StatusFailed
		s.mu.Unlock()
		s.log.Warn("payment creation failed", zap.String("method", string(req.Method)), zap.Error(err))
		s.emit(s.update(SourceStart, StatusPending))
		return s, fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}

	s.mu.Lock()
	s.orderID = created.OrderID
	s.paymentID = created.PaymentID
	s.instructions = created.Instructions
	if created.Amount != 0 {
		s.amount = created.Amount
	}
	if created.Currency != "" {
		s.currency = created.Currency
	}
	s.log = e.log.With(zap.String("order_id", s.orderID), zap.String("payment_id", s.paymentID))
	if created.Instructions != nil {
		s.status = StatusProcessing
		s.startPollingLocked()
	}
	s.mu.Unlock()

	s.log.Info("payment session started", zap.String("method", string(s.method)), zap.String("status", string(s.Status())))
	s.emit(s.update(SourceStart, StatusPending))
	return s, nil
}

func (e *Engine) resume(ctx context.Context, req StartRequest) (*Session, error) {
	rec, err := e.store.GetPayment(ctx, req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("load payment %s: %w", req.OrderID, err)
	}

	s := e.newSession(req.OnUpdate)
	s.orderID = rec.OrderID
	s.paymentID = rec.PaymentID
	s.amount = rec.Amount
	s.currency = rec.Currency
	s.method = rec.Method
	s.instructions = rec.Instructions
	s.storeStatus = rec.Status
	s.registrationID = rec.RegistrationID
	s.status = nextStatus(StatusProcessing, rec.Status)
	s.log = e.log.With(zap.String("order_id", s.orderID), zap.String("payment_id", s.paymentID))

	s.log.Info("payment session resumed", zap.String("status", string(s.status)), zap.String("store_status", string(rec.Status)))

	if !s.status.IsTerminal() {
		s.mu.Lock()
		s.startPollingLocked()
		s.mu.Unlock()
		s.emit(s.update(SourceStart, StatusProcessing))
		return s, nil
	}

	// A paid payment without a registration is the first PAID observation
	// for this session.
	u := s.update(SourceStart, StatusProcessing)
	if s.status == StatusPaid && s.registrationID == "" {
		u = s.finalize(ctx, SourceStart, StatusProcessing)
	}
	s.emit(u)
	return s, nil
}

func (e *Engine) newSession(onUpdate func(StatusUpdate)) *Session {
	return &Session{
		engine:    e,
		status:    StatusPending,
		startedAt: time.Now(),
		onUpdate:  onUpdate,
		log:       e.log,
	}
}
