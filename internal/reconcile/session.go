package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Source tells which operation produced a StatusUpdate
type Source string

const (
	SourceStart  Source = "start"
	SourcePoll   Source = "poll"
	SourceManual Source = "manual"
	SourceCrypto Source = "crypto"
	SourceCancel Source = "cancel"
	SourceWindow Source = "window"
)

var errEmptyRegistration = errors.New("store returned an empty registration id")

// PaymentSession is a point in time copy of a session's state
type PaymentSession struct {
	OrderID        string       `json:"order_id"`
	PaymentID      string       `json:"payment_id"`
	Amount         int64        `json:"amount"`
	Currency       string       `json:"currency"`
	Status         Status       `json:"status"`
	StoreStatus    StoreStatus  `json:"store_status,omitempty"`
	RegistrationID string       `json:"registration_id,omitempty"`
	Method         Method       `json:"method"`
	Instructions   Instructions `json:"instructions,omitempty"`
	RedirectURL    string       `json:"redirect_url,omitempty"`
	Polling        bool         `json:"polling"`
	PollingExpired bool         `json:"polling_expired"`
	Closed         bool         `json:"closed"`
}

// StatusUpdate is the outcome of one refresh. Err carries a transient I/O
// failure (status unchanged); FinalizeErr carries the last finalize failure
// while the registration is still missing.
type StatusUpdate struct {
	Session     PaymentSession
	Previous    Status
	Source      Source
	Err         error
	FinalizeErr error
}

// Changed reports whether the refresh moved the session's status
func (u StatusUpdate) Changed() bool {
	return u.Previous != u.Session.Status
}

// Session tracks one checkout attempt. All methods are safe for concurrent
// use; at most one polling goroutine runs per session.
type Session struct {
	engine    *Engine
	onUpdate  func(StatusUpdate)
	startedAt time.Time
	log       *zap.Logger

	mu                sync.Mutex
	orderID           string
	paymentID         string
	amount            int64
	currency          string
	method            Method
	instructions      Instructions
	status            Status
	storeStatus       StoreStatus
	registrationID    string
	finalizing        bool
	finalizeAttempted bool
	finalizeErr       error
	pollingExpired    bool
	closed            bool
	stopLoop          context.CancelFunc
}

func (s *Session) OrderID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderID
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Snapshot() PaymentSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() PaymentSession {
	return PaymentSession{
		OrderID:        s.orderID,
		PaymentID:      s.paymentID,
		Amount:         s.amount,
		Currency:       s.currency,
		Status:         s.status,
		StoreStatus:    s.storeStatus,
		RegistrationID: s.registrationID,
		Method:         s.method,
		Instructions:   s.instructions,
		RedirectURL:    RedirectURL(s.instructions),
		Polling:        s.stopLoop != nil,
		PollingExpired: s.pollingExpired,
		Closed:         s.closed,
	}
}

// ManualSync refreshes the status on request. It may run alongside the
// polling goroutine and is the only way to retry a failed finalize.
func (s *Session) ManualSync(ctx context.Context) (StatusUpdate, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return StatusUpdate{}, ErrSessionClosed
	}
	status, registered := s.status, s.registrationID != ""
	s.mu.Unlock()

	var u StatusUpdate
	switch {
	case status == StatusPaid && !registered:
		// nothing left to ask the gateway, only the registration is missing
		u = s.refresh(ctx, SourceManual, nil)
	case status.IsTerminal():
		u = s.update(SourceManual, status)
	default:
		u = s.refresh(ctx, SourceManual, s.engine.gateway.SyncPayment)
	}
	s.emit(u)
	return u, nil
}

// VerifyCrypto submits an on-chain transaction hash for a crypto payment.
// Malformed hashes are rejected without any network call.
func (s *Session) VerifyCrypto(ctx context.Context, txHash string) (StatusUpdate, error) {
	if !ValidTxHash(txHash) {
		return s.update(SourceCrypto, s.Status()), ErrInvalidTxHash
	}

	s.mu.Lock()
	closed, status, method := s.closed, s.status, s.method
	s.mu.Unlock()

	switch {
	case closed:
		return StatusUpdate{}, ErrSessionClosed
	case method != "" && method != MethodCrypto:
		return StatusUpdate{}, fmt.Errorf("%w: crypto verification on a %s payment", ErrUnsupportedMethod, method)
	case status.IsTerminal():
		return s.update(SourceCrypto, status), fmt.Errorf("%w: verify from %s", ErrInvalidTransition, status)
	}

	u := s.refresh(ctx, SourceCrypto, func(ctx context.Context, orderID string) (StoreStatus, error) {
		return s.engine.gateway.VerifyCrypto(ctx, orderID, txHash)
	})
	s.emit(u)
	return u, nil
}

// Cancel abandons a PENDING or PROCESSING payment. The session is CANCELLED
// locally before the gateway is told; a failed remote cancel is only logged.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	if s.status.IsTerminal() {
		status := s.status
		s.mu.Unlock()
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, status)
	}
	prev := s.status
	s.status = StatusCancelled
	s.stopPollingLocked()
	paymentID := s.paymentID
	u := s.updateLocked(SourceCancel, prev)
	s.mu.Unlock()

	s.log.Info("payment session cancelled", zap.String("previous", string(prev)))
	s.emit(u)

	if paymentID == "" {
		return nil
	}
	if err := s.engine.gateway.CancelPayment(ctx, paymentID); err != nil {
		s.log.Warn("remote cancel failed", zap.Error(err))
	}
	return nil
}

// Teardown stops background polling. It is safe to call any number of times
// and in any status; results of in-flight polls are dropped.
func (s *Session) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.stopPollingLocked()
}

type syncFunc func(ctx context.Context, orderID string) (StoreStatus, error)

// refresh runs call (if any), re-reads the store and applies the result
func (s *Session) refresh(ctx context.Context, source Source, call syncFunc) StatusUpdate {
	s.mu.Lock()
	prev, orderID := s.status, s.orderID
	s.mu.Unlock()

	if call != nil {
		if _, err := call(ctx, orderID); err != nil {
			if source == SourceCrypto {
				s.log.Warn("crypto verification failed", zap.Error(err))
				u := s.update(source, prev)
				u.Err = err
				return u
			}
			// the store may already know better through the webhook
			s.log.Warn("gateway sync failed", zap.String("source", string(source)), zap.Error(err))
		}
	}

	rec, err := s.engine.store.GetPayment(ctx, orderID)
	if err != nil {
		s.log.Warn("payment read failed", zap.String("source", string(source)), zap.Error(err))
		u := s.update(source, prev)
		u.Err = err
		return u
	}

	s.mu.Lock()
	if source == SourcePoll && ctx.Err() != nil {
		u := s.updateLocked(source, prev)
		s.mu.Unlock()
		return u
	}
	s.storeStatus = rec.Status
	s.status = nextStatus(s.status, rec.Status)
	if s.status == StatusPaid && s.registrationID == "" && rec.RegistrationID != "" {
		s.registrationID = rec.RegistrationID
		s.finalizeErr = nil
	}
	next := s.status
	if next.IsTerminal() {
		s.stopPollingLocked()
	}
	s.mu.Unlock()

	if next != prev {
		s.log.Info("payment status changed", zap.String("from", string(prev)), zap.String("to", string(next)), zap.String("source", string(source)))
	}

	return s.finalize(ctx, source, prev)
}

// finalize calls FinalizeRegistration when the session is PAID without a
// registration. The guard check and the in-flight mark happen under one lock
// so racing refreshes produce a single call.
func (s *Session) finalize(ctx context.Context, source Source, prev Status) StatusUpdate {
	s.mu.Lock()
	if !s.shouldFinalizeLocked(source) {
		u := s.updateLocked(source, prev)
		s.mu.Unlock()
		return u
	}
	s.finalizing = true
	s.finalizeAttempted = true
	paymentID := s.paymentID
	s.mu.Unlock()

	// a PAID poll has already stopped its own loop context
	callCtx := ctx
	if source == SourcePoll {
		callCtx = context.WithoutCancel(ctx)
	}
	regID, err := s.engine.store.FinalizeRegistration(callCtx, paymentID)
	if err == nil && regID == "" {
		err = errEmptyRegistration
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalizing = false
	if err != nil {
		s.finalizeErr = err
		s.log.Error("registration finalize failed", zap.String("source", string(source)), zap.Error(err))
	} else {
		s.registrationID = regID
		s.finalizeErr = nil
		s.log.Info("registration finalized", zap.String("registration_id", regID))
	}
	return s.updateLocked(source, prev)
}

func (s *Session) shouldFinalizeLocked(source Source) bool {
	if s.status != StatusPaid || s.registrationID != "" || s.finalizing {
		return false
	}
	if !s.finalizeAttempted {
		return true
	}
	return source == SourceManual && time.Since(s.startedAt) < s.engine.opts.PollWindow
}

func (s *Session) startPollingLocked() {
	s.stopPollingLocked()
	if s.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stopLoop = cancel
	s.pollingExpired = false
	go s.pollLoop(ctx)
}

func (s *Session) stopPollingLocked() {
	if s.stopLoop != nil {
		s.stopLoop()
		s.stopLoop = nil
	}
}

func (s *Session) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.engine.opts.PollInterval)
	defer ticker.Stop()
	window := time.NewTimer(s.engine.opts.PollWindow)
	defer window.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-window.C:
			s.expirePolling(ctx)
			return
		case <-ticker.C:
			u := s.refresh(ctx, SourcePoll, s.engine.gateway.SyncPayment)
			if s.isClosed() {
				return
			}
			s.emit(u)
			if u.Session.Status.IsTerminal() {
				return
			}
		}
	}
}

func (s *Session) expirePolling(ctx context.Context) {
	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.stopPollingLocked()
	s.pollingExpired = true
	u := s.updateLocked(SourceWindow, s.status)
	s.mu.Unlock()

	s.log.Info("polling window elapsed, waiting for manual sync")
	s.emit(u)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) update(source Source, prev Status) StatusUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(source, prev)
}

func (s *Session) updateLocked(source Source, prev Status) StatusUpdate {
	return StatusUpdate{
		Session:     s.snapshotLocked(),
		Previous:    prev,
		Source:      source,
		FinalizeErr: s.finalizeErr,
	}
}

func (s *Session) emit(u StatusUpdate) {
	if s.onUpdate != nil {
		s.onUpdate(u)
	}
}
