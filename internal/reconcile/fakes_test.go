package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var errNotFound = errors.New("payment not found")

type fakeGateway struct {
	createFn func(ctx context.Context, req CreateRequest) (*Created, error)
	syncFn   func(ctx context.Context, orderID string) (StoreStatus, error)
	cancelFn func(ctx context.Context, paymentID string) error
	verifyFn func(ctx context.Context, orderID, txHash string) (StoreStatus, error)

	createCalls atomic.Int32
	syncCalls   atomic.Int32
	cancelCalls atomic.Int32
	verifyCalls atomic.Int32
}

func (g *fakeGateway) CreatePayment(ctx context.Context, req CreateRequest) (*Created, error) {
	g.createCalls.Add(1)
	if g.createFn != nil {
		return g.createFn(ctx, req)
	}
	return nil, errors.New("create not configured")
}

func (g *fakeGateway) SyncPayment(ctx context.Context, orderID string) (StoreStatus, error) {
	g.syncCalls.Add(1)
	if g.syncFn != nil {
		return g.syncFn(ctx, orderID)
	}
	return StoreStatusPending, nil
}

func (g *fakeGateway) CancelPayment(ctx context.Context, paymentID string) error {
	g.cancelCalls.Add(1)
	if g.cancelFn != nil {
		return g.cancelFn(ctx, paymentID)
	}
	return nil
}

func (g *fakeGateway) VerifyCrypto(ctx context.Context, orderID, txHash string) (StoreStatus, error) {
	g.verifyCalls.Add(1)
	if g.verifyFn != nil {
		return g.verifyFn(ctx, orderID, txHash)
	}
	return StoreStatusPendingReview, nil
}

type fakeStore struct {
	mu      sync.Mutex
	records map[string]*Record

	getFn      func(ctx context.Context, orderID string) error
	finalizeFn func(ctx context.Context, paymentID string) (string, error)

	getCalls      atomic.Int32
	finalizeCalls atomic.Int32
}

func newFakeStore(records ...Record) *fakeStore {
	st := &fakeStore{records: make(map[string]*Record)}
	for _, r := range records {
		st.records[r.OrderID] = &r
	}
	return st
}

func (st *fakeStore) setStatus(orderID string, status StoreStatus) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.records[orderID].Status = status
}

func (st *fakeStore) GetPayment(ctx context.Context, orderID string) (*Record, error) {
	st.getCalls.Add(1)
	if st.getFn != nil {
		if err := st.getFn(ctx, orderID); err != nil {
			return nil, err
		}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	rec, ok := st.records[orderID]
	if !ok {
		return nil, errNotFound
	}
	cp := *rec
	return &cp, nil
}

func (st *fakeStore) FinalizeRegistration(ctx context.Context, paymentID string) (string, error) {
	st.finalizeCalls.Add(1)
	if st.finalizeFn != nil {
		regID, err := st.finalizeFn(ctx, paymentID)
		if err != nil {
			return "", err
		}
		st.link(paymentID, regID)
		return regID, nil
	}
	regID := "REG-" + paymentID
	st.link(paymentID, regID)
	return regID, nil
}

func (st *fakeStore) link(paymentID, regID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, rec := range st.records {
		if rec.PaymentID == paymentID {
			rec.RegistrationID = regID
		}
	}
}

// updateLog collects updates delivered through OnUpdate
type updateLog struct {
	mu      sync.Mutex
	updates []StatusUpdate
}

func (l *updateLog) record(u StatusUpdate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, u)
}

func (l *updateLog) all() []StatusUpdate {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]StatusUpdate(nil), l.updates...)
}

func (l *updateLog) statuses() []Status {
	var out []Status
	for _, u := range l.all() {
		out = append(out, u.Session.Status)
	}
	return out
}

func testEngine(gw Gateway, st Store, interval, window time.Duration) *Engine {
	return NewEngine(gw, st, Options{
		PollInterval: interval,
		PollWindow:   window,
		Logger:       zap.NewNop(),
	})
}
