package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"eventpay_echo/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(AllModels()...))
	return db
}

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache, err := NewRedisCache("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache, mr
}

// fakeTransactionGateway answers like Midtrans would for a known order
type fakeTransactionGateway struct {
	mu       sync.Mutex
	statuses map[string]*GatewayStatus
	charges  []ChargeRequest
	cancels  []string

	chargeErr error
	statusErr error
	cancelErr error
	serverKey string
}

func newFakeTransactionGateway() *fakeTransactionGateway {
	return &fakeTransactionGateway{statuses: map[string]*GatewayStatus{}, serverKey: "server-key"}
}

func (g *fakeTransactionGateway) Charge(req ChargeRequest) (*ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	g.charges = append(g.charges, req)
	res := &ChargeResult{RawRequest: req, RawResponse: map[string]string{"status_code": "201"}}
	switch req.Method {
	case models.PaymentMethodGateway:
		res.Token = "snap-token"
		res.RedirectURL = "https://app.sandbox.midtrans.com/snap/v4/redirection/" + req.OrderID
	case models.PaymentMethodQR:
		res.QRCodeURL = "https://api.sandbox.midtrans.com/v2/qris/" + req.OrderID + "/qr-code"
	case models.PaymentMethodBankTransfer:
		res.Bank = req.Bank
		res.VANumber = "8277000000001"
	}
	return res, nil
}

func (g *fakeTransactionGateway) Status(orderID string) (*GatewayStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	if st, ok := g.statuses[orderID]; ok {
		return st, nil
	}
	return &GatewayStatus{TransactionStatus: "pending", Status: models.PaymentStatusPending}, nil
}

func (g *fakeTransactionGateway) Cancel(orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, orderID)
	return g.cancelErr
}

func (g *fakeTransactionGateway) VerifySignature(orderID, statusCode, grossAmount, signatureKey string) bool {
	return VerifyMidtransSignature(g.serverKey, orderID, statusCode, grossAmount, signatureKey)
}

func (g *fakeTransactionGateway) settle(orderID, transactionStatus string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[orderID] = &GatewayStatus{
		TransactionStatus: transactionStatus,
		Status:            MapTransactionStatus(transactionStatus, "accept"),
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []PaymentEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, evt PaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type paymentFixture struct {
	db       *gorm.DB
	gateway  *fakeTransactionGateway
	events   *recordingPublisher
	cache    *RedisCache
	service  *PaymentService
	user     models.User
	event    models.Event
	enqueued []uint
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	f := &paymentFixture{
		db:      newTestDB(t),
		gateway: newFakeTransactionGateway(),
		events:  &recordingPublisher{},
	}
	f.cache, _ = newTestCache(t)

	notifier := NewNotificationService(f.db, func(tx *gorm.DB, n *models.Notification) error {
		f.enqueued = append(f.enqueued, n.ID)
		return nil
	}, nil)

	f.service = NewPaymentService(PaymentServiceDeps{
		DB:       f.db,
		Gateway:  f.gateway,
		Cache:    f.cache,
		Notifier: notifier,
		Events:   f.events,
		Config: PaymentConfig{
			AppURL:              "http://localhost:8080",
			PaymentTTL:          time.Hour,
			CryptoWalletAddress: "0xWALLET",
			BankTransferBank:    "bca",
		},
	})

	f.user = models.User{Name: "Budi", Email: "budi@example.com", FirebaseUID: "uid-budi"}
	require.NoError(t, f.db.Create(&f.user).Error)
	f.event = models.Event{Name: "DevFest", Price: 50000, Currency: "IDR", IsActive: true}
	require.NoError(t, f.db.Create(&f.event).Error)
	return f
}

func (f *paymentFixture) create(t *testing.T, method models.PaymentMethod) *models.Payment {
	t.Helper()
	res, err := f.service.CreatePayment(context.Background(), CreatePaymentRequest{
		UserID: f.user.ID, EventID: f.event.ID, Method: method,
	})
	require.NoError(t, err)
	require.False(t, res.IsExisting)
	return res.Payment
}

func (f *paymentFixture) reload(t *testing.T, orderID string) *models.Payment {
	t.Helper()
	p, err := f.service.GetPaymentByOrderID(context.Background(), orderID)
	require.NoError(t, err)
	return p
}

func (f *paymentFixture) notificationTypes(t *testing.T) []models.NotificationType {
	t.Helper()
	var items []models.Notification
	require.NoError(t, f.db.Where("user_id = ?", f.user.ID).Order("id asc").Find(&items).Error)
	out := make([]models.NotificationType, 0, len(items))
	for _, n := range items {
		out = append(out, n.Type)
	}
	return out
}
