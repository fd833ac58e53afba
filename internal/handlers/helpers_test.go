package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	authMiddleware "eventpay_echo/internal/middleware"
	"eventpay_echo/internal/models"
	"eventpay_echo/internal/reconcile"
	"eventpay_echo/internal/services"
)

const testServerKey = "server-key"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(services.AllModels()...))
	return db
}

// fakeAuth accepts "token-<uid>" bearer tokens and "cookie-<uid>" sessions
type fakeAuth struct {
	claims map[string]map[string]interface{}
}

func (a *fakeAuth) token(raw, prefix string) (*auth.Token, error) {
	uid := strings.TrimPrefix(raw, prefix)
	if uid == raw {
		return nil, errors.New("invalid token")
	}
	return &auth.Token{UID: uid, Claims: a.claims[uid]}, nil
}

func (a *fakeAuth) VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error) {
	return a.token(idToken, "token-")
}

func (a *fakeAuth) VerifySessionCookie(ctx context.Context, cookie string) (*auth.Token, error) {
	return a.token(cookie, "cookie-")
}

func (a *fakeAuth) SessionCookie(ctx context.Context, idToken string, expiresIn time.Duration) (string, error) {
	tok, err := a.VerifyIDToken(ctx, idToken)
	if err != nil {
		return "", err
	}
	return "cookie-" + tok.UID, nil
}

// fakeGateway settles orders on demand
type fakeGateway struct {
	mu       sync.Mutex
	statuses map[string]string
	cancels  []string
}

func (g *fakeGateway) Charge(req services.ChargeRequest) (*services.ChargeResult, error) {
	res := &services.ChargeResult{RawRequest: req}
	switch req.Method {
	case models.PaymentMethodGateway:
		res.RedirectURL = "https://pay.example/" + req.OrderID
	case models.PaymentMethodQR:
		res.QRCodeURL = "https://qr.example/" + req.OrderID
	case models.PaymentMethodBankTransfer:
		res.Bank = req.Bank
		res.VANumber = "8277000000001"
	}
	return res, nil
}

func (g *fakeGateway) Status(orderID string) (*services.GatewayStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.statuses[orderID]
	if !ok {
		st = "pending"
	}
	return &services.GatewayStatus{TransactionStatus: st, Status: services.MapTransactionStatus(st, "accept")}, nil
}

func (g *fakeGateway) Cancel(orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, orderID)
	return nil
}

func (g *fakeGateway) VerifySignature(orderID, statusCode, grossAmount, signatureKey string) bool {
	return services.VerifyMidtransSignature(testServerKey, orderID, statusCode, grossAmount, signatureKey)
}

func (g *fakeGateway) settle(orderID, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[orderID] = status
}

type testApp struct {
	e        *echo.Echo
	db       *gorm.DB
	gateway  *fakeGateway
	payments *services.PaymentService
	notifier *services.NotificationService
	manager  *reconcile.Manager
	event    models.Event
	budi     models.User
	sari     models.User
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	app := &testApp{
		db:      newTestDB(t),
		gateway: &fakeGateway{statuses: map[string]string{}},
		manager: reconcile.NewManager(),
	}
	t.Cleanup(app.manager.CloseAll)

	app.notifier = services.NewNotificationService(app.db, func(tx *gorm.DB, n *models.Notification) error { return nil }, nil)
	app.payments = services.NewPaymentService(services.PaymentServiceDeps{
		DB:       app.db,
		Gateway:  app.gateway,
		Notifier: app.notifier,
		Config: services.PaymentConfig{
			PaymentTTL:          time.Hour,
			CryptoWalletAddress: "0xWALLET",
			BankTransferBank:    "bca",
		},
	})

	app.budi = models.User{FirebaseUID: "budi", Name: "Budi", Email: "budi@example.com", UserType: models.UserTypeParticipant}
	app.sari = models.User{FirebaseUID: "sari", Name: "Sari", Email: "sari@example.com", UserType: models.UserTypeFinance}
	require.NoError(t, app.db.Create(&app.budi).Error)
	require.NoError(t, app.db.Create(&app.sari).Error)
	app.event = models.Event{Name: "DevFest", Price: 50000, Currency: "IDR", IsActive: true}
	require.NoError(t, app.db.Create(&app.event).Error)

	authClient := &fakeAuth{claims: map[string]map[string]interface{}{}}

	app.e = echo.New()
	app.e.Validator = authMiddleware.NewRequestValidator()
	app.e.HTTPErrorHandler = authMiddleware.JSONErrorHandler(nil)
	RegisterRoutes(app.e, Handlers{
		Auth:     NewAuthHandler(authClient, false),
		Payments: NewPaymentHandler(app.payments, nil),
		Checkout: NewCheckoutHandler(app.payments, app.manager, reconcile.Options{
			PollInterval: time.Hour,
			PollWindow:   time.Hour,
		}),
		Notifications: NewNotificationHandler(app.notifier),
		Preferences:   NewUserPreferenceHandler(app.db),
	}, authClient, app.db)
	return app
}

// do sends a request as the user with Firebase uid (empty for anonymous)
func (app *testApp) do(t *testing.T, method, path, uid string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if uid != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer token-"+uid)
	}
	rec := httptest.NewRecorder()
	app.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest), rec.Body.String())
}
