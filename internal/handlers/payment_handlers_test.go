package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventpay_echo/internal/middleware"
	"eventpay_echo/internal/models"
	"eventpay_echo/internal/services"
)

func (app *testApp) createPayment(t *testing.T, uid, method string) PaymentResponse {
	t.Helper()
	rec := app.do(t, http.MethodPost, "/api/payments", uid, map[string]interface{}{
		"event_id": app.event.ID,
		"method":   method,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp PaymentResponse
	decode(t, rec, &resp)
	return resp
}

func TestCreatePaymentEndpoint(t *testing.T) {
	app := newTestApp(t)

	created := app.createPayment(t, "budi", "qr")
	assert.Equal(t, models.PaymentStatusPending, created.Status)
	assert.Equal(t, int64(50000), created.Amount)
	assert.Contains(t, created.QRCodeURL, created.OrderID)

	// a second request reuses the pending payment
	rec := app.do(t, http.MethodPost, "/api/payments", "budi", map[string]interface{}{
		"event_id": app.event.ID,
		"method":   "qr",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var again PaymentResponse
	decode(t, rec, &again)
	assert.True(t, again.IsExisting)
	assert.Equal(t, created.OrderID, again.OrderID)
}

func TestCreatePaymentEndpointValidation(t *testing.T) {
	app := newTestApp(t)

	tests := []struct {
		name string
		body map[string]interface{}
		code int
	}{
		{"missing event", map[string]interface{}{"method": "qr"}, http.StatusBadRequest},
		{"unknown method", map[string]interface{}{"event_id": app.event.ID, "method": "cash"}, http.StatusBadRequest},
		{"unknown event", map[string]interface{}{"event_id": 999, "method": "qr"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(t, http.MethodPost, "/api/payments", "budi", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())

			var body middleware.ErrorResponse
			decode(t, rec, &body)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestPaymentEndpointsRequireAuth(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodGet, "/api/orders/whatever", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body middleware.ErrorResponse
	decode(t, rec, &body)
	assert.Equal(t, "Unauthorized", body.Error)
}

func TestOrderIsHiddenFromOtherUsers(t *testing.T) {
	app := newTestApp(t)
	created := app.createPayment(t, "budi", "gateway")

	// first sight of a new uid creates a participant
	rec := app.do(t, http.MethodGet, "/api/orders/"+created.OrderID, "stranger", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// finance can look at anyone's order
	rec = app.do(t, http.MethodGet, "/api/orders/"+created.OrderID, "sari", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSyncAndFinalizeEndpoints(t *testing.T) {
	app := newTestApp(t)
	created := app.createPayment(t, "budi", "bank_transfer")
	assert.Equal(t, "8277000000001", created.VANumber)

	// finalize before payment is rejected
	rec := app.do(t, http.MethodPost, "/api/payments/"+created.PaymentID+"/finalize", "budi", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	app.gateway.settle(created.OrderID, "settlement")
	rec = app.do(t, http.MethodPost, "/api/orders/"+created.OrderID+"/sync", "budi", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var synced map[string]string
	decode(t, rec, &synced)
	assert.Equal(t, "PAID", synced["status"])

	var first, second map[string]interface{}
	rec = app.do(t, http.MethodPost, "/api/payments/"+created.PaymentID+"/finalize", "budi", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &first)
	rec = app.do(t, http.MethodPost, "/api/payments/"+created.PaymentID+"/finalize", "budi", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &second)
	assert.Equal(t, first["registration_id"], second["registration_id"])
	assert.NotEmpty(t, first["ticket_code"])

	// paid payments cannot be cancelled
	rec = app.do(t, http.MethodPost, "/api/payments/"+created.PaymentID+"/cancel", "budi", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelEndpoint(t *testing.T) {
	app := newTestApp(t)
	created := app.createPayment(t, "budi", "qr")

	rec := app.do(t, http.MethodPost, "/api/payments/"+created.PaymentID+"/cancel", "budi", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var outcome map[string]interface{}
	decode(t, rec, &outcome)
	assert.Equal(t, true, outcome["cancelled"])
	assert.Equal(t, "CANCELLED", outcome["status"])

	rec = app.do(t, http.MethodGet, "/api/orders/"+created.OrderID, "budi", nil)
	var resp PaymentResponse
	decode(t, rec, &resp)
	assert.Equal(t, models.PaymentStatusCancelled, resp.Status)
	assert.Contains(t, app.gateway.cancels, created.OrderID)
}

func TestCryptoVerifyAndReviewEndpoints(t *testing.T) {
	app := newTestApp(t)
	created := app.createPayment(t, "budi", "crypto")
	assert.Equal(t, "0xWALLET", created.WalletAddress)

	rec := app.do(t, http.MethodPost, "/api/orders/"+created.OrderID+"/crypto-verify", "budi", map[string]string{"tx_hash": "0x123"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	hash := "0x" + "ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12"
	rec = app.do(t, http.MethodPost, "/api/orders/"+created.OrderID+"/crypto-verify", "budi", map[string]string{"tx_hash": hash})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var verified map[string]string
	decode(t, rec, &verified)
	assert.Equal(t, "PENDING_REVIEW", verified["status"])

	// participants cannot review
	rec = app.do(t, http.MethodPost, "/api/admin/orders/"+created.OrderID+"/review", "budi", map[string]bool{"approve": true})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = app.do(t, http.MethodPost, "/api/admin/orders/"+created.OrderID+"/review", "sari", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.do(t, http.MethodPost, "/api/admin/orders/"+created.OrderID+"/review", "sari", map[string]bool{"approve": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var reviewed PaymentResponse
	decode(t, rec, &reviewed)
	assert.Equal(t, models.PaymentStatusPaid, reviewed.Status)

	rec = app.do(t, http.MethodPost, "/api/admin/orders/"+created.OrderID+"/review", "sari", map[string]bool{"approve": false})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMidtransWebhook(t *testing.T) {
	app := newTestApp(t)
	created := app.createPayment(t, "budi", "gateway")

	notification := func(signature string) map[string]string {
		return map[string]string{
			"order_id":           created.OrderID,
			"status_code":        "200",
			"gross_amount":       "50000.00",
			"signature_key":      signature,
			"transaction_status": "settlement",
			"payment_type":       "credit_card",
		}
	}

	rec := app.do(t, http.MethodPost, "/webhooks/midtrans", "", notification("forged"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	sig := services.MidtransSignature(testServerKey, created.OrderID, "200", "50000.00")
	rec = app.do(t, http.MethodPost, "/webhooks/midtrans", "", notification(sig))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var history []models.PaymentCallbackHistory
	require.NoError(t, app.db.Order("id").Find(&history).Error)
	require.Len(t, history, 2)
	assert.False(t, history[0].SignatureValid)
	assert.True(t, history[1].SignatureValid)

	rec = app.do(t, http.MethodGet, "/api/orders/"+created.OrderID, "budi", nil)
	var resp PaymentResponse
	decode(t, rec, &resp)
	assert.Equal(t, models.PaymentStatusPaid, resp.Status)
}

func TestMidtransWebhookRejectsGarbage(t *testing.T) {
	app := newTestApp(t)
	rec := app.do(t, http.MethodPost, "/webhooks/midtrans", "", "not an object")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
