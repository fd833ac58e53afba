// Package client talks to the payment API over HTTP and implements the
// reconcile engine's ports, so the engine can run outside the server.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"eventpay_echo/internal/reconcile"
)

// ErrNotFound is returned for 404 answers
var ErrNotFound = errors.New("client: not found")

// APIError is a non-2xx answer from the API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned %d", e.StatusCode)
	}
	return fmt.Sprintf("api returned %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type payment struct {
	OrderID        string `json:"order_id"`
	PaymentID      string `json:"payment_id"`
	Method         string `json:"method"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	RedirectURL    string `json:"redirect_url"`
	QRCodeURL      string `json:"qr_code_url"`
	Bank           string `json:"bank"`
	VANumber       string `json:"va_number"`
	WalletAddress  string `json:"wallet_address"`
	RegistrationID *uint  `json:"registration_id"`
}

func (p payment) instructions() reconcile.Instructions {
	switch reconcile.Method(p.Method) {
	case reconcile.MethodGateway:
		if p.RedirectURL != "" {
			return reconcile.HostedCheckout{RedirectURL: p.RedirectURL}
		}
	case reconcile.MethodQR:
		if p.QRCodeURL != "" {
			return reconcile.QRCode{ImageURL: p.QRCodeURL}
		}
	case reconcile.MethodBankTransfer:
		if p.VANumber != "" {
			return reconcile.BankTransfer{Bank: p.Bank, VANumber: p.VANumber}
		}
	case reconcile.MethodCrypto:
		if p.WalletAddress != "" {
			return reconcile.CryptoDeposit{WalletAddress: p.WalletAddress}
		}
	}
	return nil
}

type statusBody struct {
	Status string `json:"status"`
}

type finalizeBody struct {
	RegistrationID uint   `json:"registration_id"`
	TicketCode     string `json:"ticket_code"`
}

// Client implements reconcile.Gateway and reconcile.Store against the API
type Client struct {
	http *resty.Client
}

var (
	_ reconcile.Gateway = (*Client)(nil)
	_ reconcile.Store   = (*Client)(nil)
)

// New creates a client for baseURL authenticating with a Firebase ID token
func New(baseURL, idToken string) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTimeout(15 * time.Second).
		SetError(&errorBody{})
	if idToken != "" {
		c.SetAuthToken(idToken)
	}
	return &Client{http: c}
}

func (c *Client) CreatePayment(ctx context.Context, req reconcile.CreateRequest) (*reconcile.Created, error) {
	var out payment
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"event_id":  req.Order.EventID,
			"method":    req.Method,
			"force_new": req.ForceNew,
		}).
		SetResult(&out).
		Post("/api/payments")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &reconcile.Created{
		OrderID:      out.OrderID,
		PaymentID:    out.PaymentID,
		Amount:       out.Amount,
		Currency:     out.Currency,
		Instructions: out.instructions(),
	}, nil
}

func (c *Client) SyncPayment(ctx context.Context, orderID string) (reconcile.StoreStatus, error) {
	var out statusBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Post("/api/orders/" + url.PathEscape(orderID) + "/sync")
	if err := check(resp, err); err != nil {
		return "", err
	}
	return reconcile.StoreStatus(out.Status), nil
}

func (c *Client) CancelPayment(ctx context.Context, paymentID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Post("/api/payments/" + url.PathEscape(paymentID) + "/cancel")
	return check(resp, err)
}

func (c *Client) VerifyCrypto(ctx context.Context, orderID, txHash string) (reconcile.StoreStatus, error) {
	var out statusBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"tx_hash": txHash}).
		SetResult(&out).
		Post("/api/orders/" + url.PathEscape(orderID) + "/crypto-verify")
	if err := check(resp, err); err != nil {
		return "", err
	}
	return reconcile.StoreStatus(out.Status), nil
}

func (c *Client) GetPayment(ctx context.Context, orderID string) (*reconcile.Record, error) {
	var out payment
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/orders/" + url.PathEscape(orderID))
	if err := check(resp, err); err != nil {
		return nil, err
	}

	rec := &reconcile.Record{
		OrderID:      out.OrderID,
		PaymentID:    out.PaymentID,
		Status:       reconcile.StoreStatus(out.Status),
		Amount:       out.Amount,
		Currency:     out.Currency,
		Method:       reconcile.Method(out.Method),
		Instructions: out.instructions(),
	}
	if out.RegistrationID != nil {
		rec.RegistrationID = strconv.FormatUint(uint64(*out.RegistrationID), 10)
	}
	return rec, nil
}

func (c *Client) FinalizeRegistration(ctx context.Context, paymentID string) (string, error) {
	var out finalizeBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Post("/api/payments/" + url.PathEscape(paymentID) + "/finalize")
	if err := check(resp, err); err != nil {
		return "", err
	}
	if out.RegistrationID == 0 {
		return "", nil
	}
	return strconv.FormatUint(uint64(out.RegistrationID), 10), nil
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	if !resp.IsError() {
		return nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode()}
	if body, ok := resp.Error().(*errorBody); ok && body != nil {
		apiErr.Message = body.Message
	}
	return apiErr
}
