package services

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"

	"eventpay_echo/internal/config"
	"eventpay_echo/internal/models"
)

// ChargeRequest is what the payment service asks a gateway to charge
type ChargeRequest struct {
	OrderID       string
	Amount        int64
	Method        models.PaymentMethod
	Bank          string
	CustomerName  string
	CustomerEmail string
	ItemID        string
	ItemName      string
	FinishURL     string
}

// ChargeResult carries the payer-facing artifact of a charge plus the raw
// request/response for GatewaySession
type ChargeResult struct {
	Token       string
	RedirectURL string
	QRCodeURL   string
	Bank        string
	VANumber    string

	RawRequest  interface{}
	RawResponse interface{}
}

// GatewayStatus is a transaction status as reported by the gateway
type GatewayStatus struct {
	TransactionStatus string
	FraudStatus       string
	Status            models.PaymentStatus
}

// TransactionGateway is the subset of a payment gateway the payment service needs
type TransactionGateway interface {
	Charge(req ChargeRequest) (*ChargeResult, error)
	Status(orderID string) (*GatewayStatus, error)
	Cancel(orderID string) error
	VerifySignature(orderID, statusCode, grossAmount, signatureKey string) bool
}

type MidtransService struct {
	SnapClient snap.Client
	CoreClient coreapi.Client
	serverKey  string
}

func NewMidtransService(cfg config.MidtransConfig) *MidtransService {
	env := midtrans.Sandbox
	if cfg.IsProduction {
		env = midtrans.Production
	}

	var s snap.Client
	s.New(cfg.ServerKey, env)

	var c coreapi.Client
	c.New(cfg.ServerKey, env)

	// Set Default Options
	midtrans.ServerKey = cfg.ServerKey
	midtrans.ClientKey = cfg.ClientKey
	midtrans.Environment = env

	return &MidtransService{
		SnapClient: s,
		CoreClient: c,
		serverKey:  cfg.ServerKey,
	}
}

// Charge creates a Snap transaction for hosted checkout, or a Core API charge
// for QRIS and virtual account payments
func (s *MidtransService) Charge(req ChargeRequest) (*ChargeResult, error) {
	switch req.Method {
	case models.PaymentMethodGateway:
		return s.chargeSnap(req)
	case models.PaymentMethodQR:
		return s.chargeQRIS(req)
	case models.PaymentMethodBankTransfer:
		return s.chargeBankTransfer(req)
	}
	return nil, fmt.Errorf("midtrans does not handle %q payments", req.Method)
}

func (s *MidtransService) chargeSnap(req ChargeRequest) (*ChargeResult, error) {
	param := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.OrderID,
			GrossAmt: req.Amount,
		},
		CustomerDetail: customerDetails(req),
		Items:          itemDetails(req),
	}
	if req.FinishURL != "" {
		param.Callbacks = &snap.Callbacks{Finish: req.FinishURL}
	}

	resp, err := s.SnapClient.CreateTransaction(param)
	if err != nil {
		return nil, fmt.Errorf("midtrans create transaction error: %v", err)
	}

	return &ChargeResult{
		Token:       resp.Token,
		RedirectURL: resp.RedirectURL,
		RawRequest:  param,
		RawResponse: resp,
	}, nil
}

func (s *MidtransService) chargeQRIS(req ChargeRequest) (*ChargeResult, error) {
	param := &coreapi.ChargeReq{
		PaymentType: coreapi.PaymentTypeQris,
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.OrderID,
			GrossAmt: req.Amount,
		},
		CustomerDetails: customerDetails(req),
		Items:           itemDetails(req),
	}

	resp, err := s.CoreClient.ChargeTransaction(param)
	if err != nil {
		return nil, fmt.Errorf("midtrans qris charge error: %v", err)
	}

	result := &ChargeResult{RawRequest: param, RawResponse: resp}
	for _, action := range resp.Actions {
		if action.Name == "generate-qr-code" {
			result.QRCodeURL = action.URL
			break
		}
	}
	if result.QRCodeURL == "" {
		return nil, fmt.Errorf("midtrans qris charge for %s returned no qr code", req.OrderID)
	}
	return result, nil
}

func (s *MidtransService) chargeBankTransfer(req ChargeRequest) (*ChargeResult, error) {
	bank := req.Bank
	if bank == "" {
		bank = string(midtrans.BankBca)
	}

	param := &coreapi.ChargeReq{
		PaymentType: coreapi.PaymentTypeBankTransfer,
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.OrderID,
			GrossAmt: req.Amount,
		},
		BankTransfer: &coreapi.BankTransferDetails{
			Bank: midtrans.Bank(bank),
		},
		CustomerDetails: customerDetails(req),
		Items:           itemDetails(req),
	}

	resp, err := s.CoreClient.ChargeTransaction(param)
	if err != nil {
		return nil, fmt.Errorf("midtrans bank transfer charge error: %v", err)
	}

	result := &ChargeResult{Bank: bank, RawRequest: param, RawResponse: resp}
	for _, va := range resp.VaNumbers {
		if va.VANumber != "" {
			result.Bank = va.Bank
			result.VANumber = va.VANumber
			break
		}
	}
	if result.VANumber == "" && resp.PermataVaNumber != "" {
		result.Bank = string(midtrans.BankPermata)
		result.VANumber = resp.PermataVaNumber
	}
	if result.VANumber == "" {
		return nil, fmt.Errorf("midtrans bank transfer charge for %s returned no va number", req.OrderID)
	}
	return result, nil
}

// Status maps the Midtrans transaction status onto a payment status. An order
// Midtrans has not seen yet (snap page never opened) is still pending.
func (s *MidtransService) Status(orderID string) (*GatewayStatus, error) {
	resp, err := s.CoreClient.CheckTransaction(orderID)
	if err != nil {
		if err.GetStatusCode() == http.StatusNotFound {
			return &GatewayStatus{Status: models.PaymentStatusPending}, nil
		}
		return nil, fmt.Errorf("midtrans check transaction error: %v", err)
	}
	return &GatewayStatus{
		TransactionStatus: resp.TransactionStatus,
		FraudStatus:       resp.FraudStatus,
		Status:            MapTransactionStatus(resp.TransactionStatus, resp.FraudStatus),
	}, nil
}

// Cancel cancels a pending transaction at Midtrans
func (s *MidtransService) Cancel(orderID string) error {
	if _, err := s.CoreClient.CancelTransaction(orderID); err != nil {
		return fmt.Errorf("midtrans cancel transaction error: %v", err)
	}
	return nil
}

// VerifySignature checks a notification's signature_key, which is
// SHA512(order_id + status_code + gross_amount + server_key)
func (s *MidtransService) VerifySignature(orderID, statusCode, grossAmount, signatureKey string) bool {
	return VerifyMidtransSignature(s.serverKey, orderID, statusCode, grossAmount, signatureKey)
}

func VerifyMidtransSignature(serverKey, orderID, statusCode, grossAmount, signatureKey string) bool {
	if serverKey == "" || signatureKey == "" {
		return false
	}
	expected := MidtransSignature(serverKey, orderID, statusCode, grossAmount)
	return hmac.Equal([]byte(expected), []byte(signatureKey))
}

func MidtransSignature(serverKey, orderID, statusCode, grossAmount string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

// MapTransactionStatus converts a Midtrans transaction_status/fraud_status pair
func MapTransactionStatus(transactionStatus, fraudStatus string) models.PaymentStatus {
	switch transactionStatus {
	case "capture":
		if fraudStatus == "challenge" {
			return models.PaymentStatusPendingReview
		}
		return models.PaymentStatusPaid
	case "settlement":
		return models.PaymentStatusPaid
	case "deny", "failure":
		return models.PaymentStatusFailed
	case "expire":
		return models.PaymentStatusExpired
	case "cancel":
		return models.PaymentStatusCancelled
	}
	return models.PaymentStatusPending
}

func customerDetails(req ChargeRequest) *midtrans.CustomerDetails {
	if req.CustomerName == "" && req.CustomerEmail == "" {
		return nil
	}
	return &midtrans.CustomerDetails{
		FName: req.CustomerName,
		Email: req.CustomerEmail,
	}
}

func itemDetails(req ChargeRequest) *[]midtrans.ItemDetails {
	if req.ItemID == "" {
		return nil
	}
	return &[]midtrans.ItemDetails{
		{
			ID:    req.ItemID,
			Name:  req.ItemName,
			Price: req.Amount,
			Qty:   1,
		},
	}
}
