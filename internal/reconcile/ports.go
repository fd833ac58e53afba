package reconcile

import "context"

// OrderContext identifies what is being paid for
type OrderContext struct {
	EventID     uint   `json:"event_id"`
	Description string `json:"description,omitempty"`
}

type CreateRequest struct {
	Order    OrderContext
	Method   Method
	Amount   int64
	Currency string
	// ForceNew abandons any pending payment for the same order context
	ForceNew bool
}

// Created is returned by the gateway for a new payment. Instructions is nil
// when the gateway produced nothing for the payer to act on yet.
type Created struct {
	OrderID      string
	PaymentID    string
	Amount       int64
	Currency     string
	Instructions Instructions
}

// Record is the store's copy of a payment
type Record struct {
	OrderID        string
	PaymentID      string
	Status         StoreStatus
	RegistrationID string
	Amount         int64
	Currency       string
	Method         Method
	Instructions   Instructions
}

// Gateway creates, refreshes and cancels payments
type Gateway interface {
	CreatePayment(ctx context.Context, req CreateRequest) (*Created, error)
	// SyncPayment asks the gateway for the latest status and writes it to the
	// store. Callers read the authoritative result with Store.GetPayment.
	SyncPayment(ctx context.Context, orderID string) (StoreStatus, error)
	CancelPayment(ctx context.Context, paymentID string) error
	VerifyCrypto(ctx context.Context, orderID, txHash string) (StoreStatus, error)
}

// Store reads payments and finalizes registrations. FinalizeRegistration
// must be idempotent: calling it for an already finalized payment returns
// the existing registration id.
type Store interface {
	GetPayment(ctx context.Context, orderID string) (*Record, error)
	FinalizeRegistration(ctx context.Context, paymentID string) (string, error)
}
