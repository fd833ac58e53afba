package reconcile

import "errors"

var (
	// ErrCreateFailed is returned by StartSession when the gateway could not
	// create a payment. The returned session is FAILED; start a new one.
	ErrCreateFailed = errors.New("reconcile: payment creation failed")

	// ErrInvalidTransition is returned when an operation is not allowed in
	// the session's current status, e.g. cancelling a paid session.
	ErrInvalidTransition = errors.New("reconcile: invalid transition")

	// ErrSessionClosed is returned for sync calls after Teardown
	ErrSessionClosed = errors.New("reconcile: session closed")

	ErrInvalidTxHash     = errors.New("reconcile: tx hash must be 0x followed by 64 hex characters")
	ErrUnsupportedMethod = errors.New("reconcile: unsupported payment method")
	ErrMissingOrderID    = errors.New("reconcile: gateway returned no order id")
)
