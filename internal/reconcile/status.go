package reconcile

// Status is the engine-side view of a checkout attempt
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusPaid       Status = "PAID"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// IsTerminal reports whether s has no outgoing transitions
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusFailed || s == StatusCancelled
}

// StoreStatus is the status vocabulary spoken by the payment store and gateway
type StoreStatus string

const (
	StoreStatusPending       StoreStatus = "PENDING"
	StoreStatusPendingReview StoreStatus = "PENDING_REVIEW"
	StoreStatusPaid          StoreStatus = "PAID"
	StoreStatusFailed        StoreStatus = "FAILED"
	StoreStatusExpired       StoreStatus = "EXPIRED"
	StoreStatusCancelled     StoreStatus = "CANCELLED"
)

// nextStatus folds a store status onto the current engine status.
// Terminal statuses never move; EXPIRED is reported as CANCELLED; anything
// non-terminal leaves the current status alone.
func nextStatus(current Status, store StoreStatus) Status {
	if current.IsTerminal() {
		return current
	}
	switch store {
	case StoreStatusPaid:
		return StatusPaid
	case StoreStatusFailed:
		return StatusFailed
	case StoreStatusExpired, StoreStatusCancelled:
		return StatusCancelled
	}
	return current
}
