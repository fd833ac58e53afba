package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"eventpay_echo/internal/reconcile"
	"eventpay_echo/internal/services"
)

// toHTTPError maps service and engine errors onto HTTP status codes.
// Unknown errors become a 500 with the cause kept as internal.
func toHTTPError(err error) error {
	if err == nil {
		return nil
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrPaymentNotFound),
		errors.Is(err, services.ErrEventNotFound),
		errors.Is(err, services.ErrNotificationNotFound):
		code = http.StatusNotFound
	case errors.Is(err, services.ErrAlreadyRegistered),
		errors.Is(err, services.ErrPaymentAlreadyMade),
		errors.Is(err, services.ErrEventFull),
		errors.Is(err, services.ErrPaymentNotCancellable),
		errors.Is(err, services.ErrPaymentNotPaid),
		errors.Is(err, services.ErrPaymentNotInReview),
		errors.Is(err, services.ErrTxHashUsed),
		errors.Is(err, services.ErrFinalizeInProgress),
		errors.Is(err, reconcile.ErrInvalidTransition),
		errors.Is(err, reconcile.ErrSessionClosed):
		code = http.StatusConflict
	case errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrMethodMismatch),
		errors.Is(err, services.ErrCryptoNotConfigured),
		errors.Is(err, services.ErrInvalidNotification),
		errors.Is(err, reconcile.ErrInvalidTxHash),
		errors.Is(err, reconcile.ErrUnsupportedMethod):
		code = http.StatusBadRequest
	case errors.Is(err, services.ErrInvalidSignature):
		code = http.StatusUnauthorized
	case errors.Is(err, services.ErrGatewayFailure):
		code = http.StatusBadGateway
	}

	if code == http.StatusInternalServerError {
		return echo.NewHTTPError(code).SetInternal(err)
	}
	return echo.NewHTTPError(code, rootMessage(err)).SetInternal(err)
}

// rootMessage strips the engine's create-failed prefix so clients see the
// store's reason
func rootMessage(err error) string {
	if errors.Is(err, reconcile.ErrCreateFailed) {
		if u, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range u.Unwrap() {
				if !errors.Is(e, reconcile.ErrCreateFailed) {
					return e.Error()
				}
			}
		}
	}
	return err.Error()
}
