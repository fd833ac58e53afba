package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	authMiddleware "eventpay_echo/internal/middleware"
	"eventpay_echo/internal/models"
	"eventpay_echo/internal/services"
)

// Handlers groups everything RegisterRoutes mounts
type Handlers struct {
	Auth          *AuthHandler
	Payments      *PaymentHandler
	Checkout      *CheckoutHandler
	Notifications *NotificationHandler
	Preferences   *UserPreferenceHandler
}

// RegisterRoutes mounts the public, webhook and authenticated API routes
func RegisterRoutes(e *echo.Echo, h Handlers, authClient services.AuthClient, db *gorm.DB) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// Public routes
	e.POST("/auth/login", h.Auth.HandleLogin)
	e.POST("/auth/logout", h.Auth.HandleLogout)
	e.POST("/webhooks/midtrans", h.Payments.MidtransWebhook)

	// Protected routes
	api := e.Group("/api")
	api.Use(authMiddleware.RequireAuth(authClient, db))

	api.POST("/payments", h.Payments.CreatePayment)
	api.POST("/payments/:paymentId/cancel", h.Payments.CancelPayment)
	api.POST("/payments/:paymentId/finalize", h.Payments.FinalizeRegistration)

	api.GET("/orders/:orderId", h.Payments.GetOrder)
	api.POST("/orders/:orderId/sync", h.Payments.SyncOrder)
	api.POST("/orders/:orderId/crypto-verify", h.Payments.VerifyCrypto)

	api.POST("/checkout", h.Checkout.Start)
	api.GET("/checkout/:orderId", h.Checkout.Get)
	api.POST("/checkout/:orderId/sync", h.Checkout.Sync)
	api.POST("/checkout/:orderId/cancel", h.Checkout.Cancel)
	api.POST("/checkout/:orderId/crypto", h.Checkout.VerifyCrypto)
	api.DELETE("/checkout/:orderId", h.Checkout.Teardown)

	api.GET("/notifications", h.Notifications.List)
	api.POST("/notifications/:id/read", h.Notifications.MarkRead)

	api.GET("/me/notification-preference", h.Preferences.GetUserPreference)
	api.PUT("/me/notification-preference", h.Preferences.UpdateUserPreference)

	admin := api.Group("/admin", authMiddleware.RequireRole(models.UserTypeAdmin, models.UserTypeFinance))
	admin.POST("/orders/:orderId/review", h.Payments.ReviewCryptoPayment)
}
