package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"eventpay_echo/internal/middleware"
	"eventpay_echo/internal/services"
)

const sessionLifetime = 5 * 24 * time.Hour

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authClient   services.AuthClient
	secureCookie bool
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(authClient services.AuthClient, secureCookie bool) *AuthHandler {
	return &AuthHandler{authClient: authClient, secureCookie: secureCookie}
}

// HandleLogin verifies the Firebase ID token and creates a session cookie
func (h *AuthHandler) HandleLogin(c echo.Context) error {
	if h.authClient == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Firebase not initialized")
	}

	// Get ID Token from Authorization Header
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if authHeader == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "Missing authorization header")
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization format")
	}

	// Verify ID Token
	if _, err := h.authClient.VerifyIDToken(c.Request().Context(), tokenString); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
	}

	cookieValue, err := h.authClient.SessionCookie(c.Request().Context(), tokenString, sessionLifetime)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to create session").SetInternal(err)
	}

	c.SetCookie(&http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    cookieValue,
		MaxAge:   int(sessionLifetime.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	})

	return c.JSON(http.StatusOK, map[string]string{
		"status": "success",
	})
}

// HandleLogout clears the session cookie
func (h *AuthHandler) HandleLogout(c echo.Context) error {
	c.SetCookie(&http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		MaxAge:   -1,
		HttpOnly: true,
		Path:     "/",
	})

	return c.JSON(http.StatusOK, map[string]string{
		"status": "logged out",
	})
}
