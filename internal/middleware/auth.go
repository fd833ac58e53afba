package middleware

import (
	"errors"
	"net/http"
	"strings"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"eventpay_echo/internal/models"
	"eventpay_echo/internal/services"
)

const (
	SessionCookieName = "session"
	userContextKey    = "user"
)

// RequireAuth verifies a Firebase ID token (Authorization: Bearer) or a
// session cookie and loads the matching user, creating it on first sight
func RequireAuth(authClient services.AuthClient, db *gorm.DB) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if authClient == nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "authentication is not configured")
			}

			token, err := verifyRequest(c, authClient)
			if err != nil {
				return err
			}

			user, err := resolveUser(c, db, token)
			if err != nil {
				return err
			}

			// Set user info in context for downstream handlers
			c.Set(userContextKey, user)
			c.Set("userUID", token.UID)
			c.Set("userEmail", user.Email)
			c.Set("userName", user.Name)

			return next(c)
		}
	}
}

func verifyRequest(c echo.Context, authClient services.AuthClient) (*auth.Token, error) {
	ctx := c.Request().Context()

	if header := c.Request().Header.Get(echo.HeaderAuthorization); header != "" {
		idToken := strings.TrimPrefix(header, "Bearer ")
		if idToken == header || idToken == "" {
			return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
		}
		token, err := authClient.VerifyIDToken(ctx, idToken)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		return token, nil
	}

	cookie, err := c.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "missing credentials")
	}

	token, err := authClient.VerifySessionCookie(ctx, cookie.Value)
	if err != nil {
		// Invalid session, clear cookie
		c.SetCookie(&http.Cookie{
			Name:     SessionCookieName,
			Value:    "",
			MaxAge:   -1,
			HttpOnly: true,
			Path:     "/",
		})
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "session expired")
	}
	return token, nil
}

func resolveUser(c echo.Context, db *gorm.DB, token *auth.Token) (*models.User, error) {
	var user models.User
	err := db.WithContext(c.Request().Context()).Where("firebase_uid = ?", token.UID).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to load user").SetInternal(err)
	}

	user = models.User{
		FirebaseUID: token.UID,
		UserType:    models.UserTypeParticipant,
	}
	if email, ok := token.Claims["email"].(string); ok {
		user.Email = email
	}
	if name, ok := token.Claims["name"].(string); ok {
		user.Name = name
	}
	if phone, ok := token.Claims["phone_number"].(string); ok {
		user.Phone = phone
	}

	if err := db.WithContext(c.Request().Context()).Create(&user).Error; err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to create user").SetInternal(err)
	}
	return &user, nil
}

// RequireRole only lets users holding one of roles through. It must run
// after RequireAuth.
func RequireRole(roles ...models.UserType) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, ok := CurrentUser(c)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized)
			}
			if !user.HasRole(roles...) {
				return echo.NewHTTPError(http.StatusForbidden)
			}
			return next(c)
		}
	}
}

// CurrentUser returns the user loaded by RequireAuth
func CurrentUser(c echo.Context) (*models.User, bool) {
	user, ok := c.Get(userContextKey).(*models.User)
	return user, ok && user != nil
}

// SetCurrentUser stores user the way RequireAuth does
func SetCurrentUser(c echo.Context, user *models.User) {
	c.Set(userContextKey, user)
}
