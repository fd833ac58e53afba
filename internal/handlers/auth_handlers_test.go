package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventpay_echo/internal/middleware"
)

func TestLoginSetsSessionCookie(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodPost, "/auth/login", "budi", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := http.Response{Header: rec.Header()}
	cookies := resp.Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, middleware.SessionCookieName, cookies[0].Name)
	assert.Equal(t, "cookie-budi", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)

	// the cookie alone authenticates API calls
	req := httptest.NewRequest(http.MethodGet, "/api/me/notification-preference", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	app.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginRejectsBadTokens(t *testing.T) {
	app := newTestApp(t)

	for _, header := range []string{"", "Basic abc", "Bearer forged"} {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		if header != "" {
			req.Header.Set(echo.HeaderAuthorization, header)
		}
		rec := httptest.NewRecorder()
		app.e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodPost, "/auth/logout", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := http.Response{Header: rec.Header()}
	cookies := resp.Cookies()
	require.Len(t, cookies, 1)
	assert.Empty(t, cookies[0].Value)
	assert.True(t, cookies[0].MaxAge < 0)
}
