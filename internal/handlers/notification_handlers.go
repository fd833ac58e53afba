package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"eventpay_echo/internal/models"
	"eventpay_echo/internal/services"
)

const defaultNotificationLimit = 50

type NotificationHandler struct {
	notifications *services.NotificationService
}

func NewNotificationHandler(notifications *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// List handles GET /api/notifications?unread=true&limit=20
func (h *NotificationHandler) List(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	unread := false
	if v := c.QueryParam("unread"); v != "" {
		unread, err = strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unread must be a boolean")
		}
	}

	limit := defaultNotificationLimit
	if v := c.QueryParam("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 100 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 100")
		}
	}

	items, err := h.notifications.ListForUser(c.Request().Context(), user.ID, unread, limit)
	if err != nil {
		return toHTTPError(err)
	}
	if items == nil {
		items = []models.Notification{}
	}
	return c.JSON(http.StatusOK, items)
}

// MarkRead handles POST /api/notifications/:id/read
func (h *NotificationHandler) MarkRead(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid notification id")
	}

	if err := h.notifications.MarkRead(c.Request().Context(), user.ID, uint(id)); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
