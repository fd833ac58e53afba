package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"eventpay_echo/internal/models"
)

type UpdatePreferenceRequest struct {
	Channel            string `json:"channel" validate:"required,oneof=email whatsapp none"`
	WhatsappTargetType string `json:"whatsapp_target_type" validate:"omitempty,oneof=personal group"`
	WhatsappGroupID    string `json:"whatsapp_group_id" validate:"required_if=WhatsappTargetType group"`
}

type UserPreferenceHandler struct {
	DB *gorm.DB
}

func NewUserPreferenceHandler(db *gorm.DB) *UserPreferenceHandler {
	return &UserPreferenceHandler{DB: db}
}

// GetUserPreference handles GET /api/me/notification-preference. Users
// without a stored preference get the email default.
func (h *UserPreferenceHandler) GetUserPreference(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	pref, err := h.load(c, user.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pref)
}

// UpdateUserPreference handles PUT /api/me/notification-preference
func (h *UserPreferenceHandler) UpdateUserPreference(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req UpdatePreferenceRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	pref, err := h.load(c, user.ID)
	if err != nil {
		return err
	}

	pref.Channel = models.NotificationChannel(req.Channel)
	pref.WhatsappTargetType = req.WhatsappTargetType
	if pref.WhatsappTargetType == "" {
		pref.WhatsappTargetType = models.WhatsappTargetTypePersonal
	}
	pref.WhatsappGroupID = req.WhatsappGroupID

	if err := h.DB.WithContext(c.Request().Context()).Save(pref).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save preference").SetInternal(err)
	}
	return c.JSON(http.StatusOK, pref)
}

func (h *UserPreferenceHandler) load(c echo.Context, userID uint) (*models.UserNotifPreference, error) {
	var pref models.UserNotifPreference
	err := h.DB.WithContext(c.Request().Context()).Where("user_id = ?", userID).First(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.UserNotifPreference{
			UserID:             userID,
			Channel:            models.NotificationChannelEmail,
			WhatsappTargetType: models.WhatsappTargetTypePersonal,
		}, nil
	}
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "error fetching preference").SetInternal(err)
	}
	return &pref, nil
}
