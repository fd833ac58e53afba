package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"eventpay_echo/internal/models"
	"eventpay_echo/internal/services"
)

// SendNotificationArgs defines the arguments for a notification task
type SendNotificationArgs struct {
	NotificationID uint `json:"notification_id"`
}

// SendNotificationTaskDef delivers one stored notification over the user's
// preferred channel
type SendNotificationTaskDef struct {
	email    services.EmailSender
	whatsapp services.WhatsappSender
}

// TaskID returns the unique identifier for this task
func (t *SendNotificationTaskDef) TaskID() string {
	return "send_notification"
}

// CreateTask builds a ScheduledTask record for this task
func (t *SendNotificationTaskDef) CreateTask(args SendNotificationArgs) (*models.ScheduledTask, error) {
	return BuildScheduledTask(t.TaskID(), args, time.Now(), nil, models.ScheduledTaskTypeOneTime, 3)
}

// HandleExecution handles sending a notification based on user preference
func (t *SendNotificationTaskDef) HandleExecution(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
	var args SendNotificationArgs
	if err := parseArgs(task, &args); err != nil {
		return nil, err
	}
	if args.NotificationID == 0 {
		return nil, fmt.Errorf("notification_id not provided")
	}

	var notif models.Notification
	if err := db.WithContext(ctx).Preload("User").First(&notif, args.NotificationID).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch notification %d: %w", args.NotificationID, err)
	}

	result := map[string]interface{}{
		"notification_id": notif.ID,
		"type":            notif.Type,
	}

	if notif.DeliveredAt != nil {
		result["status"] = "skipped"
		result["reason"] = "already delivered"
		return result, nil
	}

	// users without a stored preference get the column default
	pref := models.UserNotifPreference{Channel: models.NotificationChannelEmail}
	err := db.WithContext(ctx).Where("user_id = ?", notif.UserID).First(&pref).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to fetch preference for user %d: %w", notif.UserID, err)
	}
	result["channel"] = pref.Channel

	var sendErr error
	switch pref.Channel {
	case models.NotificationChannelEmail:
		sendErr = t.sendEmail(notif)
	case models.NotificationChannelWhatsapp:
		sendErr = t.sendWhatsapp(notif, pref)
	case models.NotificationChannelNone:
		log.Printf("Notification disabled (none) for user %d", notif.UserID)
		result["status"] = "skipped"
		return result, nil
	default:
		log.Printf("Unsupported notification channel %s for user %d", pref.Channel, notif.UserID)
		result["status"] = "skipped"
		return result, nil
	}

	if sendErr != nil {
		log.Printf("Failed to send notification %d via %s: %v", notif.ID, pref.Channel, sendErr)
		return result, sendErr
	}

	now := time.Now()
	if err := db.WithContext(ctx).Model(&notif).Update("delivered_at", &now).Error; err != nil {
		return result, fmt.Errorf("failed to mark notification delivered: %w", err)
	}

	result["status"] = "delivered"
	return result, nil
}

// SendNotificationTask is the singleton instance of SendNotificationTaskDef
var SendNotificationTask = &SendNotificationTaskDef{}

func (t *SendNotificationTaskDef) sendWhatsapp(notif models.Notification, pref models.UserNotifPreference) error {
	if t.whatsapp == nil {
		return fmt.Errorf("whatsapp delivery is not configured")
	}

	var chatId string
	if pref.WhatsappTargetType == models.WhatsappTargetTypeGroup {
		chatId = pref.WhatsappGroupID
		if chatId == "" {
			return fmt.Errorf("group ID is empty")
		}
		if !strings.HasSuffix(chatId, "@g.us") {
			chatId = chatId + "@g.us"
		}
	} else {
		chatId = notif.User.Phone
		if chatId == "" {
			return fmt.Errorf("user %d has no phone number", notif.UserID)
		}
	}

	return t.whatsapp.SendMessage(chatId, renderMessage(notif))
}

func (t *SendNotificationTaskDef) sendEmail(notif models.Notification) error {
	if t.email == nil {
		return fmt.Errorf("email delivery is not configured")
	}
	if notif.User.Email == "" {
		return fmt.Errorf("user %d has no email address", notif.UserID)
	}
	return t.email.SendEmail([]string{notif.User.Email}, notif.Title, renderMessage(notif))
}

func renderMessage(notif models.Notification) string {
	name := notif.User.Name
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("Hi %s,\n\n%s\n\n%s", name, notif.Title, notif.Body)
}
