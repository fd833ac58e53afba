package tasks

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"eventpay_echo/internal/models"
	"eventpay_echo/internal/services"
)

// ExpireEvery15Minutes is the default recurrence of the expiry sweep
const ExpireEvery15Minutes = "FREQ=MINUTELY;INTERVAL=15"

// ExpirePendingPaymentsTaskDef expires payments left pending past their TTL
type ExpirePendingPaymentsTaskDef struct {
	payments *services.PaymentService
}

func (t *ExpirePendingPaymentsTaskDef) TaskID() string {
	return "expire_pending_payments"
}

// CreateTask builds a recurring task starting at start
func (t *ExpirePendingPaymentsTaskDef) CreateTask(start time.Time, rule string) (*models.ScheduledTask, error) {
	if rule == "" {
		rule = ExpireEvery15Minutes
	}
	return BuildScheduledTask(t.TaskID(), map[string]interface{}{}, start, &rule, models.ScheduledTaskTypeRecurring, 1)
}

func (t *ExpirePendingPaymentsTaskDef) HandleExecution(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
	if t.payments == nil {
		return nil, fmt.Errorf("payment service is not configured")
	}

	expired, err := t.payments.ExpireStalePayments(ctx, time.Now())
	result := map[string]interface{}{"expired": expired}
	if err != nil {
		return result, err
	}
	result["status"] = "success"
	return result, nil
}

// ExpirePendingPaymentsTask is the singleton instance of ExpirePendingPaymentsTaskDef
var ExpirePendingPaymentsTask = &ExpirePendingPaymentsTaskDef{}

// EnsureExpirySweep creates the recurring expiry task unless an active one
// already exists. It returns true when a task was created.
func EnsureExpirySweep(ctx context.Context, db *gorm.DB, start time.Time) (bool, error) {
	var count int64
	if err := db.WithContext(ctx).Model(&models.ScheduledTask{}).
		Where("task_name = ? AND status = ?", ExpirePendingPaymentsTask.TaskID(), models.ScheduledTaskStatusActive).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to look up expiry task: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	task, err := ExpirePendingPaymentsTask.CreateTask(start, "")
	if err != nil {
		return false, err
	}
	if err := db.WithContext(ctx).Create(task).Error; err != nil {
		return false, fmt.Errorf("failed to create expiry task: %w", err)
	}
	return true, nil
}
