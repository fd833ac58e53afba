package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"eventpay_echo/internal/models"
)

func newTestRunner(t *testing.T, db *gorm.DB, now time.Time) (*Runner, *Registry) {
	reg := NewRegistry()
	r := NewRunner(db, reg)
	r.now = func() time.Time { return now }
	return r, reg
}

func createTask(t *testing.T, db *gorm.DB, task *models.ScheduledTask) {
	t.Helper()
	require.NoError(t, db.Create(task).Error)
}

func reload(t *testing.T, db *gorm.DB, id uint) models.ScheduledTask {
	t.Helper()
	var task models.ScheduledTask
	require.NoError(t, db.First(&task, id).Error)
	return task
}

func TestRunnerOneTimeSuccess(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	r, reg := newTestRunner(t, db, now)

	var got map[string]interface{}
	reg.Register("echo", func(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
		got = task.Arguments
		return map[string]interface{}{"ok": true}, nil
	})

	task, err := BuildScheduledTask("echo", map[string]string{"message": "hi"}, now.Add(-time.Minute), nil, models.ScheduledTaskTypeOneTime, 3)
	require.NoError(t, err)
	createTask(t, db, task)

	assert.Equal(t, 1, r.ProcessDue(context.Background()))
	assert.Equal(t, "hi", got["message"])

	stored := reload(t, db, task.ID)
	assert.Equal(t, models.ScheduledTaskStatusDone, stored.Status)
	assert.Equal(t, 1, stored.Attempts)

	var history []models.ScheduledTaskHistory
	require.NoError(t, db.Where("scheduled_task_id = ?", task.ID).Find(&history).Error)
	require.Len(t, history, 1)
	assert.Equal(t, "success", history[0].Status)
	assert.Equal(t, 1, history[0].AttemptNumber)
}

func TestRunnerSkipsFutureTasks(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	r, reg := newTestRunner(t, db, now)
	reg.Register("echo", func(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
		t.Fatal("future task must not run")
		return nil, nil
	})

	task, err := BuildScheduledTask("echo", nil, now.Add(time.Hour), nil, models.ScheduledTaskTypeOneTime, 1)
	require.NoError(t, err)
	createTask(t, db, task)

	assert.Equal(t, 0, r.ProcessDue(context.Background()))
}

func TestRunnerRetriesUntilMaxAttempt(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	r, reg := newTestRunner(t, db, now)

	calls := 0
	reg.Register("flaky", func(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
		calls++
		return nil, errors.New("smtp down")
	})

	task, err := BuildScheduledTask("flaky", nil, now.Add(-time.Second), nil, models.ScheduledTaskTypeOneTime, 3)
	require.NoError(t, err)
	createTask(t, db, task)

	// first failure reschedules
	r.Execute(context.Background(), reload(t, db, task.ID))
	stored := reload(t, db, task.ID)
	assert.Equal(t, models.ScheduledTaskStatusActive, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, "smtp down", stored.LastError)
	assert.WithinDuration(t, now.Add(RetryDelay), stored.Due, time.Second)

	r.Execute(context.Background(), reload(t, db, task.ID))
	assert.Equal(t, models.ScheduledTaskStatusActive, reload(t, db, task.ID).Status)

	r.Execute(context.Background(), reload(t, db, task.ID))
	stored = reload(t, db, task.ID)
	assert.Equal(t, models.ScheduledTaskStatusFailure, stored.Status)
	assert.Equal(t, 3, stored.Attempts)
	assert.Equal(t, 3, calls)
}

func TestRunnerHandlerNotFound(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	r, _ := newTestRunner(t, db, now)

	task, err := BuildScheduledTask("missing", nil, now.Add(-time.Second), nil, models.ScheduledTaskTypeOneTime, 3)
	require.NoError(t, err)
	createTask(t, db, task)

	r.ProcessDue(context.Background())

	stored := reload(t, db, task.ID)
	assert.Equal(t, models.ScheduledTaskStatusFailure, stored.Status)

	var history models.ScheduledTaskHistory
	require.NoError(t, db.Where("scheduled_task_id = ?", task.ID).First(&history).Error)
	assert.Equal(t, "handler_not_found", history.Status)
}

func TestRunnerRecurringAdvancesDue(t *testing.T) {
	db := newTestDB(t)
	due := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	now := due.Add(20 * time.Minute)
	r, reg := newTestRunner(t, db, now)

	reg.Register("sweep", func(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
		return map[string]interface{}{}, nil
	})

	rule := ExpireEvery15Minutes
	task, err := BuildScheduledTask("sweep", nil, due, &rule, models.ScheduledTaskTypeRecurring, 1)
	require.NoError(t, err)
	createTask(t, db, task)

	r.ProcessDue(context.Background())

	stored := reload(t, db, task.ID)
	assert.Equal(t, models.ScheduledTaskStatusActive, stored.Status)
	assert.True(t, stored.Due.Equal(due.Add(30*time.Minute)), "due = %s", stored.Due)
	assert.Equal(t, 0, stored.Attempts)
}

func TestRunnerRecoversPanics(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	r, reg := newTestRunner(t, db, now)
	reg.Register("boom", func(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
		panic("nil map")
	})

	task, err := BuildScheduledTask("boom", nil, now.Add(-time.Second), nil, models.ScheduledTaskTypeOneTime, 1)
	require.NoError(t, err)
	createTask(t, db, task)

	r.ProcessDue(context.Background())

	stored := reload(t, db, task.ID)
	assert.Equal(t, models.ScheduledTaskStatusFailure, stored.Status)
	assert.Contains(t, stored.LastError, "nil map")
}
