package tasks

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"eventpay_echo/internal/models"
)

// RetryDelay is how long a failed task waits per attempt already made
var RetryDelay = time.Minute

// Runner executes due ScheduledTask rows against a registry
type Runner struct {
	db       *gorm.DB
	registry *Registry
	now      func() time.Time
}

func NewRunner(db *gorm.DB, registry *Registry) *Runner {
	if registry == nil {
		registry = GlobalRegistry
	}
	return &Runner{db: db, registry: registry, now: time.Now}
}

// ProcessDue runs every active task whose due time has passed and returns
// how many were run
func (r *Runner) ProcessDue(ctx context.Context) int {
	log.Println("Checking for pending tasks...")

	var pendingTasks []models.ScheduledTask
	if err := r.db.WithContext(ctx).
		Where("status = ? AND due <= ?", models.ScheduledTaskStatusActive, r.now()).
		Order("due asc").
		Find(&pendingTasks).Error; err != nil {
		log.Printf("Error fetching pending tasks: %v", err)
		return 0
	}

	if len(pendingTasks) == 0 {
		log.Println("No pending tasks found.")
		return 0
	}

	log.Printf("Found %d pending tasks.", len(pendingTasks))

	ran := 0
	for _, task := range pendingTasks {
		if ctx.Err() != nil {
			return ran
		}
		r.Execute(ctx, task)
		ran++
	}
	return ran
}

// Execute runs a single task and records its outcome. A failed task is
// retried on later ticks until it has been attempted MaxAttempt times.
func (r *Runner) Execute(ctx context.Context, task models.ScheduledTask) {
	log.Printf("Processing task: %s (ID: %d)", task.TaskName, task.ID)

	attempt := task.Attempts + 1
	if task.Arguments == nil {
		task.Arguments = make(map[string]interface{})
	}

	handler, found := r.registry.Get(task.TaskName)
	if !found {
		log.Printf("Task handler not found for: %s. Marking as failure.", task.TaskName)

		now := r.now()
		r.db.Model(&task).Updates(map[string]interface{}{
			"status":     models.ScheduledTaskStatusFailure,
			"last_run":   &now,
			"attempts":   attempt,
			"last_error": "handler not found",
		})
		r.db.Create(&models.ScheduledTaskHistory{
			ScheduledTaskID: task.ID,
			TaskName:        task.TaskName,
			RunAt:           now,
			Status:          "handler_not_found",
			AttemptNumber:   attempt,
			Arguments:       task.Arguments,
			Result:          map[string]interface{}{"error": "Handler not found"},
		})
		return
	}

	startTime := r.now()
	result, err := r.run(ctx, handler, task)
	runtimeMs := int(time.Since(startTime).Milliseconds())

	status := "success"
	resultData := result
	if err != nil {
		status = "failure"
		if resultData == nil {
			resultData = map[string]interface{}{}
		}
		resultData["error"] = err.Error()
		log.Printf("Task %s failed (attempt %d/%d): %v", task.TaskName, attempt, maxAttempts(task), err)
	} else {
		log.Printf("Task %s completed successfully.", task.TaskName)
	}

	r.db.Create(&models.ScheduledTaskHistory{
		ScheduledTaskID: task.ID,
		TaskName:        task.TaskName,
		RunAt:           startTime,
		Runtime:         runtimeMs,
		Status:          status,
		AttemptNumber:   attempt,
		Arguments:       task.Arguments,
		Result:          resultData,
	})

	r.db.Model(&task).Updates(r.nextState(task, startTime, attempt, err))
}

// nextState decides the row update after a run
func (r *Runner) nextState(task models.ScheduledTask, ranAt time.Time, attempt int, runErr error) map[string]interface{} {
	updates := map[string]interface{}{
		"last_run": &ranAt,
	}

	if runErr != nil {
		updates["last_error"] = runErr.Error()
		if attempt < maxAttempts(task) {
			updates["attempts"] = attempt
			updates["due"] = ranAt.Add(time.Duration(attempt) * RetryDelay)
			return updates
		}
		if task.TaskType == models.ScheduledTaskTypeRecurring {
			// give up on this occurrence, not on the schedule
			return r.advance(task, ranAt, updates)
		}
		updates["attempts"] = attempt
		updates["status"] = models.ScheduledTaskStatusFailure
		return updates
	}

	updates["last_error"] = ""
	switch task.TaskType {
	case models.ScheduledTaskTypeRecurring:
		return r.advance(task, ranAt, updates)
	default:
		updates["attempts"] = attempt
		updates["status"] = models.ScheduledTaskStatusDone
	}
	return updates
}

func (r *Runner) advance(task models.ScheduledTask, ranAt time.Time, updates map[string]interface{}) map[string]interface{} {
	nextDue := task.NextDueAfter(ranAt)
	updates["attempts"] = 0
	// check if the next due is a future date, to avoid the task from being executed repeatedly
	if nextDue.After(task.Due) && nextDue.After(ranAt) {
		updates["status"] = models.ScheduledTaskStatusActive
		updates["due"] = nextDue
	} else {
		updates["status"] = models.ScheduledTaskStatusDone
	}
	return updates
}

func (r *Runner) run(ctx context.Context, handler TaskHandler, task models.ScheduledTask) (result map[string]interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return handler(ctx, r.db, task)
}

func maxAttempts(task models.ScheduledTask) int {
	if task.MaxAttempt < 1 {
		return 1
	}
	return task.MaxAttempt
}
