package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"eventpay_echo/internal/config"
	"eventpay_echo/internal/models"
	"eventpay_echo/internal/services"
	"eventpay_echo/internal/tasks"
)

func main() {
	taskName := flag.String("task_name", "", "Name of the task (mandatory)")
	argsStr := flag.String("arguments", "{}", "JSON arguments for the task")
	dueStr := flag.String("due", "", "Due date (mandatory, format: 2006-01-02 15:04 or RFC3339)")
	taskType := flag.String("tasktype", string(models.ScheduledTaskTypeOneTime), "Task type: onetime or recurring")
	recurring := flag.String("recurring", "", "RRULE recurrence, e.g. FREQ=MINUTELY;INTERVAL=15 (recurring only)")
	maxAttempt := flag.Int("max_attempt", 3, "Max attempts")

	flag.Parse()

	// register handlers so the name can be checked; no services are needed
	tasks.DefineTasks(tasks.Dependencies{})

	if *taskName == "" || *dueStr == "" {
		fmt.Println("Usage: schedule_task -task_name <name> -due <YYYY-MM-DD HH:MM> [options]")
		fmt.Printf("Known tasks: %s\n", strings.Join(tasks.GlobalRegistry.Names(), ", "))
		flag.PrintDefaults()
		os.Exit(1)
	}
	if _, ok := tasks.GetHandler(*taskName); !ok {
		log.Fatalf("Unknown task %q. Known tasks: %s", *taskName, strings.Join(tasks.GlobalRegistry.Names(), ", "))
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(*argsStr), &args); err != nil {
		log.Fatalf("Invalid JSON arguments: %v", err)
	}

	due, err := time.Parse(time.RFC3339, *dueStr)
	if err != nil {
		due, err = time.ParseInLocation("2006-01-02 15:04", *dueStr, time.Local)
		if err != nil {
			log.Fatalf("Invalid due date format. Use '2006-01-02 15:04' (Local) or RFC3339: %v", err)
		}
	}

	kind := models.ScheduledTaskType(*taskType)
	var recurringPtr *string
	switch kind {
	case models.ScheduledTaskTypeOneTime:
	case models.ScheduledTaskTypeRecurring:
		if *recurring == "" {
			log.Fatal("-recurring is required for recurring tasks")
		}
		if _, err := rrule.StrToRRule(*recurring); err != nil {
			log.Fatalf("Invalid recurrence rule: %v", err)
		}
		recurringPtr = recurring
	default:
		log.Fatalf("Invalid task type %q", *taskType)
	}

	task, err := tasks.BuildScheduledTask(*taskName, args, due, recurringPtr, kind, *maxAttempt)
	if err != nil {
		log.Fatalf("Failed to build task: %v", err)
	}

	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}
	db, err := services.InitDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect DB: %v", err)
	}

	if err := db.Create(task).Error; err != nil {
		log.Fatalf("Failed to create task: %v", err)
	}

	fmt.Printf("Successfully created task ID: %d\n", task.ID)
	fmt.Printf("Task: %s\nDue: %s\nType: %s\n", task.TaskName, task.Due, task.TaskType)
}
