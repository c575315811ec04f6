package scheduler

import "errors"

var (
	// ErrTaskRunning — по задаче уже выполняется run.
	ErrTaskRunning = errors.New("task is already running")

	// ErrInvalidCron — cron-выражение не разобрано.
	ErrInvalidCron = errors.New("invalid cron expression")
)
