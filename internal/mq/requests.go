package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/datasync/internal/repo"
	"github.com/shaiso/datasync/internal/scheduler"
)

// TaskRunner запускает задачу вне расписания.
type TaskRunner interface {
	RunNow(ctx context.Context, taskID uuid.UUID) (uuid.UUID, error)
}

// SyncRequestHandler возвращает Handler для очереди sync.requests.
//
// Задача, у которой уже идёт run, не запускается повторно:
// запрос подтверждается и отбрасывается. Неизвестная задача
// и некорректный payload уходят в DLQ.
func SyncRequestHandler(runner TaskRunner, logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sync-requests")

	return func(ctx context.Context, d *Delivery) error {
		if d.Message.Type != MessageTypeSyncRequest {
			return fmt.Errorf("%w: unexpected type %q", ErrReject, d.Message.Type)
		}

		req, err := ParsePayload[SyncRequestPayload](&d.Message)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrReject, err)
		}
		if req.TaskID == uuid.Nil {
			return fmt.Errorf("%w: task_id is required", ErrReject)
		}

		runID, err := runner.RunNow(ctx, req.TaskID)
		switch {
		case err == nil:
			logger.Info("run requested", "task_id", req.TaskID, "run_id", runID)
			return nil
		case errors.Is(err, scheduler.ErrTaskRunning):
			logger.Info("task already running, request dropped", "task_id", req.TaskID)
			return nil
		case errors.Is(err, repo.ErrNotFound):
			return fmt.Errorf("%w: task %s: %w", ErrReject, req.TaskID, err)
		default:
			return fmt.Errorf("run task %s: %w", req.TaskID, err)
		}
	}
}
