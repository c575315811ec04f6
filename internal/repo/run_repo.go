package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/datasync/internal/domain"
)

// RunRepo — репозиторий run синхронизации.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

const runColumns = `id, task_id, task_name, status, start_time, end_time, duration_ms,
		       total_count, processed_count, message, trace, created_at`

// Create создаёт run.
func (r *RunRepo) Create(ctx context.Context, run *domain.SyncRun) error {
	traceJSON, err := json.Marshal(run.Trace)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}

	query := `
		INSERT INTO sync_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.TaskID,
		run.TaskName,
		run.Status,
		run.StartTime,
		run.EndTime,
		run.DurationMs,
		run.TotalCount,
		run.ProcessedCount,
		nullString(run.Message),
		traceJSON,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Update сохраняет все изменяемые поля run.
func (r *RunRepo) Update(ctx context.Context, run *domain.SyncRun) error {
	traceJSON, err := json.Marshal(run.Trace)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}

	query := `
		UPDATE sync_runs
		SET status = $2, end_time = $3, duration_ms = $4, total_count = $5,
		    processed_count = $6, message = $7, trace = $8
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		run.EndTime,
		run.DurationMs,
		run.TotalCount,
		run.ProcessedCount,
		nullString(run.Message),
		traceJSON,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateProcessed обновляет только счётчик обработанных строк.
//
// Воркеры сохраняют счётчик независимо друг от друга, поэтому
// значение в БД никогда не уменьшается (GREATEST).
func (r *RunRepo) UpdateProcessed(ctx context.Context, id uuid.UUID, processed int64) error {
	query := `
		UPDATE sync_runs
		SET processed_count = GREATEST(processed_count, $2)
		WHERE id = $1 AND status = 'RUNNING'
	`
	if _, err := r.pool.Exec(ctx, query, id, processed); err != nil {
		return fmt.Errorf("update processed count: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.SyncRun, error) {
	query := `SELECT ` + runColumns + ` FROM sync_runs WHERE id = $1`
	return scanRun(r.pool.QueryRow(ctx, query, id))
}

// LatestByTask возвращает последний run задачи.
func (r *RunRepo) LatestByTask(ctx context.Context, taskID uuid.UUID) (*domain.SyncRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM sync_runs
		WHERE task_id = $1
		ORDER BY start_time DESC
		LIMIT 1
	`
	return scanRun(r.pool.QueryRow(ctx, query, taskID))
}

// ListByStatus возвращает все run в статусе (для восстановления после падения).
func (r *RunRepo) ListByStatus(ctx context.Context, status domain.RunStatus) ([]domain.SyncRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM sync_runs
		WHERE status = $1
		ORDER BY start_time
	`
	rows, err := r.pool.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("list runs by status: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	TaskID *uuid.UUID
	Status domain.RunStatus
	Limit  int
	Offset int
}

// List возвращает список runs с фильтрацией, новые первыми.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.SyncRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM sync_runs
		WHERE ($1::uuid IS NULL OR task_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY start_time DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullUUID(filter.TaskID),
		nullString(string(filter.Status)),
		clampLimit(filter.Limit),
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// RunStats — количество run по статусам и число загруженных строк.
type RunStats struct {
	Total     int64 `json:"total"`
	Running   int64 `json:"running"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Rows      int64 `json:"rows"`
}

// StatsSince возвращает статистику run, начатых после since.
func (r *RunRepo) StatsSince(ctx context.Context, since time.Time) (*RunStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'RUNNING'),
			COUNT(*) FILTER (WHERE status = 'SUCCESS'),
			COUNT(*) FILTER (WHERE status = 'FAILURE'),
			COALESCE(SUM(processed_count), 0)
		FROM sync_runs
		WHERE start_time >= $1
	`
	var s RunStats
	err := r.pool.QueryRow(ctx, query, since).Scan(&s.Total, &s.Running, &s.Succeeded, &s.Failed, &s.Rows)
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	return &s, nil
}

func collectRuns(rows pgx.Rows) ([]domain.SyncRun, error) {
	var runs []domain.SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRun(row pgx.Row) (*domain.SyncRun, error) {
	var run domain.SyncRun
	var message *string
	var traceJSON []byte

	err := row.Scan(
		&run.ID,
		&run.TaskID,
		&run.TaskName,
		&run.Status,
		&run.StartTime,
		&run.EndTime,
		&run.DurationMs,
		&run.TotalCount,
		&run.ProcessedCount,
		&message,
		&traceJSON,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	run.Message = deref(message)
	if len(traceJSON) > 0 {
		if err := json.Unmarshal(traceJSON, &run.Trace); err != nil {
			return nil, fmt.Errorf("unmarshal trace: %w", err)
		}
	}
	return &run, nil
}
