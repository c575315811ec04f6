package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/datasync/internal/domain"
)

// TaskRepo — репозиторий задач синхронизации.
type TaskRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRepo создаёт новый TaskRepo.
func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `id, name, description, cron, enabled, content, created_at, updated_at`

// Create создаёт задачу.
func (r *TaskRepo) Create(ctx context.Context, task *domain.SyncTask) error {
	query := `
		INSERT INTO sync_tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		task.ID,
		task.Name,
		nullString(task.Description),
		nullString(task.Cron),
		task.Enabled,
		contentOrEmpty(task.Content),
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetByID возвращает задачу по ID.
func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.SyncTask, error) {
	query := `SELECT ` + taskColumns + ` FROM sync_tasks WHERE id = $1`
	return scanTask(r.pool.QueryRow(ctx, query, id))
}

// List возвращает все задачи в порядке создания.
func (r *TaskRepo) List(ctx context.Context) ([]domain.SyncTask, error) {
	query := `SELECT ` + taskColumns + ` FROM sync_tasks ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.SyncTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// Update обновляет задачу.
func (r *TaskRepo) Update(ctx context.Context, task *domain.SyncTask) error {
	query := `
		UPDATE sync_tasks
		SET name = $2, description = $3, cron = $4, enabled = $5, content = $6, updated_at = $7
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		task.ID,
		task.Name,
		nullString(task.Description),
		nullString(task.Cron),
		task.Enabled,
		contentOrEmpty(task.Content),
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет задачу (вместе с историей run).
func (r *TaskRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM sync_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTask(row pgx.Row) (*domain.SyncTask, error) {
	var task domain.SyncTask
	var description, cron *string
	var content []byte

	err := row.Scan(
		&task.ID,
		&task.Name,
		&description,
		&cron,
		&task.Enabled,
		&content,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	task.Description = deref(description)
	task.Cron = deref(cron)
	task.Content = json.RawMessage(content)
	return &task, nil
}

// contentOrEmpty возвращает "{}" для пустого графа (колонка NOT NULL).
func contentOrEmpty(c json.RawMessage) []byte {
	if len(c) == 0 {
		return []byte("{}")
	}
	return c
}
