package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/datasync/internal/domain"
)

// ConnectionRepo — репозиторий подключений к источникам/приёмникам.
type ConnectionRepo struct {
	pool *pgxpool.Pool
}

// NewConnectionRepo создаёт новый ConnectionRepo.
func NewConnectionRepo(pool *pgxpool.Pool) *ConnectionRepo {
	return &ConnectionRepo{pool: pool}
}

const connectionColumns = `id, name, kind, host, port, database, username, password, ssl_mode, created_at, updated_at`

// Create создаёт подключение.
func (r *ConnectionRepo) Create(ctx context.Context, c *domain.Connection) error {
	query := `
		INSERT INTO connections (` + connectionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.pool.Exec(ctx, query,
		c.ID, c.Name, c.Kind, c.Host, c.Port, c.Database,
		c.Username, c.Password, sslModeOrDefault(c.SSLMode),
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert connection: %w", err)
	}
	return nil
}

// GetByID возвращает подключение по ID.
func (r *ConnectionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1`
	return scanConnection(r.pool.QueryRow(ctx, query, id))
}

// List возвращает все подключения.
func (r *ConnectionRepo) List(ctx context.Context) ([]domain.Connection, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+connectionColumns+` FROM connections ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var conns []domain.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, *c)
	}
	return conns, rows.Err()
}

// Update обновляет подключение. Пустой пароль сохраняет прежний.
func (r *ConnectionRepo) Update(ctx context.Context, c *domain.Connection) error {
	query := `
		UPDATE connections
		SET name = $2, kind = $3, host = $4, port = $5, database = $6, username = $7,
		    password = COALESCE($8, password), ssl_mode = $9, updated_at = $10
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		c.ID, c.Name, c.Kind, c.Host, c.Port, c.Database, c.Username,
		nullString(c.Password), sslModeOrDefault(c.SSLMode), c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("update connection: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет подключение.
func (r *ConnectionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM connections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConnection(row pgx.Row) (*domain.Connection, error) {
	var c domain.Connection
	err := row.Scan(
		&c.ID, &c.Name, &c.Kind, &c.Host, &c.Port, &c.Database,
		&c.Username, &c.Password, &c.SSLMode, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan connection: %w", err)
	}
	return &c, nil
}

func sslModeOrDefault(mode string) string {
	if mode == "" {
		return "disable"
	}
	return mode
}
