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

// EndpointRepo — репозиторий пользовательских endpoint.
type EndpointRepo struct {
	pool *pgxpool.Pool
}

// NewEndpointRepo создаёт новый EndpointRepo.
func NewEndpointRepo(pool *pgxpool.Pool) *EndpointRepo {
	return &EndpointRepo{pool: pool}
}

const endpointColumns = `id, name, path, method, access, status, content, created_at, updated_at`

// Create создаёт endpoint. Пара (path, method) уникальна.
func (r *EndpointRepo) Create(ctx context.Context, ep *domain.Endpoint) error {
	query := `
		INSERT INTO endpoints (` + endpointColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		ep.ID,
		ep.Name,
		ep.Path,
		ep.Method,
		ep.Access,
		ep.Status,
		contentOrEmpty(ep.Content),
		ep.CreatedAt,
		ep.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert endpoint: %w", err)
	}
	return nil
}

// GetByID возвращает endpoint по ID.
func (r *EndpointRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Endpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM endpoints WHERE id = $1`
	return scanEndpoint(r.pool.QueryRow(ctx, query, id))
}

// FindByRoute возвращает endpoint по пути и методу.
func (r *EndpointRepo) FindByRoute(ctx context.Context, path, method string) (*domain.Endpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM endpoints WHERE path = $1 AND method = $2`
	return scanEndpoint(r.pool.QueryRow(ctx, query, path, method))
}

// List возвращает все endpoint.
func (r *EndpointRepo) List(ctx context.Context) ([]domain.Endpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM endpoints ORDER BY path, method`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	var eps []domain.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		eps = append(eps, *ep)
	}
	return eps, rows.Err()
}

// Update обновляет endpoint.
func (r *EndpointRepo) Update(ctx context.Context, ep *domain.Endpoint) error {
	query := `
		UPDATE endpoints
		SET name = $2, path = $3, method = $4, access = $5, status = $6, content = $7, updated_at = $8
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		ep.ID,
		ep.Name,
		ep.Path,
		ep.Method,
		ep.Access,
		ep.Status,
		contentOrEmpty(ep.Content),
		ep.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("update endpoint: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет endpoint.
func (r *EndpointRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM endpoints WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanEndpoint(row pgx.Row) (*domain.Endpoint, error) {
	var ep domain.Endpoint
	var content []byte

	err := row.Scan(
		&ep.ID,
		&ep.Name,
		&ep.Path,
		&ep.Method,
		&ep.Access,
		&ep.Status,
		&content,
		&ep.CreatedAt,
		&ep.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan endpoint: %w", err)
	}
	ep.Content = json.RawMessage(content)
	return &ep, nil
}
