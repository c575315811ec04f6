package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/shaiso/datasync/internal/domain"
	"github.com/shaiso/datasync/internal/pipeline"
	"github.com/shaiso/datasync/internal/repo"
)

// PreviewLimit — число строк в предпросмотре запроса.
const PreviewLimit = 10

const pingTimeout = 5 * time.Second

// DefaultAcquireTimeout — ожидание свободного подключения в пуле.
const DefaultAcquireTimeout = 30 * time.Second

// ConnectionStore — источник описаний подключений.
type ConnectionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Connection, error)
}

// Config — конфигурация Directory.
type Config struct {
	Store  ConnectionStore
	Logger *slog.Logger

	// MaxOpenConns — предел открытых подключений на одну базу (по умолчанию 20).
	MaxOpenConns int

	// AcquireTimeout — сколько ждать свободного подключения
	// (по умолчанию DefaultAcquireTimeout). Исчерпанный пул даёт
	// ErrConnection вместо бесконечного ожидания.
	AcquireTimeout time.Duration
}

// Directory открывает и кеширует пулы *sql.DB по ID подключения.
//
// Реализует pipeline.Warehouse и interpreter.QueryRunner.
type Directory struct {
	store          ConnectionStore
	maxOpenConns   int
	acquireTimeout time.Duration
	logger         *slog.Logger

	mu  sync.Mutex
	dbs map[uuid.UUID]*sql.DB
}

// NewDirectory создаёт Directory.
func NewDirectory(cfg Config) *Directory {
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 20
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Directory{
		store:          cfg.Store,
		maxOpenConns:   cfg.MaxOpenConns,
		acquireTimeout: cfg.AcquireTimeout,
		logger:         cfg.Logger.With("component", "warehouse"),
		dbs:            make(map[uuid.UUID]*sql.DB),
	}
}

// Resolve находит описание подключения по строковому ID.
func (d *Directory) Resolve(ctx context.Context, connID string) (*domain.Connection, error) {
	id, err := uuid.Parse(connID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid connection id %q", domain.ErrConnection, connID)
	}

	conn, err := d.store.GetByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: connection %s not found", domain.ErrConnection, connID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}
	if conn.Kind != domain.ConnectionPostgres {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedConnection, conn.Kind)
	}
	return conn, nil
}

// DB возвращает пул подключений к базе, открывая его при первом обращении.
func (d *Directory) DB(ctx context.Context, connID string) (*sql.DB, error) {
	conn, err := d.Resolve(ctx, connID)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if db, ok := d.dbs[conn.ID]; ok {
		return db, nil
	}

	db, err := d.open(ctx, conn)
	if err != nil {
		return nil, err
	}
	d.dbs[conn.ID] = db
	d.logger.Info("connection opened", "connection_id", conn.ID, "name", conn.Name)
	return db, nil
}

func (d *Directory) open(ctx context.Context, conn *domain.Connection) (*sql.DB, error) {
	db, err := sql.Open("pgx", conn.DSN())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}
	db.SetMaxOpenConns(d.maxOpenConns)
	db.SetMaxIdleConns(d.maxOpenConns / 2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", domain.ErrConnection, conn.Name, err)
	}
	return db, nil
}

func (d *Directory) dedicated(ctx context.Context, connID string) (*Conn, error) {
	db, err := d.DB(ctx, connID)
	if err != nil {
		return nil, err
	}
	c, err := acquire(ctx, db, d.acquireTimeout)
	if err != nil {
		return nil, err
	}
	return NewConn(c, d.logger.With("connection_id", connID)), nil
}

// acquire берёт подключение из пула, ожидая не дольше timeout.
func acquire(ctx context.Context, db *sql.DB, timeout time.Duration) (*sql.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c, err := db.Conn(acquireCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire connection: %w", domain.ErrConnection, err)
	}
	return c, nil
}

// Source открывает выделенное подключение к источнику.
func (d *Directory) Source(ctx context.Context, connID string) (pipeline.Source, error) {
	return d.dedicated(ctx, connID)
}

// Target открывает выделенное подключение к приёмнику.
func (d *Directory) Target(ctx context.Context, connID string) (pipeline.Target, error) {
	return d.dedicated(ctx, connID)
}

// Query выполняет читающий запрос и возвращает все строки.
// Запрос идёт в READ ONLY транзакции: изменить данные через него нельзя.
func (d *Directory) Query(ctx context.Context, connID, query string, args ...any) ([]map[string]any, error) {
	db, err := d.DB(ctx, connID)
	if err != nil {
		return nil, err
	}
	out, err := queryReadOnly(ctx, db, trimStatement(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	if out == nil {
		out = []map[string]any{}
	}
	return out, nil
}

func queryReadOnly(ctx context.Context, db *sql.DB, query string, args ...any) ([]domain.Row, error) {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// Preview выполняет читающий запрос с LIMIT 10.
func (d *Directory) Preview(ctx context.Context, connID, query string) ([]map[string]any, error) {
	if !isSelect(query) {
		return nil, fmt.Errorf("%w: only SELECT queries can be previewed", domain.ErrValidation)
	}
	return d.Query(ctx, connID, appendLimit(query, PreviewLimit))
}

// Test проверяет доступность базы без кеширования пула.
func (d *Directory) Test(ctx context.Context, conn *domain.Connection) error {
	if conn.Kind != "" && conn.Kind != domain.ConnectionPostgres {
		return fmt.Errorf("%w: %s", domain.ErrUnsupportedConnection, conn.Kind)
	}
	db, err := d.open(ctx, conn)
	if err != nil {
		return err
	}
	return db.Close()
}

// Invalidate закрывает кешированный пул (после изменения или удаления подключения).
func (d *Directory) Invalidate(id uuid.UUID) {
	d.mu.Lock()
	db, ok := d.dbs[id]
	delete(d.dbs, id)
	d.mu.Unlock()

	if ok {
		if err := db.Close(); err != nil {
			d.logger.Warn("close connection failed", "connection_id", id, "error", err)
		}
	}
}

// Close закрывает все пулы.
func (d *Directory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for id, db := range d.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(d.dbs, id)
	}
	return errors.Join(errs...)
}
