package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/shaiso/datasync/internal/domain"
)

// Warehouse открывает подключения к источникам и приёмникам по ID.
//
// Каждый вызов возвращает отдельное подключение: воркеры не
// разделяют подключения между горутинами.
type Warehouse interface {
	Source(ctx context.Context, connID string) (Source, error)
	Target(ctx context.Context, connID string) (Target, error)
}

// Source — подключение к источнику данных.
type Source interface {
	// Count возвращает число строк запроса.
	Count(ctx context.Context, query string) (int64, error)

	// Stream читает результат запроса батчами по batchSize строк
	// и вызывает emit для каждого батча по порядку.
	Stream(ctx context.Context, query string, batchSize int, emit func([]domain.Row) error) error

	// Delete удаляет строки таблицы по значениям ключа.
	Delete(ctx context.Context, table, key string, values []any) (int64, error)

	Close() error
}

// Target — подключение к целевой базе.
type Target interface {
	Inspect(ctx context.Context, table string) (*domain.TableInfo, error)

	CreateTable(ctx context.Context, spec domain.TableSpec) error

	AddColumn(ctx context.Context, table string, field domain.TargetField) error
	AddPrimaryKey(ctx context.Context, table, column string) error

	// Truncate очищает таблицу с увеличенным таймаутом блокировки.
	Truncate(ctx context.Context, table string) error

	// Write загружает батч одной командой с учётом стратегии конфликтов.
	Write(ctx context.Context, req *domain.WriteRequest) error

	Close() error
}

// RunStore — хранилище run.
type RunStore interface {
	Create(ctx context.Context, run *domain.SyncRun) error
	Update(ctx context.Context, run *domain.SyncRun) error
	UpdateProcessed(ctx context.Context, id uuid.UUID, processed int64) error
}

// EventPublisher публикует события жизненного цикла run.
type EventPublisher interface {
	PublishRunStarted(ctx context.Context, run *domain.SyncRun) error
	PublishRunFinished(ctx context.Context, run *domain.SyncRun) error
}
