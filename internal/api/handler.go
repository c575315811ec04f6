package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/datasync/internal/domain"
	"github.com/shaiso/datasync/internal/repo"
	"github.com/shaiso/datasync/internal/scheduler"
)

// TaskStore — хранилище задач (repo.TaskRepo).
type TaskStore interface {
	Create(ctx context.Context, task *domain.SyncTask) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.SyncTask, error)
	List(ctx context.Context) ([]domain.SyncTask, error)
	Update(ctx context.Context, task *domain.SyncTask) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// RunStore — чтение run (repo.RunRepo).
type RunStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.SyncRun, error)
	LatestByTask(ctx context.Context, taskID uuid.UUID) (*domain.SyncRun, error)
	List(ctx context.Context, filter repo.RunFilter) ([]domain.SyncRun, error)
	StatsSince(ctx context.Context, since time.Time) (*repo.RunStats, error)
}

// EndpointStore — хранилище endpoint (repo.EndpointRepo).
type EndpointStore interface {
	Create(ctx context.Context, ep *domain.Endpoint) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Endpoint, error)
	List(ctx context.Context) ([]domain.Endpoint, error)
	Update(ctx context.Context, ep *domain.Endpoint) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ConnectionStore — хранилище подключений (repo.ConnectionRepo).
type ConnectionStore interface {
	Create(ctx context.Context, c *domain.Connection) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Connection, error)
	List(ctx context.Context) ([]domain.Connection, error)
	Update(ctx context.Context, c *domain.Connection) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ConfigStore — key/value настройки (repo.ConfigRepo).
type ConfigStore interface {
	All(ctx context.Context) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
}

// Scheduler — триггеры и ручной запуск (scheduler.Manager).
type Scheduler interface {
	RunNow(ctx context.Context, taskID uuid.UUID) (uuid.UUID, error)
	Reschedule(task *domain.SyncTask) error
	Unschedule(taskID uuid.UUID)
	Progress(ctx context.Context) ([]scheduler.TaskProgress, error)
}

// EndpointRunner выполняет endpoint flow (interpreter.Endpoints).
type EndpointRunner interface {
	Invoke(ctx context.Context, path, method string, params map[string]any) (any, error)
	Debug(ctx context.Context, ep *domain.Endpoint, params map[string]any) (any, error)
}

// Warehouse — проверка подключений и предпросмотр SQL (warehouse.Directory).
type Warehouse interface {
	Test(ctx context.Context, conn *domain.Connection) error
	Preview(ctx context.Context, connID, query string) ([]map[string]any, error)
	Invalidate(id uuid.UUID)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	tasks       TaskStore
	runs        RunStore
	endpoints   EndpointStore
	connections ConnectionStore
	settings    ConfigStore
	scheduler   Scheduler
	invoker     EndpointRunner
	warehouse   Warehouse
	logger      *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Tasks       TaskStore
	Runs        RunStore
	Endpoints   EndpointStore
	Connections ConnectionStore
	Settings    ConfigStore
	Scheduler   Scheduler
	Invoker     EndpointRunner
	Warehouse   Warehouse
	Logger      *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		tasks:       cfg.Tasks,
		runs:        cfg.Runs,
		endpoints:   cfg.Endpoints,
		connections: cfg.Connections,
		settings:    cfg.Settings,
		scheduler:   cfg.Scheduler,
		invoker:     cfg.Invoker,
		warehouse:   cfg.Warehouse,
		logger:      cfg.Logger.With("component", "api"),
	}
}
