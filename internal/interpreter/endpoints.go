package interpreter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shaiso/datasync/internal/domain"
	"github.com/shaiso/datasync/internal/engine"
	"github.com/shaiso/datasync/internal/repo"
	"github.com/shaiso/datasync/internal/telemetry"
)

// EndpointStore — поиск endpoint по маршруту.
type EndpointStore interface {
	FindByRoute(ctx context.Context, path, method string) (*domain.Endpoint, error)
}

// Endpoints выполняет пользовательские endpoint.
type Endpoints struct {
	store  EndpointStore
	interp *Interpreter
	logger *slog.Logger
}

// NewEndpoints создаёт Endpoints.
func NewEndpoints(store EndpointStore, interp *Interpreter, logger *slog.Logger) *Endpoints {
	if logger == nil {
		logger = slog.Default()
	}
	return &Endpoints{
		store:  store,
		interp: interp,
		logger: logger.With("component", "endpoints"),
	}
}

// Invoke находит endpoint по пути и методу и выполняет его flow.
//
// Endpoint должен быть в статусе ONLINE. PRIVATE endpoint требует
// токен вызывающего в params[KeyToken].
func (e *Endpoints) Invoke(ctx context.Context, path, method string, params map[string]any) (any, error) {
	path = domain.NormalizePath(path)
	method = strings.ToUpper(method)
	logger := telemetry.WithEndpoint(e.logger, method, path)

	ep, err := e.store.FindByRoute(ctx, path, method)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			telemetry.EndpointCalls.WithLabelValues("not_found").Inc()
			return nil, ErrEndpointNotFound
		}
		return nil, fmt.Errorf("find endpoint: %w", err)
	}

	if !ep.IsOnline() {
		telemetry.EndpointCalls.WithLabelValues("offline").Inc()
		return nil, ErrEndpointOffline
	}

	if ep.Access == domain.EndpointPrivate {
		token, _ := params[KeyToken].(string)
		if strings.TrimSpace(token) == "" {
			telemetry.EndpointCalls.WithLabelValues("unauthorized").Inc()
			return nil, ErrAuthRequired
		}
	}

	result, err := e.Debug(ctx, ep, params)
	if err != nil {
		logger.Warn("endpoint call failed", "error", err)
		telemetry.EndpointCalls.WithLabelValues("error").Inc()
		return nil, err
	}

	telemetry.EndpointCalls.WithLabelValues("ok").Inc()
	return result, nil
}

// Debug выполняет flow endpoint без проверки статуса и доступа.
func (e *Endpoints) Debug(ctx context.Context, ep *domain.Endpoint, params map[string]any) (any, error) {
	g, err := engine.Parse(ep.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutionFailed, err)
	}
	return e.interp.Execute(ctx, g, params)
}
