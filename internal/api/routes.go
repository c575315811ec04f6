package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, chain(fn))
	}

	// Tasks
	handle("GET /api/v1/tasks", h.ListTasks)
	handle("POST /api/v1/tasks", h.CreateTask)
	handle("GET /api/v1/tasks/{id}", h.GetTask)
	handle("PUT /api/v1/tasks/{id}", h.UpdateTask)
	handle("DELETE /api/v1/tasks/{id}", h.DeleteTask)
	handle("PUT /api/v1/tasks/{id}/enabled", h.SetTaskEnabled)
	handle("POST /api/v1/tasks/{id}/run", h.RunTask)
	handle("POST /api/v1/tasks/{id}/copy", h.CopyTask)
	handle("GET /api/v1/tasks/{id}/latest-run", h.LatestRun)

	// Runs
	handle("GET /api/v1/runs", h.ListRuns)
	handle("GET /api/v1/runs/{id}", h.GetRun)

	// Monitoring
	handle("GET /api/v1/monitor/tasks", h.MonitorTasks)
	handle("GET /api/v1/monitor/stats", h.MonitorStats)
	handle("GET /api/v1/cron/next", h.CronNext)

	// Endpoints
	handle("GET /api/v1/endpoints", h.ListEndpoints)
	handle("POST /api/v1/endpoints", h.CreateEndpoint)
	handle("GET /api/v1/endpoints/{id}", h.GetEndpoint)
	handle("PUT /api/v1/endpoints/{id}", h.UpdateEndpoint)
	handle("DELETE /api/v1/endpoints/{id}", h.DeleteEndpoint)
	handle("POST /api/v1/endpoints/{id}/debug", h.DebugEndpoint)

	// Connections
	handle("GET /api/v1/connections", h.ListConnections)
	handle("POST /api/v1/connections", h.CreateConnection)
	handle("GET /api/v1/connections/{id}", h.GetConnection)
	handle("PUT /api/v1/connections/{id}", h.UpdateConnection)
	handle("DELETE /api/v1/connections/{id}", h.DeleteConnection)
	handle("POST /api/v1/connections/{id}/test", h.TestConnection)
	handle("POST /api/v1/connections/{id}/preview", h.PreviewQuery)

	// System config
	handle("GET /api/v1/config", h.GetConfig)
	handle("PUT /api/v1/config", h.SetConfig)

	// Пользовательские endpoint, любой метод
	handle("/invoke/{path...}", h.Invoke)

	mux.HandleFunc("GET /healthz", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())
}
