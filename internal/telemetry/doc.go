// Package telemetry обеспечивает наблюдаемость системы.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики run, батчей и endpoint
//
// Сервер экспортирует метрики на /metrics endpoint.
package telemetry
