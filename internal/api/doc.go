// Package api содержит HTTP API сервера datasync.
//
// Структура:
//   - handler.go            — Handler и интерфейсы зависимостей
//   - routes.go             — регистрация маршрутов
//   - middleware.go         — middleware (logging, recovery)
//   - response.go           — унифицированные JSON-ответы и обработка ошибок
//   - dto.go                — запросы и их валидация
//   - task_handler.go       — /tasks: CRUD, запуск, копия, последний run
//   - run_handler.go        — /runs
//   - monitor_handler.go    — /monitor, /cron/next, /config, /healthz
//   - endpoint_handler.go   — /endpoints и вызов /invoke/{path...}
//   - connection_handler.go — /connections: CRUD, проверка, предпросмотр SQL
//
// Успешный ответ: {"data": ...}, ошибка: {"error": {"code", "message"}}.
package api
