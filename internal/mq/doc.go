// Package mq связывает datasync с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с автоматическим переподключением
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — события run и запросы на запуск
//   - consumer.go   — потребление очереди с ack/nack
//   - requests.go   — обработчик очереди sync.requests
//
// Типы сообщений:
//   - run.started   — run создан в статусе RUNNING
//   - run.finished  — run финализирован (SUCCESS или FAILURE)
//   - sync.request  — внешний запрос на запуск задачи {"task_id": ...}
//
// MQ необязателен: без AMQP_URL сервер работает без событий и очереди запросов.
package mq
