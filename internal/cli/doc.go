// Package cli реализует инструмент командной строки datasync.
//
// # Обзор
//
// CLI работает через HTTP API сервера и не импортирует его пакеты.
// Единственное исключение: task run --queue публикует запрос
// напрямую в RabbitMQ через internal/mq.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для datasync API. Разбирает {"data": ...} и
// {"error": {"code", "message"}}; ошибки сервера возвращаются как *APIError.
//
//	client := cli.NewClient("http://localhost:8080")
//	tasks, err := client.ListTasks()
//
// ## Output
//
// Таблицы (text/tabwriter) по умолчанию, JSON с флагом --json.
// Данные выводятся в stdout, сообщения в stderr:
// datasync task list --json | jq .
//
// ## Commands
//
//   - task: list, show, run, enable, disable, copy
//   - run: list, show
//   - monitor [--stats]
//   - cron next EXPR
//
// Каждая группа создаётся фабрикой (NewTaskCmd и т.д.), принимающей
// clientFn и outputFn: Client и Output создаются после разбора флагов.
package cli
