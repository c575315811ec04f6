package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeRuns     Exchange = "datasync.runs"
	ExchangeRequests Exchange = "datasync.requests"
	ExchangeDLQ      Exchange = "datasync.dlq"
)

// Queues — имена очередей.
const (
	QueueSyncRequests Queue = "sync.requests"
	QueueRunEvents    Queue = "runs.events"
	QueueDLQRequests  Queue = "dlq.requests"
)

// Routing keys.
const (
	RoutingKeyStarted  RoutingKey = "run.started"
	RoutingKeyFinished RoutingKey = "run.finished"
	RoutingKeyRequest  RoutingKey = "sync.request"
	RoutingKeyDLQ      RoutingKey = "requests"
)

// SetupTopology объявляет обменники, очереди и привязки.
// Операции идемпотентны, вызывается при каждом старте.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		// topic: подписчики могут слушать run.* целиком
		{ExchangeRuns, "topic"},
		{ExchangeRequests, "direct"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}
	return nil
}

func declareQueues(ch *amqp.Channel) error {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQ),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// некорректные запросы уходят в DLQ
		{QueueSyncRequests, dlqArgs},
		{QueueRunEvents, nil},
		{QueueDLQRequests, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}
	return nil
}

func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey string
		exchange   Exchange
	}{
		{QueueSyncRequests, string(RoutingKeyRequest), ExchangeRequests},
		{QueueRunEvents, "run.*", ExchangeRuns},
		{QueueDLQRequests, string(RoutingKeyDLQ), ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue), // queue name
			b.routingKey,    // routing key
			string(b.exchange),
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}
	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  datasync RabbitMQ topology:

    datasync.runs (topic)
    └── runs.events [routing: run.*]
            run.started, run.finished

    datasync.requests (direct)
    └── sync.requests [routing: sync.request]
            Consumer: datasync-server (manual runs)
            DLQ: dlq.requests

    datasync.dlq (direct)
    └── dlq.requests [routing: requests]
  `
}
