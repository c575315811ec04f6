package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/datasync/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRunStarted  MessageType = "run.started"
	MessageTypeRunFinished MessageType = "run.finished"
	MessageTypeSyncRequest MessageType = "sync.request"
)

// Message — конверт сообщения.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// RunEventPayload — payload событий run.started и run.finished.
type RunEventPayload struct {
	RunID          uuid.UUID        `json:"run_id"`
	TaskID         uuid.UUID        `json:"task_id"`
	TaskName       string           `json:"task_name"`
	Status         domain.RunStatus `json:"status"`
	TotalCount     int64            `json:"total_count"`
	ProcessedCount int64            `json:"processed_count"`
	DurationMs     int64            `json:"duration_ms,omitempty"`
	Message        string           `json:"message,omitempty"`
}

// SyncRequestPayload — запрос на ручной запуск задачи.
type SyncRequestPayload struct {
	TaskID uuid.UUID `json:"task_id"`
}

// NewRunEventPayload собирает payload события из run.
func NewRunEventPayload(run *domain.SyncRun) RunEventPayload {
	return RunEventPayload{
		RunID:          run.ID,
		TaskID:         run.TaskID,
		TaskName:       run.TaskName,
		Status:         run.Status,
		TotalCount:     run.TotalCount,
		ProcessedCount: run.ProcessedCount,
		DurationMs:     run.DurationMs,
		Message:        run.Message,
	}
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger.With("component", "publisher"),
	}
}

// newMessage создаёт конверт с новым ID.
func newMessage(t MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// Publish публикует сообщение в exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),
			string(routingKey),
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishRunStarted публикует событие о начале run.
func (p *Publisher) PublishRunStarted(ctx context.Context, run *domain.SyncRun) error {
	msg := newMessage(MessageTypeRunStarted, NewRunEventPayload(run))
	return p.Publish(ctx, ExchangeRuns, RoutingKeyStarted, msg)
}

// PublishRunFinished публикует событие о завершении run (SUCCESS или FAILURE).
func (p *Publisher) PublishRunFinished(ctx context.Context, run *domain.SyncRun) error {
	msg := newMessage(MessageTypeRunFinished, NewRunEventPayload(run))
	return p.Publish(ctx, ExchangeRuns, RoutingKeyFinished, msg)
}

// PublishSyncRequest ставит в очередь запрос на запуск задачи.
func (p *Publisher) PublishSyncRequest(ctx context.Context, taskID uuid.UUID) error {
	msg := newMessage(MessageTypeSyncRequest, SyncRequestPayload{TaskID: taskID})
	return p.Publish(ctx, ExchangeRequests, RoutingKeyRequest, msg)
}
