// Package queue publishes undeliverable audit entries to RabbitMQ.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bytedance/sonic"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/campus-facilities/internal/application"
)

const (
	// DefaultExchange receives audit dead letters.
	DefaultExchange = "campus.audit"
	// DeadLetterRoutingKey routes dead letters to their queue.
	DeadLetterRoutingKey = "audit.dead_letter"
)

// channel is the subset of *amqp.Channel used by the publisher.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// tableCarrier adapts amqp.Table to a TextMapCarrier for trace propagation.
type tableCarrier amqp.Table

func (c tableCarrier) Get(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

func (c tableCarrier) Set(key, value string) { c[key] = value }

func (c tableCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// DeadLetterMessage is the JSON body of a dead-lettered audit entry.
type DeadLetterMessage struct {
	Entry      deadLetterEntry `json:"entry"`
	Cause      string          `json:"cause"`
	ErrorKind  string          `json:"error_kind"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type deadLetterEntry struct {
	ID          string                             `json:"id"`
	UserID      string                             `json:"user_id"`
	BookingID   *string                            `json:"booking_id,omitempty"`
	ActionType  string                             `json:"action_type"`
	Description string                             `json:"description"`
	Changes     map[string]application.FieldChange `json:"changes"`
	Metadata    map[string]string                  `json:"metadata"`
	PrevDigest  string                             `json:"prev_digest"`
	Digest      string                             `json:"digest"`
	CreatedAt   time.Time                          `json:"created_at"`
}

// DeadLetterPublisher implements application.DeadLetterSink on a RabbitMQ
// topic exchange.
type DeadLetterPublisher struct {
	ch       channel
	exchange string
	now      func() time.Time
	logger   *slog.Logger
}

var _ application.DeadLetterSink = (*DeadLetterPublisher)(nil)

// NewDeadLetterPublisher opens a channel on conn and declares exchange.
func NewDeadLetterPublisher(conn *amqp.Connection, exchange string, logger *slog.Logger) (*DeadLetterPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("queue: open channel: %w", err)
	}
	publisher, err := newDeadLetterPublisher(ch, exchange, time.Now, logger)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	return publisher, nil
}

func newDeadLetterPublisher(ch channel, exchange string, now func() time.Time, logger *slog.Logger) (*DeadLetterPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("queue: declare exchange %s: %w", exchange, err)
	}
	return &DeadLetterPublisher{ch: ch, exchange: exchange, now: now, logger: logger}, nil
}

// Close closes the underlying channel.
func (p *DeadLetterPublisher) Close() error { return p.ch.Close() }

// DeadLetter publishes entry together with the failure that stopped it.
func (p *DeadLetterPublisher) DeadLetter(ctx context.Context, entry application.ActivityLogEntry, cause error) error {
	msg := DeadLetterMessage{
		Entry: deadLetterEntry{
			ID:          entry.ID,
			UserID:      entry.UserID,
			BookingID:   entry.BookingID,
			ActionType:  string(entry.ActionType),
			Description: entry.Description,
			Changes:     entry.Changes,
			Metadata:    entry.Metadata,
			PrevDigest:  entry.PrevDigest,
			Digest:      entry.Digest,
			CreatedAt:   entry.CreatedAt,
		},
		ErrorKind:  application.ErrorKind(cause),
		OccurredAt: p.now().UTC(),
	}
	if cause != nil {
		msg.Cause = cause.Error()
	}

	body, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: encode dead letter: %w", err)
	}

	ctx, span := otel.Tracer("campus-facilities/queue").Start(ctx, "rabbitmq.publish",
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination", p.exchange),
			attribute.String("messaging.rabbitmq.routing_key", DeadLetterRoutingKey),
		))
	defer span.End()

	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, tableCarrier(headers))

	err = p.ch.PublishWithContext(ctx, p.exchange, DeadLetterRoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    entry.ID,
		Timestamp:    msg.OccurredAt,
		Headers:      headers,
		Body:         body,
	})
	if err != nil {
		span.RecordError(err)
		p.logger.ErrorContext(ctx, "failed to publish audit dead letter", "entry_id", entry.ID, "error", err)
		return fmt.Errorf("queue: publish dead letter: %w", err)
	}
	return nil
}
