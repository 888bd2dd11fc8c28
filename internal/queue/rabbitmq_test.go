package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/campus-facilities/internal/application"
)

type recordingChannel struct {
	declared   []string
	published  []amqp.Publishing
	keys       []string
	publishErr error
	declareErr error
	closed     bool
}

func (c *recordingChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.declared = append(c.declared, name+"/"+kind)
	return c.declareErr
}

func (c *recordingChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	c.keys = append(c.keys, exchange+"|"+key)
	c.published = append(c.published, msg)
	return nil
}

func (c *recordingChannel) Close() error {
	c.closed = true
	return nil
}

var occurredAt = time.Date(2025, time.November, 16, 1, 30, 0, 0, time.UTC)

func newTestPublisher(t *testing.T, ch *recordingChannel) *DeadLetterPublisher {
	t.Helper()
	publisher, err := newDeadLetterPublisher(ch, "", func() time.Time { return occurredAt },
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return publisher
}

func TestDeadLetterPublisher(t *testing.T) {
	ch := &recordingChannel{}
	publisher := newTestPublisher(t, ch)
	assert.Equal(t, []string{"campus.audit/topic"}, ch.declared)

	bookingID := "b-1"
	entry := application.ActivityLogEntry{
		ID:         "log-1",
		UserID:     "student-1",
		BookingID:  &bookingID,
		ActionType: application.ActionCheckedIn,
		Changes:    map[string]application.FieldChange{"status": application.Change("Booked", "Checked In")},
		Metadata:   map[string]string{"actor_id": "staff-1"},
	}
	cause := fmt.Errorf("%w: database is locked", application.ErrAuditWriteFailed)

	require.NoError(t, publisher.DeadLetter(context.Background(), entry, cause))
	require.Len(t, ch.published, 1)
	assert.Equal(t, []string{"campus.audit|audit.dead_letter"}, ch.keys)

	msg := ch.published[0]
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "log-1", msg.MessageId)

	var decoded DeadLetterMessage
	require.NoError(t, sonic.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, "log-1", decoded.Entry.ID)
	assert.Equal(t, "checked_in", decoded.Entry.ActionType)
	assert.Equal(t, "Checked In", *decoded.Entry.Changes["status"].New)
	assert.Equal(t, "audit_write_failed", decoded.ErrorKind)
	assert.Contains(t, decoded.Cause, "database is locked")
	assert.True(t, occurredAt.Equal(decoded.OccurredAt))

	require.NoError(t, publisher.Close())
	assert.True(t, ch.closed)
}

func TestDeadLetterPublisherErrors(t *testing.T) {
	t.Run("publish failure", func(t *testing.T) {
		ch := &recordingChannel{publishErr: errors.New("channel/connection is not open")}
		publisher := newTestPublisher(t, ch)

		err := publisher.DeadLetter(context.Background(), application.ActivityLogEntry{ID: "log-1"}, application.ErrAuditQueueFull)
		assert.ErrorContains(t, err, "channel/connection is not open")
	})

	t.Run("declare failure", func(t *testing.T) {
		ch := &recordingChannel{declareErr: errors.New("access refused")}
		_, err := newDeadLetterPublisher(ch, "custom.audit", time.Now, nil)
		assert.ErrorContains(t, err, "custom.audit")
	})
}
