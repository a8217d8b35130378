package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/cinerank/internal/validation"
	"github.com/temcen/cinerank/pkg/models"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	messages  []kafka.Message
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(_ context.Context) (kafka.Message, error) {
	if len(r.messages) == 0 {
		return kafka.Message{}, io.EOF
	}
	m := r.messages[0]
	r.messages = r.messages[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func newTestBus(t *testing.T, reader *fakeReader) (*MessageBus, *fakeWriter, *fakeWriter) {
	t.Helper()
	validator, err := validation.NewSchemaValidator()
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	writer, dlq := &fakeWriter{}, &fakeWriter{}
	bus := newMessageBus(writer, dlq, reader, validator, "user-interactions", logger)
	bus.retryBase = time.Millisecond
	return bus, writer, dlq
}

func validEvent() models.InteractionEvent {
	value := 8.0
	return models.InteractionEvent{
		EventType:       "interaction_recorded",
		UserID:          uuid.New(),
		MovieID:         550,
		InteractionType: models.InteractionRating,
		Value:           &value,
		Timestamp:       time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMessageBus_PublishInteraction(t *testing.T) {
	bus, writer, _ := newTestBus(t, &fakeReader{})
	event := validEvent()

	require.NoError(t, bus.PublishInteraction(context.Background(), event))

	require.Len(t, writer.messages, 1)
	assert.Equal(t, event.UserID.String(), string(writer.messages[0].Key))

	var decoded models.InteractionEvent
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &decoded))
	assert.Equal(t, event.UserID, decoded.UserID)
	assert.Equal(t, event.MovieID, decoded.MovieID)
}

func TestMessageBus_PublishInteraction_WriteError(t *testing.T) {
	bus, writer, _ := newTestBus(t, &fakeReader{})
	writer.err = errors.New("broker down")

	err := bus.PublishInteraction(context.Background(), validEvent())
	assert.ErrorContains(t, err, "broker down")
}

func TestMessageBus_ConsumeInteractions(t *testing.T) {
	event := validEvent()
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	t.Run("valid event is handled and committed", func(t *testing.T) {
		reader := &fakeReader{messages: []kafka.Message{{Value: payload, Offset: 1}}}
		bus, _, dlq := newTestBus(t, reader)

		var handled []models.InteractionEvent
		err := bus.ConsumeInteractions(context.Background(), func(_ context.Context, e models.InteractionEvent) error {
			handled = append(handled, e)
			return nil
		})

		require.NoError(t, err)
		require.Len(t, handled, 1)
		assert.Equal(t, event.UserID, handled[0].UserID)
		assert.Len(t, reader.committed, 1)
		assert.Empty(t, dlq.messages)
	})

	t.Run("event failing the schema goes to the DLQ", func(t *testing.T) {
		bad := []byte(`{"event_type":"interaction_recorded","movie_id":0,"interaction_type":"rating"}`)
		reader := &fakeReader{messages: []kafka.Message{{Value: bad, Offset: 2}}}
		bus, _, dlq := newTestBus(t, reader)

		called := false
		err := bus.ConsumeInteractions(context.Background(), func(context.Context, models.InteractionEvent) error {
			called = true
			return nil
		})

		require.NoError(t, err)
		assert.False(t, called)
		require.Len(t, dlq.messages, 1)
		assert.Len(t, reader.committed, 1)

		var letter DeadLetter
		require.NoError(t, json.Unmarshal(dlq.messages[0].Value, &letter))
		assert.Equal(t, "user-interactions", letter.OriginalTopic)
		assert.NotEmpty(t, letter.Error)
	})

	t.Run("handler failures are retried then dead-lettered", func(t *testing.T) {
		reader := &fakeReader{messages: []kafka.Message{{Value: payload, Offset: 3}}}
		bus, _, dlq := newTestBus(t, reader)

		attempts := 0
		err := bus.ConsumeInteractions(context.Background(), func(context.Context, models.InteractionEvent) error {
			attempts++
			return errors.New("redis unavailable")
		})

		require.NoError(t, err)
		assert.Equal(t, maxHandlerRetries+1, attempts)
		assert.Len(t, dlq.messages, 1)
	})

	t.Run("non-JSON payload is wrapped as a string", func(t *testing.T) {
		reader := &fakeReader{messages: []kafka.Message{{Value: []byte("not json")}}}
		bus, _, dlq := newTestBus(t, reader)

		require.NoError(t, bus.ConsumeInteractions(context.Background(), func(context.Context, models.InteractionEvent) error {
			return nil
		}))

		require.Len(t, dlq.messages, 1)
		var letter DeadLetter
		require.NoError(t, json.Unmarshal(dlq.messages[0].Value, &letter))
		assert.JSONEq(t, `"not json"`, string(letter.Payload))
	})
}
