package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/temcen/cinerank/internal/config"
	"github.com/temcen/cinerank/internal/validation"
	"github.com/temcen/cinerank/pkg/models"
)

const maxHandlerRetries = 3

// messageWriter and messageReader are the parts of kafka.Writer and kafka.Reader
// the bus uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// InteractionHandler processes one validated interaction event.
type InteractionHandler func(ctx context.Context, event models.InteractionEvent) error

// MessageBus publishes interaction events and consumes them for cache
// invalidation. Events that fail schema validation or keep failing in the
// handler are forwarded to the dead letter topic.
type MessageBus struct {
	writer    messageWriter
	reader    messageReader
	dlqWriter messageWriter
	validator *validation.SchemaValidator
	topic     string
	retryBase time.Duration
	logger    *logrus.Logger
}

func NewMessageBus(cfg config.KafkaConfig, validator *validation.SchemaValidator, logger *logrus.Logger) *MessageBus {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topics.UserInteractions,
		Balancer:     &kafka.Hash{}, // keyed by user so a user's events stay ordered
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topics.UserInteractions,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})

	dlqWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topics.UserInteractionsDLQ,
		RequiredAcks: kafka.RequireOne,
	}

	return newMessageBus(writer, dlqWriter, reader, validator, cfg.Topics.UserInteractions, logger)
}

func newMessageBus(writer, dlqWriter messageWriter, reader messageReader, validator *validation.SchemaValidator, topic string, logger *logrus.Logger) *MessageBus {
	return &MessageBus{
		writer:    writer,
		reader:    reader,
		dlqWriter: dlqWriter,
		validator: validator,
		topic:     topic,
		retryBase: time.Second,
		logger:    logger,
	}
}

// PublishInteraction writes an event keyed by user ID.
func (mb *MessageBus) PublishInteraction(ctx context.Context, event models.InteractionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal interaction event: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(event.UserID.String()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "interaction_type", Value: []byte(event.InteractionType)},
			{Key: "timestamp", Value: []byte(event.Timestamp.Format(time.RFC3339))},
		},
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := mb.writer.WriteMessages(writeCtx, message); err != nil {
		return fmt.Errorf("failed to write interaction event to Kafka: %w", err)
	}

	mb.logger.WithFields(logrus.Fields{
		"user_id":  event.UserID,
		"movie_id": event.MovieID,
		"topic":    mb.topic,
	}).Debug("Interaction event published")

	return nil
}

// ConsumeInteractions processes events until ctx is cancelled. Each message is
// committed once it was handled or dead-lettered.
func (mb *MessageBus) ConsumeInteractions(ctx context.Context, handler InteractionHandler) error {
	for {
		message, err := mb.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			mb.logger.WithError(err).Error("Failed to read message from Kafka")
			continue
		}

		mb.process(ctx, message, handler)

		if err := mb.reader.CommitMessages(ctx, message); err != nil {
			mb.logger.WithError(err).WithField("offset", message.Offset).Warn("Failed to commit Kafka message")
		}
	}
}

func (mb *MessageBus) process(ctx context.Context, message kafka.Message, handler InteractionHandler) {
	if result := mb.validator.ValidateInteractionEvent(message.Value); !result.Valid {
		mb.deadLetter(ctx, message, result.Err())
		return
	}

	var event models.InteractionEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		mb.deadLetter(ctx, message, err)
		return
	}

	if err := mb.processWithRetry(ctx, event, handler); err != nil {
		mb.deadLetter(ctx, message, err)
	}
}

func (mb *MessageBus) processWithRetry(ctx context.Context, event models.InteractionEvent, handler InteractionHandler) error {
	var err error
	for attempt := 0; attempt <= maxHandlerRetries; attempt++ {
		if attempt > 0 {
			delay := mb.retryBase * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err = handler(ctx, event); err == nil {
			return nil
		}
		mb.logger.WithError(err).WithFields(logrus.Fields{
			"user_id": event.UserID,
			"attempt": attempt,
		}).Warn("Interaction event handling failed")
	}
	return fmt.Errorf("max retries exceeded: %w", err)
}

// DeadLetter is the envelope written to the dead letter topic.
type DeadLetter struct {
	OriginalTopic string          `json:"original_topic"`
	Payload       json.RawMessage `json:"payload"`
	Error         string          `json:"error"`
	DLQTimestamp  time.Time       `json:"dlq_timestamp"`
}

func (mb *MessageBus) deadLetter(ctx context.Context, message kafka.Message, cause error) {
	payload := message.Value
	if !json.Valid(payload) {
		payload, _ = json.Marshal(string(message.Value))
	}

	envelope, err := json.Marshal(DeadLetter{
		OriginalTopic: mb.topic,
		Payload:       payload,
		Error:         cause.Error(),
		DLQTimestamp:  time.Now().UTC(),
	})
	if err != nil {
		mb.logger.WithError(err).Error("Failed to marshal DLQ message")
		return
	}

	dlqMessage := kafka.Message{
		Key:   message.Key,
		Value: envelope,
		Headers: []kafka.Header{
			{Key: "original_topic", Value: []byte(mb.topic)},
			{Key: "error", Value: []byte(cause.Error())},
		},
	}
	if err := mb.dlqWriter.WriteMessages(ctx, dlqMessage); err != nil {
		mb.logger.WithError(err).Error("Failed to send message to DLQ")
		return
	}

	mb.logger.WithError(cause).WithField("offset", message.Offset).Warn("Message sent to DLQ")
}

func (mb *MessageBus) Close() error {
	var errs []error
	if err := mb.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close producer: %w", err))
	}
	if err := mb.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close consumer: %w", err))
	}
	if err := mb.dlqWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close DLQ writer: %w", err))
	}
	return errors.Join(errs...)
}
