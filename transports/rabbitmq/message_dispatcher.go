package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/glimte/rabbitmq-transport/contracts"
	"github.com/glimte/rabbitmq-transport/internal/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
)

// BatchPublisher publishes a batch of messages and waits for their confirmation
type BatchPublisher interface {
	PublishBatch(ctx context.Context, messages []rabbitmq.PublishMessage) error
}

// OutgoingMessage is an envelope addressed to a queue
type OutgoingMessage struct {
	Destination      string
	Envelope         *contracts.Envelope
	TimeToBeReceived time.Duration // zero means the message never expires
}

// MessageDispatcher sends envelopes to queues through the default exchange
type MessageDispatcher struct {
	publisher BatchPublisher
	breaker   *gobreaker.CircuitBreaker
	durable   bool
	logger    *slog.Logger
}

// DispatcherOption configures the dispatcher
type DispatcherOption func(*dispatcherConfig)

type dispatcherConfig struct {
	logger           *slog.Logger
	durable          bool
	failureThreshold uint32
	resetTimeout     time.Duration
}

// WithDispatcherLogger sets the logger
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(c *dispatcherConfig) {
		c.logger = logger
	}
}

// WithDurableMessages sets the delivery mode used when a message does not ask for non-durable delivery
func WithDurableMessages(durable bool) DispatcherOption {
	return func(c *dispatcherConfig) {
		c.durable = durable
	}
}

// WithDispatchCircuitBreaker sets how many consecutive failures open the dispatch breaker
// and how long it stays open
func WithDispatchCircuitBreaker(failureThreshold uint32, resetTimeout time.Duration) DispatcherOption {
	return func(c *dispatcherConfig) {
		c.failureThreshold = failureThreshold
		c.resetTimeout = resetTimeout
	}
}

// NewMessageDispatcher creates a dispatcher on top of a publisher
func NewMessageDispatcher(publisher BatchPublisher, options ...DispatcherOption) *MessageDispatcher {
	cfg := &dispatcherConfig{
		logger:           slog.Default(),
		durable:          true,
		failureThreshold: 5,
		resetTimeout:     30 * time.Second,
	}
	for _, opt := range options {
		opt(cfg)
	}

	logger := cfg.logger
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "dispatch",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.failureThreshold
		},
		IsSuccessful: func(err error) bool {
			// unroutable messages and caller cancellations are not broker failures
			return err == nil ||
				errors.Is(err, rabbitmq.ErrMessageReturned) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("dispatch circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return &MessageDispatcher{
		publisher: publisher,
		breaker:   breaker,
		durable:   cfg.durable,
		logger:    logger,
	}
}

// Dispatch publishes the messages as one confirmed batch
func (d *MessageDispatcher) Dispatch(ctx context.Context, messages ...OutgoingMessage) error {
	if len(messages) == 0 {
		return nil
	}

	batch := make([]rabbitmq.PublishMessage, 0, len(messages))
	for _, m := range messages {
		if m.Destination == "" {
			return fmt.Errorf("%w: message has no destination", rabbitmq.ErrInvalidConfiguration)
		}
		if m.Envelope == nil || m.Envelope.MessageID == "" {
			return fmt.Errorf("%w: message to %s has no message id", rabbitmq.ErrInvalidConfiguration, m.Destination)
		}

		batch = append(batch, rabbitmq.PublishMessage{
			Exchange:   "",
			RoutingKey: m.Destination,
			Mandatory:  true,
			Message:    ToPublishing(m.Envelope, d.durable, m.TimeToBeReceived),
		})
	}

	_, err := d.breaker.Execute(func() (interface{}, error) {
		return nil, d.publisher.PublishBatch(ctx, batch)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("dispatch suspended after repeated broker failures: %w", err)
	}
	if err != nil {
		return err
	}

	d.logger.Debug("dispatched messages", "count", len(batch), "firstMessageId", batch[0].Message.MessageId)
	return nil
}

// ToPublishing maps an envelope onto AMQP properties. Every header is copied; the
// reserved headers also fill the matching native properties so that native consumers
// and the receiving side agree.
func ToPublishing(envelope *contracts.Envelope, durableByDefault bool, timeToBeReceived time.Duration) amqp.Publishing {
	msg := amqp.Publishing{
		MessageId: envelope.MessageID,
		Timestamp: time.Now().UTC(),
		Body:      envelope.Body,
	}

	if len(envelope.Headers) > 0 {
		msg.Headers = make(amqp.Table, len(envelope.Headers))
		for k, v := range envelope.Headers {
			msg.Headers[k] = v
		}
	}

	if v, ok := envelope.Header(contracts.HeaderReplyToAddress); ok {
		msg.ReplyTo = v
	}
	if v, ok := envelope.Header(contracts.HeaderCorrelationID); ok {
		msg.CorrelationId = v
	}
	if v, ok := envelope.Header(contracts.HeaderEnclosedMessageTypes); ok {
		msg.Type = v
	}
	if v, ok := envelope.Header(contracts.HeaderContentType); ok {
		msg.ContentType = v
	}

	msg.DeliveryMode = amqp.Persistent
	switch v, ok := envelope.Header(contracts.HeaderNonDurableMessage); {
	case ok && v == contracts.HeaderValueTrue:
		msg.DeliveryMode = amqp.Transient
	case !ok && !durableByDefault:
		msg.DeliveryMode = amqp.Transient
	}

	if timeToBeReceived > 0 {
		// "0" would expire the message at once
		ms := timeToBeReceived.Milliseconds()
		if ms < 1 {
			ms = 1
		}
		msg.Expiration = strconv.FormatInt(ms, 10)
	}

	return msg
}
