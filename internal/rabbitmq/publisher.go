package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher handles message publishing to RabbitMQ
type Publisher struct {
	pool           *ChannelPool
	confirms       bool
	confirmTimeout time.Duration
	publishTimeout time.Duration
	maxRetries     int
	logger         *slog.Logger
}

// PublisherOption configures the publisher
type PublisherOption func(*Publisher)

// WithConfirmTimeout sets the confirmation timeout
func WithConfirmTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.confirmTimeout = timeout
	}
}

// WithPublishTimeout sets the publish timeout used when the context has no deadline
func WithPublishTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.publishTimeout = timeout
	}
}

// WithPublishRetries sets the maximum number of publish retries
func WithPublishRetries(retries int) PublisherOption {
	return func(p *Publisher) {
		p.maxRetries = retries
	}
}

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithConfirmMode enables or disables publisher confirms
func WithConfirmMode(enabled bool) PublisherOption {
	return func(p *Publisher) {
		p.confirms = enabled
	}
}

// NewPublisher creates a new publisher
func NewPublisher(pool *ChannelPool, options ...PublisherOption) *Publisher {
	p := &Publisher{
		pool:           pool,
		confirms:       true,
		confirmTimeout: 5 * time.Second,
		publishTimeout: 10 * time.Second,
		maxRetries:     3,
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// PublishMessage represents a message to be published
type PublishMessage struct {
	Exchange   string
	RoutingKey string
	Mandatory  bool
	Message    amqp.Publishing
}

// Publish publishes one message, waiting for the broker confirmation when confirms are enabled
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	return p.PublishBatch(ctx, []PublishMessage{{
		Exchange:   exchange,
		RoutingKey: routingKey,
		Mandatory:  p.confirms,
		Message:    msg,
	}})
}

// PublishBatch publishes messages on one channel and waits for all confirmations.
// The batch is retried as a whole on retryable failures.
func (p *Publisher) PublishBatch(ctx context.Context, messages []PublishMessage) error {
	if len(messages) == 0 {
		return nil
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.publishTimeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			p.logger.Warn("retrying publish",
				"attempt", attempt,
				"messages", len(messages),
				"error", lastErr)
		}

		err := p.publishOnce(ctx, messages)
		if err == nil {
			return nil
		}

		lastErr = err
		if !IsRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("failed to publish after %d attempts: %w", p.maxRetries+1, lastErr)
}

func (p *Publisher) publishOnce(ctx context.Context, messages []PublishMessage) error {
	first := messages[0]

	ch, err := p.pool.Get(ctx)
	if err != nil {
		return &PublishError{
			Exchange:   first.Exchange,
			RoutingKey: first.RoutingKey,
			MessageID:  first.Message.MessageId,
			Err:        err,
			Timestamp:  time.Now(),
		}
	}

	if p.confirms {
		if err := ch.EnableConfirms(); err != nil {
			p.pool.Discard(ch)
			return fmt.Errorf("failed to enable confirms: %w", err)
		}
	}

	for _, m := range messages {
		if err := ch.PublishWithContext(ctx, m.Exchange, m.RoutingKey, m.Mandatory, false, m.Message); err != nil {
			p.pool.Discard(ch)
			return &PublishError{
				Exchange:   m.Exchange,
				RoutingKey: m.RoutingKey,
				MessageID:  m.Message.MessageId,
				Err:        err,
				Timestamp:  time.Now(),
			}
		}
	}

	if !p.confirms {
		p.pool.Put(ch)
		return nil
	}

	if err := p.awaitConfirms(ctx, ch, messages); err != nil {
		// pending confirmations would be attributed to the next user of the channel
		p.pool.Discard(ch)
		return err
	}

	p.pool.Put(ch)
	return nil
}

func (p *Publisher) awaitConfirms(ctx context.Context, ch *PooledChannel, messages []PublishMessage) error {
	timeout := time.NewTimer(p.confirmTimeout)
	defer timeout.Stop()

	var returned *amqp.Return
	for confirmed := 0; confirmed < len(messages); {
		select {
		case confirm, ok := <-ch.Confirms():
			if !ok {
				return &PublishError{
					Exchange:   messages[confirmed].Exchange,
					RoutingKey: messages[confirmed].RoutingKey,
					MessageID:  messages[confirmed].Message.MessageId,
					Err:        ErrChannelClosed,
					Timestamp:  time.Now(),
				}
			}
			if !confirm.Ack {
				m := messages[confirmed]
				return &PublishError{
					Exchange:   m.Exchange,
					RoutingKey: m.RoutingKey,
					MessageID:  m.Message.MessageId,
					Err:        ErrPublishNotConfirmed,
					Timestamp:  time.Now(),
				}
			}
			confirmed++

		case ret := <-ch.Returns():
			// basic.return precedes the ack of the same message
			r := ret
			returned = &r

		case <-timeout.C:
			m := messages[confirmed]
			return &PublishError{
				Exchange:   m.Exchange,
				RoutingKey: m.RoutingKey,
				MessageID:  m.Message.MessageId,
				Err:        ErrPublishTimeout,
				Timestamp:  time.Now(),
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if returned == nil {
		select {
		case ret := <-ch.Returns():
			returned = &ret
		default:
		}
	}

	if returned != nil {
		return &PublishError{
			Exchange:   returned.Exchange,
			RoutingKey: returned.RoutingKey,
			MessageID:  returned.MessageId,
			Err:        fmt.Errorf("%w: %s", ErrMessageReturned, returned.ReplyText),
			Timestamp:  time.Now(),
		}
	}

	return nil
}

// Close closes the publisher. The channel pool is owned by the caller.
func (p *Publisher) Close() error {
	return nil
}
