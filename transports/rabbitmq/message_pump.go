package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/rabbitmq-transport/contracts"
	"github.com/glimte/rabbitmq-transport/internal/rabbitmq"
	"github.com/glimte/rabbitmq-transport/internal/reliability"
	"github.com/glimte/rabbitmq-transport/receiving"
	amqp "github.com/rabbitmq/amqp091-go"
)

// PipelineFunc processes one normalized message. A returned error requeues the delivery.
type PipelineFunc func(ctx context.Context, envelope *contracts.Envelope) error

// QueuePurger drops all messages from a queue
type QueuePurger interface {
	Purge(ctx context.Context, queue string) (int, error)
}

var (
	ErrPumpNotInitialized = errors.New("rabbitmq: message pump not initialized")
	ErrPumpRunning        = errors.New("rabbitmq: message pump already running")
)

// MessagePump consumes the receive queue and hands every message to the pipeline
// after normalizing its metadata.
type MessagePump struct {
	purger    QueuePurger
	converter *receiving.MessageConverter
	settings  Settings
	logger    *slog.Logger
	breaker   *reliability.CircuitBreaker
	consumer  *rabbitmq.Consumer
	backoff   reliability.RetryPolicy

	mu       sync.Mutex
	queue    string
	pipeline PipelineFunc
	cancel   context.CancelFunc
	ctx      context.Context
	running  bool
	wg       sync.WaitGroup
}

// PumpOption configures the message pump
type PumpOption func(*MessagePump)

// WithPumpLogger sets the logger
func WithPumpLogger(logger *slog.Logger) PumpOption {
	return func(p *MessagePump) {
		p.logger = logger
	}
}

// WithResubscribePolicy sets the policy used to resume consuming after the broker closed the subscription
func WithResubscribePolicy(policy reliability.RetryPolicy) PumpOption {
	return func(p *MessagePump) {
		p.backoff = policy
	}
}

// NewMessagePump creates a message pump consuming through the given channel pool
func NewMessagePump(pool *rabbitmq.ChannelPool, purger QueuePurger, settings Settings, options ...PumpOption) *MessagePump {
	p := &MessagePump{
		purger:   purger,
		settings: settings,
		logger:   slog.Default(),
		backoff:  reliability.NewExponentialBackoff(time.Second, 30*time.Second, 2.0, -1),
	}

	for _, opt := range options {
		opt(p)
	}

	p.converter = receiving.NewMessageConverter(receiving.WithMessageIDStrategy(settings.MessageIDStrategy))

	p.breaker = reliability.NewCircuitBreaker(p.onCircuitTriggered,
		reliability.WithName(settings.ConsumerTag()),
		reliability.WithTimeToWait(settings.TimeToWaitBeforeTriggeringCircuitBreaker),
		reliability.WithLogger(p.logger))

	p.consumer = rabbitmq.NewConsumer(pool,
		rabbitmq.WithPrefetchCount(settings.EffectivePrefetchCount()),
		rabbitmq.WithMaxConcurrency(settings.MaxConcurrency),
		rabbitmq.WithConsumerTag(settings.ConsumerTag()),
		rabbitmq.WithClosedHandler(p.onSubscriptionClosed),
		rabbitmq.WithConsumerLogger(p.logger))

	return p
}

// Init sets the queue to consume and the pipeline messages are handed to
func (p *MessagePump) Init(queue string, pipeline PipelineFunc) error {
	if queue == "" {
		return fmt.Errorf("%w: queue is required", rabbitmq.ErrInvalidConfiguration)
	}
	if pipeline == nil {
		return fmt.Errorf("%w: pipeline is required", rabbitmq.ErrInvalidConfiguration)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrPumpRunning
	}
	p.queue = queue
	p.pipeline = pipeline
	return nil
}

// Start purges the queue when configured and starts consuming.
// ctx bounds the startup only; consumption runs until Stop.
func (p *MessagePump) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrPumpRunning
	}
	if p.pipeline == nil {
		return ErrPumpNotInitialized
	}

	if p.settings.PurgeOnStartup && p.purger != nil {
		purged, err := p.purger.Purge(ctx, p.queue)
		if err != nil {
			return fmt.Errorf("failed to purge queue %s: %w", p.queue, err)
		}
		p.logger.Info("purged queue on startup", "queue", p.queue, "messages", purged)
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	if err := p.consumer.Subscribe(p.ctx, p.queue, p.handle); err != nil {
		p.cancel()
		return err
	}

	p.running = true
	p.logger.Info("message pump started",
		"queue", p.queue,
		"consumerTag", p.settings.ConsumerTag(),
		"prefetchCount", p.settings.EffectivePrefetchCount(),
		"maxConcurrency", p.settings.MaxConcurrency)

	return nil
}

// Stop stops consuming and waits for in-flight messages
func (p *MessagePump) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.cancel()
	queue := p.queue
	p.mu.Unlock()

	err := p.consumer.Unsubscribe(queue)
	if errors.Is(err, rabbitmq.ErrConsumerNotFound) {
		err = nil
	}

	p.wg.Wait()
	p.breaker.Stop()

	p.logger.Info("message pump stopped", "queue", queue)
	return err
}

// handle normalizes a delivery and passes it to the pipeline.
// Messages whose identity cannot be resolved are rejected without requeue.
func (p *MessagePump) handle(ctx context.Context, d amqp.Delivery) (rabbitmq.Disposition, error) {
	envelope, err := p.converter.Convert(receiving.FromAMQP(d))
	if err != nil {
		p.logger.Error("failed to normalize message, rejecting it",
			"queue", p.queue,
			"deliveryTag", d.DeliveryTag,
			"error", err)
		return rabbitmq.Reject, err
	}

	if err := p.pipeline(ctx, envelope); err != nil {
		return rabbitmq.Requeue, fmt.Errorf("pipeline failed for message %s: %w", envelope.MessageID, err)
	}

	return rabbitmq.Ack, nil
}

func (p *MessagePump) onSubscriptionClosed(queue string, err error) {
	p.breaker.Failure(err)

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	ctx := p.ctx
	p.wg.Add(1)
	p.mu.Unlock()

	go p.resubscribe(ctx, queue)
}

func (p *MessagePump) resubscribe(ctx context.Context, queue string) {
	defer p.wg.Done()

	err := reliability.Retry(ctx, p.backoff, func() error {
		return p.consumer.Subscribe(ctx, queue, p.handle)
	}, func(attempt int, err error, delay time.Duration) {
		p.breaker.Failure(err)
		p.logger.Warn("failed to resume consuming",
			"queue", queue,
			"attempt", attempt,
			"retryIn", delay,
			"error", err)
	})

	switch {
	case err == nil:
		p.breaker.Success()
		p.logger.Info("resumed consuming", "queue", queue)
	case ctx.Err() == nil:
		p.logger.Error("gave up resuming consumption", "queue", queue, "error", err)
	}
}

func (p *MessagePump) onCircuitTriggered(err error) {
	message := fmt.Sprintf("'%s' failed to consume messages from '%s'", p.settings.ConsumerTag(), p.queue)
	if p.settings.CriticalError != nil {
		p.settings.CriticalError(message, err)
		return
	}
	p.logger.Error(message, "error", err)
}
