package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Disposition tells the consumer how to settle a delivery
type Disposition int

const (
	// Ack acknowledges the delivery
	Ack Disposition = iota
	// Requeue negatively acknowledges the delivery and asks the broker to redeliver it
	Requeue
	// Reject negatively acknowledges the delivery without requeue (dead-letters it when configured)
	Reject
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// MessageHandler processes one delivery. The returned error is only logged; the
// disposition decides how the delivery is settled.
type MessageHandler func(ctx context.Context, delivery amqp.Delivery) (Disposition, error)

// ClosedHandler is notified when a subscription stops because its delivery channel closed
type ClosedHandler func(queue string, err error)

// Consumer manages message consumption from RabbitMQ
type Consumer struct {
	pool            *ChannelPool
	prefetchCount   int
	maxConcurrency  int
	handlerTimeout  time.Duration
	exclusive       bool
	consumerTag     string
	onClosed        ClosedHandler
	logger          *slog.Logger
	activeConsumers sync.Map
}

// ConsumerOption configures the consumer
type ConsumerOption func(*Consumer)

// WithPrefetchCount sets the prefetch count
func WithPrefetchCount(count int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetchCount = count
	}
}

// WithMaxConcurrency bounds the number of deliveries handled in parallel per subscription
func WithMaxConcurrency(n int) ConsumerOption {
	return func(c *Consumer) {
		c.maxConcurrency = n
	}
}

// WithHandlerTimeout bounds the handler context. Zero means no timeout.
func WithHandlerTimeout(timeout time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.handlerTimeout = timeout
	}
}

// WithExclusive sets exclusive consumer mode
func WithExclusive(exclusive bool) ConsumerOption {
	return func(c *Consumer) {
		c.exclusive = exclusive
	}
}

// WithConsumerTag sets the consumer tag
func WithConsumerTag(tag string) ConsumerOption {
	return func(c *Consumer) {
		c.consumerTag = tag
	}
}

// WithClosedHandler registers a callback for subscriptions closed by the broker
func WithClosedHandler(handler ClosedHandler) ConsumerOption {
	return func(c *Consumer) {
		c.onClosed = handler
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer creates a new consumer
func NewConsumer(pool *ChannelPool, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		pool:           pool,
		prefetchCount:  10,
		maxConcurrency: 1,
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	if c.maxConcurrency < 1 {
		c.maxConcurrency = 1
	}

	return c
}

// ConsumerInfo tracks active consumer information
type ConsumerInfo struct {
	Queue       string
	ConsumerTag string
	Channel     *PooledChannel
	Cancel      context.CancelFunc
	Done        chan struct{}
}

// Subscribe starts consuming messages from a queue
func (c *Consumer) Subscribe(ctx context.Context, queue string, handler MessageHandler) error {
	if _, exists := c.activeConsumers.Load(queue); exists {
		return &ConsumerError{
			Queue:       queue,
			ConsumerTag: c.consumerTag,
			Op:          "subscribe",
			Err:         ErrAlreadyConsuming,
			Timestamp:   time.Now(),
		}
	}

	ch, err := c.pool.Get(ctx)
	if err != nil {
		return &ConsumerError{
			Queue:       queue,
			ConsumerTag: c.consumerTag,
			Op:          "subscribe",
			Err:         err,
			Timestamp:   time.Now(),
		}
	}

	if err := ch.Qos(c.prefetchCount, 0, false); err != nil {
		c.pool.Discard(ch)
		return &ConsumerError{
			Queue:       queue,
			ConsumerTag: c.consumerTag,
			Op:          "set qos",
			Err:         err,
			Timestamp:   time.Now(),
		}
	}

	deliveries, err := ch.Consume(
		queue,
		c.consumerTag,
		false, // auto-ack
		c.exclusive,
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		c.pool.Discard(ch)
		return &ConsumerError{
			Queue:       queue,
			ConsumerTag: c.consumerTag,
			Op:          "consume",
			Err:         err,
			Timestamp:   time.Now(),
		}
	}

	consumerCtx, cancel := context.WithCancel(ctx)

	tag := c.consumerTag
	if tag == "" {
		tag = ch.id
	}

	info := &ConsumerInfo{
		Queue:       queue,
		ConsumerTag: tag,
		Channel:     ch,
		Cancel:      cancel,
		Done:        make(chan struct{}),
	}

	c.activeConsumers.Store(queue, info)

	go c.processMessages(consumerCtx, info, deliveries, handler)

	c.logger.Info("subscribed to queue",
		"queue", queue,
		"consumerTag", info.ConsumerTag,
		"prefetchCount", c.prefetchCount,
		"maxConcurrency", c.maxConcurrency,
	)

	return nil
}

// processMessages dispatches deliveries to the handler, at most maxConcurrency at a time
func (c *Consumer) processMessages(ctx context.Context, info *ConsumerInfo, deliveries <-chan amqp.Delivery, handler MessageHandler) {
	var (
		wg        sync.WaitGroup
		closedErr error
	)
	slots := make(chan struct{}, c.maxConcurrency)

	defer func() {
		wg.Wait()
		c.activeConsumers.Delete(info.Queue)
		c.pool.Discard(info.Channel)
		close(info.Done)
		c.logger.Info("consumer stopped", "queue", info.Queue)

		if closedErr != nil && c.onClosed != nil {
			c.onClosed(info.Queue, closedErr)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case delivery, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("delivery channel closed", "queue", info.Queue)
				closedErr = &ConsumerError{
					Queue:       info.Queue,
					ConsumerTag: info.ConsumerTag,
					Op:          "consume",
					Err:         ErrDeliveryChannelClose,
					Timestamp:   time.Now(),
				}
				return
			}

			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				// not handled, the broker redelivers it once the channel closes
				return
			}

			wg.Add(1)
			go func(d amqp.Delivery) {
				defer func() {
					<-slots
					wg.Done()
				}()
				c.handleMessage(ctx, info.Queue, d, handler)
			}(delivery)
		}
	}
}

// handleMessage runs the handler and settles the delivery
func (c *Consumer) handleMessage(ctx context.Context, queue string, delivery amqp.Delivery, handler MessageHandler) {
	msgCtx := ctx
	if c.handlerTimeout > 0 {
		var cancel context.CancelFunc
		msgCtx, cancel = context.WithTimeout(ctx, c.handlerTimeout)
		defer cancel()
	}

	disposition, err := c.invoke(msgCtx, delivery, handler)
	if err != nil {
		c.logger.Error("failed to handle message",
			"error", err,
			"queue", queue,
			"messageId", delivery.MessageId,
			"disposition", disposition.String(),
		)
	}

	if settleErr := settle(delivery, disposition); settleErr != nil {
		c.logger.Error("failed to settle message",
			"error", settleErr,
			"queue", queue,
			"messageId", delivery.MessageId,
			"disposition", disposition.String(),
		)
	}
}

// invoke runs the handler, turning a panic into a requeue
func (c *Consumer) invoke(ctx context.Context, delivery amqp.Delivery, handler MessageHandler) (disposition Disposition, err error) {
	defer func() {
		if r := recover(); r != nil {
			disposition = Requeue
			err = fmt.Errorf("panic in message handler: %v", r)
		}
	}()
	return handler(ctx, delivery)
}

func settle(delivery amqp.Delivery, disposition Disposition) error {
	switch disposition {
	case Ack:
		return delivery.Ack(false)
	case Reject:
		return delivery.Nack(false, false)
	default:
		return delivery.Nack(false, true)
	}
}

// Unsubscribe stops consuming from a queue and waits for in-flight handlers
func (c *Consumer) Unsubscribe(queue string) error {
	value, ok := c.activeConsumers.Load(queue)
	if !ok {
		return fmt.Errorf("%w for queue: %s", ErrConsumerNotFound, queue)
	}

	info := value.(*ConsumerInfo)

	// closing the channel on the way out cancels the broker-side consumer
	info.Cancel()
	<-info.Done

	return nil
}

// UnsubscribeAll stops all active consumers
func (c *Consumer) UnsubscribeAll() error {
	var wg sync.WaitGroup

	c.activeConsumers.Range(func(key, value interface{}) bool {
		wg.Add(1)
		go func(queue string) {
			defer wg.Done()
			if err := c.Unsubscribe(queue); err != nil {
				c.logger.Error("failed to unsubscribe", "queue", queue, "error", err)
			}
		}(key.(string))
		return true
	})

	wg.Wait()
	return nil
}

// GetActiveConsumers returns a list of active consumer queues
func (c *Consumer) GetActiveConsumers() []string {
	var queues []string
	c.activeConsumers.Range(func(key, value interface{}) bool {
		queues = append(queues, key.(string))
		return true
	})
	return queues
}
