package rabbitmq

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// TopologyManager declares and maintains the queues the transport consumes from
type TopologyManager struct {
	pool *ChannelPool
}

// QueueDeclaration defines a queue to be declared
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// Binding defines a queue-to-exchange binding
type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
	Arguments  amqp.Table
}

// NewTopologyManager creates a new topology manager
func NewTopologyManager(pool *ChannelPool) *TopologyManager {
	return &TopologyManager{
		pool: pool,
	}
}

// DeclareQueue declares a single queue
func (tm *TopologyManager) DeclareQueue(ctx context.Context, queue QueueDeclaration) (amqp.Queue, error) {
	var q amqp.Queue
	err := tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		var err error
		q, err = declareQueue(ch, queue)
		return err
	})
	if err != nil {
		return q, topologyError("queue", queue.Name, "declare", err)
	}
	return q, nil
}

// DeclareQueues declares several queues on one channel. It stops at the first failure.
func (tm *TopologyManager) DeclareQueues(ctx context.Context, queues ...QueueDeclaration) error {
	var failed string
	err := tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		for _, queue := range queues {
			if _, err := declareQueue(ch, queue); err != nil {
				failed = queue.Name
				return err
			}
		}
		return nil
	})
	if err != nil {
		return topologyError("queue", failed, "declare", err)
	}
	return nil
}

// BindQueue creates a queue binding
func (tm *TopologyManager) BindQueue(ctx context.Context, binding Binding) error {
	err := tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		return ch.QueueBind(
			binding.Queue,
			binding.RoutingKey,
			binding.Exchange,
			false, // no-wait
			binding.Arguments,
		)
	})
	if err != nil {
		return topologyError("binding", binding.Queue+"->"+binding.Exchange, "bind", err)
	}
	return nil
}

// Purge removes all ready messages from a queue and returns how many were dropped
func (tm *TopologyManager) Purge(ctx context.Context, queue string) (int, error) {
	var purged int
	err := tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		var err error
		purged, err = ch.QueuePurge(queue, false)
		return err
	})
	if err != nil {
		return 0, topologyError("queue", queue, "purge", err)
	}
	return purged, nil
}

// GetQueueInfo retrieves queue information
func (tm *TopologyManager) GetQueueInfo(ctx context.Context, name string) (amqp.Queue, error) {
	var q amqp.Queue
	err := tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		var err error
		q, err = ch.QueueInspect(name)
		return err
	})
	if err != nil {
		return q, topologyError("queue", name, "inspect", err)
	}
	return q, nil
}

func declareQueue(ch *amqp.Channel, queue QueueDeclaration) (amqp.Queue, error) {
	return ch.QueueDeclare(
		queue.Name,
		queue.Durable,
		queue.AutoDelete,
		queue.Exclusive,
		false, // no-wait
		queue.Arguments,
	)
}

func topologyError(component, name, op string, err error) error {
	return &TopologyError{
		Component: component,
		Name:      name,
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
	}
}
