package health

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ConnectionState reports whether a broker connection is up
type ConnectionState interface {
	Name() string
	IsConnected() bool
}

// QueueInspector inspects a queue without consuming from it
type QueueInspector interface {
	GetQueueInfo(ctx context.Context, name string) (amqp.Queue, error)
}

// ConnectionChecker checks one broker connection
type ConnectionChecker struct {
	purpose    string
	connection ConnectionState
}

// NewConnectionChecker creates a checker for the connection used for purpose,
// such as "receive" or "publish"
func NewConnectionChecker(purpose string, connection ConnectionState) *ConnectionChecker {
	return &ConnectionChecker{
		purpose:    purpose,
		connection: connection,
	}
}

func (c *ConnectionChecker) Name() string {
	return c.purpose + "_connection"
}

func (c *ConnectionChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details: map[string]interface{}{
			"connection_name": c.connection.Name(),
		},
	}

	if c.connection.IsConnected() {
		result.Status = StatusHealthy
		result.Message = "Connection is open"
	} else {
		result.Status = StatusUnhealthy
		result.Message = "Connection is not open"
	}

	result.Duration = time.Since(start)
	return result
}

// QueueChecker checks that a queue exists and has consumers
type QueueChecker struct {
	queue     string
	inspector QueueInspector
}

// NewQueueChecker creates a new queue health checker
func NewQueueChecker(queue string, inspector QueueInspector) *QueueChecker {
	return &QueueChecker{
		queue:     queue,
		inspector: inspector,
	}
}

func (c *QueueChecker) Name() string {
	return "queue_" + c.queue
}

// Check reports unhealthy when the queue cannot be inspected and degraded when
// nobody consumes from it
func (c *QueueChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	q, err := c.inspector.GetQueueInfo(ctx, c.queue)
	result.Duration = time.Since(start)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "Queue is not accessible"
		result.Error = err.Error()
		return result
	}

	result.Details["messages"] = q.Messages
	result.Details["consumers"] = q.Consumers

	if q.Consumers == 0 {
		result.Status = StatusDegraded
		result.Message = "Queue has no consumers"
		return result
	}

	result.Status = StatusHealthy
	result.Message = "Queue is accessible"
	return result
}

// ComponentChecker allows checking custom components
type ComponentChecker struct {
	name    string
	checker func(ctx context.Context) (Status, string, error)
}

// NewComponentChecker creates a checker for custom components
func NewComponentChecker(name string, checker func(ctx context.Context) (Status, string, error)) *ComponentChecker {
	return &ComponentChecker{
		name:    name,
		checker: checker,
	}
}

func (c *ComponentChecker) Name() string {
	return c.name
}

func (c *ComponentChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	status, message, err := c.checker(ctx)

	result := CheckResult{
		Name:      c.name,
		Status:    status,
		Message:   message,
		Timestamp: start,
		Duration:  time.Since(start),
	}
	if err != nil {
		result.Error = err.Error()
		if status == "" {
			result.Status = StatusUnhealthy
		}
	}
	if result.Status == "" {
		result.Status = StatusHealthy
	}

	return result
}
