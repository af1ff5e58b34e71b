package rabbitmq

import (
	"fmt"
	"os"
	"time"

	"github.com/glimte/rabbitmq-transport/internal/rabbitmq"
	"github.com/glimte/rabbitmq-transport/receiving"
)

// CriticalErrorFunc is called when the transport cannot keep receiving messages
type CriticalErrorFunc func(message string, err error)

// Settings holds the transport settings
type Settings struct {
	// EndpointName is the logical endpoint; its queue is the receive queue
	EndpointName string

	// HostDisplayName identifies this process in consumer tags and connection names.
	// Defaults to the host name.
	HostDisplayName string

	// UsePublisherConfirms waits for broker confirmation of every dispatched message
	UsePublisherConfirms bool

	// TimeToWaitBeforeTriggeringCircuitBreaker is how long receiving may keep failing
	// before the critical error callback runs
	TimeToWaitBeforeTriggeringCircuitBreaker time.Duration

	// PrefetchMultiplier is multiplied by MaxConcurrency when PrefetchCount is 0
	PrefetchMultiplier int

	// PrefetchCount overrides the computed prefetch when positive
	PrefetchCount int

	// MaxConcurrency bounds the number of messages processed in parallel
	MaxConcurrency int

	// MessageIDStrategy replaces the default message id strategy when set
	MessageIDStrategy receiving.MessageIDStrategy

	// DurableMessages makes queues durable and messages persistent unless a message
	// asks for non-durable delivery
	DurableMessages bool

	// PurgeOnStartup drops all messages from the receive queue when the pump starts
	PurgeOnStartup bool

	// CriticalError is notified when the circuit breaker triggers
	CriticalError CriticalErrorFunc
}

// DefaultSettings returns the default transport settings
func DefaultSettings() Settings {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}

	return Settings{
		HostDisplayName:                          host,
		UsePublisherConfirms:                     true,
		TimeToWaitBeforeTriggeringCircuitBreaker: 2 * time.Minute,
		PrefetchMultiplier:                       3,
		PrefetchCount:                            0,
		MaxConcurrency:                           1,
		DurableMessages:                          true,
	}
}

// Validate checks the settings
func (s Settings) Validate() error {
	if s.EndpointName == "" {
		return fmt.Errorf("%w: endpoint name is required", rabbitmq.ErrInvalidConfiguration)
	}
	if s.MaxConcurrency < 1 {
		return fmt.Errorf("%w: max concurrency must be at least 1", rabbitmq.ErrInvalidConfiguration)
	}
	if s.PrefetchCount < 0 {
		return fmt.Errorf("%w: prefetch count must not be negative", rabbitmq.ErrInvalidConfiguration)
	}
	if s.PrefetchCount == 0 && s.PrefetchMultiplier < 1 {
		return fmt.Errorf("%w: prefetch multiplier must be at least 1", rabbitmq.ErrInvalidConfiguration)
	}
	if s.TimeToWaitBeforeTriggeringCircuitBreaker <= 0 {
		return fmt.Errorf("%w: circuit breaker wait time must be positive", rabbitmq.ErrInvalidConfiguration)
	}
	return nil
}

// EffectivePrefetchCount is PrefetchCount when set, otherwise PrefetchMultiplier × MaxConcurrency
func (s Settings) EffectivePrefetchCount() int {
	if s.PrefetchCount > 0 {
		return s.PrefetchCount
	}
	return s.PrefetchMultiplier * s.MaxConcurrency
}

// ConsumerTag identifies this endpoint instance to the broker
func (s Settings) ConsumerTag() string {
	return fmt.Sprintf("%s - %s", s.HostDisplayName, s.EndpointName)
}
