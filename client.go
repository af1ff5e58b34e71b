// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rabbitmqtransport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/rabbitmq-transport/contracts"
	"github.com/glimte/rabbitmq-transport/health"
	"github.com/glimte/rabbitmq-transport/interceptors"
	"github.com/glimte/rabbitmq-transport/receiving"
	rabbitmqTransport "github.com/glimte/rabbitmq-transport/transports/rabbitmq"
)

// ErrClientClosed is returned by operations on a closed client
var ErrClientClosed = errors.New("rabbitmq: client closed")

// Client provides the main entry point: one endpoint receiving from its queue
// and sending to other queues
type Client struct {
	transport *rabbitmqTransport.Transport
	chain     *interceptors.InterceptorChain
	logger    *slog.Logger

	mu     sync.Mutex
	pumps  []*rabbitmqTransport.MessagePump
	closed bool
}

// NewClient connects to the broker and declares the endpoint queue
func NewClient(connectionString string, options ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		logger:   slog.Default(),
		settings: rabbitmqTransport.DefaultSettings(),
	}

	for _, opt := range options {
		opt(cfg)
	}

	transportOpts := append([]rabbitmqTransport.TransportOption{
		rabbitmqTransport.WithLogger(cfg.logger),
	}, cfg.transportOptions...)

	transport, err := rabbitmqTransport.NewTransport(connectionString, cfg.settings, transportOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	ctx := context.Background()
	if err := transport.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start transport: %w", err)
	}

	queue := transport.LocalAddress()
	if err := transport.CreateQueues(ctx, queue); err != nil {
		transport.Stop()
		return nil, fmt.Errorf("failed to create endpoint queue: %w", err)
	}
	cfg.logger.Info("endpoint queue created", "queue", queue)

	return &Client{
		transport: transport,
		chain:     interceptors.NewInterceptorChain(cfg.interceptors...),
		logger:    cfg.logger,
	}, nil
}

// Transport returns the underlying transport
func (c *Client) Transport() *rabbitmqTransport.Transport {
	return c.transport
}

// EndpointQueue returns the queue the client receives from
func (c *Client) EndpointQueue() string {
	return c.transport.LocalAddress()
}

// Receive starts consuming the endpoint queue. Every delivery is normalized and
// handed through the interceptors to the pipeline until the client is closed.
func (c *Client) Receive(ctx context.Context, pipeline rabbitmqTransport.PipelineFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	pump, err := c.transport.CreateMessagePump()
	if err != nil {
		return err
	}
	if err := pump.Init(c.transport.LocalAddress(), intercept(c.chain, pipeline)); err != nil {
		return err
	}
	if err := pump.Start(ctx); err != nil {
		return fmt.Errorf("failed to start receiving: %w", err)
	}

	c.pumps = append(c.pumps, pump)
	return nil
}

// Send dispatches an envelope to the destination queue
func (c *Client) Send(ctx context.Context, destination string, envelope *contracts.Envelope) error {
	return c.SendWithExpiry(ctx, destination, envelope, 0)
}

// SendWithExpiry dispatches an envelope that the broker discards when it is not
// received within timeToBeReceived
func (c *Client) SendWithExpiry(ctx context.Context, destination string, envelope *contracts.Envelope, timeToBeReceived time.Duration) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrClientClosed
	}

	dispatcher, err := c.transport.Dispatcher()
	if err != nil {
		return err
	}

	return dispatcher.Dispatch(ctx, rabbitmqTransport.OutgoingMessage{
		Destination:      destination,
		Envelope:         envelope,
		TimeToBeReceived: timeToBeReceived,
	})
}

// Health checks the broker connections and the endpoint queue
func (c *Client) Health(ctx context.Context) (health.OverallHealth, error) {
	return c.transport.HealthCheck(ctx)
}

// Close stops receiving and closes the broker connections
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pumps := c.pumps
	c.pumps = nil
	c.mu.Unlock()

	var errs []error
	for _, pump := range pumps {
		if err := pump.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.transport.Stop(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func intercept(chain *interceptors.InterceptorChain, pipeline rabbitmqTransport.PipelineFunc) rabbitmqTransport.PipelineFunc {
	if pipeline == nil || chain == nil || chain.Len() == 0 {
		return pipeline
	}
	return rabbitmqTransport.PipelineFunc(chain.Then(interceptors.MessageHandlerFunc(pipeline)))
}

// clientConfig holds client configuration
type clientConfig struct {
	logger           *slog.Logger
	settings         rabbitmqTransport.Settings
	transportOptions []rabbitmqTransport.TransportOption
	interceptors     []interceptors.Interceptor
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithEndpointName sets the endpoint name, which is also its queue name
func WithEndpointName(name string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.settings.EndpointName = name
	}
}

// WithHostDisplayName sets the host name shown in consumer tags
func WithHostDisplayName(name string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.settings.HostDisplayName = name
	}
}

// WithMessageIDStrategy replaces how message ids are read from deliveries
func WithMessageIDStrategy(strategy receiving.MessageIDStrategy) ClientOption {
	return func(cfg *clientConfig) {
		cfg.settings.MessageIDStrategy = strategy
	}
}

// WithPrefetchCount fixes the prefetch count
func WithPrefetchCount(count int) ClientOption {
	return func(cfg *clientConfig) {
		cfg.settings.PrefetchCount = count
	}
}

// WithPrefetchMultiplier sets the multiplier used when no prefetch count is set
func WithPrefetchMultiplier(multiplier int) ClientOption {
	return func(cfg *clientConfig) {
		cfg.settings.PrefetchMultiplier = multiplier
	}
}

// WithMaxConcurrency sets how many messages are processed in parallel
func WithMaxConcurrency(concurrency int) ClientOption {
	return func(cfg *clientConfig) {
		cfg.settings.MaxConcurrency = concurrency
	}
}

// WithPublisherConfirms enables or disables publisher confirms
func WithPublisherConfirms(enabled bool) ClientOption {
	return func(cfg *clientConfig) {
		cfg.settings.UsePublisherConfirms = enabled
	}
}

// WithCircuitBreakerDelay sets how long receiving may fail before the critical error fires
func WithCircuitBreakerDelay(delay time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.settings.TimeToWaitBeforeTriggeringCircuitBreaker = delay
	}
}

// WithPurgeOnStartup drops queued messages when receiving starts
func WithPurgeOnStartup(enabled bool) ClientOption {
	return func(cfg *clientConfig) {
		cfg.settings.PurgeOnStartup = enabled
	}
}

// WithDurableMessages sets whether queues are durable and messages persistent by default
func WithDurableMessages(enabled bool) ClientOption {
	return func(cfg *clientConfig) {
		cfg.settings.DurableMessages = enabled
	}
}

// WithCriticalError sets the callback run when receiving keeps failing
func WithCriticalError(fn rabbitmqTransport.CriticalErrorFunc) ClientOption {
	return func(cfg *clientConfig) {
		cfg.settings.CriticalError = fn
	}
}

// WithTransportOptions passes options to the underlying transport
func WithTransportOptions(options ...rabbitmqTransport.TransportOption) ClientOption {
	return func(cfg *clientConfig) {
		cfg.transportOptions = append(cfg.transportOptions, options...)
	}
}

// WithInterceptors wraps the receive pipeline, first interceptor outermost
func WithInterceptors(list ...interceptors.Interceptor) ClientOption {
	return func(cfg *clientConfig) {
		cfg.interceptors = append(cfg.interceptors, list...)
	}
}
