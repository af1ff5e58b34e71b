package rabbitmq

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/glimte/rabbitmq-transport/health"
	"github.com/glimte/rabbitmq-transport/internal/rabbitmq"
)

// ErrTransportNotStarted is returned by operations that need broker connections before Start
var ErrTransportNotStarted = errors.New("rabbitmq: transport not started")

// Transport owns the receive and publish connections of one endpoint
type Transport struct {
	settings   Settings
	connection ConnectionConfiguration
	cfg        *TransportConfig

	mu             sync.Mutex
	started        bool
	receiveManager *rabbitmq.ConnectionManager
	publishManager *rabbitmq.ConnectionManager
	receivePool    *rabbitmq.ChannelPool
	publishPool    *rabbitmq.ChannelPool
	topology       *rabbitmq.TopologyManager
	publisher      *rabbitmq.Publisher
	dispatcher     *MessageDispatcher
}

// TransportConfig holds configuration for the transport
type TransportConfig struct {
	Logger             *slog.Logger
	ConnectionOptions  []rabbitmq.ConnectionOption
	PublisherOptions   []rabbitmq.PublisherOption
	ChannelPoolOptions []rabbitmq.ChannelPoolOption
	DispatcherOptions  []DispatcherOption
}

// TransportOption configures the transport
type TransportOption func(*TransportConfig)

// WithLogger sets the logger used by every transport component
func WithLogger(logger *slog.Logger) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.Logger = logger
	}
}

// WithConnectionOptions adds connection options applied to both connections
func WithConnectionOptions(opts ...rabbitmq.ConnectionOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.ConnectionOptions = append(cfg.ConnectionOptions, opts...)
	}
}

// WithPublisherOptions adds publisher options
func WithPublisherOptions(opts ...rabbitmq.PublisherOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.PublisherOptions = append(cfg.PublisherOptions, opts...)
	}
}

// WithChannelPoolOptions adds channel pool options applied to both pools
func WithChannelPoolOptions(opts ...rabbitmq.ChannelPoolOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.ChannelPoolOptions = append(cfg.ChannelPoolOptions, opts...)
	}
}

// WithDispatcherOptions adds dispatcher options
func WithDispatcherOptions(opts ...DispatcherOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.DispatcherOptions = append(cfg.DispatcherOptions, opts...)
	}
}

// NewTransport parses the connection string and validates the settings. It does not connect.
func NewTransport(connectionString string, settings Settings, options ...TransportOption) (*Transport, error) {
	connection, err := ParseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	cfg := &TransportConfig{
		Logger: slog.Default(),
	}
	for _, opt := range options {
		opt(cfg)
	}

	return &Transport{
		settings:   settings,
		connection: connection,
		cfg:        cfg,
	}, nil
}

// Settings returns the transport settings
func (t *Transport) Settings() Settings {
	return t.settings
}

// LocalAddress returns the receive queue of the endpoint
func (t *Transport) LocalAddress() string {
	return ToTransportAddress(LogicalAddress{Endpoint: t.settings.EndpointName})
}

// ToTransportAddress maps a logical address to a queue name
func (t *Transport) ToTransportAddress(address LogicalAddress) string {
	return ToTransportAddress(address)
}

// Start opens the receive and publish connections
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return nil
	}

	logger := t.cfg.Logger
	logger.Info("starting RabbitMQ transport",
		"endpoint", t.settings.EndpointName,
		"url", rabbitmq.SanitizeURL(t.connection.URL()))

	receiveManager, receivePool, err := t.open(ctx, "Receive")
	if err != nil {
		return err
	}

	publishManager, publishPool, err := t.open(ctx, "Publish")
	if err != nil {
		receivePool.Close()
		receiveManager.Close()
		return err
	}

	publisherOptions := append([]rabbitmq.PublisherOption{
		rabbitmq.WithConfirmMode(t.settings.UsePublisherConfirms),
		rabbitmq.WithPublisherLogger(logger),
	}, t.cfg.PublisherOptions...)

	dispatcherOptions := append([]DispatcherOption{
		WithDurableMessages(t.settings.DurableMessages),
		WithDispatcherLogger(logger),
	}, t.cfg.DispatcherOptions...)

	t.receiveManager = receiveManager
	t.receivePool = receivePool
	t.publishManager = publishManager
	t.publishPool = publishPool
	t.topology = rabbitmq.NewTopologyManager(receivePool)
	t.publisher = rabbitmq.NewPublisher(publishPool, publisherOptions...)
	t.dispatcher = NewMessageDispatcher(t.publisher, dispatcherOptions...)
	t.started = true

	return nil
}

func (t *Transport) open(ctx context.Context, purpose string) (*rabbitmq.ConnectionManager, *rabbitmq.ChannelPool, error) {
	options := []rabbitmq.ConnectionOption{
		rabbitmq.WithConnectionName(fmt.Sprintf("%s %s", t.settings.ConsumerTag(), purpose)),
		rabbitmq.WithHeartbeat(t.connection.RequestedHeartbeat),
		rabbitmq.WithLogger(t.cfg.Logger),
	}
	if t.connection.UseTLS {
		options = append(options, rabbitmq.WithTLS(&tls.Config{
			ServerName: t.connection.Host,
			MinVersion: tls.VersionTLS12,
		}))
	}
	options = append(options, t.cfg.ConnectionOptions...)

	manager := rabbitmq.NewConnectionManager(t.connection.URL(), options...)
	if err := manager.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to open %s connection: %w", purpose, err)
	}

	poolOptions := append([]rabbitmq.ChannelPoolOption{
		rabbitmq.WithChannelLogger(t.cfg.Logger),
	}, t.cfg.ChannelPoolOptions...)

	pool, err := rabbitmq.NewChannelPool(manager, poolOptions...)
	if err != nil {
		manager.Close()
		return nil, nil, fmt.Errorf("failed to create %s channel pool: %w", purpose, err)
	}

	return manager, pool, nil
}

// Stop closes both connections
func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		return nil
	}
	t.started = false

	t.cfg.Logger.Info("stopping RabbitMQ transport", "endpoint", t.settings.EndpointName)

	var errs []error
	if err := t.publisher.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := t.publishPool.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := t.receivePool.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := t.publishManager.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := t.receiveManager.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// IsConnected reports whether both connections are up
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started && t.receiveManager.IsConnected() && t.publishManager.IsConnected()
}

// CreateQueues declares the given queues, durable when durable messages are enabled
func (t *Transport) CreateQueues(ctx context.Context, queues ...string) error {
	t.mu.Lock()
	topology := t.topology
	started := t.started
	t.mu.Unlock()

	if !started {
		return ErrTransportNotStarted
	}

	declarations := make([]rabbitmq.QueueDeclaration, 0, len(queues))
	for _, q := range queues {
		declarations = append(declarations, rabbitmq.QueueDeclaration{
			Name:    q,
			Durable: t.settings.DurableMessages,
		})
	}

	return topology.DeclareQueues(ctx, declarations...)
}

// CreateMessagePump creates a pump consuming on the receive connection
func (t *Transport) CreateMessagePump(options ...PumpOption) (*MessagePump, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		return nil, ErrTransportNotStarted
	}

	options = append([]PumpOption{WithPumpLogger(t.cfg.Logger)}, options...)
	return NewMessagePump(t.receivePool, t.topology, t.settings, options...), nil
}

// Dispatcher returns the message dispatcher
func (t *Transport) Dispatcher() (*MessageDispatcher, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		return nil, ErrTransportNotStarted
	}
	return t.dispatcher, nil
}

// HealthCheck checks both connections and the endpoint queue
func (t *Transport) HealthCheck(ctx context.Context) (health.OverallHealth, error) {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return health.OverallHealth{}, ErrTransportNotStarted
	}
	registry := health.NewRegistry(
		health.NewConnectionChecker("receive", t.receiveManager),
		health.NewConnectionChecker("publish", t.publishManager),
		health.NewQueueChecker(t.LocalAddress(), t.topology),
	)
	t.mu.Unlock()

	return registry.Check(ctx), nil
}
