package rabbitmqtransport

import (
	"context"
	"errors"
	"testing"

	"github.com/glimte/rabbitmq-transport/contracts"
	"github.com/glimte/rabbitmq-transport/interceptors"
	"github.com/glimte/rabbitmq-transport/internal/rabbitmq"
	rabbitmqTransport "github.com/glimte/rabbitmq-transport/transports/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestNewClient(t *testing.T) {
	t.Run("requires an endpoint name", func(t *testing.T) {
		_, err := NewClient("host=localhost")
		assert.ErrorIs(t, err, rabbitmq.ErrInvalidConfiguration)
	})

	t.Run("rejects an invalid connection string", func(t *testing.T) {
		_, err := NewClient("virtualHost=sales", WithEndpointName("sales"))
		assert.ErrorIs(t, err, rabbitmq.ErrInvalidConfiguration)
	})

	t.Run("rejects invalid receive settings", func(t *testing.T) {
		_, err := NewClient("host=localhost", WithEndpointName("sales"), WithMaxConcurrency(0))
		assert.ErrorIs(t, err, rabbitmq.ErrInvalidConfiguration)
	})

	t.Run("fails when the broker cannot be reached", func(t *testing.T) {
		dialErr := errors.New("connection refused")
		dialed := 0

		_, err := NewClient("host=localhost",
			WithEndpointName("sales"),
			WithHostDisplayName("web-01"),
			WithTransportOptions(rabbitmqTransport.WithConnectionOptions(
				rabbitmq.WithDialer(func(url string, cfg amqp.Config) (*amqp.Connection, error) {
					dialed++
					return nil, dialErr
				}))))

		assert.ErrorIs(t, err, dialErr)
		assert.Contains(t, err.Error(), "failed to start transport")
		assert.Equal(t, 1, dialed)
	})
}

func TestClientOptions(t *testing.T) {
	cfg := &clientConfig{settings: rabbitmqTransport.DefaultSettings()}

	for _, opt := range []ClientOption{
		WithEndpointName("sales"),
		WithHostDisplayName("web-01"),
		WithPrefetchMultiplier(4),
		WithMaxConcurrency(5),
		WithPublisherConfirms(false),
		WithPurgeOnStartup(true),
		WithDurableMessages(false),
	} {
		opt(cfg)
	}

	assert.Equal(t, "web-01 - sales", cfg.settings.ConsumerTag())
	assert.Equal(t, 20, cfg.settings.EffectivePrefetchCount())
	assert.False(t, cfg.settings.UsePublisherConfirms)
	assert.True(t, cfg.settings.PurgeOnStartup)
	assert.False(t, cfg.settings.DurableMessages)

	WithPrefetchCount(7)(cfg)
	assert.Equal(t, 7, cfg.settings.EffectivePrefetchCount())
}

func TestIntercept(t *testing.T) {
	var calls []string
	pipeline := func(ctx context.Context, env *contracts.Envelope) error {
		calls = append(calls, "pipeline")
		return nil
	}

	t.Run("no interceptors keeps the pipeline", func(t *testing.T) {
		calls = nil
		wrapped := intercept(interceptors.NewInterceptorChain(), pipeline)
		assert.NoError(t, wrapped(context.Background(), contracts.NewEnvelope("abc", nil)))
		assert.Equal(t, []string{"pipeline"}, calls)
	})

	t.Run("interceptors run before the pipeline", func(t *testing.T) {
		calls = nil
		chain := interceptors.NewInterceptorChain(interceptors.NewInterceptorFunc("audit",
			func(ctx context.Context, env *contracts.Envelope, next interceptors.MessageHandler) error {
				calls = append(calls, "audit:"+env.MessageID)
				return next.Handle(ctx, env)
			}))

		wrapped := intercept(chain, pipeline)
		assert.NoError(t, wrapped(context.Background(), contracts.NewEnvelope("abc", nil)))
		assert.Equal(t, []string{"audit:abc", "pipeline"}, calls)
	})

	t.Run("nil pipeline stays nil so the pump rejects it", func(t *testing.T) {
		chain := interceptors.NewInterceptorChain(interceptors.NewRecoveryInterceptor(nil))
		assert.Nil(t, intercept(chain, nil))
	})
}
