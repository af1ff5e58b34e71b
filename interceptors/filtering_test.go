package interceptors

import (
	"context"
	"errors"
	"testing"

	"github.com/glimte/rabbitmq-transport/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestFilteringInterceptor(t *testing.T) {
	reject := MessageFilterFunc(func(ctx context.Context, envelope *contracts.Envelope) (bool, error) {
		return false, nil
	})

	t.Run("passes accepted messages on", func(t *testing.T) {
		handler := &mockHandler{}
		handler.On("Handle", mock.Anything, mock.Anything).Return(nil)

		interceptor := NewFilteringInterceptor(NewMessageTypeFilter("Sales.PlaceOrder"), SkipWithError, nil)
		assert.NoError(t, interceptor.Intercept(context.Background(), testEnvelope(), handler))
		handler.AssertExpectations(t)
	})

	t.Run("skips silently", func(t *testing.T) {
		handler := &mockHandler{}
		interceptor := NewFilteringInterceptor(reject, SkipSilently, nil)

		assert.NoError(t, interceptor.Intercept(context.Background(), testEnvelope(), handler))
		handler.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
	})

	t.Run("skips with an error", func(t *testing.T) {
		handler := &mockHandler{}
		interceptor := NewFilteringInterceptor(reject, SkipWithError, nil)

		err := interceptor.Intercept(context.Background(), testEnvelope(), handler)
		assert.ErrorContains(t, err, "message filtered")
	})

	t.Run("filter errors are returned", func(t *testing.T) {
		filterErr := errors.New("bad header")
		interceptor := NewFilteringInterceptor(MessageFilterFunc(func(ctx context.Context, envelope *contracts.Envelope) (bool, error) {
			return false, filterErr
		}), SkipSilently, nil)

		err := interceptor.Intercept(context.Background(), testEnvelope(), &mockHandler{})
		assert.ErrorIs(t, err, filterErr)
	})
}

func TestFilters(t *testing.T) {
	ctx := context.Background()
	env := testEnvelope()
	env.SetHeader(contracts.HeaderEnclosedMessageTypes, "Sales.OrderPlaced;Sales.IEvent")
	env.SetHeader("Tenant", "acme")

	t.Run("message type filter matches any enclosed type", func(t *testing.T) {
		ok, err := NewMessageTypeFilter("Sales.IEvent").ShouldProcess(ctx, env)
		assert.NoError(t, err)
		assert.True(t, ok)

		ok, _ = NewMessageTypeFilter("Billing.Invoice").ShouldProcess(ctx, env)
		assert.False(t, ok)

		ok, _ = NewMessageTypeFilter("Sales.IEvent").ShouldProcess(ctx, contracts.NewEnvelope("x", nil))
		assert.False(t, ok)
	})

	t.Run("header filter", func(t *testing.T) {
		ok, _ := NewHeaderFilter("Tenant", "acme").ShouldProcess(ctx, env)
		assert.True(t, ok)
		ok, _ = NewHeaderFilter("Tenant", "other").ShouldProcess(ctx, env)
		assert.False(t, ok)
	})

	t.Run("composite and or filters", func(t *testing.T) {
		tenant := NewHeaderFilter("Tenant", "acme")
		billing := NewMessageTypeFilter("Billing.Invoice")

		ok, _ := NewCompositeFilter(tenant, billing).ShouldProcess(ctx, env)
		assert.False(t, ok)

		ok, _ = NewOrFilter(billing, tenant).ShouldProcess(ctx, env)
		assert.True(t, ok)
	})
}
