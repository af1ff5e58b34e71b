package interceptors

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/glimte/rabbitmq-transport/contracts"
)

// MessageFilter decides whether a message should be processed
type MessageFilter interface {
	ShouldProcess(ctx context.Context, envelope *contracts.Envelope) (bool, error)
}

// MessageFilterFunc is a function adapter for MessageFilter
type MessageFilterFunc func(ctx context.Context, envelope *contracts.Envelope) (bool, error)

// ShouldProcess implements MessageFilter
func (f MessageFilterFunc) ShouldProcess(ctx context.Context, envelope *contracts.Envelope) (bool, error) {
	return f(ctx, envelope)
}

// SkipBehavior defines what happens when a message is filtered out
type SkipBehavior int

const (
	// SkipSilently skips the message without error
	SkipSilently SkipBehavior = iota
	// SkipWithError returns an error when message is filtered
	SkipWithError
	// SkipWithLog logs that the message was skipped
	SkipWithLog
)

// FilteringInterceptor stops messages the filter rejects
type FilteringInterceptor struct {
	filter       MessageFilter
	skipBehavior SkipBehavior
	logger       *slog.Logger
}

// NewFilteringInterceptor creates a new filtering interceptor
func NewFilteringInterceptor(filter MessageFilter, skipBehavior SkipBehavior, logger *slog.Logger) *FilteringInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return &FilteringInterceptor{
		filter:       filter,
		skipBehavior: skipBehavior,
		logger:       logger,
	}
}

// Intercept implements Interceptor
func (i *FilteringInterceptor) Intercept(ctx context.Context, envelope *contracts.Envelope, next MessageHandler) error {
	shouldProcess, err := i.filter.ShouldProcess(ctx, envelope)
	if err != nil {
		return fmt.Errorf("filter error: %w", err)
	}

	if !shouldProcess {
		switch i.skipBehavior {
		case SkipWithError:
			return fmt.Errorf("message filtered: id=%s", envelope.MessageID)
		case SkipWithLog:
			i.logger.Info("message skipped by filter", "messageId", envelope.MessageID)
			return nil
		default:
			return nil
		}
	}

	return next.Handle(ctx, envelope)
}

// Name implements Interceptor
func (i *FilteringInterceptor) Name() string {
	return "FilteringInterceptor"
}

// CompositeFilter combines multiple filters with AND logic
type CompositeFilter struct {
	filters []MessageFilter
}

// NewCompositeFilter creates a new composite filter
func NewCompositeFilter(filters ...MessageFilter) *CompositeFilter {
	return &CompositeFilter{filters: filters}
}

// ShouldProcess implements MessageFilter - all filters must return true
func (f *CompositeFilter) ShouldProcess(ctx context.Context, envelope *contracts.Envelope) (bool, error) {
	for _, filter := range f.filters {
		shouldProcess, err := filter.ShouldProcess(ctx, envelope)
		if err != nil {
			return false, err
		}
		if !shouldProcess {
			return false, nil
		}
	}
	return true, nil
}

// OrFilter combines multiple filters with OR logic
type OrFilter struct {
	filters []MessageFilter
}

// NewOrFilter creates a new OR filter
func NewOrFilter(filters ...MessageFilter) *OrFilter {
	return &OrFilter{filters: filters}
}

// ShouldProcess implements MessageFilter - at least one filter must return true
func (f *OrFilter) ShouldProcess(ctx context.Context, envelope *contracts.Envelope) (bool, error) {
	for _, filter := range f.filters {
		shouldProcess, err := filter.ShouldProcess(ctx, envelope)
		if err != nil {
			return false, err
		}
		if shouldProcess {
			return true, nil
		}
	}
	return false, nil
}

// MessageTypeFilter passes messages whose enclosed message types include one of
// the allowed types. The header holds a ';' separated list.
type MessageTypeFilter struct {
	allowedTypes map[string]bool
}

// NewMessageTypeFilter creates a new message type filter
func NewMessageTypeFilter(allowedTypes ...string) *MessageTypeFilter {
	allowed := make(map[string]bool, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[t] = true
	}
	return &MessageTypeFilter{allowedTypes: allowed}
}

// ShouldProcess implements MessageFilter
func (f *MessageTypeFilter) ShouldProcess(ctx context.Context, envelope *contracts.Envelope) (bool, error) {
	types, ok := envelope.Header(contracts.HeaderEnclosedMessageTypes)
	if !ok {
		return false, nil
	}
	for _, t := range strings.Split(types, ";") {
		if f.allowedTypes[strings.TrimSpace(t)] {
			return true, nil
		}
	}
	return false, nil
}

// HeaderFilter passes messages carrying a header with the expected value
type HeaderFilter struct {
	name  string
	value string
}

// NewHeaderFilter creates a new header filter
func NewHeaderFilter(name, value string) *HeaderFilter {
	return &HeaderFilter{name: name, value: value}
}

// ShouldProcess implements MessageFilter
func (f *HeaderFilter) ShouldProcess(ctx context.Context, envelope *contracts.Envelope) (bool, error) {
	v, ok := envelope.Header(f.name)
	return ok && v == f.value, nil
}
