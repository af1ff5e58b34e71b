package interceptors

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/glimte/rabbitmq-transport/contracts"
)

// MessageHandler handles a normalized message
type MessageHandler interface {
	Handle(ctx context.Context, envelope *contracts.Envelope) error
}

// MessageHandlerFunc is a function adapter for MessageHandler
type MessageHandlerFunc func(ctx context.Context, envelope *contracts.Envelope) error

// Handle implements MessageHandler
func (f MessageHandlerFunc) Handle(ctx context.Context, envelope *contracts.Envelope) error {
	return f(ctx, envelope)
}

// Interceptor processes messages before they reach the final handler
type Interceptor interface {
	// Intercept processes a message and calls the next handler in the chain
	Intercept(ctx context.Context, envelope *contracts.Envelope, next MessageHandler) error

	// Name returns the interceptor name for logging and debugging
	Name() string
}

// InterceptorFunc is a function adapter for Interceptor
type InterceptorFunc struct {
	name string
	fn   func(ctx context.Context, envelope *contracts.Envelope, next MessageHandler) error
}

// NewInterceptorFunc creates a new function-based interceptor
func NewInterceptorFunc(name string, fn func(ctx context.Context, envelope *contracts.Envelope, next MessageHandler) error) *InterceptorFunc {
	return &InterceptorFunc{name: name, fn: fn}
}

// Intercept implements Interceptor
func (i *InterceptorFunc) Intercept(ctx context.Context, envelope *contracts.Envelope, next MessageHandler) error {
	return i.fn(ctx, envelope, next)
}

// Name implements Interceptor
func (i *InterceptorFunc) Name() string {
	return i.name
}

// InterceptorChain runs interceptors in the order they were added
type InterceptorChain struct {
	interceptors []Interceptor
}

// NewInterceptorChain creates a new interceptor chain
func NewInterceptorChain(interceptors ...Interceptor) *InterceptorChain {
	return &InterceptorChain{
		interceptors: append([]Interceptor(nil), interceptors...),
	}
}

// Add adds an interceptor to the chain
func (c *InterceptorChain) Add(interceptor Interceptor) *InterceptorChain {
	c.interceptors = append(c.interceptors, interceptor)
	return c
}

// Len returns the number of interceptors
func (c *InterceptorChain) Len() int {
	return len(c.interceptors)
}

// Execute runs the chain around finalHandler
func (c *InterceptorChain) Execute(ctx context.Context, envelope *contracts.Envelope, finalHandler MessageHandler) error {
	return c.Then(finalHandler.Handle)(ctx, envelope)
}

// Then wraps final with the chain. The result can be used as a pipeline.
func (c *InterceptorChain) Then(final MessageHandlerFunc) MessageHandlerFunc {
	handler := MessageHandler(final)

	// Build the chain in reverse order
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		interceptor := c.interceptors[i]
		next := handler
		handler = MessageHandlerFunc(func(ctx context.Context, envelope *contracts.Envelope) error {
			return interceptor.Intercept(ctx, envelope, next)
		})
	}

	return handler.Handle
}

// LoggingInterceptor logs message processing
type LoggingInterceptor struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor
func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return &LoggingInterceptor{logger: logger}
}

// Intercept implements Interceptor
func (i *LoggingInterceptor) Intercept(ctx context.Context, envelope *contracts.Envelope, next MessageHandler) error {
	start := time.Now()
	messageType, _ := envelope.Header(contracts.HeaderEnclosedMessageTypes)

	i.logger.Debug("processing message",
		"messageId", envelope.MessageID,
		"messageType", messageType,
		"correlationId", envelope.CorrelationID(),
	)

	err := next.Handle(ctx, envelope)
	duration := time.Since(start)

	if err != nil {
		i.logger.Error("message processing failed",
			"messageId", envelope.MessageID,
			"messageType", messageType,
			"duration", duration,
			"error", err,
		)
	} else {
		i.logger.Info("message processed successfully",
			"messageId", envelope.MessageID,
			"messageType", messageType,
			"duration", duration,
		)
	}

	return err
}

// Name implements Interceptor
func (i *LoggingInterceptor) Name() string {
	return "LoggingInterceptor"
}

// TimeoutInterceptor bounds the time a handler may take
type TimeoutInterceptor struct {
	timeout time.Duration
}

// NewTimeoutInterceptor creates a new timeout interceptor
func NewTimeoutInterceptor(timeout time.Duration) *TimeoutInterceptor {
	return &TimeoutInterceptor{timeout: timeout}
}

// Intercept implements Interceptor. The handler keeps running after the timeout
// but its context is cancelled.
func (i *TimeoutInterceptor) Intercept(ctx context.Context, envelope *contracts.Envelope, next MessageHandler) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- next.Handle(timeoutCtx, envelope)
	}()

	select {
	case err := <-done:
		return err
	case <-timeoutCtx.Done():
		return fmt.Errorf("message processing timeout after %v for message %s: %w", i.timeout, envelope.MessageID, timeoutCtx.Err())
	}
}

// Name implements Interceptor
func (i *TimeoutInterceptor) Name() string {
	return "TimeoutInterceptor"
}

// PanicError is returned when a handler panics
type PanicError struct {
	MessageID string
	Value     interface{}
	Stack     []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked for message %s: %v", e.MessageID, e.Value)
}

// RecoveryInterceptor turns handler panics into errors so the message is
// requeued instead of crashing the consumer
type RecoveryInterceptor struct {
	logger *slog.Logger
}

// NewRecoveryInterceptor creates a new recovery interceptor
func NewRecoveryInterceptor(logger *slog.Logger) *RecoveryInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return &RecoveryInterceptor{logger: logger}
}

// Intercept implements Interceptor
func (i *RecoveryInterceptor) Intercept(ctx context.Context, envelope *contracts.Envelope, next MessageHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			perr := &PanicError{MessageID: envelope.MessageID, Value: r, Stack: debug.Stack()}
			i.logger.Error("message handler panicked",
				"messageId", envelope.MessageID,
				"panic", fmt.Sprint(r),
			)
			err = perr
		}
	}()

	return next.Handle(ctx, envelope)
}

// Name implements Interceptor
func (i *RecoveryInterceptor) Name() string {
	return "RecoveryInterceptor"
}
