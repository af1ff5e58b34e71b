// Package interceptors wraps the receive pipeline with cross-cutting concerns.
//
// Interceptors run in the order they are added and each one decides whether to
// call the next handler:
//
//	chain := interceptors.NewInterceptorChain(
//		interceptors.NewRecoveryInterceptor(logger),
//		interceptors.NewLoggingInterceptor(logger),
//		interceptors.NewTimeoutInterceptor(30*time.Second),
//	)
//	pipeline := chain.Then(handle)
//
// A handler error, including a recovered panic or a timeout, makes the
// transport requeue the message.
package interceptors
