// Package health reports the health of the transport's broker connections and queues.
//
// A Registry runs its checkers concurrently and reports the worst status:
//
//	registry := health.NewRegistry(
//		health.NewConnectionChecker("receive", receiveManager),
//		health.NewQueueChecker("sales", topology),
//	)
//	overall := registry.Check(ctx)
package health
