// Package rabbitmq holds the broker plumbing behind the transport.
//
// This package includes:
//   - ConnectionManager: owns one named connection and reconnects it with jittered backoff
//   - ChannelPool: bounded channel pooling with idle cleanup
//   - Publisher: confirm-aware publishing with retries
//   - Consumer: prefetch-bounded consumption where handlers return a Disposition
//   - TopologyManager: queue declaration, binding and purging
//
// Nothing in here knows about message metadata. Deliveries are handed over as
// amqp.Delivery values and settled according to the handler's Disposition.
package rabbitmq
