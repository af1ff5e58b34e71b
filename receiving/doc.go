// Package receiving normalizes RabbitMQ deliveries into transport-agnostic envelopes.
//
// A delivery carries native broker properties and an untyped header table written by a
// variety of producers. MessageConverter resolves:
//   - the message identity, through a pluggable MessageIDStrategy with a header fallback
//   - a flat string header map, layering native properties over the coerced header table
//
// Header values are modelled by the closed Value set and coerced to strings by Coerce.
// The conversion is lossy: type information does not survive.
//
// Nothing in this package performs I/O, logs or keeps state between deliveries.
package receiving
