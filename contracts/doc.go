// Package contracts provides the transport-agnostic types shared by the RabbitMQ
// transport and the framework pipeline that consumes its messages.
//
// This package defines:
//   - Envelope: the normalized message handed to the pipeline (identity, flat string headers, body)
//   - Reserved header names understood by every transport binding
//   - ErrUnresolvedMessageID: the single failure of message identity resolution
//
// Header names must match byte for byte across implementations so that messages sent by
// native RabbitMQ clients, other transports and interop senders are understood alike.
package contracts
