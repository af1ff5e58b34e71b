package receiving

import (
	"fmt"
	"strings"

	"github.com/glimte/rabbitmq-transport/contracts"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageIDStrategy extracts the message identity from a delivery.
//
// Returning "" with a nil error lets the converter fall back to the message id header.
// Returning an error aborts resolution and the error is passed through unchanged.
// Strategies are called concurrently and must not rely on shared mutable state.
type MessageIDStrategy func(d *Delivery) (string, error)

// DefaultMessageIDStrategy requires the native message-id property. It never falls back
// to the header table.
func DefaultMessageIDStrategy(d *Delivery) (string, error) {
	id := d.Properties.MessageID
	if id == nil || isBlank(*id) {
		return "", fmt.Errorf("%w: a non-empty 'message-id' property is required; interop senders must set it before publishing",
			contracts.ErrUnresolvedMessageID)
	}
	return *id, nil
}

// MessageConverter normalizes deliveries into a message identity and a flat string
// header map. It holds no mutable state and is safe for concurrent use.
type MessageConverter struct {
	messageIDStrategy MessageIDStrategy
}

// ConverterOption configures the MessageConverter
type ConverterOption func(*MessageConverter)

// WithMessageIDStrategy replaces the default message id strategy. A nil strategy keeps the default.
func WithMessageIDStrategy(strategy MessageIDStrategy) ConverterOption {
	return func(c *MessageConverter) {
		if strategy != nil {
			c.messageIDStrategy = strategy
		}
	}
}

// NewMessageConverter creates a new converter
func NewMessageConverter(options ...ConverterOption) *MessageConverter {
	c := &MessageConverter{
		messageIDStrategy: DefaultMessageIDStrategy,
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// RetrieveMessageID resolves the identity of a delivery
func (c *MessageConverter) RetrieveMessageID(d *Delivery) (string, error) {
	messageID, err := c.messageIDStrategy(d)
	if err != nil {
		return "", err
	}

	if !isBlank(messageID) {
		return messageID, nil
	}

	if raw, ok := d.Headers[contracts.HeaderMessageID]; ok {
		if s, ok := Coerce(raw); ok && !isBlank(s) {
			return s, nil
		}
	}

	return "", fmt.Errorf("%w: the message id strategy did not provide a message id and the message has no '%s' header",
		contracts.ErrUnresolvedMessageID, contracts.HeaderMessageID)
}

// RetrieveHeaders builds the flat header map of a delivery.
// Native properties override application headers of the same meaning, except for the
// enclosed message types which are only filled in when missing.
func (c *MessageConverter) RetrieveHeaders(d *Delivery) map[string]string {
	headers := deserializeHeaders(d.Headers)
	props := d.Properties

	if props.ReplyTo != nil {
		headers.set(contracts.HeaderReplyToAddress, *props.ReplyTo)
	}

	if props.CorrelationID != nil {
		headers.set(contracts.HeaderCorrelationID, *props.CorrelationID)
	}

	// interop senders often only set the native type
	if !headers.contains(contracts.HeaderEnclosedMessageTypes) && props.Type != nil {
		headers.set(contracts.HeaderEnclosedMessageTypes, *props.Type)
	}

	if props.DeliveryMode != nil {
		nonDurable := contracts.HeaderValueFalse
		if *props.DeliveryMode == amqp.Transient {
			nonDurable = contracts.HeaderValueTrue
		}
		headers.set(contracts.HeaderNonDurableMessage, nonDurable)
	}

	if callbackQueue, ok := headers[contracts.HeaderLegacyCallbackQueue]; ok {
		headers[contracts.HeaderReplyToAddress] = callbackQueue
	}

	return headers.flatten()
}

// Convert resolves the identity and headers of a delivery into an envelope
func (c *MessageConverter) Convert(d *Delivery) (*contracts.Envelope, error) {
	messageID, err := c.RetrieveMessageID(d)
	if err != nil {
		return nil, err
	}

	return &contracts.Envelope{
		MessageID: messageID,
		Headers:   c.RetrieveHeaders(d),
		Body:      d.Body,
	}, nil
}

// headerSet keeps headers whose value has no string form so that presence checks see them.
// A nil value is dropped when flattening.
type headerSet map[string]*string

func deserializeHeaders(table HeaderTable) headerSet {
	headers := make(headerSet, len(table))
	for k, v := range table {
		if s, ok := Coerce(v); ok {
			headers[k] = &s
		} else {
			headers[k] = nil
		}
	}
	return headers
}

func (h headerSet) set(name, value string) {
	h[name] = &value
}

func (h headerSet) contains(name string) bool {
	_, ok := h[name]
	return ok
}

func (h headerSet) flatten() map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if v != nil {
			out[k] = *v
		}
	}
	return out
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
