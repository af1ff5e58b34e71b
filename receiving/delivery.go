package receiving

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// Properties holds the native broker properties the converter reads.
// A nil field is absent; a non-nil pointer to "" is present but blank.
type Properties struct {
	MessageID     *string
	ReplyTo       *string
	CorrelationID *string
	Type          *string
	DeliveryMode  *uint8
}

// HeaderTable is the raw application header table of a delivery
type HeaderTable map[string]Value

// Delivery is a received message before normalization
type Delivery struct {
	Properties Properties
	Headers    HeaderTable
	Body       []byte
}

// FromAMQP adapts an amqp091-go delivery.
//
// amqp091-go does not expose the property presence flags, so empty strings and a zero
// delivery mode are treated as absent.
func FromAMQP(d amqp.Delivery) *Delivery {
	delivery := &Delivery{
		Properties: Properties{
			MessageID:     optionalString(d.MessageId),
			ReplyTo:       optionalString(d.ReplyTo),
			CorrelationID: optionalString(d.CorrelationId),
			Type:          optionalString(d.Type),
		},
		Body: d.Body,
	}

	if d.DeliveryMode != 0 {
		mode := d.DeliveryMode
		delivery.Properties.DeliveryMode = &mode
	}

	if d.Headers != nil {
		delivery.Headers = make(HeaderTable, len(d.Headers))
		for k, v := range d.Headers {
			delivery.Headers[k] = ValueOf(v)
		}
	}

	return delivery
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringProperty returns a present property holding s, for building deliveries by hand
func StringProperty(s string) *string {
	return &s
}

// DeliveryModeProperty returns a present delivery mode property
func DeliveryModeProperty(mode uint8) *uint8 {
	return &mode
}
