package contracts

import (
	"sort"
)

// Envelope is a received message after metadata normalization.
// Headers is the only metadata channel: no native broker property is consulted downstream.
type Envelope struct {
	MessageID string            `json:"messageId"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      []byte            `json:"body,omitempty"`
}

// NewEnvelope creates an envelope with an empty header map
func NewEnvelope(messageID string, body []byte) *Envelope {
	return &Envelope{
		MessageID: messageID,
		Headers:   make(map[string]string),
		Body:      body,
	}
}

// Header returns a header value and whether it was present
func (e *Envelope) Header(name string) (string, bool) {
	if e.Headers == nil {
		return "", false
	}
	v, ok := e.Headers[name]
	return v, ok
}

// SetHeader sets a header, allocating the map if needed
func (e *Envelope) SetHeader(name, value string) {
	if e.Headers == nil {
		e.Headers = make(map[string]string)
	}
	e.Headers[name] = value
}

// ReplyToAddress returns the reply-to address header
func (e *Envelope) ReplyToAddress() string {
	v, _ := e.Header(HeaderReplyToAddress)
	return v
}

// CorrelationID returns the correlation id header
func (e *Envelope) CorrelationID() string {
	v, _ := e.Header(HeaderCorrelationID)
	return v
}

// IsNonDurable reports whether the message was sent with the non-persistent delivery mode
func (e *Envelope) IsNonDurable() bool {
	v, _ := e.Header(HeaderNonDurableMessage)
	return v == HeaderValueTrue
}

// HeaderNames returns the header names in lexicographic order
func (e *Envelope) HeaderNames() []string {
	names := make([]string, 0, len(e.Headers))
	for k := range e.Headers {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
