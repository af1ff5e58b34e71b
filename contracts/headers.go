package contracts

// Reserved header names. They are case-sensitive and shared with every other
// implementation of the transport.
const (
	// HeaderMessageID carries the message identity when the native message-id is not used
	HeaderMessageID = "NServiceBus.MessageId"

	// HeaderReplyToAddress is the address replies should be sent to
	HeaderReplyToAddress = "NServiceBus.ReplyToAddress"

	// HeaderCorrelationID links a message to the conversation it belongs to
	HeaderCorrelationID = "NServiceBus.CorrelationId"

	// HeaderEnclosedMessageTypes lists the message types contained in the body
	HeaderEnclosedMessageTypes = "NServiceBus.EnclosedMessageTypes"

	// HeaderNonDurableMessage is "True" for messages sent with the non-persistent delivery mode
	HeaderNonDurableMessage = "NServiceBus.NonDurableMessage"

	// HeaderContentType is the MIME type of the body
	HeaderContentType = "NServiceBus.ContentType"

	// HeaderLegacyCallbackQueue is the deprecated callback queue header. It is only read,
	// never written.
	HeaderLegacyCallbackQueue = "NServiceBus.RabbitMQ.CallbackQueue"
)

// Boolean header values as written by the other transport implementations.
const (
	HeaderValueTrue  = "True"
	HeaderValueFalse = "False"
)
