package rabbitmq

import "strings"

// LogicalAddress names a queue of an endpoint instance
type LogicalAddress struct {
	Endpoint      string
	Discriminator string // instance discriminator, optional
	Qualifier     string // satellite qualifier, optional
}

// ToTransportAddress maps a logical address to a queue name: endpoint[-discriminator][.qualifier]
func ToTransportAddress(address LogicalAddress) string {
	var queue strings.Builder
	queue.WriteString(address.Endpoint)

	if address.Discriminator != "" {
		queue.WriteString("-")
		queue.WriteString(address.Discriminator)
	}

	if address.Qualifier != "" {
		queue.WriteString(".")
		queue.WriteString(address.Qualifier)
	}

	return queue.String()
}
