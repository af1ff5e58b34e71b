package contracts

import (
	"errors"
)

// ErrUnresolvedMessageID is returned when no message identity can be determined for a
// delivery. The delivery must be rejected; an identity is never synthesized.
var ErrUnresolvedMessageID = errors.New("contracts: unresolved message identity")
