package receiving

import (
	"sort"
	"strings"
	"unicode/utf8"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Value is an untyped header value as found in an AMQP header table.
// The set of implementations is closed: Null, String, Bytes, List, Table and Unsupported.
type Value interface {
	isValue()
}

// Null is an explicit null header value
type Null struct{}

// String is a UTF-8 string header value
type String string

// Bytes is a raw byte sequence, the usual encoding of strings written by other clients
type Bytes []byte

// List is an ordered list of values
type List []Value

// Table is a nested name to value table
type Table map[string]Value

// Unsupported wraps any other value shape (numbers, booleans, timestamps, decimals).
// It coerces to no value.
type Unsupported struct {
	Raw interface{}
}

func (Null) isValue()        {}
func (String) isValue()      {}
func (Bytes) isValue()       {}
func (List) isValue()        {}
func (Table) isValue()       {}
func (Unsupported) isValue() {}

// ValueOf maps a value decoded by amqp091-go onto the closed Value set
func ValueOf(v interface{}) Value {
	switch x := v.(type) {
	case nil:
		return Null{}
	case Value:
		return x
	case string:
		return String(x)
	case []byte:
		return Bytes(x)
	case []interface{}:
		list := make(List, 0, len(x))
		for _, e := range x {
			list = append(list, ValueOf(e))
		}
		return list
	case amqp.Table:
		return tableOf(x)
	case map[string]interface{}:
		return tableOf(x)
	default:
		return Unsupported{Raw: v}
	}
}

func tableOf(m map[string]interface{}) Table {
	t := make(Table, len(m))
	for k, v := range m {
		t[k] = ValueOf(v)
	}
	return t
}

// Coerce converts a value to its string form. The second result is false when the
// value has no string form (null or an unsupported shape).
//
// Table entries are encoded as key=value joined by ",", in key order.
// List elements are joined by ";". Elements without a string form contribute "".
func Coerce(v Value) (string, bool) {
	switch x := v.(type) {
	case String:
		return string(x), true
	case Bytes:
		return decodeUTF8(x), true
	case Table:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			s, _ := Coerce(x[k])
			parts = append(parts, k+"="+s)
		}
		return strings.Join(parts, ","), true
	case List:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			s, _ := Coerce(e)
			parts = append(parts, s)
		}
		return strings.Join(parts, ";"), true
	case Null, Unsupported, nil:
		return "", false
	default:
		return "", false
	}
}

// decodeUTF8 replaces each byte that does not start a valid UTF-8 sequence with U+FFFD
func decodeUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}

	var sb strings.Builder
	sb.Grow(len(b) + 2)
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		sb.WriteRune(r)
		b = b[size:]
	}
	return sb.String()
}
