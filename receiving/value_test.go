package receiving

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueOf(t *testing.T) {
	t.Run("maps amqp table values", func(t *testing.T) {
		now := time.Now()
		v := ValueOf(amqp.Table{
			"s":    "text",
			"b":    []byte("raw"),
			"l":    []interface{}{"a", []byte("b")},
			"t":    amqp.Table{"k": "v"},
			"m":    map[string]interface{}{"k": "v"},
			"n":    nil,
			"i":    int32(7),
			"time": now,
		})

		table, ok := v.(Table)
		require.True(t, ok)
		assert.Equal(t, String("text"), table["s"])
		assert.Equal(t, Bytes("raw"), table["b"])
		assert.Equal(t, List{String("a"), Bytes("b")}, table["l"])
		assert.Equal(t, Table{"k": String("v")}, table["t"])
		assert.Equal(t, Table{"k": String("v")}, table["m"])
		assert.Equal(t, Null{}, table["n"])
		assert.Equal(t, Unsupported{Raw: int32(7)}, table["i"])
		assert.Equal(t, Unsupported{Raw: now}, table["time"])
	})

	t.Run("keeps values that are already typed", func(t *testing.T) {
		assert.Equal(t, String("x"), ValueOf(String("x")))
	})
}

func TestCoerce(t *testing.T) {
	t.Run("string is unchanged", func(t *testing.T) {
		s, ok := Coerce(String("ni"))
		assert.True(t, ok)
		assert.Equal(t, "ni", s)
	})

	t.Run("bytes are decoded as UTF-8", func(t *testing.T) {
		s, ok := Coerce(Bytes("blåbær"))
		assert.True(t, ok)
		assert.Equal(t, "blåbær", s)
	})

	t.Run("invalid UTF-8 is replaced", func(t *testing.T) {
		s, ok := Coerce(Bytes{'a', 0xff, 'b'})
		assert.True(t, ok)
		assert.Equal(t, "a�b", s)
	})

	t.Run("every invalid byte gets its own replacement", func(t *testing.T) {
		s, ok := Coerce(Bytes{'a', 0xff, 0xfe, 'b', 0xc3})
		assert.True(t, ok)
		assert.Equal(t, "a\uFFFD\uFFFDb\uFFFD", s)
	})

	t.Run("list is joined with semicolons", func(t *testing.T) {
		s, ok := Coerce(List{String("a"), Bytes("b"), Null{}, String("c")})
		assert.True(t, ok)
		assert.Equal(t, "a;b;;c", s)
	})

	t.Run("table is joined with commas in key order", func(t *testing.T) {
		s, ok := Coerce(Table{"key2": Bytes("value2"), "key1": Bytes("value1")})
		assert.True(t, ok)
		assert.Equal(t, "key1=value1,key2=value2", s)
	})

	t.Run("nested composites recurse", func(t *testing.T) {
		s, ok := Coerce(Table{"outer": List{Table{"inner": String("v")}, String("w")}})
		assert.True(t, ok)
		assert.Equal(t, "outer=inner=v;w", s)
	})

	t.Run("empty composites coerce to empty string", func(t *testing.T) {
		s, ok := Coerce(List{})
		assert.True(t, ok)
		assert.Equal(t, "", s)

		s, ok = Coerce(Table{})
		assert.True(t, ok)
		assert.Equal(t, "", s)
	})

	t.Run("null has no value", func(t *testing.T) {
		_, ok := Coerce(Null{})
		assert.False(t, ok)
	})

	t.Run("unsupported has no value", func(t *testing.T) {
		_, ok := Coerce(Unsupported{Raw: 3.14})
		assert.False(t, ok)
	})

	t.Run("nil has no value", func(t *testing.T) {
		_, ok := Coerce(nil)
		assert.False(t, ok)
	})
}
