package receiving

import (
	"testing"

	"github.com/glimte/rabbitmq-transport/contracts"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromAMQP(t *testing.T) {
	t.Run("maps set properties", func(t *testing.T) {
		d := FromAMQP(amqp.Delivery{
			MessageId:     "id-1",
			ReplyTo:       "replies",
			CorrelationId: "corr-1",
			Type:          "MyMessage",
			DeliveryMode:  amqp.Persistent,
			Body:          []byte("body"),
		})

		require.NotNil(t, d.Properties.MessageID)
		assert.Equal(t, "id-1", *d.Properties.MessageID)
		assert.Equal(t, "replies", *d.Properties.ReplyTo)
		assert.Equal(t, "corr-1", *d.Properties.CorrelationID)
		assert.Equal(t, "MyMessage", *d.Properties.Type)
		assert.Equal(t, amqp.Persistent, *d.Properties.DeliveryMode)
		assert.Equal(t, []byte("body"), d.Body)
	})

	t.Run("treats empty properties as absent", func(t *testing.T) {
		d := FromAMQP(amqp.Delivery{})

		assert.Nil(t, d.Properties.MessageID)
		assert.Nil(t, d.Properties.ReplyTo)
		assert.Nil(t, d.Properties.CorrelationID)
		assert.Nil(t, d.Properties.Type)
		assert.Nil(t, d.Properties.DeliveryMode)
		assert.Nil(t, d.Headers)
	})

	t.Run("converts header table", func(t *testing.T) {
		d := FromAMQP(amqp.Delivery{
			MessageId: "id-1",
			Headers: amqp.Table{
				"Foo":                     []interface{}{amqp.Table{"key1": []byte("value1")}},
				contracts.HeaderMessageID: []byte("header-id"),
			},
		})

		assert.Equal(t, List{Table{"key1": Bytes("value1")}}, d.Headers["Foo"])
		assert.Equal(t, Bytes("header-id"), d.Headers[contracts.HeaderMessageID])
	})

	t.Run("converted delivery normalizes end to end", func(t *testing.T) {
		d := FromAMQP(amqp.Delivery{
			MessageId:    "id-1",
			ReplyTo:      "myaddress",
			DeliveryMode: amqp.Transient,
			Headers: amqp.Table{
				contracts.HeaderReplyToAddress: []byte("nsb set address"),
				"Foo":                          []interface{}{"Bing"},
			},
		})

		env, err := NewMessageConverter().Convert(d)

		require.NoError(t, err)
		assert.Equal(t, "id-1", env.MessageID)
		assert.Equal(t, "myaddress", env.Headers[contracts.HeaderReplyToAddress])
		assert.Equal(t, "Bing", env.Headers["Foo"])
		assert.Equal(t, "True", env.Headers[contracts.HeaderNonDurableMessage])
	})
}
