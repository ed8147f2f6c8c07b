package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusPublishOrder(t *testing.T) {
	b := New[int]()

	var got []string
	b.Subscribe(func(v int) { got = append(got, "first") })
	b.Subscribe(func(v int) { got = append(got, "second") })

	b.Publish(1)
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestBusUnsubscribe(t *testing.T) {
	b := New[string]()

	calls := 0
	off := b.Subscribe(func(string) { calls++ })
	b.Publish("a")
	off()
	off()
	b.Publish("b")

	assert.Equal(t, 1, calls)
	assert.Zero(t, b.Len())
}

func TestBusSubscriberMayUnsubscribeDuringPublish(t *testing.T) {
	b := New[int]()

	var off func()
	calls := 0
	off = b.Subscribe(func(int) {
		calls++
		off()
	})

	b.Publish(1)
	b.Publish(2)
	assert.Equal(t, 1, calls)
}

type sample struct {
	Id   int64  `msgpack:"id"`
	Name string `msgpack:"name"`
}

func TestFrameOpCode(t *testing.T) {
	frame, err := encodeFrame(OpInteraction, envelope[sample]{Origin: "a", Payload: sample{Id: 3, Name: "x"}})
	require.NoError(t, err)
	assert.Equal(t, OpInteraction, frame[0])

	var env envelope[sample]
	require.NoError(t, decodeFrame(frame, OpInteraction, &env))
	assert.Equal(t, "a", env.Origin)
	assert.Equal(t, int64(3), env.Payload.Id)

	assert.ErrorIs(t, decodeFrame(frame, OpConversationUpdated, &env), ErrUnexpectedOp)
	assert.ErrorIs(t, decodeFrame(nil, OpInteraction, &env), ErrEmptyFrame)
}
