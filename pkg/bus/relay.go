package bus

import (
	"context"
	"errors"
	"log"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrEmptyFrame   = errors.New("empty frame")
	ErrUnexpectedOp = errors.New("unexpected op code")
)

// Publisher is what producers depend on. Both Bus and Relay satisfy it.
type Publisher[T any] interface {
	Publish(v T)
}

type envelope[T any] struct {
	Origin  string `msgpack:"origin"`
	Payload T      `msgpack:"payload"`
}

// Relay mirrors a Bus across processes through a Redis pub/sub channel.
// Values published through the relay reach the local bus immediately and
// every other relay on the same channel shortly after. Frames a relay sent
// itself are ignored on the way back in.
type Relay[T any] struct {
	bus     *Bus[T]
	client  *redis.Client
	channel string
	op      uint8
	origin  string
}

func NewRelay[T any](b *Bus[T], client *redis.Client, channel string, op uint8) *Relay[T] {
	return &Relay[T]{
		bus:     b,
		client:  client,
		channel: channel,
		op:      op,
		origin:  uuid.NewString(),
	}
}

func (r *Relay[T]) Publish(v T) {
	r.bus.Publish(v)

	frame, err := encodeFrame(r.op, envelope[T]{Origin: r.origin, Payload: v})
	if err != nil {
		log.Println(err)
		sentry.CaptureException(err)
		return
	}
	if err := r.client.Publish(context.TODO(), r.channel, frame).Err(); err != nil {
		log.Println(err)
		sentry.CaptureException(err)
	}
}

// Run forwards frames from Redis onto the local bus until ctx is done.
func (r *Relay[T]) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope[T]
			if err := decodeFrame([]byte(msg.Payload), r.op, &env); err != nil {
				log.Println(err)
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			r.bus.Publish(env.Payload)
		}
	}
}

func encodeFrame(op uint8, v interface{}) ([]byte, error) {
	marshaled, err := msgpack.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append([]byte{op}, marshaled...), nil
}

func decodeFrame(frame []byte, op uint8, v interface{}) error {
	if len(frame) == 0 {
		return ErrEmptyFrame
	}
	if frame[0] != op {
		return ErrUnexpectedOp
	}
	return msgpack.Unmarshal(frame[1:], v)
}
