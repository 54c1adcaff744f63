package rediskv

import (
	"context"

	"github.com/chatforge/realtime/internal/store"
	"github.com/redis/go-redis/v9"
)

// PubSub implements store.PubSubBus over Redis Pub/Sub, the bus
// contract described in §4.8: opaque byte-string messages, at-most-
// once per subscriber connection, used for live (best-effort)
// broadcast only — durable delivery goes through the outbox.
type PubSub struct {
	c *Client
}

// NewPubSub returns a Redis-backed PubSubBus.
func NewPubSub(c *Client) *PubSub {
	return &PubSub{c: c}
}

func (p *PubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	ctx, done := instrument(ctx, "pubsub.publish")
	defer done()
	return p.c.rdb.Publish(ctx, channel, payload).Err()
}

func (p *PubSub) Subscribe(ctx context.Context, channels ...string) (store.Subscription, error) {
	ctx, done := instrument(ctx, "pubsub.subscribe")
	defer done()

	sub := p.c.rdb.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		return nil, err
	}

	out := make(chan store.Message, 64)
	redisCh := sub.Channel()
	go func() {
		defer close(out)
		for msg := range redisCh {
			out <- store.Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}
		}
	}()

	return &subscription{sub: sub, out: out}, nil
}

type subscription struct {
	sub *redis.PubSub
	out chan store.Message
}

func (s *subscription) Channel() <-chan store.Message { return s.out }
func (s *subscription) Close() error                  { return s.sub.Close() }
