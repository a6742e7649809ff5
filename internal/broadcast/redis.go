// Package broadcast implements a typed Redis pub/sub used to fan a
// library's op-re/global-ack/presence broadcasts out across every
// authority process
// that currently has a client connected for that library, so the authority
// can scale horizontally while each library still has exactly one process
// acting as its single writer at any given time.
package broadcast

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// Bus publishes and subscribes to per-library broadcast channels.
type Bus struct {
	rdb *redis.Client
}

func NewBus(addr string) *Bus {
	return &Bus{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

func (b *Bus) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func (b *Bus) Close() error { return b.rdb.Close() }

func channelName(library string) string { return "collabtext:library:" + library }

// Publish sends a typed envelope to every authority process subscribed to
// library's channel, including this one (the caller is responsible for
// excluding the original sender connection locally — by connection
// identity, not replicaId).
func (b *Bus) Publish(ctx context.Context, library string, envelope any) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, channelName(library), payload).Err()
}

// Subscription delivers raw broadcast payloads for one library.
type Subscription struct {
	pubsub *redis.PubSub
	ch     <-chan *redis.Message
}

func (b *Bus) Subscribe(ctx context.Context, library string) *Subscription {
	pubsub := b.rdb.Subscribe(ctx, channelName(library))
	return &Subscription{pubsub: pubsub, ch: pubsub.Channel()}
}

func (s *Subscription) Close() error { return s.pubsub.Close() }

// Next blocks for the next broadcast payload on this library's channel.
func (s *Subscription) Next(ctx context.Context) ([]byte, bool) {
	select {
	case msg, ok := <-s.ch:
		if !ok {
			return nil, false
		}
		return []byte(msg.Payload), true
	case <-ctx.Done():
		return nil, false
	}
}
