package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const identityChannel = "auth:identity"

// IdentityEvent is published whenever a user signs in or out.
type IdentityEvent struct {
	UserID   string `json:"user_id"`
	SignedIn bool   `json:"signed_in"`
}

// identityBus fans identity events out to subscribers, through Redis Pub/Sub when a
// client is configured so every API instance sees them.
type identityBus struct {
	rdb  *redis.Client
	mu   sync.Mutex
	subs map[chan IdentityEvent]struct{}
}

func newIdentityBus(rdb *redis.Client) *identityBus {
	return &identityBus{rdb: rdb, subs: make(map[chan IdentityEvent]struct{})}
}

func (b *identityBus) publish(ctx context.Context, ev IdentityEvent) {
	if b.rdb != nil {
		payload, _ := json.Marshal(ev)
		if err := b.rdb.Publish(ctx, identityChannel, payload).Err(); err != nil {
			logrus.WithError(err).Warn("Failed to publish identity event")
		}
		return
	}
	b.deliver(ev)
}

func (b *identityBus) deliver(ev IdentityEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			logrus.WithField("user_id", ev.UserID).Warn("Dropping identity event for slow subscriber")
		}
	}
}

// subscribe returns a channel closed when ctx is done.
func (b *identityBus) subscribe(ctx context.Context) <-chan IdentityEvent {
	ch := make(chan IdentityEvent, 16)

	if b.rdb != nil {
		pubsub := b.rdb.Subscribe(ctx, identityChannel)
		go func() {
			defer close(ch)
			defer pubsub.Close()
			msgs := pubsub.Channel()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						return
					}
					var ev IdentityEvent
					if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
						logrus.WithError(err).Warn("Ignoring malformed identity event")
						continue
					}
					select {
					case ch <- ev:
					default:
					}
				}
			}
		}()
		return ch
	}

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch
}
