package fabric

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// envelope is the wire shape published on the cross-node bus: a room id,
// the event name and an arbitrary JSON payload.
type envelope struct {
	Room    string          `json:"room"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func roomChannel(room string) string { return "room:" + room }

// Bus is the Redis PUBLISH/SUBSCRIBE substrate: any node's emit(room,
// event, payload) reaches every node subscribed to that room. A node only
// subscribes to rooms its own local sockets have joined, and
// unsubscribes once the last local member leaves.
type Bus struct {
	publisher  *redis.Client
	subscriber *redis.PubSub
	logger     *slog.Logger

	mu      sync.Mutex
	refs    map[string]int
	handler func(room, event string, payload json.RawMessage)
}

func NewBus(publisher, subscriber *redis.Client) *Bus {
	return &Bus{
		publisher:  publisher,
		subscriber: subscriber.Subscribe(context.Background()),
		refs:       make(map[string]int),
		logger:     slog.Default().With("component", "fabric-bus"),
	}
}

// Run drains the subscription until ctx is cancelled, dispatching each
// received envelope to handler. Call once at startup.
func (b *Bus) Run(ctx context.Context, handler func(room, event string, payload json.RawMessage)) {
	b.handler = handler
	ch := b.subscriber.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("malformed bus envelope", "error", err)
				continue
			}
			b.handler(env.Room, env.Event, env.Payload)
		}
	}
}

// Emit publishes event/payload to room. Every subscriber of that room on
// every node receives it, including this node if it is subscribed.
func (b *Bus) Emit(ctx context.Context, room, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("fabric: marshal payload for room %s: %w", room, err)
	}
	env := envelope{Room: room, Event: event, Payload: raw}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("fabric: marshal envelope for room %s: %w", room, err)
	}
	return b.publisher.Publish(ctx, roomChannel(room), body).Err()
}

// Join subscribes this node to room if it isn't already (first local
// member joining it).
func (b *Bus) Join(ctx context.Context, room string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.refs[room]
	b.refs[room] = n + 1
	if n > 0 {
		return nil
	}
	return b.subscriber.Subscribe(ctx, roomChannel(room))
}

// Leave decrements room's local membership count, unsubscribing this node
// once it drops to zero (last local member left).
func (b *Bus) Leave(ctx context.Context, room string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.refs[room]
	if n <= 1 {
		delete(b.refs, room)
		return b.subscriber.Unsubscribe(ctx, roomChannel(room))
	}
	b.refs[room] = n - 1
	return nil
}

func (b *Bus) Close() error {
	return b.subscriber.Close()
}
