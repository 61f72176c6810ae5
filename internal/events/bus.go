package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Domain event types carried on the bus.
const (
	TypeAssignmentCreated  = "assignment.created"
	TypeAssignmentReleased = "assignment.released"
	TypeRecordTransitioned = "record.transitioned"
	TypeLinkUsed           = "link.used"
)

// Event is a domain event emitted by the engine. Payload is the
// JSON-encoded entity the event concerns.
type Event struct {
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// New builds an event, encoding payload as JSON. Encoding failures are
// logged and produce an empty payload rather than failing the caller.
func New(typ string, payload any) Event {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("events: encode %s payload failed: %v", typ, err)
		body = []byte("{}")
	}
	return Event{Type: typ, OccurredAt: time.Now().UTC(), Payload: body}
}

// Bus is the abstraction over different backends.
type Bus interface {
	Publish(ctx context.Context, evt Event) error
	Consume(ctx context.Context) (<-chan Event, error)
}

// InMemory is a minimal channel-backed bus for dev/testing.
type InMemory struct {
	ch chan Event
}

// NewInMemory creates a bounded in-memory bus.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Event, size)}
}

// Publish enqueues an event.
func (b *InMemory) Publish(ctx context.Context, evt Event) error {
	select {
	case b.ch <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel for projection workers.
func (b *InMemory) Consume(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			select {
			case evt := <-b.ch:
				out <- evt
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisBus implements a simple Redis list-backed bus.
type RedisBus struct {
	client *redis.Client
	key    string
}

// NewRedisBus builds a bus using LPUSH/BRPOP semantics.
func NewRedisBus(client *redis.Client, key string) *RedisBus {
	if key == "" {
		key = "studyroom:events"
	}
	return &RedisBus{client: client, key: key}
}

// Publish enqueues an event.
func (b *RedisBus) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.client.LPush(ctx, b.key, body).Err()
}

// Consume streams events using BRPOP.
func (b *RedisBus) Consume(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			res, err := b.client.BRPop(ctx, 5*time.Second, b.key).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if len(res) == 2 {
				var evt Event
				if err := json.Unmarshal([]byte(res[1]), &evt); err == nil {
					out <- evt
				}
			}
		}
	}()
	return out, nil
}
