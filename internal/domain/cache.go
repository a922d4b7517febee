package domain

import (
	"context"
	"time"
)

// EventCache provides fast lookups of registered events. Events are immutable
// once committed, so entries never need invalidating on write.
type EventCache interface {
	Set(ctx context.Context, event Event) error
	Get(ctx context.Context, id uint64) (Event, error)
	Invalidate(ctx context.Context, id uint64) error
}

// RateLimiter admits at most limit requests per key in any window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one entry of a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries serialized notifications between instances: pub/sub for
// live delivery and an append-only stream for replay.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
