package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/eventmarket/internal/domain"
)

const defaultEventTTL = time.Hour

// EventCache implements domain.EventCache with one JSON string per event.
//
// Key schema:
//
//	event:{id} - JSON encoded domain.Event
type EventCache struct {
	c   *Client
	ttl time.Duration
}

// NewEventCache creates an EventCache. A non-positive ttl uses one hour.
func NewEventCache(c *Client, ttl time.Duration) *EventCache {
	if ttl <= 0 {
		ttl = defaultEventTTL
	}
	return &EventCache{c: c, ttl: ttl}
}

func (ec *EventCache) eventKey(id uint64) string {
	return ec.c.key("event:" + strconv.FormatUint(id, 10))
}

// Set stores event under its id.
func (ec *EventCache) Set(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event %d: %w", event.ID, err)
	}
	if err := ec.c.rdb.Set(ctx, ec.eventKey(event.ID), data, ec.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set event %d: %w", event.ID, err)
	}
	return nil
}

// Get returns domain.ErrNotFound on a cache miss.
func (ec *EventCache) Get(ctx context.Context, id uint64) (domain.Event, error) {
	data, err := ec.c.rdb.Get(ctx, ec.eventKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Event{}, domain.ErrNotFound
		}
		return domain.Event{}, fmt.Errorf("redis: get event %d: %w", id, err)
	}
	var event domain.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return domain.Event{}, fmt.Errorf("redis: unmarshal event %d: %w", id, err)
	}
	return event, nil
}

// Invalidate drops the cached copy of an event.
func (ec *EventCache) Invalidate(ctx context.Context, id uint64) error {
	if err := ec.c.rdb.Del(ctx, ec.eventKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate event %d: %w", id, err)
	}
	return nil
}

var _ domain.EventCache = (*EventCache)(nil)
