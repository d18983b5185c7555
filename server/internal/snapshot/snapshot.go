package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// EventForecast is the envelope event name for feed broadcasts.
const EventForecast = "forecast"

// Envelope is the JSON document sent to clients.
type Envelope struct {
	Event       string `json:"event"`
	Seq         uint64 `json:"seq"`
	GeneratedAt string `json:"generated_at"`
	Data        any    `json:"data"`
}

// Payload is one serialized feed snapshot. Data must not be modified.
type Payload struct {
	Seq         uint64
	GeneratedAt time.Time
	Data        []byte
}

// Encode serializes data into the wire envelope.
func Encode(seq uint64, at time.Time, data any) (*Payload, error) {
	b, err := json.Marshal(Envelope{
		Event:       EventForecast,
		Seq:         seq,
		GeneratedAt: at.UTC().Format(time.RFC3339),
		Data:        data,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode seq %d: %w", seq, err)
	}
	return &Payload{Seq: seq, GeneratedAt: at, Data: b}, nil
}

// Cache holds the most recent Payload.
type Cache struct {
	cur   atomic.Pointer[Payload]
	group singleflight.Group
}

// Current returns the cached payload, or nil if none has been stored yet.
func (c *Cache) Current() *Payload {
	return c.cur.Load()
}

// Store publishes p unless a payload with a higher sequence number is already
// cached. It reports whether p was stored.
func (c *Cache) Store(p *Payload) bool {
	for {
		old := c.cur.Load()
		if old != nil && old.Seq > p.Seq {
			return false
		}
		if c.cur.CompareAndSwap(old, p) {
			return true
		}
	}
}

// LoadOrGenerate returns the cached payload, calling generate to produce and
// cache one if the cache is empty. Concurrent callers on an empty cache share
// a single generate call.
func (c *Cache) LoadOrGenerate(ctx context.Context, generate func(context.Context) (*Payload, error)) (*Payload, error) {
	if p := c.Current(); p != nil {
		return p, nil
	}
	v, err, _ := c.group.Do("payload", func() (any, error) {
		if p := c.Current(); p != nil {
			return p, nil
		}
		p, err := generate(ctx)
		if err != nil {
			return nil, err
		}
		c.Store(p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Payload), nil
}
