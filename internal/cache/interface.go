package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is one cached payload and the moment it was written
type Entry struct {
	Payload   json.RawMessage
	WrittenAt time.Time
}

// Store is a key/value table of JSON payloads. Rows carry no TTL; callers judge
// freshness from a ttl embedded in the payload itself.
type Store interface {
	// Read returns the entry for key. ok is false when no row exists.
	Read(ctx context.Context, key string) (entry Entry, ok bool, err error)
	// Write upserts key, replacing any previous row and stamping the current time.
	Write(ctx context.Context, key string, payload json.RawMessage) error
}

// Option configures a Store backend
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used to stamp writes
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
