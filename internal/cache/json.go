package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// IsFresh reports whether an entry written at writtenAt is still inside ttlSec
func IsFresh(writtenAt time.Time, ttlSec int, now time.Time) bool {
	if ttlSec <= 0 || writtenAt.IsZero() {
		return false
	}
	return now.Sub(writtenAt) < time.Duration(ttlSec)*time.Second
}

// ReadJSON decodes the payload at key into v. ok is false when the key is
// absent or the payload no longer decodes; both are treated as a miss.
func ReadJSON(ctx context.Context, s Store, key string, v interface{}) (writtenAt time.Time, ok bool, err error) {
	entry, found, err := s.Read(ctx, key)
	if err != nil {
		return time.Time{}, false, err
	}
	if !found || len(entry.Payload) == 0 {
		return time.Time{}, false, nil
	}
	if err := json.Unmarshal(entry.Payload, v); err != nil {
		return time.Time{}, false, nil
	}
	return entry.WrittenAt, true, nil
}

// WriteJSON encodes v and upserts it under key
func WriteJSON(ctx context.Context, s Store, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache payload %s: %w", key, err)
	}
	return s.Write(ctx, key, data)
}
