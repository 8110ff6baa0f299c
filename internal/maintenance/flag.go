// Package maintenance stores the service-wide maintenance switch in the
// shared cache so every instance sees the same state.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/streamfeed/server/internal/cache"
)

// State is the payload under cache.MaintenanceKey
type State struct {
	Enabled   bool   `json:"enabled"`
	UpdatedAt string `json:"updatedAt"`
}

// Flag reads and writes the maintenance switch
type Flag struct {
	store cache.Store
	now   func() time.Time
}

// NewFlag creates a Flag over store
func NewFlag(store cache.Store) *Flag {
	return &Flag{store: store, now: time.Now}
}

// Enabled reports whether maintenance is on. An absent row means off.
func (f *Flag) Enabled(ctx context.Context) (bool, error) {
	var st State
	_, ok, err := cache.ReadJSON(ctx, f.store, cache.MaintenanceKey, &st)
	if err != nil {
		return false, fmt.Errorf("read maintenance flag: %w", err)
	}
	return ok && st.Enabled, nil
}

// Set turns maintenance on or off
func (f *Flag) Set(ctx context.Context, enabled bool) error {
	st := State{
		Enabled:   enabled,
		UpdatedAt: f.now().UTC().Format(time.RFC3339),
	}
	if err := cache.WriteJSON(ctx, f.store, cache.MaintenanceKey, st); err != nil {
		return fmt.Errorf("write maintenance flag: %w", err)
	}
	return nil
}
