package sources

import (
	"context"
	"fmt"

	"github.com/streamfeed/server/internal/models"
)

// Adapter turns a platform handle into the channel's current stream items
type Adapter interface {
	Platform() models.Platform
	FetchChannelItems(ctx context.Context, handle string) (Result, error)
}

// Preflighter is implemented by adapters that depend on a shared
// prerequisite (an access token). The aggregator runs it once per platform
// per request; a failure marks every source on that platform as failed.
type Preflighter interface {
	Preflight(ctx context.Context) error
}

// Result is one adapter call's output. TTLSec is how long the items may be
// served from the per-channel cache.
type Result struct {
	Items  []models.StreamItem `json:"items"`
	TTLSec int                 `json:"ttlSec"`
}

// UpstreamError is a non-2xx response from a platform API
type UpstreamError struct {
	Platform models.Platform
	Status   int
	Message  string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s upstream error: status %d", e.Platform, e.Status)
	}
	return fmt.Sprintf("%s upstream error: status %d: %s", e.Platform, e.Status, e.Message)
}

// Temporary reports whether a retry could succeed
func (e *UpstreamError) Temporary() bool {
	return e.Status == 429 || e.Status >= 500
}

// Set maps platforms to their adapter
type Set map[models.Platform]Adapter

// NewSet indexes adapters by the platform they serve
func NewSet(adapters ...Adapter) Set {
	s := make(Set, len(adapters))
	for _, a := range adapters {
		s[a.Platform()] = a
	}
	return s
}

// Get returns the adapter for p
func (s Set) Get(p models.Platform) (Adapter, bool) {
	a, ok := s[p]
	return a, ok
}
