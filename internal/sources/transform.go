package sources

import (
	"context"
	"strings"

	"github.com/streamfeed/server/internal/models"
)

// Transform rewrites an adapter's items before they are cached. Transforms
// are pure and run in the order they are listed.
type Transform func(ctx context.Context, items []models.StreamItem) []models.StreamItem

// Pipeline is an ordered list of transforms
type Pipeline []Transform

// DefaultPipeline tidies adapter output
func DefaultPipeline() Pipeline {
	return Pipeline{TrimText, DedupeByURL}
}

// Apply runs every transform in order
func (p Pipeline) Apply(ctx context.Context, items []models.StreamItem) []models.StreamItem {
	for _, t := range p {
		items = t(ctx, items)
	}
	return items
}

// TrimText strips surrounding whitespace from titles and channel names
func TrimText(_ context.Context, items []models.StreamItem) []models.StreamItem {
	out := make([]models.StreamItem, len(items))
	for i, it := range items {
		it.Title = strings.TrimSpace(it.Title)
		if it.Title == "" {
			it.Title = "(no title)"
		}
		if it.ChannelName != nil {
			it.ChannelName = models.StringPtr(strings.TrimSpace(*it.ChannelName))
		}
		out[i] = it
	}
	return out
}

// DedupeByURL keeps the first item for each url. An upstream listing the
// same video twice (playlist and live detail) would otherwise show it twice.
func DedupeByURL(_ context.Context, items []models.StreamItem) []models.StreamItem {
	seen := make(map[string]bool, len(items))
	out := make([]models.StreamItem, 0, len(items))
	for _, it := range items {
		if it.URL != "" && seen[it.URL] {
			continue
		}
		seen[it.URL] = true
		out = append(out, it)
	}
	return out
}
