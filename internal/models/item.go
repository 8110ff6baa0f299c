package models

import "strings"

// Platform identifies an upstream channel provider
type Platform string

const (
	PlatformYouTube Platform = "youtube"
	PlatformTwitch  Platform = "twitch"
)

// ParsePlatform normalizes a platform name and reports whether it is supported
func ParsePlatform(s string) (Platform, bool) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PlatformYouTube, PlatformTwitch:
		return p, true
	}
	return p, false
}

// StreamStatus is the broadcast state of a stream item
type StreamStatus string

const (
	StatusLive      StreamStatus = "live"
	StatusScheduled StreamStatus = "scheduled"
	StatusArchive   StreamStatus = "archive"
)

// Rank orders statuses for the feed: live first, archive last
func (s StreamStatus) Rank() int {
	switch s {
	case StatusLive:
		return 0
	case StatusScheduled:
		return 1
	default:
		return 2
	}
}

// StreamItem is one entry of a channel's current state.
// SourceID is empty inside the shared per-channel cache and stamped when merged into a feed.
type StreamItem struct {
	Platform     Platform     `json:"platform"`
	SourceID     string       `json:"sourceId,omitempty"`
	ChannelName  *string      `json:"channelName"`
	Title        string       `json:"title"`
	URL          string       `json:"url"`
	ThumbnailURL *string      `json:"thumbnailUrl"`
	Status       StreamStatus `json:"status"`
	StartAt      *string      `json:"startAt"`
}

// FeedError records a source that could not contribute to a feed
type FeedError struct {
	Platform Platform `json:"platform"`
	SourceID string   `json:"sourceId"`
	Message  string   `json:"message"`
}

// FeedResponse is the merged feed returned to clients and cached verbatim
type FeedResponse struct {
	OK        bool         `json:"ok"`
	UpdatedAt string       `json:"updatedAt"`
	Items     []StreamItem `json:"items"`
	Errors    []FeedError  `json:"errors"`
}

// StringPtr returns nil for empty strings so optional JSON fields encode as null
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
