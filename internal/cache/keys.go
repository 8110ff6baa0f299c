package cache

import (
	"strings"

	"golang.org/x/text/cases"
)

const (
	// TokenKey holds the live-streaming platform's app access token
	TokenKey = "twitch_token"
	// MaintenanceKey holds the service-wide maintenance flag
	MaintenanceKey = "system:maintenance"
)

// FeedKey is the whole-feed entry for one user
func FeedKey(userID string) string {
	return "feed:" + userID
}

// ChannelKey is the per-channel adapter output for a platform handle.
// It is shared by every source that tracks the same handle.
func ChannelKey(platform, handle string) string {
	return normalize(platform) + ":channel:" + normalize(handle)
}

// UploadsKey is the resolved uploads collection id for a platform handle
func UploadsKey(platform, handle string) string {
	return normalize(platform) + ":uploads:" + normalize(handle)
}

// normalize case-folds handle-derived key parts so "Foo" and "foo" share one row.
// A Caser is stateful, so each call gets its own.
func normalize(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}
