package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/streamfeed/server/internal/models"
)

var (
	// ErrUnsupportedURL is returned for hosts or paths that do not name a channel
	ErrUnsupportedURL = errors.New("unsupported channel url")
	// ErrChannelNotFound is returned when a handle or id matches no channel
	ErrChannelNotFound = errors.New("channel not found")
)

var (
	channelIDPattern = regexp.MustCompile(`^UC[a-zA-Z0-9_-]{22}$`)
	channelInPath    = regexp.MustCompile(`/channel/(UC[a-zA-Z0-9_-]{22})`)
)

// ResolvedChannel is a canonical channel id for a user-supplied url
type ResolvedChannel struct {
	ChannelID string `json:"channelId"`
	Handle    string `json:"handle,omitempty"`
	URL       string `json:"url"`
}

// ChannelResolver turns youtube channel urls (/channel/, /@handle, /c/,
// /user/) into channel ids
type ChannelResolver struct {
	apiKey  string
	apiBase string
	webBase string
	http    *httpClient
}

// ResolverConfig configures the resolver. Without an API key handles are
// resolved from the channel page markup.
type ResolverConfig struct {
	APIKey  string
	APIBase string
	WebBase string
}

// NewChannelResolver creates a resolver
func NewChannelResolver(cfg ResolverConfig, deps Deps) *ChannelResolver {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultYouTubeAPIBase
	}
	if cfg.WebBase == "" {
		cfg.WebBase = DefaultYouTubeWebBase
	}
	return &ChannelResolver{
		apiKey:  cfg.APIKey,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		webBase: strings.TrimRight(cfg.WebBase, "/"),
		http:    newHTTPClient(models.PlatformYouTube, deps),
	}
}

// Resolve maps raw to a channel id
func (r *ChannelResolver) Resolve(ctx context.Context, raw string) (*ResolvedChannel, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrUnsupportedURL
	}

	if channelIDPattern.MatchString(raw) {
		return resolved(raw, ""), nil
	}
	if strings.HasPrefix(raw, "@") && !strings.Contains(raw, "/") {
		return r.byHandle(ctx, raw)
	}

	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, ErrUnsupportedURL
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")
	if host != "youtube.com" {
		return nil, ErrUnsupportedURL
	}

	parts := strings.FieldsFunc(u.Path, func(c rune) bool { return c == '/' })
	if len(parts) == 0 {
		return nil, ErrUnsupportedURL
	}

	switch {
	case parts[0] == "channel" && len(parts) > 1 && channelIDPattern.MatchString(parts[1]):
		return resolved(parts[1], ""), nil
	case strings.HasPrefix(parts[0], "@") && len(parts[0]) > 1:
		return r.byHandle(ctx, parts[0])
	case parts[0] == "user" && len(parts) > 1:
		if r.apiKey != "" {
			return r.byAPI(ctx, "forUsername", parts[1], "")
		}
		return r.byPage(ctx, "/user/"+url.PathEscape(parts[1]), "")
	case parts[0] == "c" && len(parts) > 1:
		return r.byPage(ctx, "/c/"+url.PathEscape(parts[1]), "")
	}

	return nil, ErrUnsupportedURL
}

func (r *ChannelResolver) byHandle(ctx context.Context, handle string) (*ResolvedChannel, error) {
	if r.apiKey != "" {
		return r.byAPI(ctx, "forHandle", handle, handle)
	}
	return r.byPage(ctx, "/"+url.PathEscape(handle), handle)
}

func (r *ChannelResolver) byAPI(ctx context.Context, param, value, handle string) (*ResolvedChannel, error) {
	q := url.Values{}
	q.Set("part", "id")
	q.Set(param, value)
	q.Set("key", r.apiKey)

	var resp ytChannelsResponse
	if err := r.http.getJSON(ctx, r.apiBase+"/channels?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 || resp.Items[0].ID == "" {
		return nil, fmt.Errorf("%s: %w", value, ErrChannelNotFound)
	}
	return resolved(resp.Items[0].ID, handle), nil
}

// byPage reads the canonical channel id from a channel page
func (r *ChannelResolver) byPage(ctx context.Context, path, handle string) (*ResolvedChannel, error) {
	body, err := r.http.get(ctx, r.webBase+path, http.Header{"Accept-Language": {"en"}})
	if err != nil {
		var upErr *UpstreamError
		if errors.As(err, &upErr) && upErr.Status == http.StatusNotFound {
			return nil, fmt.Errorf("%s: %w", path, ErrChannelNotFound)
		}
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse channel page: %w", err)
	}

	var id string
	if v, ok := doc.Find(`meta[itemprop="channelId"]`).Attr("content"); ok && channelIDPattern.MatchString(v) {
		id = v
	}
	if id == "" {
		if href, ok := doc.Find(`link[rel="canonical"]`).Attr("href"); ok {
			if m := channelInPath.FindStringSubmatch(href); len(m) > 1 {
				id = m[1]
			}
		}
	}
	if id == "" {
		if v, ok := doc.Find(`meta[property="og:url"]`).Attr("content"); ok {
			if m := channelInPath.FindStringSubmatch(v); len(m) > 1 {
				id = m[1]
			}
		}
	}
	if id == "" {
		return nil, fmt.Errorf("%s: %w", path, ErrChannelNotFound)
	}

	return resolved(id, handle), nil
}

func resolved(id, handle string) *ResolvedChannel {
	return &ResolvedChannel{
		ChannelID: id,
		Handle:    handle,
		URL:       "https://www.youtube.com/channel/" + id,
	}
}
