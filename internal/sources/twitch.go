package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/streamfeed/server/internal/logging"
	"github.com/streamfeed/server/internal/models"
)

const (
	DefaultTwitchAPIBase = "https://api.twitch.tv/helix"

	twitchLiveTTL    = 60
	twitchOfflineTTL = 300
)

// TokenSource supplies the bearer token and client id for Helix calls
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	ClientID() string
	Preflight(ctx context.Context) error
	// Invalidate forgets the current token after the API rejected it
	Invalidate(ctx context.Context) error
}

// TwitchConfig configures the live-platform adapter
type TwitchConfig struct {
	APIBase string
}

// TwitchAdapter reports whether a login is streaming, and otherwise emits a
// single offline placeholder built from the channel profile
type TwitchAdapter struct {
	apiBase string
	tokens  TokenSource
	http    *httpClient
}

// NewTwitchAdapter creates the adapter
func NewTwitchAdapter(cfg TwitchConfig, tokens TokenSource, deps Deps) *TwitchAdapter {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultTwitchAPIBase
	}
	return &TwitchAdapter{
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		tokens:  tokens,
		http:    newHTTPClient(models.PlatformTwitch, deps),
	}
}

func (a *TwitchAdapter) Platform() models.Platform {
	return models.PlatformTwitch
}

// Preflight obtains a token so a broker failure is reported once for every
// twitch source in a feed
func (a *TwitchAdapter) Preflight(ctx context.Context) error {
	return a.tokens.Preflight(ctx)
}

type helixStreamsResponse struct {
	Data []struct {
		UserLogin    string `json:"user_login"`
		UserName     string `json:"user_name"`
		Title        string `json:"title"`
		ThumbnailURL string `json:"thumbnail_url"`
		StartedAt    string `json:"started_at"`
	} `json:"data"`
}

type helixUsersResponse struct {
	Data []struct {
		Login           string `json:"login"`
		DisplayName     string `json:"display_name"`
		ProfileImageURL string `json:"profile_image_url"`
	} `json:"data"`
}

func (a *TwitchAdapter) FetchChannelItems(ctx context.Context, handle string) (Result, error) {
	token, err := a.tokens.Token(ctx)
	if err != nil {
		return Result{}, err
	}

	header := http.Header{}
	header.Set("Client-ID", a.tokens.ClientID())
	header.Set("Authorization", "Bearer "+token)

	login := strings.ToLower(strings.TrimSpace(handle))

	var streams helixStreamsResponse
	if err := a.http.getJSON(ctx, a.apiBase+"/streams?"+url.Values{"user_login": {login}}.Encode(), header, &streams); err != nil {
		return Result{}, a.checkAuth(ctx, err)
	}

	if len(streams.Data) > 0 {
		items := make([]models.StreamItem, 0, len(streams.Data))
		for _, s := range streams.Data {
			name := s.UserName
			if name == "" {
				name = login
			}
			title := s.Title
			if title == "" {
				title = "(no title)"
			}
			items = append(items, models.StreamItem{
				Platform:     models.PlatformTwitch,
				ChannelName:  models.StringPtr(name),
				Title:        title,
				URL:          channelURL(login),
				ThumbnailURL: models.StringPtr(sizeThumbnail(s.ThumbnailURL)),
				Status:       models.StatusLive,
				StartAt:      models.StringPtr(s.StartedAt),
			})
		}
		return Result{Items: items, TTLSec: twitchLiveTTL}, nil
	}

	var users helixUsersResponse
	if err := a.http.getJSON(ctx, a.apiBase+"/users?"+url.Values{"login": {login}}.Encode(), header, &users); err != nil {
		return Result{}, a.checkAuth(ctx, err)
	}

	name := login
	var avatar string
	if len(users.Data) > 0 {
		u := users.Data[0]
		switch {
		case u.DisplayName != "":
			name = u.DisplayName
		case u.Login != "":
			name = u.Login
		}
		avatar = u.ProfileImageURL
	}

	return Result{
		Items: []models.StreamItem{{
			Platform:     models.PlatformTwitch,
			ChannelName:  models.StringPtr(name),
			Title:        fmt.Sprintf("%s - Offline", name),
			URL:          channelURL(login),
			ThumbnailURL: models.StringPtr(avatar),
			Status:       models.StatusArchive,
		}},
		TTLSec: twitchOfflineTTL,
	}, nil
}

// checkAuth drops the cached token when Helix answers 401, so a revoked
// token is replaced on the next build instead of at its stated expiry
func (a *TwitchAdapter) checkAuth(ctx context.Context, err error) error {
	var upErr *UpstreamError
	if !errors.As(err, &upErr) || upErr.Status != http.StatusUnauthorized {
		return err
	}
	if invErr := a.tokens.Invalidate(ctx); invErr != nil && a.http.logger != nil {
		a.http.logger.Warn("Failed to invalidate twitch token", logging.WithField("error", invErr))
	}
	return err
}

func channelURL(login string) string {
	return "https://www.twitch.tv/" + login
}

// sizeThumbnail fills the {width}x{height} template Helix returns
func sizeThumbnail(template string) string {
	r := strings.NewReplacer("{width}", "320", "{height}", "180")
	return r.Replace(template)
}
