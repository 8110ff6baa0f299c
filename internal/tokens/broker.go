// Package tokens keeps an app access token for the live-streaming platform in
// the shared cache and exchanges client credentials when it runs low.
package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/streamfeed/server/internal/cache"
	"github.com/streamfeed/server/internal/crypto"
	"github.com/streamfeed/server/internal/logging"
)

// DefaultTokenURL is the client-credentials endpoint
const DefaultTokenURL = "https://id.twitch.tv/oauth2/token"

// refreshMargin is how close to expiry a cached token may get before it is
// replaced
const refreshMargin = 60 * time.Second

// ErrCredentialsMissing is returned when client id or secret is not configured
var ErrCredentialsMissing = errors.New("twitch client credentials not configured")

// AuthError is a non-2xx response from the token endpoint
type AuthError struct {
	Status int
	Body   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("twitch token exchange failed: status %d: %s", e.Status, e.Body)
}

// Config holds the broker settings
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	HTTPClient   *http.Client
	// Sealer, when set, encrypts the token before it reaches the cache
	Sealer *crypto.Sealer
	Now    func() time.Time
}

// Broker hands out a valid app access token
type Broker struct {
	store        cache.Store
	clientID     string
	clientSecret string
	tokenURL     string
	client       *http.Client
	sealer       *crypto.Sealer
	now          func() time.Time
	logger       *logging.Logger
}

// cachedToken is the payload under cache.TokenKey. ExpiresAt is epoch millis.
type cachedToken struct {
	Token     string `json:"token,omitempty"`
	Sealed    string `json:"sealed,omitempty"`
	ExpiresAt int64  `json:"expiresAt"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// NewBroker creates a Broker over store
func NewBroker(store cache.Store, cfg Config, logger *logging.Logger) *Broker {
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Broker{
		store:        store,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		tokenURL:     cfg.TokenURL,
		client:       cfg.HTTPClient,
		sealer:       cfg.Sealer,
		now:          cfg.Now,
		logger:       logger,
	}
}

// ClientID is sent alongside the bearer token on every API call
func (b *Broker) ClientID() string {
	return b.clientID
}

// Preflight checks that a token can be obtained. The adapter exposes this so
// a broker failure is reported once for the whole platform.
func (b *Broker) Preflight(ctx context.Context) error {
	_, err := b.Token(ctx)
	return err
}

// Invalidate drops the cached token so the next Token call exchanges
// credentials again. Used when the API rejects a token before its expiry.
func (b *Broker) Invalidate(ctx context.Context) error {
	if err := cache.WriteJSON(ctx, b.store, cache.TokenKey, cachedToken{}); err != nil {
		return fmt.Errorf("invalidate token: %w", err)
	}
	b.logger.Info("Invalidated cached twitch token")
	return nil
}

// Token returns a cached token when it has more than a minute left, and
// otherwise exchanges credentials for a new one and caches it.
func (b *Broker) Token(ctx context.Context) (string, error) {
	if b.clientID == "" || b.clientSecret == "" {
		return "", ErrCredentialsMissing
	}

	if tok, ok := b.cached(ctx); ok {
		return tok, nil
	}

	resp, err := b.exchange(ctx)
	if err != nil {
		return "", err
	}

	expiresAt := b.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	if err := b.save(ctx, resp.AccessToken, expiresAt); err != nil {
		// The token is still usable for this request.
		b.logger.Warn("Failed to cache twitch token", logging.WithField("error", err))
	}

	return resp.AccessToken, nil
}

func (b *Broker) cached(ctx context.Context) (string, bool) {
	var ct cachedToken
	_, ok, err := cache.ReadJSON(ctx, b.store, cache.TokenKey, &ct)
	if err != nil {
		b.logger.Warn("Failed to read cached twitch token", logging.WithField("error", err))
		return "", false
	}
	if !ok {
		return "", false
	}

	if b.now().Add(refreshMargin).UnixMilli() >= ct.ExpiresAt {
		return "", false
	}

	if ct.Sealed != "" {
		if b.sealer == nil {
			return "", false
		}
		plain, err := b.sealer.Open(cache.TokenKey, ct.Sealed)
		if err != nil {
			b.logger.Warn("Cached twitch token could not be unsealed", logging.WithField("error", err))
			return "", false
		}
		return string(plain), true
	}

	if ct.Token == "" {
		return "", false
	}
	return ct.Token, true
}

func (b *Broker) save(ctx context.Context, token string, expiresAt time.Time) error {
	ct := cachedToken{ExpiresAt: expiresAt.UnixMilli()}
	if b.sealer != nil {
		sealed, err := b.sealer.Seal(cache.TokenKey, []byte(token))
		if err != nil {
			return fmt.Errorf("seal token: %w", err)
		}
		ct.Sealed = sealed
	} else {
		ct.Token = token
	}
	return cache.WriteJSON(ctx, b.store, cache.TokenKey, ct)
}

func (b *Broker) exchange(ctx context.Context) (*tokenResponse, error) {
	form := url.Values{}
	form.Set("client_id", b.clientID)
	form.Set("client_secret", b.clientSecret)
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twitch token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &AuthError{Status: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, &AuthError{Status: resp.StatusCode, Body: "response has no access_token"}
	}

	b.logger.Info("Exchanged twitch app token", logging.WithField("expires_in", tr.ExpiresIn))
	return &tr, nil
}
