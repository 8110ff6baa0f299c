package sources

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

	"github.com/cenkalti/backoff/v4"

	"github.com/streamfeed/server/internal/logging"
	"github.com/streamfeed/server/internal/metrics"
	"github.com/streamfeed/server/internal/models"
	"github.com/streamfeed/server/internal/ratelimit"
)

const maxBodyBytes = 4 << 20

// HTTPConfig controls every upstream call an adapter makes
type HTTPConfig struct {
	// Timeout bounds a single attempt
	Timeout time.Duration
	// Retries is how many times a transient failure is retried
	Retries int
	// RetryInterval is the first backoff delay; it grows exponentially
	RetryInterval time.Duration
	UserAgent     string
}

// DefaultHTTPConfig returns the production defaults
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:       8 * time.Second,
		Retries:       2,
		RetryInterval: 250 * time.Millisecond,
		UserAgent:     "StreamFeed/1.0",
	}
}

// httpClient wraps http.Client with per-host pacing, per-attempt deadlines,
// bounded retries and metrics. One per adapter.
type httpClient struct {
	platform models.Platform
	client   *http.Client
	limiter  *ratelimit.Limiter
	metrics  metrics.Recorder
	logger   *logging.Logger
	cfg      HTTPConfig
}

// Deps are the shared collaborators handed to every adapter
type Deps struct {
	HTTPClient *http.Client
	Limiter    *ratelimit.Limiter
	Metrics    metrics.Recorder
	Logger     *logging.Logger
	HTTP       HTTPConfig
}

func newHTTPClient(platform models.Platform, d Deps) *httpClient {
	cfg := d.HTTP
	def := DefaultHTTPConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	client := d.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	limiter := d.Limiter
	if limiter == nil {
		limiter = ratelimit.New(0)
	}
	var rec metrics.Recorder = metrics.Nop{}
	if d.Metrics != nil {
		rec = d.Metrics
	}

	return &httpClient{
		platform: platform,
		client:   client,
		limiter:  limiter,
		metrics:  rec,
		logger:   d.Logger,
		cfg:      cfg,
	}
}

// getJSON fetches rawURL and decodes the body into v
func (c *httpClient) getJSON(ctx context.Context, rawURL string, header http.Header, v interface{}) error {
	body, err := c.get(ctx, rawURL, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s response: %w", c.platform, err)
	}
	return nil
}

// get performs a GET with retries and returns the body of a 2xx response.
// Network errors, 429 and 5xx are retried; other statuses fail at once.
func (c *httpClient) get(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}

	var body []byte
	attempt := 0
	op := func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		if err := c.limiter.Wait(ctx, u.Host); err != nil {
			return backoff.Permanent(err)
		}

		b, err := c.do(ctx, rawURL, header)
		if err == nil {
			body = b
			c.metrics.RecordUpstreamCall(string(c.platform), metrics.OutcomeOK)
			return nil
		}

		var upErr *UpstreamError
		if errors.As(err, &upErr) && !upErr.Temporary() {
			c.metrics.RecordUpstreamCall(string(c.platform), metrics.OutcomeFailure)
			return backoff.Permanent(err)
		}
		if attempt > c.cfg.Retries {
			c.metrics.RecordUpstreamCall(string(c.platform), metrics.OutcomeFailure)
		} else {
			c.metrics.RecordUpstreamCall(string(c.platform), metrics.OutcomeRetry)
		}
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.RetryInterval
	eb.MaxInterval = 4 * c.cfg.RetryInterval
	eb.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.cfg.Retries)), ctx)
	notify := func(err error, wait time.Duration) {
		if c.logger != nil {
			c.logger.Debug("Retrying upstream call", logging.WithFields(map[string]interface{}{
				"platform": c.platform,
				"host":     u.Host,
				"wait":     wait.String(),
				"error":    err,
			}))
		}
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *httpClient) do(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", c.platform, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s read body: %w", c.platform, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{
			Platform: c.platform,
			Status:   resp.StatusCode,
			Message:  upstreamMessage(body),
		}
	}
	return body, nil
}

// upstreamMessage pulls a readable message out of an error body. Both
// platforms use either {"error":{"message":...}} or {"message":...}.
func upstreamMessage(body []byte) string {
	var parsed struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		var nested struct {
			Message string `json:"message"`
		}
		if len(parsed.Error) > 0 && json.Unmarshal(parsed.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		var flat string
		if len(parsed.Error) > 0 && json.Unmarshal(parsed.Error, &flat) == nil && flat != "" {
			return flat
		}
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return msg
}
