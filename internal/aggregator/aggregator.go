package aggregator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/streamfeed/server/internal/cache"
	"github.com/streamfeed/server/internal/logging"
	"github.com/streamfeed/server/internal/metrics"
	"github.com/streamfeed/server/internal/models"
	"github.com/streamfeed/server/internal/sources"
)

const (
	defaultFeedTTL     = 90
	defaultConcurrency = 8
	updatedAtLayout    = "2006-01-02T15:04:05.000Z"
)

// SourceLister loads a user's configured sources
type SourceLister interface {
	ListSources(ctx context.Context, userID string, enabledOnly bool) ([]models.Source, error)
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithFeedTTL sets how long a merged feed is served from cache
func WithFeedTTL(sec int) Option {
	return func(a *Aggregator) {
		if sec > 0 {
			a.feedTTL = sec
		}
	}
}

// WithConcurrency caps how many sources are fetched at once
func WithConcurrency(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

func WithMetrics(m metrics.Recorder) Option {
	return func(a *Aggregator) {
		if m != nil {
			a.metrics = m
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithPipeline sets the transforms applied to adapter output before it is cached
func WithPipeline(p sources.Pipeline) Option {
	return func(a *Aggregator) {
		a.pipeline = p
	}
}

// Aggregator merges every enabled source of a user into one feed
type Aggregator struct {
	sources     SourceLister
	adapters    sources.Set
	cache       cache.Store
	logger      *logging.Logger
	metrics     metrics.Recorder
	pipeline    sources.Pipeline
	now         func() time.Time
	feedTTL     int
	concurrency int
}

// feedPayload is the whole-feed cache row
type feedPayload struct {
	models.FeedResponse
	TTLSec int `json:"ttlSec"`
}

func New(lister SourceLister, adapters sources.Set, store cache.Store, logger *logging.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		sources:     lister,
		adapters:    adapters,
		cache:       store,
		logger:      logger,
		metrics:     metrics.Nop{},
		now:         time.Now,
		feedTTL:     defaultFeedTTL,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GetFeed returns the user's merged feed, from cache when the last build is
// still fresh. Per-source failures are reported in Errors; only a failure to
// load the source list fails the call.
func (a *Aggregator) GetFeed(ctx context.Context, userID string) (*models.FeedResponse, error) {
	key := cache.FeedKey(userID)

	var cached feedPayload
	writtenAt, ok, err := cache.ReadJSON(ctx, a.cache, key, &cached)
	if err != nil {
		a.logger.Warn("Feed cache read failed", logging.WithField("userId", userID), logging.WithField("error", err))
	}
	if ok && cache.IsFresh(writtenAt, cached.TTLSec, a.now()) {
		a.metrics.RecordCacheLookup(metrics.TierFeed, true)
		resp := cached.FeedResponse
		return &resp, nil
	}
	a.metrics.RecordCacheLookup(metrics.TierFeed, false)

	start := a.now()
	srcs, err := a.sources.ListSources(ctx, userID, true)
	if err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}

	resp := a.build(ctx, srcs)
	a.metrics.RecordFeedBuild(a.now().Sub(start))

	if err := cache.WriteJSON(ctx, a.cache, key, feedPayload{FeedResponse: *resp, TTLSec: a.feedTTL}); err != nil {
		a.logger.Error("Failed to cache feed", logging.WithField("userId", userID), logging.WithField("error", err))
	}

	a.logger.Info("Built feed", logging.WithFields(map[string]interface{}{
		"userId":  userID,
		"sources": len(srcs),
		"items":   len(resp.Items),
		"errors":  len(resp.Errors),
	}))

	return resp, nil
}

// sourceResult is one source's contribution; exactly one field is set
type sourceResult struct {
	items []models.StreamItem
	err   *models.FeedError
}

func (a *Aggregator) build(ctx context.Context, srcs []models.Source) *models.FeedResponse {
	// Fetches outlive a disconnected client so the caches still get filled.
	ctx = context.WithoutCancel(ctx)

	results := make([]sourceResult, len(srcs))
	pf := newPreflights()

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, src := range srcs {
		g.Go(func() error {
			results[i] = a.fetchSource(ctx, src, pf)
			return nil
		})
	}
	_ = g.Wait()

	items := make([]models.StreamItem, 0)
	errs := make([]models.FeedError, 0)
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, *r.err)
			continue
		}
		items = append(items, r.items...)
	}

	SortItems(items)
	sort.SliceStable(errs, func(i, j int) bool {
		if errs[i].Platform != errs[j].Platform {
			return errs[i].Platform < errs[j].Platform
		}
		return errs[i].SourceID < errs[j].SourceID
	})

	return &models.FeedResponse{
		OK:        true,
		UpdatedAt: a.now().UTC().Format(updatedAtLayout),
		Items:     items,
		Errors:    errs,
	}
}

func (a *Aggregator) fetchSource(ctx context.Context, src models.Source, pf *preflights) sourceResult {
	fail := func(msg string) sourceResult {
		return sourceResult{err: &models.FeedError{Platform: src.Platform, SourceID: src.ID, Message: msg}}
	}

	adapter, ok := a.adapters.Get(src.Platform)
	if !ok {
		return fail(fmt.Sprintf("unsupported platform: %s", src.Platform))
	}

	key := cache.ChannelKey(string(src.Platform), src.Handle)

	var cached sources.Result
	writtenAt, hit, err := cache.ReadJSON(ctx, a.cache, key, &cached)
	if err != nil {
		a.logger.Warn("Channel cache read failed", logging.WithField("key", key), logging.WithField("error", err))
	}
	if hit && cache.IsFresh(writtenAt, cached.TTLSec, a.now()) {
		a.metrics.RecordCacheLookup(metrics.TierChannel, true)
		return sourceResult{items: stamp(cached.Items, src.ID)}
	}
	a.metrics.RecordCacheLookup(metrics.TierChannel, false)

	if p, ok := adapter.(sources.Preflighter); ok {
		if err := pf.run(ctx, src.Platform, p); err != nil {
			return fail(err.Error())
		}
	}

	res, err := adapter.FetchChannelItems(ctx, src.Handle)
	if err != nil {
		a.logger.Warn("Source fetch failed", logging.WithFields(map[string]interface{}{
			"platform": src.Platform,
			"sourceId": src.ID,
			"handle":   src.Handle,
			"error":    err.Error(),
		}))
		return fail(err.Error())
	}

	res.Items = a.pipeline.Apply(ctx, res.Items)
	if res.Items == nil {
		res.Items = []models.StreamItem{}
	}

	if err := cache.WriteJSON(ctx, a.cache, key, res); err != nil {
		a.logger.Error("Failed to cache channel", logging.WithField("key", key), logging.WithField("error", err))
	}

	return sourceResult{items: stamp(res.Items, src.ID)}
}

// stamp returns a copy of items attributed to sourceID
func stamp(items []models.StreamItem, sourceID string) []models.StreamItem {
	out := make([]models.StreamItem, len(items))
	for i, it := range items {
		it.SourceID = sourceID
		out[i] = it
	}
	return out
}

// preflights runs each platform's prerequisite at most once per build
type preflights struct {
	mu   sync.Mutex
	once map[models.Platform]*preflightOnce
}

type preflightOnce struct {
	once sync.Once
	err  error
}

func newPreflights() *preflights {
	return &preflights{once: make(map[models.Platform]*preflightOnce)}
}

func (p *preflights) run(ctx context.Context, platform models.Platform, pf sources.Preflighter) error {
	p.mu.Lock()
	o, ok := p.once[platform]
	if !ok {
		o = &preflightOnce{}
		p.once[platform] = o
	}
	p.mu.Unlock()

	o.once.Do(func() {
		o.err = pf.Preflight(ctx)
	})
	return o.err
}

// SortItems orders items live first, then scheduled, then archive. Within a
// status, earlier startAt comes first when both parse, then title.
func SortItems(items []models.StreamItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return less(items[i], items[j])
	})
}

func less(a, b models.StreamItem) bool {
	if ra, rb := a.Status.Rank(), b.Status.Rank(); ra != rb {
		return ra < rb
	}
	ta, okA := parseTime(a.StartAt)
	tb, okB := parseTime(b.StartAt)
	if okA && okB && !ta.Equal(tb) {
		return ta.Before(tb)
	}
	return a.Title < b.Title
}

func parseTime(s *string) (time.Time, bool) {
	if s == nil || *s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
