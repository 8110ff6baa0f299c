package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/streamfeed/server/internal/cache"
	"github.com/streamfeed/server/internal/models"
	"github.com/streamfeed/server/internal/sources"
	"github.com/streamfeed/server/internal/testutil"
)

type fakeLister struct {
	sources []models.Source
	err     error
	calls   atomic.Int32
}

func (f *fakeLister) ListSources(_ context.Context, _ string, enabledOnly bool) ([]models.Source, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Source
	for _, s := range f.sources {
		if enabledOnly && !s.Enabled {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

type fakeAdapter struct {
	platform     models.Platform
	mu           sync.Mutex
	results      map[string]sources.Result
	errs         map[string]error
	calls        map[string]int
	preflightErr error
	preflights   atomic.Int32
}

func newFakeAdapter(p models.Platform) *fakeAdapter {
	return &fakeAdapter{
		platform: p,
		results:  make(map[string]sources.Result),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (f *fakeAdapter) Platform() models.Platform { return f.platform }

func (f *fakeAdapter) FetchChannelItems(_ context.Context, handle string) (sources.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[handle]++
	if err := f.errs[handle]; err != nil {
		return sources.Result{}, err
	}
	return f.results[handle], nil
}

func (f *fakeAdapter) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// preflightAdapter adds a shared prerequisite to fakeAdapter
type preflightAdapter struct {
	*fakeAdapter
}

func (p preflightAdapter) Preflight(context.Context) error {
	p.preflights.Add(1)
	return p.preflightErr
}

type failingWriteStore struct {
	*cache.MemoryStore
}

func (failingWriteStore) Write(context.Context, string, json.RawMessage) error {
	return errors.New("disk full")
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func src(id string, p models.Platform, handle string, enabled bool) models.Source {
	return models.Source{ID: id, UserID: "u1", Platform: p, Handle: handle, Enabled: enabled}
}

func item(p models.Platform, title string, status models.StreamStatus, startAt string) models.StreamItem {
	return models.StreamItem{
		Platform: p,
		Title:    title,
		URL:      "https://example.com/" + title,
		Status:   status,
		StartAt:  models.StringPtr(startAt),
	}
}

type fixture struct {
	lister  *fakeLister
	youtube *fakeAdapter
	twitch  *fakeAdapter
	store   *cache.MemoryStore
	clock   *clock
}

func newFixture(srcs ...models.Source) *fixture {
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return &fixture{
		lister:  &fakeLister{sources: srcs},
		youtube: newFakeAdapter(models.PlatformYouTube),
		twitch:  newFakeAdapter(models.PlatformTwitch),
		store:   cache.NewMemory(cache.WithClock(clk.Now)),
		clock:   clk,
	}
}

func (f *fixture) aggregator(store cache.Store) *Aggregator {
	if store == nil {
		store = f.store
	}
	return New(
		f.lister,
		sources.NewSet(f.youtube, preflightAdapter{f.twitch}),
		store,
		testutil.NullLogger(),
		WithClock(f.clock.Now),
	)
}

func TestGetFeed_MergesAndSorts(t *testing.T) {
	f := newFixture(
		src("yt1", models.PlatformYouTube, "UCabc", true),
		src("tw1", models.PlatformTwitch, "streamer", true),
	)
	f.youtube.results["UCabc"] = sources.Result{
		Items:  []models.StreamItem{item(models.PlatformYouTube, "Live show", models.StatusLive, "2026-03-01T11:00:00Z")},
		TTLSec: 120,
	}
	f.twitch.results["streamer"] = sources.Result{
		Items:  []models.StreamItem{item(models.PlatformTwitch, "streamer - Offline", models.StatusArchive, "")},
		TTLSec: 300,
	}

	resp, err := f.aggregator(nil).GetFeed(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetFeed() error = %v", err)
	}

	if !resp.OK {
		t.Error("OK = false, want true")
	}
	if len(resp.Errors) != 0 {
		t.Errorf("Errors = %+v, want none", resp.Errors)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("len(Items) = %d, want 2", len(resp.Items))
	}
	if resp.Items[0].Status != models.StatusLive || resp.Items[0].SourceID != "yt1" {
		t.Errorf("Items[0] = %+v, want live item from yt1", resp.Items[0])
	}
	if resp.Items[1].Title != "streamer - Offline" || resp.Items[1].SourceID != "tw1" {
		t.Errorf("Items[1] = %+v, want offline item from tw1", resp.Items[1])
	}
	if resp.UpdatedAt != "2026-03-01T12:00:00.000Z" {
		t.Errorf("UpdatedAt = %q", resp.UpdatedAt)
	}
}

func TestGetFeed_FreshFeedSkipsEverything(t *testing.T) {
	f := newFixture(src("yt1", models.PlatformYouTube, "UCabc", true))
	f.youtube.results["UCabc"] = sources.Result{
		Items:  []models.StreamItem{item(models.PlatformYouTube, "Video", models.StatusArchive, "")},
		TTLSec: 1800,
	}
	agg := f.aggregator(nil)
	ctx := context.Background()

	first, err := agg.GetFeed(ctx, "u1")
	if err != nil {
		t.Fatalf("GetFeed() error = %v", err)
	}

	f.clock.Advance(89 * time.Second)
	second, err := agg.GetFeed(ctx, "u1")
	if err != nil {
		t.Fatalf("GetFeed() error = %v", err)
	}

	if f.lister.calls.Load() != 1 {
		t.Errorf("ListSources calls = %d, want 1", f.lister.calls.Load())
	}
	if f.youtube.totalCalls() != 1 {
		t.Errorf("adapter calls = %d, want 1", f.youtube.totalCalls())
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("second response differs from first:\n%+v\n%+v", first, second)
	}
}

func TestGetFeed_StaleFeedReusesFreshChannel(t *testing.T) {
	f := newFixture(src("yt1", models.PlatformYouTube, "UCabc", true))
	f.youtube.results["UCabc"] = sources.Result{
		Items:  []models.StreamItem{item(models.PlatformYouTube, "Video", models.StatusArchive, "")},
		TTLSec: 1800,
	}
	agg := f.aggregator(nil)
	ctx := context.Background()

	if _, err := agg.GetFeed(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(91 * time.Second)
	resp, err := agg.GetFeed(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}

	if f.lister.calls.Load() != 2 {
		t.Errorf("ListSources calls = %d, want 2", f.lister.calls.Load())
	}
	if f.youtube.totalCalls() != 1 {
		t.Errorf("adapter calls = %d, want 1 (channel still fresh)", f.youtube.totalCalls())
	}
	if resp.UpdatedAt != "2026-03-01T12:01:31.000Z" {
		t.Errorf("UpdatedAt = %q, want rebuilt timestamp", resp.UpdatedAt)
	}
}

func TestGetFeed_FreshEmptyChannelIsReused(t *testing.T) {
	f := newFixture(src("tw1", models.PlatformTwitch, "quiet", true))
	ctx := context.Background()
	if err := cache.WriteJSON(ctx, f.store, cache.ChannelKey("twitch", "quiet"), sources.Result{Items: []models.StreamItem{}, TTLSec: 300}); err != nil {
		t.Fatal(err)
	}

	resp, err := f.aggregator(nil).GetFeed(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}

	if f.twitch.totalCalls() != 0 {
		t.Errorf("adapter calls = %d, want 0", f.twitch.totalCalls())
	}
	if f.twitch.preflights.Load() != 0 {
		t.Errorf("preflights = %d, want 0 when every channel is cached", f.twitch.preflights.Load())
	}
	if len(resp.Items) != 0 || len(resp.Errors) != 0 {
		t.Errorf("resp = %+v, want empty feed", resp)
	}
}

func TestGetFeed_DisabledSourcesExcluded(t *testing.T) {
	f := newFixture(
		src("yt1", models.PlatformYouTube, "UCon", true),
		src("yt2", models.PlatformYouTube, "UCoff", false),
	)
	f.youtube.results["UCon"] = sources.Result{Items: []models.StreamItem{item(models.PlatformYouTube, "On", models.StatusArchive, "")}, TTLSec: 1800}
	f.youtube.results["UCoff"] = sources.Result{Items: []models.StreamItem{item(models.PlatformYouTube, "Off", models.StatusArchive, "")}, TTLSec: 1800}

	resp, err := f.aggregator(nil).GetFeed(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}

	for _, it := range resp.Items {
		if it.SourceID == "yt2" {
			t.Errorf("disabled source contributed %+v", it)
		}
	}
	if f.youtube.calls["UCoff"] != 0 {
		t.Error("disabled source should not be fetched")
	}
}

func TestGetFeed_FailureIsIsolated(t *testing.T) {
	f := newFixture(
		src("yt1", models.PlatformYouTube, "UCgood", true),
		src("yt2", models.PlatformYouTube, "UCbad", true),
	)
	f.youtube.results["UCgood"] = sources.Result{Items: []models.StreamItem{item(models.PlatformYouTube, "Good", models.StatusArchive, "")}, TTLSec: 1800}
	f.youtube.errs["UCbad"] = &sources.UpstreamError{Platform: models.PlatformYouTube, Status: 403, Message: "quota"}

	resp, err := f.aggregator(nil).GetFeed(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}

	if len(resp.Items) != 1 || resp.Items[0].SourceID != "yt1" {
		t.Errorf("Items = %+v, want the good source only", resp.Items)
	}
	if len(resp.Errors) != 1 {
		t.Fatalf("Errors = %+v, want 1", resp.Errors)
	}
	e := resp.Errors[0]
	if e.SourceID != "yt2" || e.Platform != models.PlatformYouTube || e.Message == "" {
		t.Errorf("Errors[0] = %+v", e)
	}
}

func TestGetFeed_PreflightFailureDegradesOnePlatform(t *testing.T) {
	f := newFixture(
		src("yt1", models.PlatformYouTube, "UCabc", true),
		src("tw1", models.PlatformTwitch, "one", true),
		src("tw2", models.PlatformTwitch, "two", true),
	)
	f.youtube.results["UCabc"] = sources.Result{Items: []models.StreamItem{item(models.PlatformYouTube, "Video", models.StatusArchive, "")}, TTLSec: 1800}
	f.twitch.preflightErr = errors.New("twitch credentials missing")

	resp, err := f.aggregator(nil).GetFeed(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}

	if len(resp.Items) != 1 || resp.Items[0].Platform != models.PlatformYouTube {
		t.Errorf("Items = %+v, want the youtube item only", resp.Items)
	}
	if len(resp.Errors) != 2 {
		t.Fatalf("Errors = %+v, want 2", resp.Errors)
	}
	if resp.Errors[0].SourceID != "tw1" || resp.Errors[1].SourceID != "tw2" {
		t.Errorf("Errors not sorted by sourceId: %+v", resp.Errors)
	}
	if f.twitch.preflights.Load() != 1 {
		t.Errorf("preflights = %d, want 1 per build", f.twitch.preflights.Load())
	}
	if f.twitch.totalCalls() != 0 {
		t.Errorf("adapter calls = %d, want 0 after failed preflight", f.twitch.totalCalls())
	}
}

func TestGetFeed_UnsupportedPlatform(t *testing.T) {
	f := newFixture(src("x1", models.Platform("vimeo"), "someone", true))

	resp, err := f.aggregator(nil).GetFeed(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}

	if len(resp.Errors) != 1 || resp.Errors[0].Message != "unsupported platform: vimeo" {
		t.Errorf("Errors = %+v", resp.Errors)
	}
}

func TestGetFeed_SharedChannelCacheAcrossCase(t *testing.T) {
	f := newFixture(
		src("a", models.PlatformTwitch, "Streamer", true),
		src("b", models.PlatformTwitch, "streamer", true),
	)
	result := sources.Result{Items: []models.StreamItem{item(models.PlatformTwitch, "Live", models.StatusLive, "2026-03-01T10:00:00Z")}, TTLSec: 60}
	f.twitch.results["Streamer"] = result
	f.twitch.results["streamer"] = result
	agg := f.aggregator(nil)
	ctx := context.Background()

	// Prime the channel row through one source, then build a feed with both.
	f.lister.sources = f.lister.sources[:1]
	if _, err := agg.GetFeed(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	f.lister.sources = []models.Source{
		src("a", models.PlatformTwitch, "Streamer", true),
		src("b", models.PlatformTwitch, "streamer", true),
	}
	f.clock.Advance(30 * time.Second)
	resp, err := agg.GetFeed(ctx, "other-user")
	if err != nil {
		t.Fatal(err)
	}

	if f.twitch.totalCalls() != 1 {
		t.Errorf("adapter calls = %d, want 1", f.twitch.totalCalls())
	}
	if len(resp.Items) != 2 {
		t.Fatalf("len(Items) = %d, want 2", len(resp.Items))
	}
	ids := map[string]bool{resp.Items[0].SourceID: true, resp.Items[1].SourceID: true}
	if !ids["a"] || !ids["b"] {
		t.Errorf("items not stamped per source: %+v", resp.Items)
	}
}

func TestGetFeed_ChannelCacheHasNoSourceID(t *testing.T) {
	f := newFixture(src("yt1", models.PlatformYouTube, "UCabc", true))
	f.youtube.results["UCabc"] = sources.Result{Items: []models.StreamItem{item(models.PlatformYouTube, "Video", models.StatusArchive, "")}, TTLSec: 1800}
	ctx := context.Background()

	if _, err := f.aggregator(nil).GetFeed(ctx, "u1"); err != nil {
		t.Fatal(err)
	}

	var cached sources.Result
	_, ok, err := cache.ReadJSON(ctx, f.store, cache.ChannelKey("youtube", "UCabc"), &cached)
	if err != nil || !ok {
		t.Fatalf("channel row missing: ok=%v err=%v", ok, err)
	}
	if cached.TTLSec != 1800 || len(cached.Items) != 1 {
		t.Errorf("cached = %+v", cached)
	}
	if cached.Items[0].SourceID != "" {
		t.Errorf("channel cache carries sourceId %q", cached.Items[0].SourceID)
	}
}

func TestGetFeed_CacheWriteFailureStillResponds(t *testing.T) {
	f := newFixture(src("yt1", models.PlatformYouTube, "UCabc", true))
	f.youtube.results["UCabc"] = sources.Result{Items: []models.StreamItem{item(models.PlatformYouTube, "Video", models.StatusArchive, "")}, TTLSec: 1800}

	resp, err := f.aggregator(failingWriteStore{f.store}).GetFeed(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetFeed() error = %v", err)
	}
	if len(resp.Items) != 1 {
		t.Errorf("Items = %+v, want 1", resp.Items)
	}
}

func TestGetFeed_ListFailureIsRequestError(t *testing.T) {
	f := newFixture()
	f.lister.err = errors.New("connection refused")

	if _, err := f.aggregator(nil).GetFeed(context.Background(), "u1"); err == nil {
		t.Fatal("GetFeed() error = nil, want error")
	}
}

func TestGetFeed_EmptyFeedHasNonNilSlices(t *testing.T) {
	f := newFixture()

	resp, err := f.aggregator(nil).GetFeed(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}

	data, _ := json.Marshal(resp)
	var decoded map[string]json.RawMessage
	_ = json.Unmarshal(data, &decoded)
	if string(decoded["items"]) != "[]" || string(decoded["errors"]) != "[]" {
		t.Errorf("encoded = %s, want empty arrays", data)
	}
}

func TestGetFeed_PipelineAppliedBeforeCaching(t *testing.T) {
	f := newFixture(src("yt1", models.PlatformYouTube, "UCabc", true))
	dup := item(models.PlatformYouTube, "Video", models.StatusArchive, "")
	f.youtube.results["UCabc"] = sources.Result{Items: []models.StreamItem{dup, dup}, TTLSec: 1800}

	agg := New(f.lister, sources.NewSet(f.youtube), f.store, testutil.NullLogger(),
		WithClock(f.clock.Now), WithPipeline(sources.DefaultPipeline()))

	resp, err := agg.GetFeed(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Items) != 1 {
		t.Errorf("len(Items) = %d, want 1 after dedupe", len(resp.Items))
	}
}

func TestSortItems(t *testing.T) {
	items := []models.StreamItem{
		item(models.PlatformYouTube, "b-archive", models.StatusArchive, "2026-01-01T00:00:00Z"),
		item(models.PlatformYouTube, "sched-late", models.StatusScheduled, "2026-03-02T00:00:00Z"),
		item(models.PlatformTwitch, "live-late", models.StatusLive, "2026-03-01T11:00:00Z"),
		item(models.PlatformYouTube, "sched-early", models.StatusScheduled, "2026-03-01T18:00:00Z"),
		item(models.PlatformTwitch, "live-early", models.StatusLive, "2026-03-01T09:00:00Z"),
		item(models.PlatformYouTube, "a-archive", models.StatusArchive, "2026-01-01T00:00:00Z"),
		item(models.PlatformTwitch, "c-nodate", models.StatusArchive, ""),
	}

	SortItems(items)

	want := []string{"live-early", "live-late", "sched-early", "sched-late", "a-archive", "b-archive", "c-nodate"}
	for i, w := range want {
		if items[i].Title != w {
			t.Errorf("items[%d] = %q, want %q", i, items[i].Title, w)
		}
	}

	for i := 1; i < len(items); i++ {
		if items[i-1].Status.Rank() > items[i].Status.Rank() {
			t.Errorf("status rank decreases at %d", i)
		}
	}
}

func TestSortItems_UnparseableStartFallsBackToTitle(t *testing.T) {
	items := []models.StreamItem{
		item(models.PlatformYouTube, "zeta", models.StatusArchive, "2026-01-01T00:00:00Z"),
		item(models.PlatformYouTube, "alpha", models.StatusArchive, "not a date"),
	}

	SortItems(items)

	if items[0].Title != "alpha" {
		t.Errorf("items[0] = %q, want alpha", items[0].Title)
	}
}
