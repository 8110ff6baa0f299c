// Package metrics exposes Prometheus counters for cache tiers, upstream
// platform calls, feed builds and HTTP responses.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache tiers
const (
	TierFeed    = "feed"
	TierChannel = "channel"
)

// Upstream call outcomes
const (
	OutcomeOK      = "ok"
	OutcomeRetry   = "retry"
	OutcomeFailure = "failure"
)

// Recorder is what the aggregator, adapters and HTTP layer report into
type Recorder interface {
	RecordCacheLookup(tier string, hit bool)
	RecordUpstreamCall(platform, outcome string)
	RecordFeedBuild(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector is the Prometheus-backed Recorder
type Collector struct {
	cacheLookups  *prometheus.CounterVec
	upstreamCalls *prometheus.CounterVec
	feedBuild     prometheus.Histogram
	httpStatus    *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics on reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamfeed_cache_lookups_total",
			Help: "Cache lookups by tier and result",
		}, []string{"tier", "result"}),
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamfeed_upstream_calls_total",
			Help: "Upstream platform calls by platform and outcome",
		}, []string{"platform", "outcome"}),
		feedBuild: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamfeed_feed_build_seconds",
			Help:    "Time spent building a feed on a whole-feed cache miss",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamfeed_http_responses_total",
			Help: "HTTP responses by status code",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.cacheLookups,
		c.upstreamCalls,
		c.feedBuild,
		c.httpStatus,
	)

	return c
}

func (c *Collector) RecordCacheLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(tier, result).Inc()
}

func (c *Collector) RecordUpstreamCall(platform, outcome string) {
	c.upstreamCalls.WithLabelValues(platform, outcome).Inc()
}

func (c *Collector) RecordFeedBuild(duration time.Duration) {
	c.feedBuild.Observe(duration.Seconds())
}

func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop discards everything. Used when metrics are not wired (tests, tools).
type Nop struct{}

func (Nop) RecordCacheLookup(string, bool)    {}
func (Nop) RecordUpstreamCall(string, string) {}
func (Nop) RecordFeedBuild(time.Duration)     {}
func (Nop) RecordHTTPStatus(int)              {}

// Handler serves the Prometheus scrape endpoint for gatherer
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Nop{}
)
