package sources

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/streamfeed/server/internal/cache"
	"github.com/streamfeed/server/internal/logging"
	"github.com/streamfeed/server/internal/models"
)

const (
	DefaultYouTubeAPIBase = "https://www.googleapis.com/youtube/v3"
	DefaultYouTubeFeedURL = "https://www.youtube.com/feeds/videos.xml"
	DefaultYouTubeWebBase = "https://www.youtube.com"

	youtubeLiveTTL      = 120
	youtubeScheduledTTL = 600
	youtubeArchiveTTL   = 1800
	uploadsTTL          = 86400

	playlistPageSize = 10
	maxArchiveItems  = 3
)

var videoIDPattern = regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/)([a-zA-Z0-9_-]+)`)

// YouTubeConfig configures the video-platform adapter
type YouTubeConfig struct {
	// APIKey enables the Data API. Without it the public RSS feed is used.
	APIKey  string
	APIBase string
	FeedURL string
}

// YouTubeAdapter reads a channel's recent uploads and classifies them as
// live, scheduled or archive
type YouTubeAdapter struct {
	apiKey  string
	apiBase string
	feedURL string
	http    *httpClient
	store   cache.Store
	parser  *gofeed.Parser
	now     func() time.Time
	logger  *logging.Logger
}

// NewYouTubeAdapter creates the adapter. store holds the resolved uploads
// playlist ids.
func NewYouTubeAdapter(cfg YouTubeConfig, store cache.Store, deps Deps) *YouTubeAdapter {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultYouTubeAPIBase
	}
	if cfg.FeedURL == "" {
		cfg.FeedURL = DefaultYouTubeFeedURL
	}
	return &YouTubeAdapter{
		apiKey:  cfg.APIKey,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		feedURL: cfg.FeedURL,
		http:    newHTTPClient(models.PlatformYouTube, deps),
		store:   store,
		parser:  gofeed.NewParser(),
		now:     time.Now,
		logger:  deps.Logger,
	}
}

func (a *YouTubeAdapter) Platform() models.Platform {
	return models.PlatformYouTube
}

type ytThumbnail struct {
	URL string `json:"url"`
}

type ytChannelsResponse struct {
	Items []struct {
		ID             string `json:"id"`
		ContentDetails struct {
			RelatedPlaylists struct {
				Uploads string `json:"uploads"`
			} `json:"relatedPlaylists"`
		} `json:"contentDetails"`
	} `json:"items"`
}

type ytPlaylistItemsResponse struct {
	Items []struct {
		ContentDetails struct {
			VideoID string `json:"videoId"`
		} `json:"contentDetails"`
		Snippet struct {
			ResourceID struct {
				VideoID string `json:"videoId"`
			} `json:"resourceId"`
		} `json:"snippet"`
	} `json:"items"`
}

type ytVideo struct {
	ID      string `json:"id"`
	Snippet struct {
		Title                string `json:"title"`
		ChannelTitle         string `json:"channelTitle"`
		PublishedAt          string `json:"publishedAt"`
		LiveBroadcastContent string `json:"liveBroadcastContent"`
		Thumbnails           struct {
			Default *ytThumbnail `json:"default"`
			Medium  *ytThumbnail `json:"medium"`
			High    *ytThumbnail `json:"high"`
		} `json:"thumbnails"`
	} `json:"snippet"`
	LiveStreamingDetails *struct {
		ActualStartTime    string `json:"actualStartTime"`
		ScheduledStartTime string `json:"scheduledStartTime"`
	} `json:"liveStreamingDetails"`
}

type ytVideosResponse struct {
	Items []ytVideo `json:"items"`
}

// uploadsEntry is the payload cached under cache.UploadsKey
type uploadsEntry struct {
	PlaylistID string `json:"playlistId"`
	TTLSec     int    `json:"ttlSec"`
}

// FetchChannelItems returns the channel's live and scheduled items, or its
// three most recent uploads when nothing is live or scheduled
func (a *YouTubeAdapter) FetchChannelItems(ctx context.Context, handle string) (Result, error) {
	if a.apiKey == "" {
		return a.fetchFeed(ctx, handle)
	}

	playlistID, err := a.uploadsPlaylist(ctx, handle)
	if err != nil {
		return Result{}, err
	}

	videoIDs, err := a.recentVideoIDs(ctx, playlistID)
	if err != nil {
		return Result{}, err
	}
	if len(videoIDs) == 0 {
		return Result{Items: []models.StreamItem{}, TTLSec: youtubeArchiveTTL}, nil
	}

	videos, err := a.videoDetails(ctx, videoIDs)
	if err != nil {
		return Result{}, err
	}

	return classifyVideos(videos), nil
}

func (a *YouTubeAdapter) uploadsPlaylist(ctx context.Context, handle string) (string, error) {
	key := cache.UploadsKey(string(models.PlatformYouTube), handle)

	var cached uploadsEntry
	writtenAt, ok, err := cache.ReadJSON(ctx, a.store, key, &cached)
	if err != nil && a.logger != nil {
		a.logger.Warn("Uploads cache read failed", logging.WithField("error", err))
	}
	if ok && cached.PlaylistID != "" && cache.IsFresh(writtenAt, cached.TTLSec, a.now()) {
		return cached.PlaylistID, nil
	}

	q := url.Values{}
	q.Set("part", "contentDetails")
	q.Set("id", handle)
	q.Set("key", a.apiKey)

	var resp ytChannelsResponse
	if err := a.http.getJSON(ctx, a.apiBase+"/channels?"+q.Encode(), nil, &resp); err != nil {
		return "", err
	}
	if len(resp.Items) == 0 || resp.Items[0].ContentDetails.RelatedPlaylists.Uploads == "" {
		return "", fmt.Errorf("youtube channel %s: %w", handle, ErrChannelNotFound)
	}

	playlistID := resp.Items[0].ContentDetails.RelatedPlaylists.Uploads
	if err := cache.WriteJSON(ctx, a.store, key, uploadsEntry{PlaylistID: playlistID, TTLSec: uploadsTTL}); err != nil && a.logger != nil {
		a.logger.Warn("Uploads cache write failed", logging.WithField("error", err))
	}
	return playlistID, nil
}

func (a *YouTubeAdapter) recentVideoIDs(ctx context.Context, playlistID string) ([]string, error) {
	q := url.Values{}
	q.Set("part", "snippet,contentDetails")
	q.Set("playlistId", playlistID)
	q.Set("maxResults", fmt.Sprint(playlistPageSize))
	q.Set("key", a.apiKey)

	var resp ytPlaylistItemsResponse
	if err := a.http.getJSON(ctx, a.apiBase+"/playlistItems?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(resp.Items))
	seen := make(map[string]bool, len(resp.Items))
	for _, it := range resp.Items {
		id := it.ContentDetails.VideoID
		if id == "" {
			id = it.Snippet.ResourceID.VideoID
		}
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

func (a *YouTubeAdapter) videoDetails(ctx context.Context, ids []string) ([]ytVideo, error) {
	q := url.Values{}
	q.Set("part", "snippet,liveStreamingDetails")
	q.Set("id", strings.Join(ids, ","))
	q.Set("key", a.apiKey)

	var resp ytVideosResponse
	if err := a.http.getJSON(ctx, a.apiBase+"/videos?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	// Keep playlist order; the batch endpoint does not promise it.
	byID := make(map[string]ytVideo, len(resp.Items))
	for _, v := range resp.Items {
		byID[v.ID] = v
	}
	out := make([]ytVideo, 0, len(ids))
	for _, id := range ids {
		if v, ok := byID[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// classifyVideos applies the live/scheduled preference and picks the TTL
func classifyVideos(videos []ytVideo) Result {
	var live, scheduled, archive []models.StreamItem
	for _, v := range videos {
		item := videoItem(v)
		switch item.Status {
		case models.StatusLive:
			live = append(live, item)
		case models.StatusScheduled:
			scheduled = append(scheduled, item)
		default:
			archive = append(archive, item)
		}
	}

	switch {
	case len(live) > 0:
		return Result{Items: append(live, scheduled...), TTLSec: youtubeLiveTTL}
	case len(scheduled) > 0:
		return Result{Items: scheduled, TTLSec: youtubeScheduledTTL}
	}

	return Result{Items: mostRecent(archive, maxArchiveItems), TTLSec: youtubeArchiveTTL}
}

func videoItem(v ytVideo) models.StreamItem {
	status := models.StatusArchive
	switch v.Snippet.LiveBroadcastContent {
	case "live":
		status = models.StatusLive
	case "upcoming":
		status = models.StatusScheduled
	}

	var actual, scheduled string
	if d := v.LiveStreamingDetails; d != nil {
		actual, scheduled = d.ActualStartTime, d.ScheduledStartTime
	}

	var startAt string
	switch status {
	case models.StatusLive:
		startAt = actual
		if startAt == "" {
			startAt = scheduled
		}
	case models.StatusScheduled:
		startAt = scheduled
	default:
		startAt = v.Snippet.PublishedAt
	}

	title := v.Snippet.Title
	if title == "" {
		title = "(no title)"
	}

	return models.StreamItem{
		Platform:     models.PlatformYouTube,
		ChannelName:  models.StringPtr(v.Snippet.ChannelTitle),
		Title:        title,
		URL:          watchURL(v.ID),
		ThumbnailURL: models.StringPtr(pickThumbnail(v.Snippet.Thumbnails.Medium, v.Snippet.Thumbnails.High, v.Snippet.Thumbnails.Default)),
		Status:       status,
		StartAt:      models.StringPtr(startAt),
	}
}

// pickThumbnail returns the first non-empty url in preference order
func pickThumbnail(thumbs ...*ytThumbnail) string {
	for _, t := range thumbs {
		if t != nil && t.URL != "" {
			return t.URL
		}
	}
	return ""
}

// mostRecent returns up to n items, newest startAt first. Items whose
// timestamp does not parse keep their relative order after the rest.
func mostRecent(items []models.StreamItem, n int) []models.StreamItem {
	sorted := make([]models.StreamItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, okI := parseStartAt(sorted[i].StartAt)
		tj, okJ := parseStartAt(sorted[j].StartAt)
		if okI && okJ {
			return ti.After(tj)
		}
		return okI && !okJ
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func parseStartAt(s *string) (time.Time, bool) {
	if s == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func watchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// fetchFeed reads the public uploads feed. It carries no live state, so
// every entry is an archive item.
func (a *YouTubeAdapter) fetchFeed(ctx context.Context, handle string) (Result, error) {
	q := url.Values{}
	q.Set("channel_id", handle)

	body, err := a.http.get(ctx, a.feedURL+"?"+q.Encode(), nil)
	if err != nil {
		return Result{}, err
	}

	feed, err := a.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to parse YouTube feed for %s: %w", handle, err)
	}

	items := make([]models.StreamItem, 0, len(feed.Items))
	for _, it := range feed.Items {
		videoID := extractVideoID(it.Link)

		channel := feed.Title
		if it.Author != nil && it.Author.Name != "" {
			channel = it.Author.Name
		}

		var startAt string
		if it.PublishedParsed != nil {
			startAt = it.PublishedParsed.UTC().Format(time.RFC3339)
		}

		var thumb string
		if videoID != "" {
			thumb = fmt.Sprintf("https://i.ytimg.com/vi/%s/mqdefault.jpg", videoID)
		}

		title := it.Title
		if title == "" {
			title = "(no title)"
		}

		link := it.Link
		if videoID != "" {
			link = watchURL(videoID)
		}

		items = append(items, models.StreamItem{
			Platform:     models.PlatformYouTube,
			ChannelName:  models.StringPtr(channel),
			Title:        title,
			URL:          link,
			ThumbnailURL: models.StringPtr(thumb),
			Status:       models.StatusArchive,
			StartAt:      models.StringPtr(startAt),
		})
	}

	return Result{Items: mostRecent(items, maxArchiveItems), TTLSec: youtubeArchiveTTL}, nil
}

// extractVideoID pulls the video id out of a watch or short link
func extractVideoID(link string) string {
	matches := videoIDPattern.FindStringSubmatch(link)
	if len(matches) > 1 {
		return matches[1]
	}
	return ""
}
