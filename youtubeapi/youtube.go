// Package youtubeapi wraps the YouTube Data API v3 for the liveness checks this
// service performs: current video state, channel upload discovery for the
// startup backfill, and WebSub lease maintenance for push deliveries.
package youtubeapi

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"
)

// ErrNoVideo is returned when the API has no record for a video id yet. This is
// a valid outcome: push events can outrun backend metadata availability.
var ErrNoVideo = errors.New("youtube: video not found")

// VideoInfo is the typed projection of a video's liveness-relevant fields.
// The upstream response shapes vary (optional thumbnails, omitted statistics);
// this DTO pins down exactly what the resolver consumes.
type VideoInfo struct {
	ID             string
	ChannelID      string
	ChannelTitle   string
	Title          string
	ThumbnailURL   string
	Live           bool
	Upcoming       bool
	MembersOnly    bool
	ScheduledStart time.Time
}

// Service wraps the Data API client plus the plain HTTP client used for the
// RSS fallback.
type Service struct {
	yt         *yt.Service
	HTTPClient *http.Client
	FeedBase   string // override for tests; default https://www.youtube.com
}

// New builds the Data API service with an API key. Extra options (custom
// endpoint, http client) are appended for tests.
func New(ctx context.Context, apiKey string, opts ...option.ClientOption) (*Service, error) {
	all := append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := yt.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	return &Service{yt: svc}, nil
}

func (s *Service) http() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return http.DefaultClient
}

// Video fetches the current state of one video. A missing item yields
// ErrNoVideo rather than an error wrapping a status code.
func (s *Service) Video(ctx context.Context, videoID string) (*VideoInfo, error) {
	if videoID == "" {
		return nil, fmt.Errorf("videoID empty")
	}
	resp, err := s.yt.Videos.List([]string{"snippet", "liveStreamingDetails", "statistics"}).
		Id(videoID).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return nil, ErrNoVideo
		}
		return nil, fmt.Errorf("youtube videos.list %s: %w", videoID, err)
	}
	if len(resp.Items) == 0 {
		return nil, ErrNoVideo
	}
	v := resp.Items[0]
	info := &VideoInfo{ID: v.Id}
	if v.Snippet != nil {
		info.ChannelID = v.Snippet.ChannelId
		info.ChannelTitle = v.Snippet.ChannelTitle
		info.Title = v.Snippet.Title
		info.Live = v.Snippet.LiveBroadcastContent == "live"
		info.Upcoming = v.Snippet.LiveBroadcastContent == "upcoming"
		info.ThumbnailURL = bestThumbnail(v.Snippet.Thumbnails)
	}
	if v.LiveStreamingDetails != nil && v.LiveStreamingDetails.ScheduledStartTime != "" {
		if t, err := time.Parse(time.RFC3339, v.LiveStreamingDetails.ScheduledStartTime); err == nil {
			info.ScheduledStart = t.UTC()
		}
	}
	// The API omits the whole statistics part for members-only streams. Only
	// its full absence counts; a present part with a zero view count is a
	// public stream that nobody is watching yet.
	info.MembersOnly = v.Statistics == nil
	return info, nil
}

func bestThumbnail(t *yt.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, cand := range []*yt.Thumbnail{t.Maxres, t.High, t.Default} {
		if cand != nil && cand.Url != "" {
			return cand.Url
		}
	}
	return ""
}

// UploadsPlaylistID resolves a channel's uploads playlist. When the lookup
// fails or returns nothing, the playlist id is derived from the channel id
// (UC... -> UU...), which holds for all standard channels.
func (s *Service) UploadsPlaylistID(ctx context.Context, channelID string) (string, error) {
	resp, err := s.yt.Channels.List([]string{"contentDetails"}).Id(channelID).Context(ctx).Do()
	if err == nil && len(resp.Items) > 0 && resp.Items[0].ContentDetails != nil && resp.Items[0].ContentDetails.RelatedPlaylists != nil {
		if id := resp.Items[0].ContentDetails.RelatedPlaylists.Uploads; id != "" {
			return id, nil
		}
	}
	if err != nil {
		slog.Debug("channels.list lookup failed, deriving uploads playlist", slog.String("channel", channelID), slog.Any("err", err))
	}
	if strings.HasPrefix(channelID, "UC") {
		return "UU" + channelID[2:], nil
	}
	if err != nil {
		return "", fmt.Errorf("youtube channels.list %s: %w", channelID, err)
	}
	return "", fmt.Errorf("no uploads playlist for channel %s", channelID)
}

// RecentUploads lists the newest n video ids from an uploads playlist.
func (s *Service) RecentUploads(ctx context.Context, playlistID string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	resp, err := s.yt.PlaylistItems.List([]string{"contentDetails"}).
		PlaylistId(playlistID).MaxResults(int64(n)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("youtube playlistItems.list %s: %w", playlistID, err)
	}
	ids := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.ContentDetails != nil && item.ContentDetails.VideoId != "" {
			ids = append(ids, item.ContentDetails.VideoId)
		}
	}
	return ids, nil
}

// RecentUploadsRSS is the last-resort discovery path: the channel's public Atom
// feed needs no API quota and no key.
func (s *Service) RecentUploadsRSS(ctx context.Context, channelID string, n int) ([]string, error) {
	base := s.FeedBase
	if base == "" {
		base = "https://www.youtube.com"
	}
	url := base + "/feeds/videos.xml?channel_id=" + channelID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; StreamHerald/1.0)")
	resp, err := s.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("youtube rss %s: %s", channelID, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	entries, err := parseFeedEntries(body)
	if err != nil {
		return nil, fmt.Errorf("youtube rss %s: %w", channelID, err)
	}
	ids := make([]string, 0, n)
	for _, e := range entries {
		if e.VideoID == "" {
			continue
		}
		ids = append(ids, e.VideoID)
		if len(ids) == n {
			break
		}
	}
	return ids, nil
}

type feedEntry struct {
	VideoID   string `xml:"videoId"`
	ChannelID string `xml:"channelId"`
}

type atomFeed struct {
	Entries []feedEntry `xml:"entry"`
}

func parseFeedEntries(body []byte) ([]feedEntry, error) {
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, err
	}
	return feed.Entries, nil
}

// ParsePushPayload extracts the video and channel ids from a WebSub Atom
// delivery. An empty feed (deletion notices) yields ok=false.
func ParsePushPayload(body []byte) (videoID, channelID string, ok bool, err error) {
	entries, err := parseFeedEntries(body)
	if err != nil {
		return "", "", false, err
	}
	for _, e := range entries {
		if e.VideoID != "" {
			return e.VideoID, e.ChannelID, true, nil
		}
	}
	return "", "", false, nil
}

// WatchURL returns the canonical watch page for a video.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// VideoIDFromURL reverses WatchURL; ok=false for anything else.
func VideoIDFromURL(u string) (string, bool) {
	const marker = "youtube.com/watch?v="
	i := strings.Index(u, marker)
	if i < 0 {
		return "", false
	}
	id := u[i+len(marker):]
	if j := strings.IndexAny(id, "&#"); j >= 0 {
		id = id[:j]
	}
	if id == "" {
		return "", false
	}
	return id, true
}
