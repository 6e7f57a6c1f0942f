package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/stream-herald/discord"
	"github.com/onnwee/stream-herald/twitchapi"
	"github.com/onnwee/stream-herald/youtubeapi"
)

// StreamInfo is the typed metadata a source reports for one entity, fetched at
// transition time and on every health refresh.
type StreamInfo struct {
	Live           bool
	Upcoming       bool
	MembersOnly    bool
	StreamRef      string
	Title          string
	URL            string
	Description    string
	Color          int
	ThumbnailURL   string
	StartedAt      time.Time
	ScheduledStart time.Time
}

// Source fetches the current stream state for an entity. ref is the platform
// stream reference when one is known (YouTube video id); Twitch lookups key on
// the broadcaster instead. A non-live result is valid, not an error.
type Source interface {
	Fetch(ctx context.Context, e Entity, ref string) (*StreamInfo, error)
}

// VideoChannelResolver is implemented by sources that can reverse-map a video
// reference to its owning channel, used during startup reconciliation.
type VideoChannelResolver interface {
	ChannelForVideo(ctx context.Context, videoID string) (string, error)
}

// TwitchSource adapts the Helix client.
type TwitchSource struct {
	Helix *twitchapi.HelixClient
}

func (s *TwitchSource) Fetch(ctx context.Context, e Entity, _ string) (*StreamInfo, error) {
	streams, err := s.Helix.GetStreams(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	if len(streams) == 0 {
		return &StreamInfo{}, nil
	}
	st := streams[0]
	login := st.UserLogin
	if login == "" {
		login = e.Login
	}
	info := &StreamInfo{
		Live:         true,
		Title:        st.Title,
		URL:          "https://www.twitch.tv/" + login,
		Color:        discord.ColorTwitchLive,
		ThumbnailURL: twitchThumbnail(st.Thumbnail),
		StartedAt:    st.StartedAt,
	}
	if st.GameName != "" {
		info.Description = "Playing " + st.GameName
	}
	return info, nil
}

// twitchThumbnail fills the size template Helix returns and appends a
// cache-buster so Discord refetches the preview on edits.
func twitchThumbnail(tmpl string) string {
	if tmpl == "" {
		return ""
	}
	url := strings.NewReplacer("{width}", "1280", "{height}", "720").Replace(tmpl)
	return fmt.Sprintf("%s?t=%d", url, time.Now().Unix())
}

// YouTubeSource adapts the Data API service.
type YouTubeSource struct {
	Svc *youtubeapi.Service
}

func (s *YouTubeSource) Fetch(ctx context.Context, e Entity, ref string) (*StreamInfo, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: no video reference for %s", ErrNotYetAvailable, e.Key())
	}
	vi, err := s.Svc.Video(ctx, ref)
	if err != nil {
		if errors.Is(err, youtubeapi.ErrNoVideo) {
			return nil, fmt.Errorf("%w: video %s", ErrNotYetAvailable, ref)
		}
		return nil, err
	}
	info := &StreamInfo{
		Live:           vi.Live,
		Upcoming:       vi.Upcoming,
		MembersOnly:    vi.MembersOnly,
		StreamRef:      vi.ID,
		Title:          vi.Title,
		URL:            youtubeapi.WatchURL(vi.ID),
		Color:          discord.ColorYouTubeLive,
		ThumbnailURL:   vi.ThumbnailURL,
		ScheduledStart: vi.ScheduledStart,
	}
	if vi.Live && vi.MembersOnly {
		info.Color = discord.ColorMembersOnly
	}
	if vi.ChannelTitle != "" {
		info.Description = vi.ChannelTitle
	}
	return info, nil
}

func (s *YouTubeSource) ChannelForVideo(ctx context.Context, videoID string) (string, error) {
	vi, err := s.Svc.Video(ctx, videoID)
	if err != nil {
		return "", err
	}
	return vi.ChannelID, nil
}
