package notify

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/stream-herald/youtubeapi"
)

// BackfillYouTube sweeps the newest uploads of every tracked YouTube channel
// once at startup, catching streams that went live or were announced while the
// process was down. Channels are swept concurrently; per-channel failures are
// logged and skipped. Discovery falls back through the API, the derived
// uploads playlist, and finally the public RSS feed.
func (r *Resolver) BackfillYouTube(ctx context.Context, svc *youtubeapi.Service, perChannel int) {
	if perChannel <= 0 {
		return
	}
	channels := r.entities.All(PlatformYouTube)
	if len(channels) == 0 {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range channels {
		g.Go(func() error {
			r.backfillChannel(gctx, svc, e, perChannel)
			return nil
		})
	}
	_ = g.Wait()
	slog.Info("youtube backfill sweep complete", slog.Int("channels", len(channels)))
}

func (r *Resolver) backfillChannel(ctx context.Context, svc *youtubeapi.Service, e Entity, n int) {
	ids := r.discoverUploads(ctx, svc, e, n)
	now := time.Now().UTC()
	for _, vid := range ids {
		vi, err := svc.Video(ctx, vid)
		if err != nil {
			slog.Warn("backfill video lookup failed",
				slog.String("channel", e.ID), slog.String("video", vid), slog.Any("err", err))
			continue
		}
		switch {
		case vi.Live:
			// The record gate dedups against sessions already recovered by
			// reconciliation.
			r.HandleSignal(ctx, Signal{
				Platform:   PlatformYouTube,
				EntityID:   e.ID,
				Kind:       SignalLive,
				StreamRef:  vid,
				ObservedAt: now,
			})
		case vi.Upcoming && !vi.ScheduledStart.IsZero():
			r.HandleSignal(ctx, Signal{
				Platform:       PlatformYouTube,
				EntityID:       e.ID,
				Kind:           SignalScheduled,
				StreamRef:      vid,
				ScheduledStart: vi.ScheduledStart,
				ObservedAt:     now,
			})
		}
	}
}

// discoverUploads walks the three-tier ladder: playlistItems via the channel's
// uploads playlist (itself derived when the channel lookup fails), then the
// RSS feed as the zero-quota last resort.
func (r *Resolver) discoverUploads(ctx context.Context, svc *youtubeapi.Service, e Entity, n int) []string {
	playlistID, err := svc.UploadsPlaylistID(ctx, e.ID)
	if err == nil {
		ids, err := svc.RecentUploads(ctx, playlistID, n)
		if err == nil && len(ids) > 0 {
			return ids
		}
		if err != nil {
			slog.Debug("uploads playlist listing failed, trying rss",
				slog.String("channel", e.ID), slog.Any("err", err))
		}
	}
	ids, err := svc.RecentUploadsRSS(ctx, e.ID, n)
	if err != nil {
		slog.Warn("backfill discovery exhausted for channel",
			slog.String("channel", e.ID), slog.Any("err", err))
		return nil
	}
	return ids
}
