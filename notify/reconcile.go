package notify

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/stream-herald/discord"
	"github.com/onnwee/stream-herald/sched"
	"github.com/onnwee/stream-herald/telemetry"
	"github.com/onnwee/stream-herald/youtubeapi"
)

// reconcileWindow bounds the channel-history scan at startup.
const reconcileWindow = 50

// Reconcile rebuilds the active-session map from channel history. It runs once
// at startup, before subscriptions and timers are armed: any of our messages
// still carrying a live color marks a session that was open when the process
// last stopped. Each recovered session gets an early health check, since the
// downtime may have hidden an offline transition. Messages that cannot be
// mapped back to a tracked entity are skipped, not errors.
func (r *Resolver) Reconcile(ctx context.Context) error {
	msgs, err := r.disc.ListMessages(ctx, reconcileWindow)
	if err != nil {
		return err
	}
	botID := r.disc.BotUserID()
	now := time.Now().UTC()
	recovered := 0
	for _, msg := range msgs {
		if msg.Author.ID != botID || len(msg.Embeds) == 0 {
			continue
		}
		em := msg.Embeds[0]
		if !discord.LiveColor(em.Color) {
			continue
		}
		e, ref, ok := r.mapArtifact(ctx, em.URL)
		if !ok {
			slog.Debug("live-colored message not mappable to a tracked entity",
				slog.String("message", msg.ID), slog.String("url", em.URL))
			continue
		}
		lk := r.lockFor(e.Key())
		lk.Lock()
		if r.record(e.Key()) != nil {
			// Either a newer message for the same entity was already
			// recovered, or a concurrent signal path beat us to it.
			lk.Unlock()
			continue
		}

		emCopy := em
		r.mu.Lock()
		r.records[e.Key()] = &Record{
			EntityKey: e.Key(),
			MessageID: msg.ID,
			StreamRef: ref,
			Digest:    renderDigest(msg.Content, &emCopy),
			Embed:     &emCopy,
		}
		r.states[e.Key()] = StateLive
		n := len(r.records)
		r.mu.Unlock()

		r.sch.Schedule(sched.Check{
			EntityID:   e.Key(),
			Kind:       sched.KindHealth,
			StreamRef:  ref,
			TargetTime: now.Add(sched.RestoreHealthDelay),
		})
		lk.Unlock()
		telemetry.SetLiveEntities(n)
		recovered++
		slog.Info("recovered live session from channel history",
			slog.String("entity", e.Key()), slog.String("message", msg.ID))
	}
	if recovered == 0 {
		slog.Info("reconciliation found no open sessions")
	}
	return nil
}

// mapArtifact reverse-maps an embed URL to a tracked entity. Twitch links
// resolve through the login index; YouTube links resolve the video to its
// owning channel.
func (r *Resolver) mapArtifact(ctx context.Context, url string) (Entity, string, bool) {
	if login, ok := twitchLoginFromURL(url); ok {
		e, ok := r.entities.ByTwitchLogin(login)
		return e, "", ok
	}
	if vid, ok := youtubeapi.VideoIDFromURL(url); ok {
		vr, ok := r.sources[PlatformYouTube].(VideoChannelResolver)
		if !ok {
			return Entity{}, "", false
		}
		channelID, err := vr.ChannelForVideo(ctx, vid)
		if err != nil {
			slog.Warn("resolving video owner during reconciliation failed",
				slog.String("video", vid), slog.Any("err", err))
			return Entity{}, "", false
		}
		e, ok := r.entities.Lookup(PlatformYouTube, channelID)
		return e, vid, ok
	}
	return Entity{}, "", false
}

func twitchLoginFromURL(u string) (string, bool) {
	const marker = "twitch.tv/"
	i := strings.Index(u, marker)
	if i < 0 {
		return "", false
	}
	login := u[i+len(marker):]
	if j := strings.IndexAny(login, "/?#"); j >= 0 {
		login = login[:j]
	}
	if login == "" {
		return "", false
	}
	return strings.ToLower(login), true
}
