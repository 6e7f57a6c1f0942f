package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/stream-herald/notify"
	"github.com/onnwee/stream-herald/state"
	"github.com/onnwee/stream-herald/telemetry"
	"github.com/onnwee/stream-herald/twitchapi"
	"github.com/onnwee/stream-herald/youtubeapi"
)

// Notifier is the slice of the resolver the handlers feed.
type Notifier interface {
	Enqueue(notify.Signal) bool
	StatusTable() []notify.EntityStatus
}

// CheckTable reports pending scheduled checks for the status endpoint.
type CheckTable interface {
	Snapshot() state.Snapshot
}

// Handlers carries the webhook and status endpoint dependencies.
type Handlers struct {
	Resolver       Notifier
	Checks         CheckTable
	EventSubSecret string
}

const maxWebhookBody = 1 << 20

// HandleTwitchWebhook processes EventSub deliveries. The signature gate is the
// only rejection path; once a body is read and verified, the response is 2xx
// regardless of what processing decides, so Twitch never enters a redelivery
// storm over our internal outcomes.
func (h *Handlers) HandleTwitchWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	log := telemetry.LoggerWithCorr(r.Context())

	if !twitchapi.VerifySignature(
		h.EventSubSecret,
		r.Header.Get(twitchapi.HeaderMessageID),
		r.Header.Get(twitchapi.HeaderMessageTimestamp),
		body,
		r.Header.Get(twitchapi.HeaderMessageSignature),
	) {
		log.Warn("eventsub signature verification failed")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	var env twitchapi.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		log.Warn("malformed eventsub payload", slog.String("class", string(notify.ClassMalformedPayload)), slog.Any("err", err))
		if telemetry.SignalsDropped != nil {
			telemetry.SignalsDropped.Inc()
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch r.Header.Get(twitchapi.HeaderMessageType) {
	case twitchapi.MessageTypeVerification:
		w.Header().Set("Content-Type", "text/plain")
		if _, err := w.Write([]byte(env.Challenge)); err != nil {
			log.Warn("writing challenge response failed", slog.Any("err", err))
		}
		log.Info("eventsub subscription verified", slog.String("type", env.Subscription.Type))
		return
	case twitchapi.MessageTypeRevocation:
		log.Warn("eventsub subscription revoked",
			slog.String("type", env.Subscription.Type), slog.String("status", env.Subscription.Status))
		w.WriteHeader(http.StatusNoContent)
		return
	case twitchapi.MessageTypeNotification:
		sig := notify.Signal{
			Platform:   notify.PlatformTwitch,
			EntityID:   env.Event.BroadcasterUserID,
			ObservedAt: time.Now().UTC(),
		}
		switch env.Subscription.Type {
		case twitchapi.SubStreamOnline:
			sig.Kind = notify.SignalLive
		case twitchapi.SubStreamOffline:
			sig.Kind = notify.SignalOffline
		default:
			log.Debug("ignoring eventsub type", slog.String("type", env.Subscription.Type))
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.Resolver.Enqueue(sig)
		w.WriteHeader(http.StatusNoContent)
		return
	default:
		log.Debug("ignoring eventsub message type", slog.String("type", r.Header.Get(twitchapi.HeaderMessageType)))
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleYouTubeWebhook serves both halves of the WebSub contract: GET echoes
// the hub's verification challenge as plain text, POST accepts Atom push
// deliveries. Pushes are always acknowledged with 200 once read; parse
// failures and untracked channels are dropped after the ack.
func (h *Handlers) HandleYouTubeWebhook(w http.ResponseWriter, r *http.Request) {
	log := telemetry.LoggerWithCorr(r.Context())
	switch r.Method {
	case http.MethodGet:
		challenge := r.URL.Query().Get("hub.challenge")
		if challenge == "" {
			http.Error(w, "no challenge", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		if _, err := w.Write([]byte(challenge)); err != nil {
			log.Warn("writing challenge response failed", slog.Any("err", err))
		}
		log.Info("websub lease verified", slog.String("topic", r.URL.Query().Get("hub.topic")))
	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusOK)

		videoID, channelID, ok, err := youtubeapi.ParsePushPayload(body)
		if err != nil {
			log.Warn("malformed websub payload", slog.String("class", string(notify.ClassMalformedPayload)), slog.Any("err", err))
			if telemetry.SignalsDropped != nil {
				telemetry.SignalsDropped.Inc()
			}
			return
		}
		if !ok {
			log.Debug("websub push without entries")
			return
		}
		// A push only says the feed changed; whether the video is live is the
		// sniper's job to find out.
		h.Resolver.Enqueue(notify.Signal{
			Platform:   notify.PlatformYouTube,
			EntityID:   channelID,
			Kind:       notify.SignalLive,
			StreamRef:  videoID,
			ObservedAt: time.Now().UTC(),
		})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleHealthz is the liveness probe.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		slog.Warn("encoding healthz response failed", slog.Any("err", err))
	}
}

// HandleStatus reports entity states and the pending check table.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	out := struct {
		Entities      []notify.EntityStatus `json:"entities"`
		PendingChecks []state.PendingCheck  `json:"pending_checks"`
		GeneratedAt   time.Time             `json:"generated_at"`
	}{
		Entities:    h.Resolver.StatusTable(),
		GeneratedAt: time.Now().UTC(),
	}
	if h.Checks != nil {
		out.PendingChecks = h.Checks.Snapshot().PendingChecks
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		slog.Warn("encoding status response failed", slog.Any("err", err))
	}
}
