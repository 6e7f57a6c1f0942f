package notify

import "time"

// SignalKind is the normalized liveness event type.
type SignalKind string

const (
	// SignalLive reports a stream confirmed live (webhook or poll).
	SignalLive SignalKind = "live"
	// SignalOffline reports a stream confirmed gone.
	SignalOffline SignalKind = "offline"
	// SignalScheduled announces a future stream with a known start time.
	SignalScheduled SignalKind = "scheduled"
)

// Signal is one normalized liveness event, produced by the webhook handlers,
// the backfill sweep, or a fired check, and consumed by the resolver.
type Signal struct {
	Platform       Platform
	EntityID       string // platform-native id
	Kind           SignalKind
	StreamRef      string // YouTube video id; empty for Twitch
	ScheduledStart time.Time
	ObservedAt     time.Time
}
