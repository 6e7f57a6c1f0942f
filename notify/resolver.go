package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/stream-herald/discord"
	"github.com/onnwee/stream-herald/sched"
	"github.com/onnwee/stream-herald/telemetry"
)

// EntityState is the per-entity session phase.
type EntityState string

const (
	StateIdle    EntityState = "idle"
	StatePending EntityState = "pending"
	StateLive    EntityState = "live"
	StateEnded   EntityState = "ended"
)

// Record is the single outstanding notification for an entity's current
// session. At most one live record exists per entity; its presence is the
// idempotency gate against duplicate live signals.
type Record struct {
	EntityKey string
	MessageID string
	StreamRef string
	Digest    string
	Embed     *discord.Embed
}

// Messenger is the slice of the Discord client the resolver drives.
type Messenger interface {
	SendMessage(ctx context.Context, content string, embed *discord.Embed) (string, error)
	EditMessage(ctx context.Context, messageID, content string, embed *discord.Embed) error
	ListMessages(ctx context.Context, limit int) ([]discord.Message, error)
	BotUserID() string
}

const signalQueueSize = 64

// Resolver owns the per-entity notification state machine. Mutations are
// serialized per entity and run in parallel across entities.
type Resolver struct {
	entities       *Set
	disc           Messenger
	sources        map[Platform]Source
	sch            *sched.Scheduler
	healthInterval time.Duration

	// EnrichDelay is the wait before the single metadata re-fetch after a
	// placeholder artifact. Shortened in tests.
	EnrichDelay time.Duration

	mu      sync.Mutex
	records map[string]*Record
	states  map[string]EntityState
	locks   map[string]*sync.Mutex
	queue   chan Signal
}

// NewResolver wires the state machine to its collaborators.
func NewResolver(entities *Set, disc Messenger, sources map[Platform]Source, sch *sched.Scheduler, healthInterval time.Duration) *Resolver {
	return &Resolver{
		entities:       entities,
		disc:           disc,
		sources:        sources,
		sch:            sch,
		healthInterval: healthInterval,
		EnrichDelay:    5 * time.Second,
		records:        make(map[string]*Record),
		states:         make(map[string]EntityState),
		locks:          make(map[string]*sync.Mutex),
		queue:          make(chan Signal, signalQueueSize),
	}
}

// Enqueue hands a signal to the resolver without blocking the caller. A full
// queue drops the signal; webhook redelivery or the next check picks it up.
func (r *Resolver) Enqueue(sig Signal) bool {
	select {
	case r.queue <- sig:
		if telemetry.SignalsReceived != nil {
			telemetry.SignalsReceived.WithLabelValues(string(sig.Platform), string(sig.Kind)).Inc()
		}
		return true
	default:
		slog.Warn("signal queue full, dropping",
			slog.String("platform", string(sig.Platform)), slog.String("entity", sig.EntityID))
		if telemetry.SignalsDropped != nil {
			telemetry.SignalsDropped.Inc()
		}
		return false
	}
}

// Run drains the signal queue until ctx is cancelled. Each signal is handled
// on its own goroutine; the per-entity lock provides the serialization.
func (r *Resolver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-r.queue:
			go r.process(ctx, sig)
		}
	}
}

func (r *Resolver) process(ctx context.Context, sig Signal) {
	e, ok := r.entities.Lookup(sig.Platform, sig.EntityID)
	if !ok {
		slog.Debug("signal for untracked entity",
			slog.String("platform", string(sig.Platform)), slog.String("entity", sig.EntityID))
		if telemetry.SignalsDropped != nil {
			telemetry.SignalsDropped.Inc()
		}
		return
	}

	l := r.lockFor(e.Key())
	l.Lock()
	defer l.Unlock()

	switch sig.Kind {
	case SignalLive:
		r.handleLiveLocked(ctx, e, sig.StreamRef)
	case SignalOffline:
		r.handleOfflineLocked(ctx, e)
	case SignalScheduled:
		r.handleScheduledLocked(e, sig)
	default:
		slog.Warn("unknown signal kind", slog.String("kind", string(sig.Kind)))
	}
}

// HandleSignal processes one signal synchronously, bypassing the queue. Used
// by the backfill sweep and tests.
func (r *Resolver) HandleSignal(ctx context.Context, sig Signal) {
	r.process(ctx, sig)
}

func (r *Resolver) handleScheduledLocked(e Entity, sig Signal) {
	if r.record(e.Key()) != nil {
		return // already live, nothing to snipe
	}
	if sig.ScheduledStart.IsZero() {
		return
	}
	r.armSniperLocked(e, sig.StreamRef, sig.ScheduledStart)
}

func (r *Resolver) armSniperLocked(e Entity, ref string, start time.Time) {
	now := time.Now().UTC()
	if now.After(start.Add(sched.GiveUpAfter)) {
		return // announced start already past the give-up deadline
	}
	r.sch.Schedule(sched.Check{
		EntityID:      e.Key(),
		Kind:          sched.KindSniper,
		StreamRef:     ref,
		TargetTime:    sched.FirstSniperTarget(now, start),
		ReferenceTime: start,
	})
	r.setState(e.Key(), StatePending)
	slog.Info("sniper armed",
		slog.String("entity", e.Key()), slog.Time("announced_start", start))
}

func (r *Resolver) handleLiveLocked(ctx context.Context, e Entity, ref string) {
	if rec := r.record(e.Key()); rec != nil {
		// Duplicate live signal: refresh at most, never a second artifact.
		if rec.StreamRef == "" && ref != "" {
			rec.StreamRef = ref
		}
		if _, err := r.refreshLocked(ctx, e, rec); err != nil {
			slog.Warn("refresh on duplicate live signal failed",
				slog.String("entity", e.Key()), slog.String("class", string(Classify(err))), slog.Any("err", err))
		}
		return
	}

	var (
		info *StreamInfo
		err  error
	)
	if src := r.sources[e.Platform]; src != nil {
		info, err = src.Fetch(ctx, e, ref)
	}
	switch {
	case err == nil && info != nil && info.Live:
		r.createArtifactLocked(ctx, e, ref, info, false)
	case err == nil && info != nil && e.Platform == PlatformYouTube:
		// A feed push only says something changed. A confirmed non-live video
		// is either an upcoming stream worth sniping or a plain upload.
		if info.Upcoming && !info.ScheduledStart.IsZero() {
			r.armSniperLocked(e, ref, info.ScheduledStart)
		} else {
			slog.Debug("live signal resolved to a non-live video",
				slog.String("entity", e.Key()), slog.String("video", ref))
		}
	default:
		// The push event outran backend metadata. Post a placeholder now and
		// enrich once after a short delay.
		if err != nil {
			slog.Info("metadata fetch after live signal failed, using placeholder",
				slog.String("entity", e.Key()), slog.String("class", string(Classify(err))), slog.Any("err", err))
		}
		r.createArtifactLocked(ctx, e, ref, placeholderInfo(e, ref), true)
	}
}

// createArtifactLocked sends the live notification, records the session, and
// arms the health check. Scheduling the health check replaces any pending
// sniper for the entity.
func (r *Resolver) createArtifactLocked(ctx context.Context, e Entity, ref string, info *StreamInfo, placeholder bool) {
	if info.StreamRef != "" {
		ref = info.StreamRef
	}
	now := time.Now().UTC()
	content := liveContent(e, info)
	em := liveEmbed(info, now)
	msgID, err := r.disc.SendMessage(ctx, content, em)
	if err != nil {
		slog.Error("sending live notification failed",
			slog.String("entity", e.Key()), slog.String("class", string(Classify(err))), slog.Any("err", err))
		return
	}

	rec := &Record{
		EntityKey: e.Key(),
		MessageID: msgID,
		StreamRef: ref,
		Digest:    renderDigest(content, em),
		Embed:     em,
	}
	r.mu.Lock()
	r.records[e.Key()] = rec
	r.states[e.Key()] = StateLive
	n := len(r.records)
	r.mu.Unlock()

	if telemetry.ArtifactsCreated != nil {
		telemetry.ArtifactsCreated.Inc()
	}
	telemetry.SetLiveEntities(n)
	slog.Info("live notification sent",
		slog.String("entity", e.Key()), slog.String("message", msgID), slog.Bool("placeholder", placeholder))

	r.sch.Schedule(sched.Check{
		EntityID:   e.Key(),
		Kind:       sched.KindHealth,
		StreamRef:  ref,
		TargetTime: now.Add(r.healthInterval),
	})
	if placeholder {
		r.scheduleEnrich(ctx, e, msgID)
	}
}

// scheduleEnrich arms the single delayed re-fetch for a placeholder artifact.
// Exactly one attempt; failure gives up on enrichment for the session.
func (r *Resolver) scheduleEnrich(ctx context.Context, e Entity, msgID string) {
	time.AfterFunc(r.EnrichDelay, func() {
		if ctx.Err() != nil {
			return
		}
		l := r.lockFor(e.Key())
		l.Lock()
		defer l.Unlock()
		rec := r.record(e.Key())
		if rec == nil || rec.MessageID != msgID {
			return // session closed or replaced in the meantime
		}
		if _, err := r.refreshLocked(ctx, e, rec); err != nil {
			slog.Info("enrichment attempt failed, keeping placeholder",
				slog.String("entity", e.Key()), slog.Any("err", err))
		}
	})
}

// refreshLocked re-fetches metadata and edits the artifact when the rendered
// form changed. Returns stillLive=false when the platform reports the stream
// gone (including a vanished video reference); a transient fetch error leaves
// the session as-is.
func (r *Resolver) refreshLocked(ctx context.Context, e Entity, rec *Record) (bool, error) {
	src := r.sources[e.Platform]
	if src == nil {
		return true, nil
	}
	info, err := src.Fetch(ctx, e, rec.StreamRef)
	if err != nil {
		if Classify(err) == ClassNotYetAvailable {
			return false, nil
		}
		return true, err
	}
	if !info.Live {
		return false, nil
	}
	if info.StreamRef != "" {
		rec.StreamRef = info.StreamRef
	}
	content := liveContent(e, info)
	em := liveEmbed(info, time.Now().UTC())
	d := renderDigest(content, em)
	if d == rec.Digest {
		return true, nil
	}
	if err := r.disc.EditMessage(ctx, rec.MessageID, content, em); err != nil {
		return true, err
	}
	rec.Digest = d
	rec.Embed = em
	if telemetry.ArtifactsUpdated != nil {
		telemetry.ArtifactsUpdated.Inc()
	}
	return true, nil
}

func (r *Resolver) handleOfflineLocked(ctx context.Context, e Entity) {
	rec := r.record(e.Key())
	if rec == nil {
		return // already ended or never live: idempotent no-op
	}
	r.closeLocked(ctx, e, rec)
}

// closeLocked edits the artifact to its ended form and retires the session.
// The record is dropped even when the edit fails: a lingering live-colored
// message is recovered by the next reconciliation pass, while a retried close
// against a deleted message would loop forever.
func (r *Resolver) closeLocked(ctx context.Context, e Entity, rec *Record) {
	now := time.Now().UTC()
	var em *discord.Embed
	if rec.Embed != nil {
		em = endedEmbed(rec.Embed, now)
	} else {
		em = &discord.Embed{Description: "Stream has ended.", Color: discord.ColorEnded, Timestamp: now.Format(time.RFC3339)}
	}
	if err := r.disc.EditMessage(ctx, rec.MessageID, endedContent(e), em); err != nil {
		slog.Warn("closing notification failed",
			slog.String("entity", e.Key()), slog.String("class", string(Classify(err))), slog.Any("err", err))
	}

	r.mu.Lock()
	delete(r.records, e.Key())
	r.states[e.Key()] = StateEnded
	n := len(r.records)
	r.mu.Unlock()

	r.sch.Cancel(e.Key())
	if telemetry.ArtifactsClosed != nil {
		telemetry.ArtifactsClosed.Inc()
	}
	telemetry.SetLiveEntities(n)
	slog.Info("notification closed", slog.String("entity", e.Key()), slog.String("message", rec.MessageID))
}

// OnCheck is the scheduler's fire callback. The fired check is already off the
// table; every path below either re-arms, transitions, or abandons.
func (r *Resolver) OnCheck(ctx context.Context, c sched.Check) {
	e, ok := r.entities.ByKey(c.EntityID)
	if !ok {
		slog.Warn("check fired for untracked entity", slog.String("entity", c.EntityID))
		return
	}
	l := r.lockFor(e.Key())
	l.Lock()
	defer l.Unlock()

	switch c.Kind {
	case sched.KindSniper:
		r.sniperCheckLocked(ctx, e, c)
	case sched.KindHealth:
		r.healthCheckLocked(ctx, e, c)
	}
}

func (r *Resolver) sniperCheckLocked(ctx context.Context, e Entity, c sched.Check) {
	if r.record(e.Key()) != nil {
		return // a webhook beat the sniper to it
	}
	now := time.Now().UTC()
	var (
		info *StreamInfo
		err  error
	)
	if src := r.sources[e.Platform]; src != nil {
		info, err = src.Fetch(ctx, e, c.StreamRef)
	}
	if err != nil && Classify(err) != ClassNotYetAvailable {
		// Transient failure: keep monitoring on the same policy tier so API
		// blips degrade to delayed detection, not missed detection.
		slog.Warn("sniper check fetch failed",
			slog.String("entity", e.Key()), slog.Any("err", err))
		r.rescheduleSniperLocked(e, c, c.ReferenceTime, now)
		return
	}
	if info != nil && info.Live {
		slog.Info("sniper check confirmed live", slog.String("entity", e.Key()))
		r.createArtifactLocked(ctx, e, c.StreamRef, info, false)
		return
	}

	ref := c.ReferenceTime
	if info != nil && info.ScheduledStart.After(ref) {
		// The announced start was pushed back; track the new one.
		ref = info.ScheduledStart
	}
	r.rescheduleSniperLocked(e, c, ref, now)
}

func (r *Resolver) rescheduleSniperLocked(e Entity, c sched.Check, ref time.Time, now time.Time) {
	delay, ok := sched.NextSniperDelay(now, ref)
	if !ok {
		slog.Info("giving up on announced stream",
			slog.String("entity", e.Key()), slog.Time("announced_start", ref))
		if telemetry.ChecksAbandoned != nil {
			telemetry.ChecksAbandoned.Inc()
		}
		r.setState(e.Key(), StateIdle)
		return
	}
	r.sch.Schedule(sched.Check{
		EntityID:      e.Key(),
		Kind:          sched.KindSniper,
		StreamRef:     c.StreamRef,
		TargetTime:    now.Add(delay),
		ReferenceTime: ref,
	})
}

func (r *Resolver) healthCheckLocked(ctx context.Context, e Entity, c sched.Check) {
	rec := r.record(e.Key())
	if rec == nil {
		return // closed since the check was armed
	}
	stillLive, err := r.refreshLocked(ctx, e, rec)
	if err != nil {
		slog.Warn("health check fetch failed, re-arming",
			slog.String("entity", e.Key()), slog.Any("err", err))
		stillLive = true
	}
	if !stillLive {
		r.closeLocked(ctx, e, rec)
		return
	}
	r.sch.Schedule(sched.Check{
		EntityID:   e.Key(),
		Kind:       sched.KindHealth,
		StreamRef:  rec.StreamRef,
		TargetTime: time.Now().UTC().Add(r.healthInterval),
	})
}

// lockFor returns the mutex serializing mutations for one entity.
func (r *Resolver) lockFor(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}

func (r *Resolver) record(key string) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[key]
}

func (r *Resolver) setState(key string, st EntityState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[key] = st
}

// Records returns a copy of the active-session map.
func (r *Resolver) Records() map[string]Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Record, len(r.records))
	for k, v := range r.records {
		out[k] = *v
	}
	return out
}

// EntityStatus is one row of the /status report.
type EntityStatus struct {
	Entity      string      `json:"entity"`
	Platform    Platform    `json:"platform"`
	DisplayName string      `json:"display_name"`
	State       EntityState `json:"state"`
	MessageID   string      `json:"message_id,omitempty"`
	StreamRef   string      `json:"stream_ref,omitempty"`
}

// StatusTable reports the current state of every tracked entity.
func (r *Resolver) StatusTable() []EntityStatus {
	var all []Entity
	all = append(all, r.entities.All(PlatformTwitch)...)
	all = append(all, r.entities.All(PlatformYouTube)...)

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EntityStatus, 0, len(all))
	for _, e := range all {
		st, ok := r.states[e.Key()]
		if !ok {
			st = StateIdle
		}
		row := EntityStatus{
			Entity:      e.Key(),
			Platform:    e.Platform,
			DisplayName: e.DisplayName,
			State:       st,
		}
		if rec, ok := r.records[e.Key()]; ok {
			row.MessageID = rec.MessageID
			row.StreamRef = rec.StreamRef
		}
		out = append(out, row)
	}
	return out
}
