// Package sched owns the table of pending per-entity checks. It arms one timer
// per entity, replaces rather than stacks timers on reschedule, and reports
// every table mutation to a persistence hook so the table survives restarts.
package sched

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/stream-herald/state"
	"github.com/onnwee/stream-herald/telemetry"
)

// Kind distinguishes the two check flavors.
type Kind string

const (
	// KindSniper tracks a stream whose announced start time is known but not yet confirmed live.
	KindSniper Kind = "sniper"
	// KindHealth monitors a confirmed-live entity for a silent offline transition.
	KindHealth Kind = "health"
)

// Check is one pending future poll of an entity.
type Check struct {
	EntityID      string
	Kind          Kind
	StreamRef     string
	TargetTime    time.Time
	ReferenceTime time.Time // announced start for sniper checks
}

// FireFunc is invoked (in its own goroutine) when a check's target time is
// reached. The callee owns rescheduling decisions; a fired check is already
// removed from the table when FireFunc runs.
type FireFunc func(ctx context.Context, c Check)

type armed struct {
	check Check
	timer *time.Timer
	gen   uint64
}

// Scheduler maintains at most one armed check per entity.
type Scheduler struct {
	mu       sync.Mutex
	pending  map[string]*armed
	gen      uint64
	fire     FireFunc
	onMutate func(state.Snapshot)
	ctx      context.Context
	started  bool
}

// New returns a scheduler whose table mutations are reported via onMutate
// (called outside the scheduler lock with a full table copy). onMutate may be
// nil for tests.
func New(onMutate func(state.Snapshot)) *Scheduler {
	return &Scheduler{
		pending:  make(map[string]*armed),
		onMutate: onMutate,
	}
}

// Start binds the fire callback and the context passed to fired checks.
// Checks scheduled before Start are armed but held; their timers only begin
// counting once Start has run.
func (s *Scheduler) Start(ctx context.Context, fire FireFunc) {
	s.mu.Lock()
	s.ctx = ctx
	s.fire = fire
	s.started = true
	for id, a := range s.pending {
		if a.timer == nil {
			s.armLocked(id, a)
		}
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		for _, a := range s.pending {
			if a.timer != nil {
				a.timer.Stop()
			}
		}
		s.mu.Unlock()
	}()
}

// Schedule arms (or replaces) the check for c.EntityID. Replacing is the only
// way to reschedule; timers are never stacked per entity.
func (s *Scheduler) Schedule(c Check) {
	s.mu.Lock()
	if old, ok := s.pending[c.EntityID]; ok && old.timer != nil {
		old.timer.Stop()
	}
	s.gen++
	a := &armed{check: c, gen: s.gen}
	s.pending[c.EntityID] = a
	if s.started {
		s.armLocked(c.EntityID, a)
	}
	n := len(s.pending)
	s.mu.Unlock()

	if telemetry.ChecksScheduled != nil {
		telemetry.ChecksScheduled.WithLabelValues(string(c.Kind)).Inc()
	}
	telemetry.SetPendingChecks(n)
	s.persist()
}

// armLocked starts the timer for an entry. Callers hold s.mu.
func (s *Scheduler) armLocked(entityID string, a *armed) {
	delay := time.Until(a.check.TargetTime)
	if delay < 0 {
		delay = 0
	}
	gen := a.gen
	a.timer = time.AfterFunc(delay, func() {
		s.fired(entityID, gen)
	})
}

// fired dequeues the entry if it is still the current one for the entity.
// A superseded or cancelled firing is a no-op.
func (s *Scheduler) fired(entityID string, gen uint64) {
	s.mu.Lock()
	a, ok := s.pending[entityID]
	if !ok || a.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.pending, entityID)
	ctx := s.ctx
	fire := s.fire
	n := len(s.pending)
	s.mu.Unlock()

	if telemetry.ChecksFired != nil {
		telemetry.ChecksFired.WithLabelValues(string(a.check.Kind)).Inc()
	}
	telemetry.SetPendingChecks(n)
	s.persist()

	if ctx == nil || ctx.Err() != nil || fire == nil {
		return
	}
	fire(ctx, a.check)
}

// Cancel removes the pending check for an entity. Returns whether one existed.
func (s *Scheduler) Cancel(entityID string) bool {
	s.mu.Lock()
	a, ok := s.pending[entityID]
	if ok {
		if a.timer != nil {
			a.timer.Stop()
		}
		delete(s.pending, entityID)
	}
	n := len(s.pending)
	s.mu.Unlock()

	if ok {
		telemetry.SetPendingChecks(n)
		s.persist()
	}
	return ok
}

// Pending returns the check for an entity, if any.
func (s *Scheduler) Pending(entityID string) (Check, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.pending[entityID]
	if !ok {
		return Check{}, false
	}
	return a.check, true
}

// Len reports the current table size.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Snapshot serializes the full current table.
func (s *Scheduler) Snapshot() state.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Scheduler) snapshotLocked() state.Snapshot {
	snap := state.Snapshot{PendingChecks: make([]state.PendingCheck, 0, len(s.pending))}
	for _, a := range s.pending {
		snap.PendingChecks = append(snap.PendingChecks, state.PendingCheck{
			EntityID:      a.check.EntityID,
			Kind:          string(a.check.Kind),
			StreamRef:     a.check.StreamRef,
			TargetTime:    a.check.TargetTime,
			ReferenceTime: a.check.ReferenceTime,
		})
	}
	return snap
}

// Restore re-arms checks from a loaded snapshot. Past targets are clamped:
// sniper checks get a fresh first-target computation against their announced
// start (and are dropped entirely when the give-up deadline has already
// passed), health checks fire after a short delay. One persistence call covers
// the whole batch.
func (s *Scheduler) Restore(snap state.Snapshot) {
	now := time.Now().UTC()
	restored := 0
	s.mu.Lock()
	for _, pc := range snap.PendingChecks {
		c := Check{
			EntityID:      pc.EntityID,
			Kind:          Kind(pc.Kind),
			StreamRef:     pc.StreamRef,
			TargetTime:    pc.TargetTime,
			ReferenceTime: pc.ReferenceTime,
		}
		switch c.Kind {
		case KindSniper:
			if !c.ReferenceTime.IsZero() && now.After(c.ReferenceTime.Add(GiveUpAfter)) {
				slog.Info("dropping expired sniper check from snapshot",
					slog.String("entity", c.EntityID), slog.Time("announced_start", c.ReferenceTime))
				continue
			}
			if c.TargetTime.Before(now) {
				c.TargetTime = FirstSniperTarget(now, c.ReferenceTime)
			}
		case KindHealth:
			if c.TargetTime.Before(now) {
				c.TargetTime = now.Add(RestoreHealthDelay)
			}
		default:
			slog.Warn("dropping snapshot entry with unknown kind", slog.String("kind", pc.Kind))
			continue
		}
		if old, ok := s.pending[c.EntityID]; ok && old.timer != nil {
			old.timer.Stop()
		}
		s.gen++
		a := &armed{check: c, gen: s.gen}
		s.pending[c.EntityID] = a
		if s.started {
			s.armLocked(c.EntityID, a)
		}
		restored++
	}
	n := len(s.pending)
	s.mu.Unlock()

	telemetry.SetPendingChecks(n)
	if restored > 0 {
		slog.Info("restored pending checks from snapshot", slog.Int("count", restored))
		s.persist()
	}
}

func (s *Scheduler) persist() {
	if s.onMutate == nil {
		return
	}
	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.onMutate(snap)
}
