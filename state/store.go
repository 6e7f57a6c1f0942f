// Package state persists the scheduler's pending-check table as a JSON snapshot.
// The store offers no merge or conflict resolution: Save always overwrites the
// backing blob with the full current table (last-writer-wins), and a missing or
// corrupt blob degrades to an empty snapshot at load time.
package state

import (
	"context"
	"time"
)

// PendingCheck is the serialized form of one scheduled check.
type PendingCheck struct {
	EntityID      string    `json:"entity_id"`
	Kind          string    `json:"kind"` // "sniper" | "health"
	StreamRef     string    `json:"stream_ref,omitempty"`
	TargetTime    time.Time `json:"target_time"`
	ReferenceTime time.Time `json:"reference_time,omitempty"`
}

// Snapshot is the full persisted pending-check table.
type Snapshot struct {
	PendingChecks []PendingCheck `json:"pending_checks"`
}

// Store loads and saves snapshots against a backing blob.
// Load is called once at startup before steady-state processing begins.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}
