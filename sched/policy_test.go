package sched

import (
	"testing"
	"time"
)

func TestFirstSniperTarget(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		start time.Time
		want  time.Time
	}{
		{"future start", now.Add(10 * time.Minute), now.Add(7 * time.Minute)},
		{"start within lead window", now.Add(time.Minute), now.Add(SniperLateStart)},
		{"start already past", now.Add(-5 * time.Minute), now.Add(SniperLateStart)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FirstSniperTarget(now, tt.start); !got.Equal(tt.want) {
				t.Errorf("FirstSniperTarget() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextSniperDelay(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		now       time.Time
		wantDelay time.Duration
		wantOK    bool
	}{
		{"before start", start.Add(-2 * time.Minute), FastRetry, true},
		{"just after start", start.Add(time.Minute), FastRetry, true},
		{"end of fast window", start.Add(FastWindow - time.Second), FastRetry, true},
		{"slow tier", start.Add(5 * time.Minute), SlowRetry, true},
		{"near give-up", start.Add(GiveUpAfter - time.Second), SlowRetry, true},
		{"past give-up", start.Add(GiveUpAfter), 0, false},
		{"long past give-up", start.Add(2 * time.Hour), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delay, ok := NextSniperDelay(tt.now, start)
			if ok != tt.wantOK || delay != tt.wantDelay {
				t.Errorf("NextSniperDelay() = (%v, %v), want (%v, %v)", delay, ok, tt.wantDelay, tt.wantOK)
			}
		})
	}
}

// Ladder walk from the first check: 90s steps until start+3m, then 3m steps
// until start+21m, then abandoned.
func TestSniperLadder(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := FirstSniperTarget(start.Add(-time.Hour), start) // start - 3m
	if !now.Equal(start.Add(-SniperLead)) {
		t.Fatalf("first target = %v, want %v", now, start.Add(-SniperLead))
	}
	checks := 0
	for {
		delay, ok := NextSniperDelay(now, start)
		if !ok {
			break
		}
		if now.Before(start.Add(FastWindow)) && delay != FastRetry {
			t.Fatalf("at %v expected fast retry, got %v", now, delay)
		}
		if !now.Before(start.Add(FastWindow)) && delay != SlowRetry {
			t.Fatalf("at %v expected slow retry, got %v", now, delay)
		}
		now = now.Add(delay)
		checks++
		if checks > 100 {
			t.Fatal("ladder did not terminate")
		}
	}
	if now.Before(start.Add(GiveUpAfter)) {
		t.Fatalf("ladder gave up early at %v", now)
	}
	// -3m, -1m30s, 0, +1m30s, +3m (fast), then +6m..+21m in 3m steps (slow)
	if checks < 8 {
		t.Fatalf("ladder only produced %d retries", checks)
	}
}
