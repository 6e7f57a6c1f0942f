package sched

import "time"

// Sniper timing tiers. A sniper check aims at catching the moment a
// pre-announced stream actually starts: the first probe lands shortly before
// the announced time, then retries tighten around it until the give-up
// deadline passes.
const (
	// SniperLead is how far before the announced start the first check fires.
	SniperLead = 3 * time.Minute
	// SniperLateStart is the delay for a first check whose ideal point is already past.
	SniperLateStart = 10 * time.Second
	// FastRetry applies while the announced start is near.
	FastRetry = 90 * time.Second
	// SlowRetry applies once the fast window has passed.
	SlowRetry = 3 * time.Minute
	// FastWindow is how long past the announced start the fast tier lasts.
	FastWindow = 3 * time.Minute
	// GiveUpAfter is the point past the announced start where monitoring stops.
	GiveUpAfter = 21 * time.Minute

	// RestoreHealthDelay re-arms restored health checks almost immediately,
	// since process downtime may have hidden an offline transition.
	RestoreHealthDelay = 15 * time.Second
)

// FirstSniperTarget returns when the first sniper check for a stream announced
// at scheduledStart should fire.
func FirstSniperTarget(now, scheduledStart time.Time) time.Time {
	target := scheduledStart.Add(-SniperLead)
	if target.Before(now) {
		return now.Add(SniperLateStart)
	}
	return target
}

// NextSniperDelay returns the delay until the next sniper attempt after a miss
// at time now, or ok=false when the give-up deadline has passed and monitoring
// should stop without ever notifying.
func NextSniperDelay(now, scheduledStart time.Time) (time.Duration, bool) {
	switch {
	case now.Before(scheduledStart.Add(FastWindow)):
		return FastRetry, true
	case now.Before(scheduledStart.Add(GiveUpAfter)):
		return SlowRetry, true
	default:
		return 0, false
	}
}
