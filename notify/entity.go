// Package notify holds the per-entity notification state machine: it turns
// raw liveness signals and poll results into idempotent create/update/close
// operations on the single Discord message per live session.
package notify

import (
	"sync"

	"github.com/onnwee/stream-herald/config"
)

// Platform identifies which streaming service an entity lives on.
type Platform string

const (
	PlatformTwitch  Platform = "twitch"
	PlatformYouTube Platform = "youtube"
)

// Entity is one tracked broadcaster identity. The set is static for the
// process lifetime; only the Twitch login is filled in later, once the Helix
// user lookup has run.
type Entity struct {
	Platform    Platform
	ID          string // platform-native id: Twitch user id / YouTube channel id
	Login       string // Twitch login for URL reverse-mapping; empty for YouTube
	DisplayName string
}

// Key returns the scheduler/record key for the entity, unique across
// platforms.
func (e Entity) Key() string {
	return string(e.Platform) + ":" + e.ID
}

// Set is the tracked-entity index. Lookup misses mean the payload references
// someone this instance does not watch.
type Set struct {
	mu      sync.RWMutex
	byKey   map[string]Entity
	byLogin map[string]string // twitch login -> key
}

// NewSet builds the tracked set from configuration.
func NewSet(twitch, youtube []config.Streamer) *Set {
	s := &Set{
		byKey:   make(map[string]Entity, len(twitch)+len(youtube)),
		byLogin: make(map[string]string, len(twitch)),
	}
	for _, st := range twitch {
		e := Entity{Platform: PlatformTwitch, ID: st.ID, DisplayName: st.DisplayName}
		s.byKey[e.Key()] = e
	}
	for _, ch := range youtube {
		e := Entity{Platform: PlatformYouTube, ID: ch.ID, DisplayName: ch.DisplayName}
		s.byKey[e.Key()] = e
	}
	return s
}

// Lookup finds a tracked entity by platform and platform-native id.
func (s *Set) Lookup(p Platform, id string) (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byKey[string(p)+":"+id]
	return e, ok
}

// ByKey finds a tracked entity by its scheduler key.
func (s *Set) ByKey(key string) (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byKey[key]
	return e, ok
}

// ByTwitchLogin reverse-maps a Twitch login (from an artifact URL) to its
// entity. Only works after SetTwitchLogin has indexed the login.
func (s *Set) ByTwitchLogin(login string) (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byLogin[login]
	if !ok {
		return Entity{}, false
	}
	return s.byKey[key], true
}

// SetTwitchLogin records the login for a tracked Twitch entity, filled in at
// startup from the Helix users endpoint.
func (s *Set) SetTwitchLogin(userID, login string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(PlatformTwitch) + ":" + userID
	e, ok := s.byKey[key]
	if !ok {
		return
	}
	e.Login = login
	s.byKey[key] = e
	s.byLogin[login] = key
}

// All returns the tracked entities of one platform.
func (s *Set) All(p Platform) []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entity
	for _, e := range s.byKey {
		if e.Platform == p {
			out = append(out, e)
		}
	}
	return out
}
