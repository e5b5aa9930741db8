// ABOUTME: Thread-safe registry of the most recent unconsumed image per (room, user)
// ABOUTME: Images are claimed by the next text message from the same key, recent or not

package pending

import (
	"sync"
	"time"
)

// key identifies a (room, user) slot. At most one image is pending per key.
type key struct {
	roomID string
	userID string
}

// entry holds a pending image reference and its arrival time.
type entry struct {
	timestamp time.Time
	mediaRef  string
}

// Registry tracks the most recent unconsumed image reference per room and
// user. A newer image overwrites an older one before it is claimed; the
// older reference is silently discarded. Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[key]entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[key]entry)}
}

// Record stores an image reference for the given room and user,
// unconditionally replacing any existing entry for that key.
func (r *Registry) Record(roomID, userID string, ts time.Time, mediaRef string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key{roomID, userID}] = entry{timestamp: ts, mediaRef: mediaRef}
}

// Take removes the pending entry for the given room and user, if any, and
// returns its media reference only when the entry arrived within window of
// now. The removal is unconditional: a text message always consumes whatever
// image is pending for its author, whether or not it is recent enough to
// pair with.
func (r *Registry) Take(roomID, userID string, now time.Time, window time.Duration) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{roomID, userID}
	e, ok := r.entries[k]
	if !ok {
		return "", false
	}
	delete(r.entries, k)

	if now.Sub(e.timestamp) > window {
		return "", false
	}
	return e.mediaRef, true
}

// Len returns the number of unclaimed entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
