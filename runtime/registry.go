// Package runtime hosts the delivery core: the session registry, the
// dispatcher, and the supervised workers that move events from the
// write path to live channels. It contains no business rules.
package runtime

import (
	"sync"

	"chat-relay/contract"
)

type channelSet map[contract.Channel]struct{}

// Registry maps an authenticated user to the set of channels that user
// currently has open (one per device or tab). It is the single piece of
// mutable shared state every connect and disconnect touches, so all
// access goes through the mutex. Process-local only: the map starts
// empty on every restart.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]channelSet
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]channelSet)}
}

// Register adds a channel under the user's set. Idempotent if the
// channel is already present.
func (r *Registry) Register(userID string, ch contract.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[userID]; !ok {
		r.sessions[userID] = make(channelSet)
	}
	r.sessions[userID][ch] = struct{}{}
}

// Unregister removes a channel from the user's set. When the set
// becomes empty the user entry is dropped entirely so the map never
// accumulates dangling users.
func (r *Registry) Unregister(userID string, ch contract.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sessions[userID]
	if !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(r.sessions, userID)
	}
}

// ChannelsFor returns a snapshot of the user's live channels, possibly
// empty. The snapshot lets callers iterate without holding the lock.
func (r *Registry) ChannelsFor(userID string) []contract.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.sessions[userID]
	if !ok {
		return nil
	}
	channels := make([]contract.Channel, 0, len(set))
	for ch := range set {
		channels = append(channels, ch)
	}
	return channels
}

// Users returns how many users currently have at least one channel.
func (r *Registry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
