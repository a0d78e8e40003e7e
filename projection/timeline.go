// Package projection builds local conversation views from observed
// events. Handles ordering, deduplication, and the sync watermark.
// Does not emit events or interact with UI directly.
package projection

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-relay/domain"
)

// Timeline is a client-side conversation cache. Messages can arrive
// twice (a live push racing a sync response) and out of order (replay
// after reconnect); the timeline absorbs both: merging by id never
// duplicates, ordering follows CreatedAt, and the watermark only ever
// moves forward.
type Timeline struct {
	mu        sync.Mutex
	byID      map[uuid.UUID]struct{}
	messages  []domain.Message
	watermark time.Time
}

func NewTimeline() *Timeline {
	return &Timeline{byID: make(map[uuid.UUID]struct{})}
}

// Merge absorbs a batch from any source, live push or sync response.
// Duplicates are dropped by id; the rest is inserted in CreatedAt
// order. Returns how many messages were actually new.
func (t *Timeline) Merge(batch ...domain.Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	added := 0
	for _, msg := range batch {
		if _, seen := t.byID[msg.ID]; seen {
			continue
		}
		t.byID[msg.ID] = struct{}{}
		t.messages = append(t.messages, msg)
		added++

		if msg.CreatedAt.After(t.watermark) {
			t.watermark = msg.CreatedAt
		}
	}

	if added > 0 {
		sort.SliceStable(t.messages, func(i, j int) bool {
			return t.messages[i].CreatedAt.Before(t.messages[j].CreatedAt)
		})
	}
	return added
}

// Drop removes a message by id, the only way an entry ever leaves the
// timeline. Unknown ids are ignored. The watermark stays where it is:
// deletion is not new activity.
func (t *Timeline) Drop(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, seen := t.byID[id]; !seen {
		return
	}
	delete(t.byID, id)
	for i, msg := range t.messages {
		if msg.ID == id {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			break
		}
	}
}

// Messages returns the ordered view, oldest first.
func (t *Timeline) Messages() []domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.Message(nil), t.messages...)
}

// Watermark is the CreatedAt of the newest message ever observed, the
// value to pass as `since` on the next sync. Zero until something has
// been merged.
func (t *Timeline) Watermark() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.watermark
}

// Len returns the number of cached messages.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}
