package domain

import "strings"

// ConversationKey identifies a two-party conversation independently of
// who initiated it. Conversations are not persisted entities; the key
// is derived on demand from the unordered pair of participants.
type ConversationKey string

// keySeparator never appears inside a user identifier (identifiers are
// UUID strings), so two distinct pairs can never collide.
const keySeparator = "|"

// NewConversationKey builds the canonical key for a pair of users.
// The result is stable under argument order swap: Key(a,b) == Key(b,a).
func NewConversationKey(a, b string) ConversationKey {
	if b < a {
		a, b = b, a
	}
	return ConversationKey(a + keySeparator + b)
}

// Participants returns the two user identifiers of the conversation in
// canonical order.
func (k ConversationKey) Participants() (string, string) {
	a, b, _ := strings.Cut(string(k), keySeparator)
	return a, b
}

func (k ConversationKey) String() string {
	return string(k)
}
