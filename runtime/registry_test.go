package runtime

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"chat-relay/domain/event"
)

type stubChannel struct {
	userID string
}

func (c *stubChannel) UserID() string                                { return c.userID }
func (c *stubChannel) Send(context.Context, event.DomainEvent) error { return nil }
func (c *stubChannel) Close() error                                  { return nil }
func (c *stubChannel) Closed() <-chan struct{}                       { return nil }

func TestRegistry_Register_One_User_One_Channel(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	userID := uuid.NewString()
	ch := &stubChannel{userID: userID}

	// Given no user is connected
	req.Zero(registry.Users())
	req.Empty(registry.ChannelsFor(userID))

	// When a channel registers
	registry.Register(userID, ch)

	// Then
	req.Equal(1, registry.Users())
	req.Len(registry.ChannelsFor(userID), 1)
	req.Contains(registry.ChannelsFor(userID), ch)
}

func TestRegistry_Register_One_User_Multiple_Channels(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	userID := uuid.NewString()
	tab := &stubChannel{userID: userID}
	phone := &stubChannel{userID: userID}

	// When the same user connects from two devices
	registry.Register(userID, tab)
	registry.Register(userID, phone)

	// Then both channels live under one user entry
	req.Equal(1, registry.Users())
	req.Len(registry.ChannelsFor(userID), 2)
	req.Contains(registry.ChannelsFor(userID), tab)
	req.Contains(registry.ChannelsFor(userID), phone)
}

func TestRegistry_Register_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	userID := uuid.NewString()
	ch := &stubChannel{userID: userID}

	// When the same channel registers twice
	registry.Register(userID, ch)
	registry.Register(userID, ch)

	// Then it is tracked once
	req.Len(registry.ChannelsFor(userID), 1)
}

func TestRegistry_Unregister_Last_Channel_Drops_User(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	userID := uuid.NewString()
	ch := &stubChannel{userID: userID}

	// Given a connected user
	registry.Register(userID, ch)

	// When its only channel unregisters
	registry.Unregister(userID, ch)

	// Then the user entry is gone entirely
	req.Zero(registry.Users())
	req.Empty(registry.ChannelsFor(userID))
}

func TestRegistry_Unregister_Keeps_Remaining_Channels(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	userID := uuid.NewString()
	tab := &stubChannel{userID: userID}
	phone := &stubChannel{userID: userID}

	// Given a user connected from two devices
	registry.Register(userID, tab)
	registry.Register(userID, phone)

	// When one device disconnects
	registry.Unregister(userID, tab)

	// Then the other keeps receiving
	req.Equal(1, registry.Users())
	req.Len(registry.ChannelsFor(userID), 1)
	req.Contains(registry.ChannelsFor(userID), phone)
}

func TestRegistry_Unregister_Unknown_User_Is_Noop(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	// When unregistering a channel that never registered
	registry.Unregister(uuid.NewString(), &stubChannel{})

	// Then nothing changed
	req.Zero(registry.Users())
}
