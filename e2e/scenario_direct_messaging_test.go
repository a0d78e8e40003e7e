package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"

	"chat-relay/client"
	"chat-relay/domain"
)

type testDirectMessagingSuite struct {
	BaseRelaySuite
}

func TestDirectMessagingSuite(t *testing.T) {
	suite.Run(t, &testDirectMessagingSuite{})
}

func (s *testDirectMessagingSuite) TestFullMessagingFlow() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var alice, bob *client.Client
	var first domain.Message

	// --- STEP 1: ACCOUNTS ---
	s.Step("Step 1: Sign up both participants")
	{
		alice = s.NewAccount(ctx, "alice")
		bob = s.NewAccount(ctx, "bob")

		users, err := alice.Users(ctx)
		s.Require().NoError(err)
		ids := lo.Map(users, func(u client.User, _ int) string { return u.ID })
		s.Require().Contains(ids, bob.UserID(), "Sidebar must list the other account")
		s.Require().NotContains(ids, alice.UserID(), "Sidebar must not list the caller")
	}

	// --- STEP 2: FIRST MESSAGE, FETCHED VIA HISTORY ---
	s.Step("Step 2: Send and read back through history")
	{
		var err error
		first, err = alice.Send(ctx, bob.UserID(), "hello bob")
		s.Require().NoError(err)

		history, err := bob.History(ctx, alice.UserID())
		s.Require().NoError(err)
		s.Require().Len(history, 1)
		s.Require().Equal("hello bob", history[0].Text)
		s.Require().Equal(alice.UserID(), history[0].SenderID)
	}

	// --- STEP 3: LIVE DELIVERY OVER THE CHANNEL ---
	listenCtx, stopListen := context.WithCancel(ctx)
	listenDone := make(chan struct{})
	s.Step("Step 3: Live delivery while both sides are online")
	{
		go func() {
			defer close(listenDone)
			_ = bob.Listen(listenCtx, nil)
		}()
		s.waitForChannels(ctx, 1)

		_, err := alice.Send(ctx, bob.UserID(), "are you there?")
		s.Require().NoError(err)

		s.Require().Eventually(func() bool {
			return bob.Timeline().Len() == 2
		}, s.Config.DeliveryTimeout, 20*time.Millisecond,
			"Live message never reached the open channel")
	}

	// --- STEP 4: MODERATION ON THE WIRE ---
	s.Step("Step 4: Censored words never reach the receiver")
	{
		_, err := alice.Send(ctx, bob.UserID(), "you sneaky badger")
		s.Require().NoError(err)

		s.Require().Eventually(func() bool {
			return bob.Timeline().Len() == 3
		}, s.Config.DeliveryTimeout, 20*time.Millisecond)

		for _, m := range bob.Timeline().Messages() {
			s.Require().NotContains(strings.ToLower(m.Text), "badger",
				"Censored word leaked through delivery")
		}
	}

	// --- STEP 5: DELETE AUTHORIZATION ---
	s.Step("Step 5: Only the sender can delete a message")
	{
		err := bob.Delete(ctx, first.ID)
		s.Require().Error(err, "Receiver must not be able to delete the sender's message")

		history, err := alice.History(ctx, bob.UserID())
		s.Require().NoError(err)
		s.Require().Len(history, 3, "Rejected delete must not remove anything")

		s.Require().NoError(alice.Delete(ctx, first.ID))

		history, err = bob.History(ctx, alice.UserID())
		s.Require().NoError(err)
		s.Require().Len(history, 2)
		for _, m := range history {
			s.Require().NotEqual(first.ID, m.ID)
		}
	}

	// --- STEP 6: OFFLINE CATCH-UP VIA WATERMARK ---
	s.Step("Step 6: Reconnect replays messages sent while offline")
	{
		stopListen()
		<-listenDone
		s.waitForChannels(ctx, 0)

		missed, err := alice.Send(ctx, bob.UserID(), "missed while offline")
		s.Require().NoError(err)

		reconnectCtx, stopReconnect := context.WithCancel(ctx)
		defer stopReconnect()
		go func() { _ = bob.Listen(reconnectCtx, nil) }()

		s.Require().Eventually(func() bool {
			return lo.ContainsBy(bob.Timeline().Messages(), func(m domain.Message) bool {
				return m.ID == missed.ID
			})
		}, s.Config.DeliveryTimeout, 20*time.Millisecond,
			"Watermark replay never delivered the missed message")
	}
}

// waitForChannels polls the health endpoint until the relay reports the
// expected number of open channels.
func (s *testDirectMessagingSuite) waitForChannels(ctx context.Context, want int64) {
	s.Require().Eventually(func() bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/healthz", nil)
		if err != nil {
			return false
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return false
		}
		defer resp.Body.Close()

		var stats struct {
			ActiveChannels int64 `json:"active_channels"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
			return false
		}
		return stats.ActiveChannels == want
	}, s.Config.DeliveryTimeout, 20*time.Millisecond,
		"Relay never reported %d open channel(s)", want)
}
