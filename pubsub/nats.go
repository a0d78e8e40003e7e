// Package pubsub bridges the delivery fan-out across server instances
// through NATS. Each instance publishes its locally created messages on
// a per-conversation subject and re-dispatches what the other instances
// publish. A single-instance deployment runs without it.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"chat-relay/domain"
	"chat-relay/domain/event"
)

const subjectPrefix = "dm.conv"

// Envelope is the wire format exchanged between instances. Origin lets
// a subscriber skip the events it published itself.
type Envelope struct {
	Origin  string         `json:"origin"`
	Message domain.Message `json:"message"`
}

type Bus struct {
	nc     *nats.Conn
	log    *slog.Logger
	origin string
}

// Connect dials the NATS server. Origin is this instance's identity,
// stamped on every published envelope.
func Connect(url, origin string, log *slog.Logger) (*Bus, error) {
	nc, err := nats.Connect(url, nats.Name("chat-relay-"+origin))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Bus{nc: nc, log: log, origin: origin}, nil
}

func (b *Bus) Origin() string { return b.origin }

func (b *Bus) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
}

// Consume implements contract.EventSink on the fan-out path: locally
// created messages are published for the other instances. Relayed
// events (foreign origin) are not republished, that would loop.
func (b *Bus) Consume(_ context.Context, e event.DomainEvent) error {
	created, ok := e.(event.MessageCreated)
	if !ok || created.Origin != b.origin {
		return nil
	}

	data, err := json.Marshal(Envelope{Origin: b.origin, Message: created.Message})
	if err != nil {
		return err
	}
	return b.nc.Publish(subject(created.Message.Conversation()), data)
}

// SubscribeChan subscribes to every conversation subject, delivering
// raw messages into the given channel. The caller owns the channel and
// the subscription lifecycle.
func (b *Bus) SubscribeChan(ch chan *nats.Msg) (*nats.Subscription, error) {
	return b.nc.ChanSubscribe(subjectPrefix+".>", ch)
}

// Decode unmarshals a raw NATS message back into an envelope.
func Decode(msg *nats.Msg) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(msg.Data, &env)
	return env, err
}

func subject(key domain.ConversationKey) string {
	return subjectPrefix + "." + key.String()
}
