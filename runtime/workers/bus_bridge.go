package workers

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"

	"chat-relay/contract"
	"chat-relay/domain/event"
	"chat-relay/pubsub"
)

const busBufferSize = 256

// BusBridge re-dispatches messages created on other instances to the
// channels registered locally. Events published by this instance are
// skipped, the local fan-out already delivered them.
type BusBridge struct {
	log        *slog.Logger
	bus        *pubsub.Bus
	dispatcher contract.IDispatcher
}

func NewBusBridge(log *slog.Logger, bus *pubsub.Bus, dispatcher contract.IDispatcher) *BusBridge {
	return &BusBridge{log: log, bus: bus, dispatcher: dispatcher}
}

func (b *BusBridge) Run(ctx context.Context) error {
	msgs := make(chan *nats.Msg, busBufferSize)
	sub, err := b.bus.SubscribeChan(msgs)
	if err != nil {
		return err
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			b.log.Warn("failed to unsubscribe from bus", slog.String("error", err.Error()))
		}
	}()

	b.log.Info("bus bridge started", slog.String("origin", b.bus.Origin()))

	for {
		select {
		case <-ctx.Done():
			b.log.Info("bus bridge stopped")
			return nil
		case msg := <-msgs:
			env, err := pubsub.Decode(msg)
			if err != nil {
				b.log.Warn("failed to decode bus envelope",
					slog.String("subject", msg.Subject),
					slog.String("error", err.Error()))
				continue
			}
			if env.Origin == b.bus.Origin() {
				continue
			}
			b.dispatcher.Dispatch(ctx, event.MessageCreated{Message: env.Message, Origin: env.Origin})
		}
	}
}
