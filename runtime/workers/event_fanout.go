package workers

import (
	"context"
	"log/slog"
	"time"

	"chat-relay/contract"
	"chat-relay/domain/event"
)

// EventFanout is the single consumer of the ordered event stream
// produced by the write path. Consuming from one goroutine is what
// preserves per-channel delivery order: events reach the dispatcher in
// creation order, and each channel drains its own queue FIFO.
//
// Besides live delivery, every event is offered to the registered
// sinks (search index, pub/sub bridge). Sink failures are contained
// here with a bounded timeout; a stuck sink must not stall delivery.
type EventFanout struct {
	log         *slog.Logger
	events      chan event.DomainEvent
	dispatcher  contract.IDispatcher
	sinks       []contract.EventSink
	sinkTimeout time.Duration
}

func NewEventFanout(log *slog.Logger, events chan event.DomainEvent,
	dispatcher contract.IDispatcher, sinkTimeout time.Duration,
	sinks ...contract.EventSink) *EventFanout {
	return &EventFanout{
		log:         log,
		events:      events,
		dispatcher:  dispatcher,
		sinks:       sinks,
		sinkTimeout: sinkTimeout,
	}
}

func (w *EventFanout) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping event fanout")
			return nil
		case evt := <-w.events:
			w.Fanout(ctx, evt)
		}
	}
}

// Fanout routes one event: creations and deletions go to the
// live-delivery dispatcher, everything goes to the sinks. History
// batches are replayed directly on their own channel and never pass
// through here.
func (w *EventFanout) Fanout(ctx context.Context, evt event.DomainEvent) {
	switch evt.(type) {
	case event.MessageCreated, event.MessageDeleted:
		w.dispatcher.Dispatch(ctx, evt)
	}

	for _, sink := range w.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
		if err := sink.Consume(sinkCtx, evt); err != nil {
			w.log.Error("Sink failed to consume event",
				"event", evt.Name(), "error", err)
		}
		cancel()
	}
}
