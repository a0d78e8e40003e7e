package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"chat-relay/contract"
	"chat-relay/domain/event"
	"chat-relay/observability"
)

// Dispatcher pushes a persisted message to every live channel of both
// participants, so the sender's other open devices converge without a
// reload. Delivery is fire-and-forget relative to the write path: a
// dead or slow channel is logged and skipped, never retried and never
// surfaced to the writer. Catch-up after a miss is the sync protocol's
// job.
type Dispatcher struct {
	registry    contract.IRegistry
	log         *slog.Logger
	sendTimeout time.Duration
	monitoring  *observability.MonitoringManager
}

func NewDispatcher(registry contract.IRegistry, log *slog.Logger,
	sendTimeout time.Duration, monitoring *observability.MonitoringManager) *Dispatcher {
	return &Dispatcher{
		registry:    registry,
		log:         log,
		sendTimeout: sendTimeout,
		monitoring:  monitoring,
	}
}

// Dispatch fans the event out to the channels of both conversation
// participants. Called from the single fan-out worker goroutine, which
// keeps pushes for any one channel in creation order.
func (d *Dispatcher) Dispatch(ctx context.Context, e event.DomainEvent) {
	a, b := e.Conversation().Participants()
	recipients := lo.Uniq([]string{a, b})

	for _, userID := range recipients {
		for _, ch := range d.registry.ChannelsFor(userID) {
			d.push(ctx, ch, e)
		}
	}
}

func (d *Dispatcher) push(ctx context.Context, ch contract.Channel, e event.DomainEvent) {
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	if err := ch.Send(sendCtx, e); err != nil {
		// Contained on purpose, see the propagation policy above.
		d.monitoring.IncrDeliveryFailures()
		d.log.Warn("Dropping event for unreachable channel",
			"user_id", ch.UserID(),
			"event", e.Name(),
			"error", err)
		return
	}
	d.monitoring.IncrEventsDelivered()
}
