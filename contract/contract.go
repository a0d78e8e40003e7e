//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"chat-relay/domain/event"
)

// Channel is a live delivery connection owned by exactly one
// authenticated user for its lifetime. Implementations adapt a concrete
// transport (WebSocket, long-poll waiter) behind this interface so the
// registry and dispatcher stay transport-agnostic.
//
// Close must be idempotent: the first call tears the channel down, any
// later call is a no-op. Send on a closed channel returns
// errors.ErrChannelClosed.
type Channel interface {
	UserID() string
	Send(ctx context.Context, e event.DomainEvent) error
	Close() error
	// Closed is closed when the channel has been torn down, releasing
	// any wait tied to it.
	Closed() <-chan struct{}
}

// IRegistry maps a user identity to the set of channels that user has
// open. Implementations must be safe for concurrent use: connect and
// disconnect storms all land here.
type IRegistry interface {
	Register(userID string, ch Channel)
	Unregister(userID string, ch Channel)
	ChannelsFor(userID string) []Channel
}

// IDispatcher fans a conversation event out to the live channels of
// both participants. Best effort: a dead channel never blocks delivery
// to the others and never fails the write path.
type IDispatcher interface {
	Dispatch(ctx context.Context, e event.DomainEvent)
}

// EventSink consumes domain events on the fan-out path (search index,
// telemetry). Errors are contained by the caller.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// Worker doesn't protect itself.
// Can be silly, focused.
type Worker interface {
	Run(ctx context.Context) error
}

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes, avoiding manual
// naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
