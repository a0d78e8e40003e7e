package workers

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/mocks"
)

func createdEvent() event.MessageCreated {
	return event.MessageCreated{
		Message: domain.Message{
			ID:         uuid.New(),
			SenderID:   uuid.NewString(),
			ReceiverID: uuid.NewString(),
			Text:       "hello",
			CreatedAt:  time.Now(),
		},
	}
}

func TestEventFanout_Created_Goes_To_Dispatcher_And_Sinks(t *testing.T) {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDispatcher := mocks.NewMockIDispatcher(ctrl)
	mockSink := mocks.NewMockEventSink(ctrl)
	mockSink1 := mocks.NewMockEventSink(ctrl)

	fanout := NewEventFanout(log, make(chan event.DomainEvent),
		mockDispatcher, 1*time.Second, mockSink, mockSink1)

	evt := createdEvent()

	// Given a created message
	mockDispatcher.EXPECT().Dispatch(gomock.Any(), evt).Times(1)
	mockSink.EXPECT().Consume(gomock.Any(), evt).Return(nil).Times(1)
	mockSink1.EXPECT().Consume(gomock.Any(), evt).Return(nil).Times(1)

	// When fanned out
	fanout.Fanout(context.Background(), evt)
}

func TestEventFanout_Deletion_Goes_To_Dispatcher_And_Sinks(t *testing.T) {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDispatcher := mocks.NewMockIDispatcher(ctrl)
	mockSink := mocks.NewMockEventSink(ctrl)

	fanout := NewEventFanout(log, make(chan event.DomainEvent),
		mockDispatcher, 1*time.Second, mockSink)

	evt := event.MessageDeleted{
		MessageID: uuid.New(),
		Key:       domain.NewConversationKey(uuid.NewString(), uuid.NewString()),
		At:        time.Now(),
	}

	// Given a deletion: both participants' channels and the sinks see it
	mockDispatcher.EXPECT().Dispatch(gomock.Any(), evt).Times(1)
	mockSink.EXPECT().Consume(gomock.Any(), evt).Return(nil).Times(1)

	// When fanned out
	fanout.Fanout(context.Background(), evt)
}

func TestEventFanout_Stuck_Sink_Is_Timed_Out(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDispatcher := mocks.NewMockIDispatcher(ctrl)
	stuck := mocks.NewMockEventSink(ctrl)
	next := mocks.NewMockEventSink(ctrl)

	sinkTimeout := 20 * time.Millisecond
	fanout := NewEventFanout(log, make(chan event.DomainEvent),
		mockDispatcher, sinkTimeout, stuck, next)

	evt := createdEvent()

	mockDispatcher.EXPECT().Dispatch(gomock.Any(), evt).Times(1)

	// Given the first sink never returns on its own
	stuck.EXPECT().Consume(gomock.Any(), evt).
		DoAndReturn(func(ctx context.Context, e event.DomainEvent) error {
			<-ctx.Done() // Waiting for timeout to trigger cancellation
			return ctx.Err()
		}).Times(1)
	// And the next sink is still reached afterwards
	next.EXPECT().Consume(gomock.Any(), evt).Return(nil).Times(1)

	// When fanned out
	start := time.Now()
	fanout.Fanout(context.Background(), evt)

	// Then the stuck sink only cost the bounded timeout
	req.Less(time.Since(start), 500*time.Millisecond)
}

func TestEventFanout_Run_Consumes_Until_Cancelled(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDispatcher := mocks.NewMockIDispatcher(ctrl)
	events := make(chan event.DomainEvent, 2)
	fanout := NewEventFanout(log, events, mockDispatcher, 1*time.Second)

	first := createdEvent()
	second := createdEvent()

	delivered := make(chan struct{})
	gomock.InOrder(
		mockDispatcher.EXPECT().Dispatch(gomock.Any(), first).Times(1),
		mockDispatcher.EXPECT().Dispatch(gomock.Any(), second).
			Do(func(context.Context, event.DomainEvent) { close(delivered) }).Times(1),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		req.NoError(fanout.Run(ctx))
		close(done)
	}()

	// When two events arrive on the stream
	events <- first
	events <- second

	// Then they are dispatched in order
	select {
	case <-delivered:
	case <-time.After(1 * time.Second):
		req.Fail("Events were not dispatched in time")
	}

	// And cancellation stops the worker cleanly
	cancel()
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		req.Fail("Worker did not stop on cancellation")
	}
}
