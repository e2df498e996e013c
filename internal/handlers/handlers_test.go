package handlers_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-delivery/internal/appstate"
	"github.com/tinywideclouds/go-push-delivery/internal/classify"
	"github.com/tinywideclouds/go-push-delivery/internal/handlers"
	"github.com/tinywideclouds/go-push-delivery/internal/presentation"
	"github.com/tinywideclouds/go-push-delivery/pkg/push"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockPresenter struct {
	mock.Mock
}

func (m *mockPresenter) Present(ctx context.Context, ev *push.PushEvent, d push.PresentationDecision) error {
	args := m.Called(ctx, ev, d)
	return args.Error(0)
}

type mockForwarder struct {
	mock.Mock
}

func (m *mockForwarder) Forward(ctx context.Context, ev *push.PushEvent, s classify.CallSignal) error {
	args := m.Called(ctx, ev, s)
	return args.Error(0)
}

// outcomeRecorder captures the single outcome a handler reports.
func outcomeRecorder() (func(push.Outcome), <-chan push.Outcome) {
	ch := make(chan push.Outcome, 2)
	return func(o push.Outcome) { ch <- o }, ch
}

func waitOutcome(t *testing.T, ch <-chan push.Outcome) push.Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("handler never completed")
		return push.OutcomeNoData
	}
}

func TestAlertHandler(t *testing.T) {
	logger := newTestLogger()
	ev := &push.PushEvent{
		ID:       "a-1",
		Channel:  push.ChannelUserNotification,
		Category: push.CategoryAlertable,
		Payload:  push.Payload{"aps": map[string]any{"alert": "Hi"}},
	}

	t.Run("Foreground decision reaches presenter", func(t *testing.T) {
		tracker := appstate.NewTracker(logger)
		tracker.AppStateChanged(push.AppStateForeground)
		presenter := new(mockPresenter)
		presenter.On("Present", mock.Anything, ev, push.PresentationDecision{ShowAlert: true, PlaySound: true, UpdateBadge: true}).Return(nil)

		h := handlers.NewAlertHandler(presentation.NewPolicy(""), tracker, presenter, logger)
		done, outcomes := outcomeRecorder()
		h.HandlePush(context.Background(), ev, done)

		assert.Equal(t, push.OutcomeNewData, waitOutcome(t, outcomes))
		presenter.AssertExpectations(t)
	})

	t.Run("Presenter error fails the event", func(t *testing.T) {
		presenter := new(mockPresenter)
		presenter.On("Present", mock.Anything, ev, push.PresentationDecision{}).Return(errors.New("ui gone"))

		h := handlers.NewAlertHandler(presentation.NewPolicy(""), nil, presenter, logger)
		done, outcomes := outcomeRecorder()
		h.HandlePush(context.Background(), ev, done)

		assert.Equal(t, push.OutcomeFailed, waitOutcome(t, outcomes))
	})

	t.Run("Log presenter", func(t *testing.T) {
		h := handlers.NewAlertHandler(presentation.NewPolicy(""), nil, handlers.NewLogPresenter(logger), logger)
		done, outcomes := outcomeRecorder()
		h.HandlePush(context.Background(), ev, done)
		assert.Equal(t, push.OutcomeNewData, waitOutcome(t, outcomes))
	})
}

func TestWakeHandler(t *testing.T) {
	logger := newTestLogger()
	ev := &push.PushEvent{
		ID:       "w-1",
		Channel:  push.ChannelSilentWake,
		Category: push.CategorySilentContent,
		Payload:  push.Payload{"type": "video_call_invite", "callId": "c-42", "callerName": "Asha"},
		Deadline: time.Now().Add(5 * time.Second),
	}
	wantSignal := classify.CallSignal{Type: "video_call_invite", CallID: "c-42", CallerName: "Asha"}

	t.Run("Forwarded", func(t *testing.T) {
		fwd := new(mockForwarder)
		fwd.On("Forward", mock.MatchedBy(func(ctx context.Context) bool {
			_, hasDeadline := ctx.Deadline()
			return hasDeadline
		}), ev, wantSignal).Return(nil)

		h := handlers.NewWakeHandler(fwd, logger)
		done, outcomes := outcomeRecorder()
		h.HandlePush(context.Background(), ev, done)

		assert.Equal(t, push.OutcomeNewData, waitOutcome(t, outcomes))
		fwd.AssertExpectations(t)
	})

	t.Run("Forward error", func(t *testing.T) {
		fwd := new(mockForwarder)
		fwd.On("Forward", mock.Anything, ev, wantSignal).Return(errors.New("topic not found"))

		h := handlers.NewWakeHandler(fwd, logger)
		done, outcomes := outcomeRecorder()
		h.HandlePush(context.Background(), ev, done)

		assert.Equal(t, push.OutcomeFailed, waitOutcome(t, outcomes))
	})

	t.Run("Does not block the caller", func(t *testing.T) {
		release := make(chan time.Time)
		fwd := new(mockForwarder)
		fwd.On("Forward", mock.Anything, ev, wantSignal).WaitUntil(release).Return(nil)

		h := handlers.NewWakeHandler(fwd, logger)
		done, outcomes := outcomeRecorder()
		returned := make(chan struct{})
		go func() {
			h.HandlePush(context.Background(), ev, done)
			close(returned)
		}()

		select {
		case <-returned:
		case <-time.After(time.Second):
			t.Fatal("HandlePush blocked on the forwarder")
		}
		close(release)
		require.Equal(t, push.OutcomeNewData, waitOutcome(t, outcomes))
	})

	t.Run("Log forwarder", func(t *testing.T) {
		h := handlers.NewWakeHandler(handlers.NewLogForwarder(logger), logger)
		done, outcomes := outcomeRecorder()
		h.HandlePush(context.Background(), ev, done)
		assert.Equal(t, push.OutcomeNewData, waitOutcome(t, outcomes))
	})
}
