package entrypoint_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-delivery/internal/appstate"
	"github.com/tinywideclouds/go-push-delivery/internal/classify"
	"github.com/tinywideclouds/go-push-delivery/internal/entrypoint"
	"github.com/tinywideclouds/go-push-delivery/internal/presentation"
	"github.com/tinywideclouds/go-push-delivery/internal/registry"
	"github.com/tinywideclouds/go-push-delivery/internal/router"
	"github.com/tinywideclouds/go-push-delivery/pkg/push"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingObserver struct {
	push.NopObserver
	malformed  atomic.Int32
	registered atomic.Int32
	lost       atomic.Int32
	failed     atomic.Int32

	mu        sync.Mutex
	completed []push.Outcome
}

func (o *countingObserver) MalformedPayload(*push.PushEvent, error) { o.malformed.Add(1) }
func (o *countingObserver) TokenLost(push.Channel, string) { o.lost.Add(1) }
func (o *countingObserver) RegistrationFailed(push.Channel, error) { o.failed.Add(1) }
func (o *countingObserver) TokenRegistered(push.Channel, bool) { o.registered.Add(1) }
func (o *countingObserver) Completed(_ *push.PushEvent, outcome push.Outcome, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed = append(o.completed, outcome)
}

func (o *countingObserver) outcomes() []push.Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]push.Outcome(nil), o.completed...)
}

// rejectingRouter refuses every dispatch.
type rejectingRouter struct{}

func (rejectingRouter) Dispatch(context.Context, *push.PushEvent) error {
	return push.ErrAlreadyDispatched
}

type harness struct {
	adapter  *entrypoint.Adapter
	registry *registry.Registry
	router   *router.Router
	tracker  *appstate.Tracker
	observer *countingObserver
}

func newHarness() *harness {
	logger := newTestLogger()
	obs := &countingObserver{}
	reg := registry.New(nil, obs, logger)
	rt := router.New(router.Config{}, obs, logger)
	tracker := appstate.NewTracker(logger)
	adapter := entrypoint.New(entrypoint.Dependencies{
		Registry:      reg,
		Classifier:    classify.New(classify.Config{}),
		Router:        rt,
		Policy:        presentation.NewPolicy(""),
		State:         tracker,
		StateObserver: tracker,
		Observer:      obs,
	}, logger)
	return &harness{adapter: adapter, registry: reg, router: rt, tracker: tracker, observer: obs}
}

func TestAdapter_EmptyWakePayloadIsDispatched(t *testing.T) {
	h := newHarness()
	var handled atomic.Int32
	h.router.Handle(push.ChannelSilentWake, push.CategorySilentContent, push.HandlerFunc(func(_ context.Context, ev *push.PushEvent, done func(push.Outcome)) {
		handled.Add(1)
		done(push.OutcomeNewData)
	}))

	var calls atomic.Int32
	var got push.Outcome
	h.adapter.DidReceiveIncomingWake(context.Background(), push.Payload{}, func(o push.Outcome) {
		calls.Add(1)
		got = o
	})

	assert.EqualValues(t, 1, handled.Load())
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, push.OutcomeNewData, got)
}

func TestAdapter_MalformedPayloadIsAcknowledged(t *testing.T) {
	h := newHarness()
	var handled atomic.Int32
	for _, cat := range []push.Category{push.CategoryUnknown, push.CategoryAlertable, push.CategorySilentContent} {
		h.router.Handle(push.ChannelUserNotification, cat, push.HandlerFunc(func(_ context.Context, _ *push.PushEvent, done func(push.Outcome)) {
			handled.Add(1)
			done(push.OutcomeNewData)
		}))
	}

	var calls atomic.Int32
	var got push.Outcome
	h.adapter.DidReceiveRemoteNotification(context.Background(), push.Payload{"bad": 1.0}, func(o push.Outcome) {
		calls.Add(1)
		got = o
	})

	assert.Zero(t, handled.Load(), "no handler may run for a malformed payload")
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, push.OutcomeNoData, got)
	assert.EqualValues(t, 1, h.observer.malformed.Load())
}

func TestAdapter_IdenticalWakeTokenNotifiesOnce(t *testing.T) {
	h := newHarness()
	var notified atomic.Int32
	h.registry.Subscribe(push.ChannelSilentWake, func(push.TokenChange) { notified.Add(1) })

	h.adapter.DidUpdateWakeToken(push.Token{0xde, 0xad})
	h.adapter.DidUpdateWakeToken(push.Token{0xde, 0xad})

	assert.EqualValues(t, 1, notified.Load())
	assert.EqualValues(t, 2, h.observer.registered.Load())
}

func TestAdapter_WillPresent(t *testing.T) {
	h := newHarness()
	payload := push.Payload{"aps": map[string]any{"alert": "Hi"}}

	assert.True(t, h.adapter.WillPresentNotification(payload).IsNoop(), "background presents nothing")

	h.adapter.AppStateChanged(push.AppStateForeground)
	assert.Equal(t, push.PresentationDecision{ShowAlert: true, PlaySound: true, UpdateBadge: true}, h.adapter.WillPresentNotification(payload))

	assert.True(t, h.adapter.WillPresentNotification(push.Payload{"bad": 1.0}).IsNoop())
}

func TestAdapter_TokenLifecycle(t *testing.T) {
	h := newHarness()

	h.adapter.DidRegisterForRemoteNotifications(push.Token{1, 2})
	cur, ok := h.registry.Current(push.ChannelUserNotification)
	require.True(t, ok)
	assert.Equal(t, push.Token{1, 2}, cur)

	h.adapter.DidFailToRegisterForRemoteNotifications(errors.New("denied"))
	cur, ok = h.registry.Current(push.ChannelUserNotification)
	require.True(t, ok, "failure keeps the previous token")
	assert.Equal(t, push.Token{1, 2}, cur)
	assert.EqualValues(t, 1, h.observer.failed.Load())

	h.adapter.DidRegisterForRemoteNotifications(nil)
	assert.EqualValues(t, 2, h.observer.failed.Load(), "an empty token is a registration failure")

	h.adapter.DidUpdateWakeToken(push.Token{9})
	h.adapter.DidFailToUpdateWakeToken(errors.New("voip unavailable"))
	h.adapter.DidInvalidateWakeToken("push credentials invalidated")
	_, ok = h.registry.Current(push.ChannelSilentWake)
	assert.False(t, ok)
	assert.EqualValues(t, 1, h.observer.lost.Load())

	assert.ErrorIs(t, h.adapter.RegisterToken(push.ChannelUnknown, push.Token{1}), push.ErrUnknownChannel)
	require.NoError(t, h.adapter.RegisterToken(push.ChannelSilentWake, push.Token{3}))
	require.NoError(t, h.adapter.InvalidateToken(push.ChannelSilentWake, "logout"))
	assert.EqualValues(t, 2, h.observer.lost.Load())
}

func TestAdapter_DeliverWaitsOnHandle(t *testing.T) {
	h := newHarness()
	h.router.Handle(push.ChannelSilentWake, push.CategorySilentContent, push.HandlerFunc(func(_ context.Context, ev *push.PushEvent, done func(push.Outcome)) {
		go func() {
			time.Sleep(5 * time.Millisecond)
			done(push.OutcomeNewData)
		}()
	}))

	c := h.adapter.Deliver(context.Background(), entrypoint.Delivery{ID: "m-1", Channel: push.ChannelSilentWake})
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("completion never fired")
	}
	assert.Equal(t, push.OutcomeNewData, c.Outcome())

	unknown := h.adapter.Deliver(context.Background(), entrypoint.Delivery{Channel: push.ChannelUnknown})
	assert.Equal(t, push.OutcomeNoData, unknown.Outcome())
}

func TestAdapter_ChannelsDeliverConcurrently(t *testing.T) {
	h := newHarness()
	for _, route := range []router.Route{
		{Channel: push.ChannelSilentWake, Category: push.CategorySilentContent},
		{Channel: push.ChannelUserNotification, Category: push.CategoryAlertable},
	} {
		h.router.Handle(route.Channel, route.Category, push.HandlerFunc(func(_ context.Context, _ *push.PushEvent, done func(push.Outcome)) {
			done(push.OutcomeNewData)
		}))
	}

	var fired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.adapter.DidReceiveIncomingWake(context.Background(), push.Payload{}, func(push.Outcome) { fired.Add(1) })
		}()
		go func() {
			defer wg.Done()
			h.adapter.DidReceiveRemoteNotification(context.Background(), push.Payload{"aps": map[string]any{"alert": "x"}}, func(push.Outcome) { fired.Add(1) })
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 100, fired.Load())
}

func TestAdapter_RejectedDispatchIsReported(t *testing.T) {
	logger := newTestLogger()
	obs := &countingObserver{}
	adapter := entrypoint.New(entrypoint.Dependencies{
		Registry:   registry.New(nil, obs, logger),
		Classifier: classify.New(classify.Config{}),
		Router:     rejectingRouter{},
		Policy:     presentation.NewPolicy(""),
		Observer:   obs,
	}, logger)

	completion := adapter.Deliver(context.Background(), entrypoint.Delivery{
		ID:      "evt-rejected",
		Channel: push.ChannelSilentWake,
		Payload: push.Payload{},
	})

	assert.Equal(t, push.OutcomeFailed, completion.Outcome())
	assert.Equal(t, []push.Outcome{push.OutcomeFailed}, obs.outcomes())
}
