// Package router dispatches classified push events to registered handlers
// and enforces the per-channel processing deadline.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinywideclouds/go-push-delivery/pkg/push"
)

// Default processing windows granted by the delivering system.
const (
	DefaultUserNotificationDeadline = 30 * time.Second
	DefaultSilentWakeDeadline       = 5 * time.Second
)

// Route is the handler lookup key.
type Route struct {
	Channel  push.Channel
	Category push.Category
}

func (r Route) String() string {
	return r.Channel.String() + "/" + r.Category.String()
}

// Config holds the per-channel deadlines. Missing entries use the defaults.
type Config struct {
	Deadlines map[push.Channel]time.Duration
}

// Router is safe for concurrent use. Handlers may be swapped while events
// are in flight; an in-flight event keeps the handler it was dispatched to.
type Router struct {
	mu       sync.Mutex
	handlers map[Route]push.Handler

	deadlines map[push.Channel]time.Duration
	observer  push.Observer
	logger    *slog.Logger
}

func New(cfg Config, observer push.Observer, logger *slog.Logger) *Router {
	deadlines := map[push.Channel]time.Duration{
		push.ChannelUserNotification: DefaultUserNotificationDeadline,
		push.ChannelSilentWake:       DefaultSilentWakeDeadline,
	}
	for ch, d := range cfg.Deadlines {
		if d > 0 {
			deadlines[ch] = d
		}
	}
	if observer == nil {
		observer = push.NopObserver{}
	}
	return &Router{
		handlers:  make(map[Route]push.Handler),
		deadlines: deadlines,
		observer:  observer,
		logger:    logger.With("component", "DispatchRouter"),
	}
}

// Handle registers h for the route, replacing any previous handler.
func (r *Router) Handle(channel push.Channel, category push.Category, h push.Handler) {
	route := Route{Channel: channel, Category: category}
	r.mu.Lock()
	_, replaced := r.handlers[route]
	r.handlers[route] = h
	r.mu.Unlock()
	r.logger.Debug("Handler registered", "route", route.String(), "replaced", replaced)
}

// Remove unregisters the handler for the route.
func (r *Router) Remove(channel push.Channel, category push.Category) {
	r.mu.Lock()
	delete(r.handlers, Route{Channel: channel, Category: category})
	r.mu.Unlock()
}

// Deadline returns the processing window for channel.
func (r *Router) Deadline(channel push.Channel) time.Duration {
	if d, ok := r.deadlines[channel]; ok {
		return d
	}
	return DefaultSilentWakeDeadline
}

// Dispatch hands event to its handler. The event's completion fires exactly
// once: with the handler's outcome, NoData when nothing is registered, Failed
// when the handler panics, or Timeout when the deadline passes first.
//
// The handler runs on the calling goroutine and receives ctx unchanged; the
// deadline does not cancel it. Dispatch returns an error only when the event
// cannot be dispatched at all.
func (r *Router) Dispatch(ctx context.Context, event *push.PushEvent) error {
	if event == nil || event.Completion == nil {
		return push.ErrNoCompletion
	}
	// Claim first so a completion racing this check cannot let a second
	// dispatch through.
	if !event.Completion.MarkDispatched() || event.Completion.Fired() {
		return fmt.Errorf("dispatch %s: %w", event.ID, push.ErrAlreadyDispatched)
	}

	route := Route{Channel: event.Channel, Category: event.Category}
	r.mu.Lock()
	h, ok := r.handlers[route]
	r.mu.Unlock()

	start := time.Now()
	if !ok {
		r.logger.Warn("No handler for route", "event_id", event.ID, "route", route.String(), "err", push.ErrNoHandler)
		r.observer.NoHandler(event)
		r.finish(event, push.OutcomeNoData, start)
		return nil
	}

	window := r.Deadline(event.Channel)
	event.Deadline = start.Add(window)

	timer := time.AfterFunc(window, func() {
		if r.claim(event, push.OutcomeTimeout) {
			r.logger.Warn("Handler missed deadline", "event_id", event.ID, "route", route.String(), "deadline", window, "err", push.ErrTimeout)
			r.observer.Timeout(event, window)
			r.observer.Completed(event, push.OutcomeTimeout, time.Since(start))
		}
	})

	done := func(outcome push.Outcome) {
		timer.Stop()
		if !r.finish(event, outcome, start) {
			r.logger.Debug("Ignoring late completion", "event_id", event.ID, "outcome", outcome.String())
			r.observer.StrayCompletion(event, outcome)
		}
	}

	r.invoke(ctx, h, event, done)
	return nil
}

func (r *Router) invoke(ctx context.Context, h push.Handler, event *push.PushEvent, done func(push.Outcome)) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Handler panicked", "event_id", event.ID, "channel", event.Channel.String(), "panic", p)
			done(push.OutcomeFailed)
		}
	}()
	h.HandlePush(ctx, event, done)
}

func (r *Router) claim(event *push.PushEvent, outcome push.Outcome) bool {
	return event.Completion.Complete(outcome)
}

func (r *Router) finish(event *push.PushEvent, outcome push.Outcome, start time.Time) bool {
	if !r.claim(event, outcome) {
		return false
	}
	r.observer.Completed(event, outcome, time.Since(start))
	return true
}
