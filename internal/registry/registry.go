// Package registry tracks the current addressable token of each push channel.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-push-delivery/pkg/push"
)

type slot struct {
	current  push.Token
	previous push.Token
}

type subscription struct {
	id uint64
	fn func(push.TokenChange)
}

// Registry holds at most one current token per channel. It is owned state,
// construct one per process (or per test).
type Registry struct {
	mu     sync.Mutex
	slots  map[push.Channel]*slot
	subs   map[push.Channel][]subscription
	nextID uint64

	// notifyMu serializes mutations end to end so that subscribers and the
	// sink observe changes in the order they were applied. Always taken
	// before mu, never while holding it.
	notifyMu sync.Mutex

	sink     push.TokenSink
	observer push.Observer
	logger   *slog.Logger
}

// New creates an empty registry. sink and observer may be nil.
func New(sink push.TokenSink, observer push.Observer, logger *slog.Logger) *Registry {
	return &Registry{
		slots:    make(map[push.Channel]*slot),
		subs:     make(map[push.Channel][]subscription),
		sink:     sink,
		observer: observer,
		logger:   logger.With("component", "TokenRegistry"),
	}
}

// Register stores token for channel and reports whether it differs from the
// stored value. Subscribers are notified only when it changed; the backend
// sink receives every successful registration.
func (r *Registry) Register(channel push.Channel, token push.Token) (bool, error) {
	if !channel.Valid() {
		return false, fmt.Errorf("register: %w: %s", push.ErrUnknownChannel, channel)
	}
	if token.IsEmpty() {
		return false, fmt.Errorf("register %s: %w", channel, push.ErrEmptyToken)
	}
	stored := token.Clone()

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	s := r.slotLocked(channel)
	if s.current.Equal(stored) {
		r.mu.Unlock()
		r.logger.Debug("Token unchanged", "channel", channel.String(), "token", stored.Redacted())
		r.submit(channel, stored)
		return false, nil
	}
	change := push.TokenChange{
		Channel:  channel,
		Kind:     push.TokenUpdated,
		Token:    stored.Clone(),
		Previous: s.current.Clone(),
	}
	if !s.current.IsEmpty() {
		s.previous = s.current
	}
	s.current = stored
	subs := r.subscribersLocked(channel)
	r.mu.Unlock()

	r.logger.Info("Token registered", "channel", channel.String(), "token", stored.Redacted())
	r.deliver(subs, change)
	r.submit(channel, stored)
	return true, nil
}

// Invalidate clears the channel's token and raises TokenLost. Invalidating an
// empty slot is not a change and notifies nobody.
func (r *Registry) Invalidate(channel push.Channel, reason string) error {
	if !channel.Valid() {
		return fmt.Errorf("invalidate: %w: %s", push.ErrUnknownChannel, channel)
	}

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	s := r.slotLocked(channel)
	if s.current.IsEmpty() {
		r.mu.Unlock()
		r.logger.Debug("Invalidate ignored, no current token", "channel", channel.String())
		return nil
	}
	change := push.TokenChange{
		Channel:  channel,
		Kind:     push.TokenLost,
		Previous: s.current.Clone(),
		Reason:   reason,
	}
	s.previous = s.current
	s.current = nil
	subs := r.subscribersLocked(channel)
	r.mu.Unlock()

	r.logger.Warn("Token invalidated", "channel", channel.String(), "reason", reason)
	if r.observer != nil {
		r.observer.TokenLost(channel, reason)
	}
	r.deliver(subs, change)
	if r.sink != nil {
		r.sink.RevokeToken(channel, reason)
	}
	return nil
}

// Fail records that the OS refused to issue a token. The current token, if
// any, is kept; the failure goes to the observer and to the sink as "no token
// available".
func (r *Registry) Fail(channel push.Channel, err error) error {
	if !channel.Valid() {
		return fmt.Errorf("fail: %w: %s", push.ErrUnknownChannel, channel)
	}
	wrapped := push.ErrRegistrationFailure
	if err != nil && !errors.Is(err, push.ErrRegistrationFailure) {
		wrapped = fmt.Errorf("%w: %w", push.ErrRegistrationFailure, err)
	}

	r.logger.Error("Token registration failed", "channel", channel.String(), "err", wrapped)
	if r.observer != nil {
		r.observer.RegistrationFailed(channel, wrapped)
	}
	if r.sink != nil {
		r.sink.ReportUnavailable(channel, wrapped)
	}
	return nil
}

// Current returns a copy of the channel's current token.
func (r *Registry) Current(channel push.Channel) (push.Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[channel]
	if !ok || s.current.IsEmpty() {
		return nil, false
	}
	return s.current.Clone(), true
}

// Previous returns a copy of the token that was replaced or invalidated last.
func (r *Registry) Previous(channel push.Channel) (push.Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[channel]
	if !ok || s.previous.IsEmpty() {
		return nil, false
	}
	return s.previous.Clone(), true
}

// Snapshot returns copies of every current token.
func (r *Registry) Snapshot() map[push.Channel]push.Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[push.Channel]push.Token, len(r.slots))
	for ch, s := range r.slots {
		if !s.current.IsEmpty() {
			out[ch] = s.current.Clone()
		}
	}
	return out
}

// Subscribe registers fn for every change on channel. Callbacks run on the
// goroutine that made the change, outside the registry lock, and must not
// call Register or Invalidate themselves.
func (r *Registry) Subscribe(channel push.Channel, fn func(push.TokenChange)) (unsubscribe func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.subs[channel] = append(r.subs[channel], subscription{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			list := r.subs[channel]
			for i, s := range list {
				if s.id == id {
					r.subs[channel] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

func (r *Registry) slotLocked(channel push.Channel) *slot {
	s, ok := r.slots[channel]
	if !ok {
		s = &slot{}
		r.slots[channel] = s
	}
	return s
}

func (r *Registry) subscribersLocked(channel push.Channel) []subscription {
	list := r.subs[channel]
	out := make([]subscription, len(list))
	copy(out, list)
	return out
}

func (r *Registry) deliver(subs []subscription, change push.TokenChange) {
	for _, s := range subs {
		c := change
		c.Token = change.Token.Clone()
		c.Previous = change.Previous.Clone()
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.logger.Error("Token subscriber panicked", "channel", change.Channel.String(), "panic", p)
				}
			}()
			s.fn(c)
		}()
	}
}

func (r *Registry) submit(channel push.Channel, token push.Token) {
	if r.sink != nil {
		r.sink.SubmitToken(channel, token.Clone())
	}
}
