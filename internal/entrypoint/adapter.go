// Package entrypoint is the single object that receives every push-related
// callback from the delivering system and forwards it to the core.
package entrypoint

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-push-delivery/pkg/push"
)

// Registry is the token-lifecycle half of the core.
type Registry interface {
	Register(channel push.Channel, token push.Token) (bool, error)
	Invalidate(channel push.Channel, reason string) error
	Fail(channel push.Channel, err error) error
}

// Classifier decides the category of a payload.
type Classifier interface {
	Classify(channel push.Channel, payload push.Payload) (push.Category, error)
}

// Dispatcher routes a classified event to its handler.
type Dispatcher interface {
	Dispatch(ctx context.Context, event *push.PushEvent) error
}

// Policy decides foreground presentation.
type Policy interface {
	Decide(event *push.PushEvent, state push.AppState) push.PresentationDecision
}

// Dependencies wires the adapter. StateObserver may be nil when State does
// not accept updates; Observer may be nil.
type Dependencies struct {
	Registry      Registry
	Classifier    Classifier
	Router        Dispatcher
	Policy        Policy
	State         push.StateSource
	StateObserver push.AppStateObserver
	Observer      push.Observer
}

// Delivery is one payload handed in by a transport. ID may be empty, in which
// case one is generated. Completion may be nil for callers that wait on the
// returned handle instead.
type Delivery struct {
	ID         string
	Channel    push.Channel
	Payload    push.Payload
	Completion push.CompletionFunc
}

type deliveryCounter interface {
	Delivered(channel push.Channel)
}

type registrationCounter interface {
	TokenRegistered(channel push.Channel, changed bool)
}

// Adapter implements NotificationDelegate, WakeDelegate and AppStateObserver.
// It holds no logic of its own beyond choosing the channel.
type Adapter struct {
	deps   Dependencies
	alerts port
	wakes  port
	logger *slog.Logger
}

var (
	_ push.NotificationDelegate = (*Adapter)(nil)
	_ push.WakeDelegate         = (*Adapter)(nil)
	_ push.AppStateObserver     = (*Adapter)(nil)
)

func New(deps Dependencies, logger *slog.Logger) *Adapter {
	if deps.Observer == nil {
		deps.Observer = push.NopObserver{}
	}
	a := &Adapter{deps: deps, logger: logger.With("component", "EntryPointAdapter")}
	a.alerts = port{channel: push.ChannelUserNotification, a: a}
	a.wakes = port{channel: push.ChannelSilentWake, a: a}
	return a
}

// port binds one channel to the shared delivery path.
type port struct {
	channel push.Channel
	a       *Adapter
}

func (p port) tokenIssued(token push.Token) {
	changed, err := p.a.deps.Registry.Register(p.channel, token)
	if err != nil {
		_ = p.a.deps.Registry.Fail(p.channel, err)
		return
	}
	if c, ok := p.a.deps.Observer.(registrationCounter); ok {
		c.TokenRegistered(p.channel, changed)
	}
}

func (p port) tokenFailed(err error) error {
	return p.a.deps.Registry.Fail(p.channel, err)
}

func (p port) receive(ctx context.Context, payload push.Payload, completion push.CompletionFunc) *push.Completion {
	return p.a.Deliver(ctx, Delivery{Channel: p.channel, Payload: payload, Completion: completion})
}

func (a *Adapter) DidRegisterForRemoteNotifications(token push.Token) {
	a.alerts.tokenIssued(token)
}

func (a *Adapter) DidFailToRegisterForRemoteNotifications(err error) {
	_ = a.alerts.tokenFailed(err)
}

func (a *Adapter) DidReceiveRemoteNotification(ctx context.Context, payload push.Payload, completion push.CompletionFunc) {
	a.alerts.receive(ctx, payload, completion)
}

// WillPresentNotification answers the foreground presentation query. A
// payload that does not classify is not presented.
func (a *Adapter) WillPresentNotification(payload push.Payload) push.PresentationDecision {
	category, err := a.deps.Classifier.Classify(push.ChannelUserNotification, payload)
	if err != nil {
		a.logger.Debug("Not presenting unclassifiable payload", "err", err)
		return push.PresentationDecision{}
	}
	ev := &push.PushEvent{Channel: push.ChannelUserNotification, Category: category, Payload: payload}
	return a.deps.Policy.Decide(ev, a.currentState())
}

func (a *Adapter) DidUpdateWakeToken(token push.Token) {
	a.wakes.tokenIssued(token)
}

func (a *Adapter) DidFailToUpdateWakeToken(err error) {
	_ = a.wakes.tokenFailed(err)
}

func (a *Adapter) DidInvalidateWakeToken(reason string) {
	if err := a.deps.Registry.Invalidate(push.ChannelSilentWake, reason); err != nil {
		a.logger.Error("Failed to invalidate wake token", "err", err)
	}
}

func (a *Adapter) DidReceiveIncomingWake(ctx context.Context, payload push.Payload, completion push.CompletionFunc) {
	a.wakes.receive(ctx, payload, completion)
}

func (a *Adapter) AppStateChanged(state push.AppState) {
	if a.deps.StateObserver != nil {
		a.deps.StateObserver.AppStateChanged(state)
	}
}

// InvalidateToken clears the token of any channel. Only the wake channel has
// an OS callback for this; the HTTP surface exposes it for both.
func (a *Adapter) InvalidateToken(channel push.Channel, reason string) error {
	return a.deps.Registry.Invalidate(channel, reason)
}

// RegisterToken and FailToken dispatch to the port for channel.
func (a *Adapter) RegisterToken(channel push.Channel, token push.Token) error {
	p, err := a.port(channel)
	if err != nil {
		return err
	}
	p.tokenIssued(token)
	return nil
}

func (a *Adapter) FailToken(channel push.Channel, cause error) error {
	p, err := a.port(channel)
	if err != nil {
		return err
	}
	return p.tokenFailed(cause)
}

func (a *Adapter) port(channel push.Channel) (port, error) {
	switch channel {
	case push.ChannelUserNotification:
		return a.alerts, nil
	case push.ChannelSilentWake:
		return a.wakes, nil
	}
	return port{}, push.ErrUnknownChannel
}

// Deliver runs the shared delivery path: classify then dispatch. The returned
// completion has fired or will fire exactly once. Payloads that fail
// classification are reported and completed with NoData.
func (a *Adapter) Deliver(ctx context.Context, d Delivery) *push.Completion {
	completion := push.NewCompletion(d.Completion)
	id := d.ID
	if id == "" {
		id = uuid.NewString()
	}
	payload := d.Payload
	if payload == nil {
		payload = push.Payload{}
	}
	ev := &push.PushEvent{
		ID:         id,
		Channel:    d.Channel,
		Payload:    payload,
		ReceivedAt: time.Now(),
		Completion: completion,
	}
	if c, ok := a.deps.Observer.(deliveryCounter); ok {
		c.Delivered(d.Channel)
	}

	category, err := a.deps.Classifier.Classify(d.Channel, payload)
	if err != nil {
		a.deps.Observer.MalformedPayload(ev, err)
		if completion.Complete(push.OutcomeNoData) {
			a.deps.Observer.Completed(ev, push.OutcomeNoData, time.Since(ev.ReceivedAt))
		}
		return completion
	}
	ev.Category = category

	if err := a.deps.Router.Dispatch(ctx, ev); err != nil {
		a.logger.Error("Dispatch rejected event", "event_id", id, "err", err)
		if completion.Complete(push.OutcomeFailed) {
			a.deps.Observer.Completed(ev, push.OutcomeFailed, time.Since(ev.ReceivedAt))
		}
	}
	return completion
}

func (a *Adapter) currentState() push.AppState {
	if a.deps.State == nil {
		return push.AppStateBackground
	}
	return a.deps.State.Current()
}
