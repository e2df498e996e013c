package push

import (
	"context"
	"time"
)

// Handler processes a dispatched event. It may finish synchronously or later
// from another goroutine; either way it reports by calling done exactly once.
// Calls to done after the router has timed the event out are ignored.
type Handler interface {
	HandlePush(ctx context.Context, event *PushEvent, done func(Outcome))
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, event *PushEvent, done func(Outcome))

func (f HandlerFunc) HandlePush(ctx context.Context, event *PushEvent, done func(Outcome)) {
	f(ctx, event, done)
}

// TokenSink is the backend collaborator that receives token changes. Every
// method must return immediately; delivery and retries belong to the sink.
type TokenSink interface {
	SubmitToken(channel Channel, token Token)
	RevokeToken(channel Channel, reason string)
	ReportUnavailable(channel Channel, err error)
}

// Observer receives the structured events of the core. Implementations must
// not block.
type Observer interface {
	MalformedPayload(event *PushEvent, err error)
	NoHandler(event *PushEvent)
	Timeout(event *PushEvent, deadline time.Duration)
	StrayCompletion(event *PushEvent, outcome Outcome)
	Completed(event *PushEvent, outcome Outcome, elapsed time.Duration)
	TokenLost(channel Channel, reason string)
	RegistrationFailed(channel Channel, err error)
}

// StateSource supplies the current foreground/background state.
type StateSource interface {
	Current() AppState
}

// NotificationDelegate is the user-notification capability set of the entry point.
type NotificationDelegate interface {
	DidRegisterForRemoteNotifications(token Token)
	DidFailToRegisterForRemoteNotifications(err error)
	DidReceiveRemoteNotification(ctx context.Context, payload Payload, completion CompletionFunc)
	WillPresentNotification(payload Payload) PresentationDecision
}

// WakeDelegate is the silent-wake capability set of the entry point.
type WakeDelegate interface {
	DidUpdateWakeToken(token Token)
	DidFailToUpdateWakeToken(err error)
	DidInvalidateWakeToken(reason string)
	DidReceiveIncomingWake(ctx context.Context, payload Payload, completion CompletionFunc)
}

// AppStateObserver receives app activation changes.
type AppStateObserver interface {
	AppStateChanged(state AppState)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) MalformedPayload(*PushEvent, error) {}
func (NopObserver) NoHandler(*PushEvent) {}
func (NopObserver) Timeout(*PushEvent, time.Duration) {}
func (NopObserver) StrayCompletion(*PushEvent, Outcome) {}
func (NopObserver) Completed(*PushEvent, Outcome, time.Duration) {}
func (NopObserver) TokenLost(Channel, string) {}
func (NopObserver) RegistrationFailed(Channel, error) {}
