// Package presentation decides how a user notification is shown while the
// app is in the foreground.
package presentation

import "github.com/tinywideclouds/go-push-delivery/pkg/push"

// DefaultSilentKey is the per-event override that suppresses the banner and
// sound but still updates the badge.
const DefaultSilentKey = "silent_foreground"

// Policy is a pure decision function.
type Policy struct {
	SilentKey string
}

func NewPolicy(silentKey string) Policy {
	if silentKey == "" {
		silentKey = DefaultSilentKey
	}
	return Policy{SilentKey: silentKey}
}

// Decide returns the presentation for event given the app state.
func (p Policy) Decide(event *push.PushEvent, state push.AppState) push.PresentationDecision {
	if event == nil || state != push.AppStateForeground || event.Category != push.CategoryAlertable {
		return push.PresentationDecision{}
	}
	key := p.SilentKey
	if key == "" {
		key = DefaultSilentKey
	}
	if event.Payload.Truthy(key) || event.Payload.Truthy("aps", key) {
		return push.PresentationDecision{UpdateBadge: true}
	}
	return push.PresentationDecision{ShowAlert: true, PlaySound: true, UpdateBadge: true}
}
