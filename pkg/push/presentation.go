package push

import (
	"fmt"
	"strings"
)

// PresentationDecision tells the OS how to present a user notification that
// arrives while the app is in the foreground.
type PresentationDecision struct {
	ShowAlert   bool `json:"show_alert"`
	PlaySound   bool `json:"play_sound"`
	UpdateBadge bool `json:"update_badge"`
}

// IsNoop is true when nothing is presented.
func (d PresentationDecision) IsNoop() bool {
	return !d.ShowAlert && !d.PlaySound && !d.UpdateBadge
}

// AppState is the foreground/background signal consumed by the policy.
type AppState int

const (
	AppStateBackground AppState = iota
	AppStateForeground
)

func (s AppState) String() string {
	if s == AppStateForeground {
		return "foreground"
	}
	return "background"
}

// ParseAppState accepts "foreground"/"active" and "background"/"inactive".
func ParseAppState(s string) (AppState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "foreground", "active":
		return AppStateForeground, nil
	case "background", "inactive":
		return AppStateBackground, nil
	}
	return AppStateBackground, fmt.Errorf("unknown app state %q", s)
}
