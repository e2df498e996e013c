// Package appstate tracks whether the app is in the foreground.
package appstate

import (
	"log/slog"
	"sync/atomic"

	"github.com/tinywideclouds/go-push-delivery/pkg/push"
)

// Tracker is the process-wide state source. The zero state is Background.
type Tracker struct {
	state  atomic.Int32
	logger *slog.Logger
}

func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{logger: logger.With("component", "AppStateTracker")}
}

// Current implements push.StateSource.
func (t *Tracker) Current() push.AppState {
	return push.AppState(t.state.Load())
}

// AppStateChanged implements push.AppStateObserver.
func (t *Tracker) AppStateChanged(state push.AppState) {
	old := push.AppState(t.state.Swap(int32(state)))
	if old != state {
		t.logger.Info("App state changed", "from", old.String(), "to", state.String())
	}
}
