// Package handlers holds the default handlers registered with the router.
package handlers

import (
	"context"
	"log/slog"

	"github.com/tinywideclouds/go-push-delivery/pkg/push"
)

// Presenter shows, or hands over for showing, a user notification.
type Presenter interface {
	Present(ctx context.Context, event *push.PushEvent, decision push.PresentationDecision) error
}

// Decider is the presentation policy.
type Decider interface {
	Decide(event *push.PushEvent, state push.AppState) push.PresentationDecision
}

// LogPresenter records the decision as a structured log line. Rendering is
// left to the OS.
type LogPresenter struct {
	logger *slog.Logger
}

func NewLogPresenter(logger *slog.Logger) *LogPresenter {
	return &LogPresenter{logger: logger.With("component", "LogPresenter")}
}

func (p *LogPresenter) Present(_ context.Context, ev *push.PushEvent, d push.PresentationDecision) error {
	p.logger.Info("Presenting notification",
		"event_id", ev.ID,
		"title", ev.Payload.String("aps", "alert", "title"),
		"show_alert", d.ShowAlert,
		"play_sound", d.PlaySound,
		"update_badge", d.UpdateBadge,
	)
	return nil
}

// AlertHandler handles UserNotification/Alertable events.
type AlertHandler struct {
	policy    Decider
	state     push.StateSource
	presenter Presenter
	logger    *slog.Logger
}

func NewAlertHandler(policy Decider, state push.StateSource, presenter Presenter, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{
		policy:    policy,
		state:     state,
		presenter: presenter,
		logger:    logger.With("component", "AlertHandler"),
	}
}

func (h *AlertHandler) HandlePush(ctx context.Context, ev *push.PushEvent, done func(push.Outcome)) {
	state := push.AppStateBackground
	if h.state != nil {
		state = h.state.Current()
	}
	decision := h.policy.Decide(ev, state)
	if err := h.presenter.Present(ctx, ev, decision); err != nil {
		h.logger.Error("Presenter failed", "event_id", ev.ID, "err", err)
		done(push.OutcomeFailed)
		return
	}
	done(push.OutcomeNewData)
}
