package handlers

import (
	"context"
	"log/slog"

	"github.com/tinywideclouds/go-push-delivery/internal/classify"
	"github.com/tinywideclouds/go-push-delivery/pkg/push"
)

// Forwarder moves a silent event to whatever does the actual work.
type Forwarder interface {
	Forward(ctx context.Context, event *push.PushEvent, signal classify.CallSignal) error
}

// WakeHandler completes once the forwarder has returned. The forward runs on
// its own goroutine so the delivery callback is never blocked on the network.
type WakeHandler struct {
	forwarder Forwarder
	logger    *slog.Logger
}

func NewWakeHandler(forwarder Forwarder, logger *slog.Logger) *WakeHandler {
	return &WakeHandler{forwarder: forwarder, logger: logger.With("component", "WakeHandler")}
}

func (h *WakeHandler) HandlePush(ctx context.Context, ev *push.PushEvent, done func(push.Outcome)) {
	signal := classify.Signal(ev.Payload)
	go func() {
		fctx := ctx
		if !ev.Deadline.IsZero() {
			var cancel context.CancelFunc
			fctx, cancel = context.WithDeadline(ctx, ev.Deadline)
			defer cancel()
		}
		if err := h.forwarder.Forward(fctx, ev, signal); err != nil {
			h.logger.Error("Wake forward failed", "event_id", ev.ID, "signal_type", signal.Type, "err", err)
			done(push.OutcomeFailed)
			return
		}
		h.logger.Debug("Wake forwarded", "event_id", ev.ID, "signal_type", signal.Type, "call_id", signal.CallID)
		done(push.OutcomeNewData)
	}()
}

// LogForwarder only logs the wake. It is used when no wake topic is set.
type LogForwarder struct {
	logger *slog.Logger
}

func NewLogForwarder(logger *slog.Logger) *LogForwarder {
	return &LogForwarder{logger: logger.With("component", "LogForwarder")}
}

func (f *LogForwarder) Forward(_ context.Context, ev *push.PushEvent, signal classify.CallSignal) error {
	f.logger.Info("Wake received", "event_id", ev.ID, "signal_type", signal.Type, "call_id", signal.CallID, "caller", signal.CallerName)
	return nil
}
