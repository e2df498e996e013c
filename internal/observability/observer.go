package observability

import (
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-delivery/pkg/push"
)

// Observer implements push.Observer. Metrics may be nil.
type Observer struct {
	logger  *slog.Logger
	metrics *Metrics
}

var _ push.Observer = (*Observer)(nil)

func NewObserver(logger *slog.Logger, metrics *Metrics) *Observer {
	return &Observer{logger: logger.With("component", "Observer"), metrics: metrics}
}

func (o *Observer) MalformedPayload(ev *push.PushEvent, err error) {
	o.logger.Warn("MalformedPayload", eventAttrs(ev, "err", err)...)
	if o.metrics != nil {
		o.metrics.Malformed.WithLabelValues(ev.Channel.String()).Inc()
	}
}

func (o *Observer) NoHandler(ev *push.PushEvent) {
	o.logger.Warn("NoHandler", eventAttrs(ev)...)
	if o.metrics != nil {
		o.metrics.NoHandler.WithLabelValues(ev.Channel.String(), ev.Category.String()).Inc()
	}
}

func (o *Observer) Timeout(ev *push.PushEvent, deadline time.Duration) {
	o.logger.Error("Timeout", eventAttrs(ev, "deadline", deadline)...)
	if o.metrics != nil {
		o.metrics.Timeouts.WithLabelValues(ev.Channel.String()).Inc()
	}
}

func (o *Observer) StrayCompletion(ev *push.PushEvent, outcome push.Outcome) {
	o.logger.Warn("StrayCompletion", eventAttrs(ev, "outcome", outcome.String())...)
	if o.metrics != nil {
		o.metrics.Strays.WithLabelValues(ev.Channel.String()).Inc()
	}
}

func (o *Observer) Completed(ev *push.PushEvent, outcome push.Outcome, elapsed time.Duration) {
	o.logger.Debug("Completed", eventAttrs(ev, "outcome", outcome.String(), "elapsed", elapsed)...)
	if o.metrics != nil {
		o.metrics.Completions.WithLabelValues(ev.Channel.String(), outcome.String()).Inc()
		o.metrics.HandleSeconds.WithLabelValues(ev.Channel.String()).Observe(elapsed.Seconds())
	}
}

func (o *Observer) TokenLost(channel push.Channel, reason string) {
	o.logger.Warn("TokenLost", "channel", channel.String(), "reason", reason)
	if o.metrics != nil {
		o.metrics.TokenEvents.WithLabelValues(channel.String(), "lost").Inc()
	}
}

func (o *Observer) RegistrationFailed(channel push.Channel, err error) {
	o.logger.Error("RegistrationFailure", "channel", channel.String(), "err", err)
	if o.metrics != nil {
		o.metrics.TokenEvents.WithLabelValues(channel.String(), "registration_failed").Inc()
	}
}

// Delivered counts an incoming payload before classification.
func (o *Observer) Delivered(channel push.Channel) {
	if o.metrics != nil {
		o.metrics.Deliveries.WithLabelValues(channel.String()).Inc()
	}
}

// TokenRegistered counts a successful registration.
func (o *Observer) TokenRegistered(channel push.Channel, changed bool) {
	if o.metrics == nil {
		return
	}
	kind := "unchanged"
	if changed {
		kind = "updated"
	}
	o.metrics.TokenEvents.WithLabelValues(channel.String(), kind).Inc()
}

// Duplicate counts a delivery dropped by de-duplication.
func (o *Observer) Duplicate(id string) {
	o.logger.Info("Duplicate delivery dropped", "event_id", id)
	if o.metrics != nil {
		o.metrics.DuplicatesTotal.Inc()
	}
}

// BackendOp counts one attempt of the backend forwarder.
func (o *Observer) BackendOp(op, result string) {
	if o.metrics != nil {
		o.metrics.BackendOps.WithLabelValues(op, result).Inc()
	}
}

func eventAttrs(ev *push.PushEvent, extra ...any) []any {
	attrs := []any{"event_id", ev.ID, "channel", ev.Channel.String(), "category", ev.Category.String()}
	return append(attrs, extra...)
}
