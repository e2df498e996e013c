package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-delivery/internal/entrypoint"
	"github.com/tinywideclouds/go-push-delivery/internal/storage/cache"
	"github.com/tinywideclouds/go-push-delivery/pkg/push"
)

// Deliverer is the entry point's shared delivery path.
type Deliverer interface {
	Deliver(ctx context.Context, d entrypoint.Delivery) *push.Completion
}

// DuplicateRecorder is told about deliveries dropped as duplicates.
type DuplicateRecorder interface {
	Duplicate(id string)
}

// ProcessorConfig tunes de-duplication. A nil Deduper disables it.
type ProcessorConfig struct {
	Deduper    cache.Deduper
	DedupTTL   time.Duration
	Duplicates DuplicateRecorder
}

// NewProcessor delivers each envelope and waits for its completion handle.
// The router guarantees the handle fires within the channel deadline, so the
// Pub/Sub ack is held no longer than that.
func NewProcessor(
	deliverer Deliverer,
	cfg ProcessorConfig,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[Envelope] {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = time.Hour
	}
	logger = logger.With("component", "PushProcessor")

	return func(ctx context.Context, original messagepipeline.Message, env *Envelope) error {
		procLogger := logger.With(
			"event_id", env.ID,
			"channel", env.Channel.String(),
			"pubsub_msg_id", original.ID,
		)

		if cfg.Deduper != nil {
			first, err := cfg.Deduper.FirstSeen(ctx, env.ID, cfg.DedupTTL)
			switch {
			case err != nil:
				procLogger.Warn("De-duplication unavailable, processing anyway", "err", err)
			case !first:
				procLogger.Info("Dropping duplicate delivery")
				if cfg.Duplicates != nil {
					cfg.Duplicates.Duplicate(env.ID)
				}
				return nil
			}
		}

		completion := deliverer.Deliver(ctx, entrypoint.Delivery{
			ID:      env.ID,
			Channel: env.Channel,
			Payload: env.Payload,
		})

		select {
		case <-completion.Done():
		case <-ctx.Done():
			procLogger.Warn("Context ended before completion", "err", ctx.Err())
			return ctx.Err()
		}

		outcome := completion.Outcome()
		if !env.SentAt.IsZero() {
			procLogger = procLogger.With("latency", time.Since(env.SentAt))
		}
		procLogger.Info("Push processed", "outcome", outcome.String())
		return nil
	}
}
