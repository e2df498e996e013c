package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/tinywideclouds/go-push-delivery/internal/classify"
	"github.com/tinywideclouds/go-push-delivery/pkg/push"
)

// WakeMessage is the body published for each forwarded wake.
type WakeMessage struct {
	EventID    string       `json:"event_id"`
	Channel    push.Channel `json:"channel"`
	Category   string       `json:"category"`
	SignalType string       `json:"signal_type,omitempty"`
	CallID     string       `json:"call_id,omitempty"`
	CallerName string       `json:"caller_name,omitempty"`
	MeetingURL string       `json:"meeting_url,omitempty"`
	Payload    push.Payload `json:"payload"`
	ReceivedAt time.Time    `json:"received_at"`
}

// PubsubForwarder publishes wakes to a topic for the call-handling service.
type PubsubForwarder struct {
	publisher *pubsub.Publisher
	logger    *slog.Logger
}

func NewPubsubForwarder(client *pubsub.Client, topicID string, logger *slog.Logger) *PubsubForwarder {
	return &PubsubForwarder{
		publisher: client.Publisher(topicID),
		logger:    logger.With("component", "PubsubForwarder", "topic", topicID),
	}
}

// Forward blocks until the server has accepted the message.
func (f *PubsubForwarder) Forward(ctx context.Context, ev *push.PushEvent, signal classify.CallSignal) error {
	body, err := json.Marshal(WakeMessage{
		EventID:    ev.ID,
		Channel:    ev.Channel,
		Category:   ev.Category.String(),
		SignalType: signal.Type,
		CallID:     signal.CallID,
		CallerName: signal.CallerName,
		MeetingURL: signal.MeetingURL,
		Payload:    ev.Payload,
		ReceivedAt: ev.ReceivedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal wake message: %w", err)
	}

	attrs := map[string]string{
		"channel":  ev.Channel.String(),
		"event_id": ev.ID,
	}
	if signal.Type != "" {
		attrs["signal_type"] = signal.Type
	}
	if signal.CallID != "" {
		attrs["call_id"] = signal.CallID
	}

	serverID, err := f.publisher.Publish(ctx, &pubsub.Message{Data: body, Attributes: attrs}).Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to publish wake %s: %w", ev.ID, err)
	}
	f.logger.Debug("Wake published", "event_id", ev.ID, "server_id", serverID)
	return nil
}

// Stop flushes pending publishes.
func (f *PubsubForwarder) Stop() {
	f.publisher.Stop()
}
