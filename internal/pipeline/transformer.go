// Package pipeline turns Pub/Sub push envelopes into deliveries on the core.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-delivery/pkg/push"
)

// Envelope is the message body published by the push relay.
type Envelope struct {
	ID      string       `json:"id,omitempty"`
	Channel push.Channel `json:"channel"`
	Payload push.Payload `json:"payload"`
	SentAt  time.Time    `json:"sent_at,omitempty"`
}

// EnvelopeTransformer decodes a raw message. Anything that is not an envelope
// for a known channel is transport poison: it is skipped so the
// StreamingService can nack it toward the dead-letter topic. A payload that
// fails classification is not poison; it travels on and is acknowledged.
func EnvelopeTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*Envelope, bool, error) {
	var env Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal push envelope from message %s: %w", msg.ID, err)
	}
	if !env.Channel.Valid() {
		return nil, true, fmt.Errorf("push envelope from message %s: %w", msg.ID, push.ErrUnknownChannel)
	}
	if env.ID == "" {
		env.ID = msg.ID
	}
	if env.Payload == nil {
		env.Payload = push.Payload{}
	}
	return &env, false, nil
}
