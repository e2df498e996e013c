// Package fcm sends probe pushes through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-push-delivery/internal/platform"
	"github.com/tinywideclouds/go-push-delivery/pkg/push"
)

// wakeTTL bounds how long FCM holds an undelivered wake.
const wakeTTL = 30 * time.Second

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Sender struct {
	client MessagingClient
	logger *slog.Logger
}

var _ platform.Sender = (*Sender)(nil)

func NewSender(client MessagingClient, logger *slog.Logger) *Sender {
	return &Sender{
		client: client,
		logger: logger.With("component", "FCMSender"),
	}
}

// Send multicasts msg. FCM registration tokens are text; the token bytes
// are the token's UTF-8 form.
func (s *Sender) Send(
	ctx context.Context,
	channel push.Channel,
	tokens []push.Token,
	msg platform.Message,
) (platform.Receipt, error) {
	var receipt platform.Receipt
	if len(tokens) == 0 {
		return receipt, nil
	}

	mc, err := multicast(channel, msg)
	if err != nil {
		return receipt, err
	}
	for _, t := range tokens {
		mc.Tokens = append(mc.Tokens, string(t))
	}

	br, err := s.client.SendEachForMulticast(ctx, mc)
	if err != nil {
		if messaging.IsInvalidArgument(err) {
			s.logger.Error("FCM rejected batch as InvalidArgument (dropping)", "err", err)
			receipt.Failed = len(tokens)
			return receipt, nil
		}
		return receipt, fmt.Errorf("fcm transport failed: %w", err)
	}

	receipt.Sent = br.SuccessCount
	for idx, resp := range br.Responses {
		if resp.Success {
			continue
		}
		receipt.Failed++
		if messaging.IsInvalidArgument(resp.Error) || messaging.IsRegistrationTokenNotRegistered(resp.Error) {
			receipt.Invalid = append(receipt.Invalid, tokens[idx])
			continue
		}
		s.logger.Warn("FCM send failed", "token", tokens[idx].Redacted(), "err", resp.Error)
	}
	return receipt, nil
}

// multicast builds the message without tokens. The wake channel is data
// only and high priority on both Android and iOS.
func multicast(channel push.Channel, msg platform.Message) (*messaging.MulticastMessage, error) {
	data := make(map[string]string, len(msg.Data)+1)
	for k, v := range msg.Data {
		data[k] = v
	}
	if msg.EventID != "" {
		data["event_id"] = msg.EventID
	}

	switch channel {
	case push.ChannelUserNotification:
		return &messaging.MulticastMessage{
			Data: data,
			Notification: &messaging.Notification{
				Title: msg.Title,
				Body:  msg.Body,
			},
		}, nil
	case push.ChannelSilentWake:
		ttl := wakeTTL
		return &messaging.MulticastMessage{
			Data: data,
			Android: &messaging.AndroidConfig{
				Priority: "high",
				TTL:      &ttl,
			},
			APNS: &messaging.APNSConfig{
				Headers: map[string]string{
					"apns-priority":  "10",
					"apns-push-type": "background",
				},
				Payload: &messaging.APNSPayload{
					Aps: &messaging.Aps{ContentAvailable: true},
				},
			},
		}, nil
	}
	return nil, fmt.Errorf("fcm: %w: %s", push.ErrUnknownChannel, channel)
}
