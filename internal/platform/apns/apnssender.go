// Package apns sends probe pushes through the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-push-delivery/internal/platform"
	"github.com/tinywideclouds/go-push-delivery/pkg/push"
)

// APNSClient defines the subset of the apns2.Client methods we use.
type APNSClient interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
	// Development targets the sandbox gateway.
	Development bool
}

type Sender struct {
	client APNSClient
	topic  string
	logger *slog.Logger
}

var _ platform.Sender = (*Sender)(nil)

// NewSender parses the P8 key immediately to fail fast on bad credentials.
func NewSender(cfg Config, logger *slog.Logger) (*Sender, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Development {
		client = client.Development()
	} else {
		client = client.Production()
	}

	return newSender(client, cfg.BundleID, logger), nil
}

func newSender(client APNSClient, bundleID string, logger *slog.Logger) *Sender {
	return &Sender{
		client: client,
		topic:  bundleID,
		logger: logger.With("component", "APNSSender"),
	}
}

// Send pushes to each token in turn; the APNs HTTP/2 API has no multicast.
// Transport failures are counted, not returned, so one bad connection does
// not hide the results for the rest of the batch.
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

	template, err := s.notification(channel, msg)
	if err != nil {
		return receipt, err
	}

	for _, deviceToken := range tokens {
		if ctx.Err() != nil {
			return receipt, ctx.Err()
		}
		n := *template
		n.DeviceToken = deviceToken.Hex()

		res, err := s.client.Push(&n)
		if err != nil {
			s.logger.Error("APNs transport failed", "token", deviceToken.Redacted(), "err", err)
			receipt.Failed++
			continue
		}

		if res.Sent() {
			receipt.Sent++
			continue
		}
		receipt.Failed++
		switch res.Reason {
		case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
			receipt.Invalid = append(receipt.Invalid, deviceToken)
		default:
			// Configuration problems (TopicDisallowed, PayloadEmpty) say
			// nothing about the token.
			s.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		}
	}
	return receipt, nil
}

// notification builds everything but the device token. The wake channel
// becomes a VoIP push on the bundle's .voip topic.
func (s *Sender) notification(channel push.Channel, msg platform.Message) (*apns2.Notification, error) {
	switch channel {
	case push.ChannelUserNotification:
		builder := payload.NewPayload().
			AlertTitle(msg.Title).
			AlertBody(msg.Body).
			Sound("default")
		for k, v := range msg.Data {
			builder.Custom(k, v)
		}
		return &apns2.Notification{
			ApnsID:   apnsID(msg.EventID),
			Topic:    s.topic,
			PushType: apns2.PushTypeAlert,
			Payload:  builder,
		}, nil
	case push.ChannelSilentWake:
		builder := payload.NewPayload()
		for k, v := range msg.Data {
			builder.Custom(k, v)
		}
		return &apns2.Notification{
			ApnsID:   apnsID(msg.EventID),
			Topic:    s.topic + ".voip",
			PushType: apns2.PushTypeVOIP,
			Priority: apns2.PriorityHigh,
			Payload:  builder,
		}, nil
	}
	return nil, fmt.Errorf("apns: %w: %s", push.ErrUnknownChannel, channel)
}

// apnsID passes event ids through only when APNs will accept them.
func apnsID(eventID string) string {
	if _, err := uuid.Parse(eventID); err != nil {
		return ""
	}
	return eventID
}
