// Package platform holds what the APNs and FCM senders share.
package platform

import (
	"context"
	"fmt"

	"github.com/tinywideclouds/go-push-delivery/pkg/push"
)

// Message is a probe push. Title and Body are ignored on the wake channel.
type Message struct {
	EventID string
	Title   string
	Body    string
	Data    map[string]string
}

// Receipt summarises one batch. Invalid lists tokens the provider reported
// as permanently dead; the caller should revoke them.
type Receipt struct {
	Sent    int
	Failed  int
	Invalid []push.Token
}

func (r Receipt) String() string {
	return fmt.Sprintf("success:%d invalid:%d total_fail:%d", r.Sent, len(r.Invalid), r.Failed)
}

// Sender addresses a push at tokens of one channel.
type Sender interface {
	Send(ctx context.Context, channel push.Channel, tokens []push.Token, msg Message) (Receipt, error)
}
