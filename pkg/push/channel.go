// Package push contains the public domain model and collaborator interfaces
// of the push delivery core.
package push

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Channel identifies which push subsystem a token or payload belongs to.
type Channel int

const (
	// ChannelUnknown is the zero value and never valid for registration or delivery.
	ChannelUnknown Channel = iota
	// ChannelUserNotification carries user-visible local/remote notifications.
	ChannelUserNotification
	// ChannelSilentWake carries silent, low-latency wake-ups (call signaling).
	ChannelSilentWake
)

// Channels lists every valid channel in a stable order.
var Channels = []Channel{ChannelUserNotification, ChannelSilentWake}

func (c Channel) String() string {
	switch c {
	case ChannelUserNotification:
		return "user_notification"
	case ChannelSilentWake:
		return "silent_wake"
	default:
		return "unknown"
	}
}

// Valid reports whether c is one of the two delivery channels.
func (c Channel) Valid() bool {
	return c == ChannelUserNotification || c == ChannelSilentWake
}

// ParseChannel accepts the text form of a channel. A few aliases used by
// clients ("alert", "voip", "wake") are accepted as well.
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user_notification", "user-notification", "notification", "alert":
		return ChannelUserNotification, nil
	case "silent_wake", "silent-wake", "wake", "voip":
		return ChannelSilentWake, nil
	}
	return ChannelUnknown, fmt.Errorf("%w: %q", ErrUnknownChannel, s)
}

func (c Channel) MarshalJSON() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChannel, int(c))
	}
	return json.Marshal(c.String())
}

func (c *Channel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("channel must be a string: %w", err)
	}
	parsed, err := ParseChannel(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
