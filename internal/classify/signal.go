package classify

import "github.com/tinywideclouds/go-push-delivery/pkg/push"

// Signal types carried by call-signaling wake payloads.
const (
	SignalCallInvite = "video_call_invite"
	SignalCallEnd    = "end_call"
)

// CallSignal is the call-signaling metadata found in a wake payload. Fields
// are empty when absent.
type CallSignal struct {
	Type       string
	CallID     string
	CallerName string
	MeetingURL string
}

// IsCall reports whether the payload was recognised as call signaling.
func (s CallSignal) IsCall() bool {
	return s.Type == SignalCallInvite || s.Type == SignalCallEnd
}

// Signal extracts call metadata from the top level of the payload or from
// its "data" mapping, which is where FCM data messages put it.
func Signal(p push.Payload) CallSignal {
	pick := func(keys ...string) string {
		for _, k := range keys {
			if v := p.String(k); v != "" {
				return v
			}
			if v := p.String("data", k); v != "" {
				return v
			}
		}
		return ""
	}
	return CallSignal{
		Type:       pick("type"),
		CallID:     pick("callId", "callUUID", "call_id"),
		CallerName: pick("callerName", "caller_name"),
		MeetingURL: pick("meeting_url", "meetingUrl"),
	}
}
