// Package classify decides the handling category of incoming push payloads.
package classify

import (
	"fmt"
	"strings"

	"github.com/tinywideclouds/go-push-delivery/pkg/push"
)

// Rule maps a payload predicate to a category. Rules are evaluated in order
// and the first match wins.
type Rule struct {
	Name     string
	Match    func(push.Payload) bool
	Category push.Category
}

// Config controls the user-notification predicate. Zero values fall back to
// DefaultConfig.
type Config struct {
	// RequiredKeys must be present as mappings at the top level of a
	// user-notification payload.
	RequiredKeys []string
	// AnyOfKeys, when set, requires at least one of the keys to be present
	// as a mapping.
	AnyOfKeys []string
	// Rules decide the category once the structural check passed.
	Rules []Rule
	// Fallback is used when no rule matches.
	Fallback push.Category
}

// DefaultConfig classifies the standard "aps" dictionary: anything that the
// user can see or hear is Alertable, content-available alone is silent.
func DefaultConfig() Config {
	return Config{
		RequiredKeys: []string{"aps"},
		Rules: []Rule{
			{Name: "alert", Match: HasAny("aps", "alert", "sound", "badge"), Category: push.CategoryAlertable},
			{Name: "content-available", Match: IsTruthy("aps", "content-available"), Category: push.CategorySilentContent},
		},
		Fallback: push.CategoryUnknown,
	}
}

// FCMConfig classifies FCM messages: a "notification" block with a title or
// body is Alertable, call signaling and data-only messages are silent.
func FCMConfig() Config {
	return Config{
		RequiredKeys: []string{},
		AnyOfKeys:    []string{"notification", "data"},
		Rules: []Rule{
			{Name: "call-signal", Match: isCallSignal, Category: push.CategorySilentContent},
			{Name: "notification", Match: HasAny("notification", "title", "body"), Category: push.CategoryAlertable},
			{Name: "data-only", Match: NonEmpty("data"), Category: push.CategorySilentContent},
		},
		Fallback: push.CategoryUnknown,
	}
}

// ForPlatform returns the configuration matching the payload shape of the
// push platform: FCMConfig for push.PlatformFCM, DefaultConfig otherwise.
func ForPlatform(platform string) Config {
	if platform == push.PlatformFCM {
		return FCMConfig()
	}
	return DefaultConfig()
}

func isCallSignal(p push.Payload) bool { return Signal(p).IsCall() }

// Classifier is stateless after construction and safe for concurrent use.
type Classifier struct {
	cfg Config
}

func New(cfg Config) *Classifier {
	def := DefaultConfig()
	if cfg.RequiredKeys == nil && cfg.AnyOfKeys == nil {
		cfg.RequiredKeys = def.RequiredKeys
	}
	if cfg.Rules == nil {
		cfg.Rules = def.Rules
	}
	return &Classifier{cfg: cfg}
}

// Classify returns the category of payload on channel. SilentWake payloads are
// always SilentContent; that channel has no alert concept.
func (c *Classifier) Classify(channel push.Channel, payload push.Payload) (push.Category, error) {
	switch channel {
	case push.ChannelSilentWake:
		return push.CategorySilentContent, nil
	case push.ChannelUserNotification:
	default:
		return push.CategoryUnknown, fmt.Errorf("classify: %w: %s", push.ErrUnknownChannel, channel)
	}

	for _, key := range c.cfg.RequiredKeys {
		v, ok := payload[key]
		if !ok {
			return push.CategoryUnknown, &push.MalformedPayloadError{Channel: channel, Key: key, Reason: "is missing"}
		}
		if !isMapping(v) {
			return push.CategoryUnknown, &push.MalformedPayloadError{Channel: channel, Key: key, Reason: "is not a mapping"}
		}
	}
	if len(c.cfg.AnyOfKeys) > 0 && !hasAnyMapping(payload, c.cfg.AnyOfKeys) {
		return push.CategoryUnknown, &push.MalformedPayloadError{Channel: channel, Key: strings.Join(c.cfg.AnyOfKeys, "|"), Reason: "is missing"}
	}

	for _, rule := range c.cfg.Rules {
		if rule.Match != nil && rule.Match(payload) {
			return rule.Category, nil
		}
	}
	return c.cfg.Fallback, nil
}

// HasAny matches when the mapping under parent holds any of keys with a
// non-empty value.
func HasAny(parent string, keys ...string) func(push.Payload) bool {
	return func(p push.Payload) bool {
		m, ok := p.Map(parent)
		if !ok {
			return false
		}
		for _, k := range keys {
			if v, ok := m[k]; ok && !isEmpty(v) {
				return true
			}
		}
		return false
	}
}

// NonEmpty matches when key holds a mapping with at least one entry.
func NonEmpty(key string) func(push.Payload) bool {
	return func(p push.Payload) bool {
		m, ok := p.Map(key)
		return ok && len(m) > 0
	}
}

// IsTruthy matches when the value at path is truthy.
func IsTruthy(path ...string) func(push.Payload) bool {
	return func(p push.Payload) bool { return p.Truthy(path...) }
}

// HasValue matches when the string at path equals want.
func HasValue(want string, path ...string) func(push.Payload) bool {
	return func(p push.Payload) bool { return p.String(path...) == want }
}

func isMapping(v any) bool {
	switch v.(type) {
	case map[string]any, push.Payload:
		return true
	}
	return false
}

func hasAnyMapping(p push.Payload, keys []string) bool {
	for _, k := range keys {
		if v, ok := p[k]; ok && isMapping(v) {
			return true
		}
	}
	return false
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}
