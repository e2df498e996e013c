package push

import (
	"strconv"
	"strings"
	"time"
)

// Payload is the structured mapping delivered with a push. Values are the
// usual decoded-JSON shapes: string, float64, bool, nil, []any, map[string]any.
type Payload map[string]any

// Lookup walks nested mappings, e.g. Lookup("aps", "alert").
func (p Payload) Lookup(path ...string) (any, bool) {
	var cur any = map[string]any(p)
	for _, key := range path {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Map returns the nested mapping stored under key.
func (p Payload) Map(key string) (map[string]any, bool) {
	v, ok := p[key]
	if !ok {
		return nil, false
	}
	return asMap(v)
}

// String returns the string at path, formatting numbers and booleans.
func (p Payload) String(path ...string) string {
	v, ok := p.Lookup(path...)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// Truthy reports whether the value at path is true, a non-zero number, or a
// string such as "true"/"1"/"yes".
func (p Payload) Truthy(path ...string) bool {
	v, ok := p.Lookup(path...)
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "on":
			return true
		}
	}
	return false
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Payload:
		return m, true
	default:
		return nil, false
	}
}

// Category is the handling class assigned by the classifier.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryAlertable
	CategorySilentContent
)

func (c Category) String() string {
	switch c {
	case CategoryAlertable:
		return "alertable"
	case CategorySilentContent:
		return "silent_content"
	default:
		return "unknown"
	}
}

// Outcome is reported to the delivering system through the completion handle.
type Outcome int

const (
	OutcomeNoData Outcome = iota
	OutcomeNewData
	OutcomeFailed
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNewData:
		return "new_data"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "no_data"
	}
}

// PushEvent is one delivered payload awaiting classification and dispatch.
// Deadline is set by the router when the event is dispatched.
type PushEvent struct {
	ID         string
	Channel    Channel
	Category   Category
	Payload    Payload
	ReceivedAt time.Time
	Deadline   time.Time
	Completion *Completion
}
