package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind identifies the type of a raw usage event
type Kind string

const (
	KindForegroundResumed Kind = "FOREGROUND_RESUMED"
	KindForegroundPaused  Kind = "FOREGROUND_PAUSED"
	KindForegroundStopped Kind = "FOREGROUND_STOPPED"
	KindScreenOn          Kind = "SCREEN_ON"
	KindScreenOff         Kind = "SCREEN_OFF"
)

// UnmarshalJSON implements json.Unmarshaler to normalize kind to uppercase.
// Unknown kinds are kept as-is so the poll cycle can discard them.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid event kind: %w", err)
	}
	*k = Kind(strings.ToUpper(strings.TrimSpace(s)))
	return nil
}

// MarshalJSON implements json.Marshaler to ensure uppercase output.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(k))
}

// Relevant reports whether the kind takes part in session tracking.
func (k Kind) Relevant() bool {
	switch k {
	case KindForegroundResumed, KindForegroundPaused, KindForegroundStopped, KindScreenOn, KindScreenOff:
		return true
	default:
		return false
	}
}

// Terminal reports whether the kind closes a session.
func (k Kind) Terminal() bool {
	return k == KindForegroundPaused || k == KindForegroundStopped || k == KindScreenOff
}

// RawUsageEvent is a single foreground or screen event as reported by the platform
type RawUsageEvent struct {
	AppID       string `json:"app_id"`
	Kind        Kind   `json:"kind"`
	TimestampMs int64  `json:"timestamp_ms"`
	ActivityID  string `json:"activity_id,omitempty"`
}

// Source yields raw usage events for the half-open range [startMs, endMs).
// Implementations return events in the order the platform reported them.
type Source interface {
	QueryEvents(ctx context.Context, startMs, endMs int64) ([]RawUsageEvent, error)
}
