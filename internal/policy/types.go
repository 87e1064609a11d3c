package policy

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action represents the decision dispatched to the presenter
type Action string

const (
	ActionAllow     Action = "ALLOW"
	ActionShowModal Action = "SHOW_MODAL"
	ActionHideModal Action = "HIDE_MODAL"
)

// UnmarshalJSON implements json.Unmarshaler to normalize action to uppercase.
func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	normalized := Action(strings.ToUpper(s))

	switch normalized {
	case ActionAllow, ActionShowModal, ActionHideModal:
		*a = normalized
		return nil
	default:
		return fmt.Errorf("invalid action: %s (must be ALLOW, SHOW_MODAL, or HIDE_MODAL)", s)
	}
}

// MarshalJSON implements json.Marshaler to ensure uppercase output.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(a))
}

// Reason identifies the check that produced a decision
type Reason string

const (
	ReasonNoRule       Reason = "no_rule"
	ReasonInactive     Reason = "inactive"
	ReasonHourlyLimit  Reason = "hourly_limit"
	ReasonDailyLimit   Reason = "daily_limit"
	ReasonSessionLimit Reason = "session_limit"
	ReasonStartupDelay Reason = "startup_delay"
	ReasonWithinLimits Reason = "within_limits"
	ReasonNoForeground Reason = "no_foreground" // nothing in the foreground, overlay cleared
)

// Rule limits the foreground time of one app. The JSON field names match
// the persisted rules blob.
type Rule struct {
	App    string `json:"app" toml:"app"`
	Active bool   `json:"isActive" toml:"active"`

	DailyMaxSeconds   *int `json:"dailyMaxSeconds,omitempty" toml:"daily_max_seconds"`
	HourlyMaxSeconds  *int `json:"hourlyMaxSeconds,omitempty" toml:"hourly_max_seconds"`
	SessionMaxSeconds *int `json:"sessionMaxSeconds,omitempty" toml:"session_max_seconds"`

	DailyEnforced   bool `json:"isDailyMaxSecondsEnforced" toml:"daily_enforced"`
	HourlyEnforced  bool `json:"isHourlyMaxSecondsEnforced" toml:"hourly_enforced"`
	SessionEnforced bool `json:"isSessionMaxSecondsEnforced" toml:"session_enforced"`

	DailyReset          string `json:"dailyReset" toml:"daily_reset"` // "HH:MM" or "HH:MM:SS"
	StartupDelayEnabled bool   `json:"isStartupDelayEnabled" toml:"startup_delay"`
}

// Decision is the result of evaluating a rule for the foreground app
type Decision struct {
	Action  Action `json:"action"`
	Message string `json:"message,omitempty"`
	Reason  Reason `json:"reason"`
	App     string `json:"app,omitempty"`
}

// Usage carries the figures a rule is evaluated against
type Usage struct {
	SessionTimeMs  int64
	HourlyUsageSec int64
	DailyUsageSec  int64
}

// Seconds returns a pointer to n, for building rules in code
func Seconds(n int) *int {
	return &n
}
