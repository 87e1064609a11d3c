package policy

import (
	"fmt"
	"strings"
)

// Evaluate applies rule to the usage figures of appID. Checks run in a fixed
// order and the first match wins: hourly limit, daily limit, session limit,
// startup delay. A nil or inactive rule allows. An enforced limit without a
// maximum is skipped.
func Evaluate(appID string, rule *Rule, usage Usage, startupDelayMs int64) Decision {
	if rule == nil {
		return Decision{Action: ActionAllow, Reason: ReasonNoRule, App: appID}
	}
	if !rule.Active {
		return Decision{Action: ActionAllow, Reason: ReasonInactive, App: appID}
	}

	if rule.HourlyEnforced && rule.HourlyMaxSeconds != nil && usage.HourlyUsageSec >= int64(*rule.HourlyMaxSeconds) {
		return showModal(appID, ReasonHourlyLimit,
			"Hourly screen time limit of "+FormatDuration(*rule.HourlyMaxSeconds)+" exceeded!")
	}

	if rule.DailyEnforced && rule.DailyMaxSeconds != nil && usage.DailyUsageSec >= int64(*rule.DailyMaxSeconds) {
		return showModal(appID, ReasonDailyLimit,
			"Daily screen time limit of "+FormatDuration(*rule.DailyMaxSeconds)+" exceeded!")
	}

	if rule.SessionEnforced && rule.SessionMaxSeconds != nil && usage.SessionTimeMs/1000 >= int64(*rule.SessionMaxSeconds) {
		return showModal(appID, ReasonSessionLimit,
			"Session screen time limit of "+FormatDuration(*rule.SessionMaxSeconds)+" exceeded!")
	}

	if rule.StartupDelayEnabled && usage.SessionTimeMs < startupDelayMs {
		remaining := (startupDelayMs - usage.SessionTimeMs) / 1000
		return showModal(appID, ReasonStartupDelay, fmt.Sprintf("App starts in %d seconds!", remaining))
	}

	return Decision{Action: ActionHideModal, Reason: ReasonWithinLimits, App: appID}
}

func showModal(appID string, reason Reason, message string) Decision {
	return Decision{Action: ActionShowModal, Message: message, Reason: reason, App: appID}
}

// FormatDuration renders seconds as "1h 30m", "5m", "45s". Zero parts are
// omitted and zero renders as "0s".
func FormatDuration(seconds int) string {
	if seconds <= 0 {
		return "0s"
	}

	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	parts := make([]string, 0, 3)
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if secs > 0 {
		parts = append(parts, fmt.Sprintf("%ds", secs))
	}
	return strings.Join(parts, " ")
}
