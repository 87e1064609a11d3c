package policy

import "testing"

func TestEvaluatePriority(t *testing.T) {
	full := &Rule{
		App:                 "com.example.game",
		Active:              true,
		HourlyMaxSeconds:    Seconds(1800),
		HourlyEnforced:      true,
		DailyMaxSeconds:     Seconds(3600),
		DailyEnforced:       true,
		SessionMaxSeconds:   Seconds(600),
		SessionEnforced:     true,
		StartupDelayEnabled: true,
	}

	tests := []struct {
		name       string
		rule       *Rule
		usage      Usage
		wantAction Action
		wantReason Reason
		wantMsg    string
	}{
		{
			name:       "no rule allows",
			rule:       nil,
			usage:      Usage{HourlyUsageSec: 99999},
			wantAction: ActionAllow,
			wantReason: ReasonNoRule,
		},
		{
			name:       "inactive rule allows",
			rule:       &Rule{App: "a", Active: false, HourlyMaxSeconds: Seconds(0), HourlyEnforced: true},
			usage:      Usage{HourlyUsageSec: 10},
			wantAction: ActionAllow,
			wantReason: ReasonInactive,
		},
		{
			name:       "hourly wins over daily",
			rule:       full,
			usage:      Usage{HourlyUsageSec: 1800, DailyUsageSec: 7200, SessionTimeMs: 900000},
			wantAction: ActionShowModal,
			wantReason: ReasonHourlyLimit,
			wantMsg:    "Hourly screen time limit of 30m exceeded!",
		},
		{
			name:       "daily wins over session",
			rule:       full,
			usage:      Usage{HourlyUsageSec: 10, DailyUsageSec: 3600, SessionTimeMs: 900000},
			wantAction: ActionShowModal,
			wantReason: ReasonDailyLimit,
			wantMsg:    "Daily screen time limit of 1h exceeded!",
		},
		{
			name:       "session limit",
			rule:       full,
			usage:      Usage{SessionTimeMs: 600000},
			wantAction: ActionShowModal,
			wantReason: ReasonSessionLimit,
			wantMsg:    "Session screen time limit of 10m exceeded!",
		},
		{
			name:       "session compares whole seconds",
			rule:       full,
			usage:      Usage{SessionTimeMs: 599999},
			wantAction: ActionHideModal,
			wantReason: ReasonWithinLimits,
		},
		{
			name:       "startup delay counts down",
			rule:       full,
			usage:      Usage{SessionTimeMs: 2500},
			wantAction: ActionShowModal,
			wantReason: ReasonStartupDelay,
			wantMsg:    "App starts in 7 seconds!",
		},
		{
			name:       "limits beat startup delay",
			rule:       &Rule{App: "a", Active: true, SessionMaxSeconds: Seconds(0), SessionEnforced: true, StartupDelayEnabled: true},
			usage:      Usage{SessionTimeMs: 0},
			wantAction: ActionShowModal,
			wantReason: ReasonSessionLimit,
			wantMsg:    "Session screen time limit of 0s exceeded!",
		},
		{
			name:       "unenforced limits ignored",
			rule:       &Rule{App: "a", Active: true, HourlyMaxSeconds: Seconds(1), DailyMaxSeconds: Seconds(1)},
			usage:      Usage{HourlyUsageSec: 100, DailyUsageSec: 100},
			wantAction: ActionHideModal,
			wantReason: ReasonWithinLimits,
		},
		{
			name:       "enforced without maximum skipped",
			rule:       &Rule{App: "a", Active: true, HourlyEnforced: true, DailyEnforced: true, SessionEnforced: true},
			usage:      Usage{HourlyUsageSec: 100, DailyUsageSec: 100, SessionTimeMs: 100000},
			wantAction: ActionHideModal,
			wantReason: ReasonWithinLimits,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate("com.example.game", tt.rule, tt.usage, 10000)
			if got.Action != tt.wantAction {
				t.Errorf("Evaluate() action = %v, want %v (reason: %s)", got.Action, tt.wantAction, got.Reason)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("Evaluate() reason = %v, want %v", got.Reason, tt.wantReason)
			}
			if got.Message != tt.wantMsg {
				t.Errorf("Evaluate() message = %q, want %q", got.Message, tt.wantMsg)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{0, "0s"},
		{-5, "0s"},
		{45, "45s"},
		{300, "5m"},
		{3600, "1h"},
		{5400, "1h 30m"},
		{3605, "1h 5s"},
		{3725, "1h 2m 5s"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := FormatDuration(tt.seconds); got != tt.want {
				t.Errorf("FormatDuration(%d) = %q, want %q", tt.seconds, got, tt.want)
			}
		})
	}
}
