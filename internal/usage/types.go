package usage

// NoApp is returned when no app is in the foreground
const NoApp = ""

// Session represents one contiguous foreground interval of an app
type Session struct {
	AppID          string `json:"app_id"`
	SessionStartMs int64  `json:"session_start_ms"`
	LastSeenMs     int64  `json:"last_seen_ms"`
	Open           bool   `json:"open"`
}

// DurationMs returns the time between session start and the last event seen
func (s Session) DurationMs() int64 {
	return s.LastSeenMs - s.SessionStartMs
}

// interval is a foreground span recorded by the event log. An open interval
// has no end yet and extends to the end of any query range.
type interval struct {
	startMs int64
	endMs   int64
	open    bool
}
