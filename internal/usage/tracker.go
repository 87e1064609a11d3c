package usage

import (
	"sort"
	"sync"

	"github.com/goodtune/kscreen/internal/events"
	"github.com/goodtune/kscreen/internal/metrics"
	"github.com/rs/zerolog"
)

// Tracker manages per-app foreground sessions. It consumes replay windows in
// time order and keeps the event log up to date.
type Tracker struct {
	eventLog *EventLog
	sessions map[string]*Session // key: appID, open sessions only
	stack    []string            // open apps, most recently resumed last
	logger   zerolog.Logger
	mu       sync.RWMutex
}

// NewTracker creates a new session tracker backed by eventLog
func NewTracker(eventLog *EventLog, logger zerolog.Logger) *Tracker {
	if eventLog == nil {
		eventLog = NewEventLog()
	}
	return &Tracker{
		eventLog: eventLog,
		sessions: make(map[string]*Session),
		logger:   logger.With().Str("component", "session-tracker").Logger(),
	}
}

// EventLog returns the event log the tracker writes to
func (t *Tracker) EventLog() *EventLog {
	return t.eventLog
}

// ProcessWindow applies the session transitions of one window and returns
// the app that is in the foreground at the end of it, or NoApp. The
// foreground session is considered seen up to the end of the window.
func (t *Tracker) ProcessWindow(w events.Window) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, ev := range w.Events {
		t.applyLocked(ev)
	}
	t.eventLog.Append(w.Events)

	current := t.currentLocked()
	if session, exists := t.sessions[current]; exists && w.EndMs > session.LastSeenMs {
		session.LastSeenMs = w.EndMs
	}
	return current
}

// applyLocked runs the session state machine for a single event (must be called with lock held)
func (t *Tracker) applyLocked(ev events.RawUsageEvent) {
	switch ev.Kind {
	case events.KindScreenOff:
		for _, appID := range append([]string(nil), t.stack...) {
			t.closeLocked(appID, ev.TimestampMs, ev.Kind)
		}
		return

	case events.KindForegroundPaused, events.KindForegroundStopped:
		t.closeLocked(ev.AppID, ev.TimestampMs, ev.Kind)
		return

	case events.KindForegroundResumed:
		if session, exists := t.sessions[ev.AppID]; exists {
			session.LastSeenMs = ev.TimestampMs
			t.raiseLocked(ev.AppID)
			return
		}

		t.sessions[ev.AppID] = &Session{
			AppID:          ev.AppID,
			SessionStartMs: ev.TimestampMs,
			LastSeenMs:     ev.TimestampMs,
			Open:           true,
		}
		t.stack = append(t.stack, ev.AppID)

		metrics.SessionTransitions.WithLabelValues("open").Inc()
		metrics.OpenSessions.Set(float64(len(t.sessions)))

		t.logger.Debug().
			Str("app_id", ev.AppID).
			Str("activity_id", ev.ActivityID).
			Int64("session_start_ms", ev.TimestampMs).
			Msg("Opened usage session")
		return
	}

	// Any other relevant event advances the open session of its app
	if session, exists := t.sessions[ev.AppID]; exists {
		session.LastSeenMs = ev.TimestampMs
	}
}

// closeLocked finalizes the open session of appID (must be called with lock held)
func (t *Tracker) closeLocked(appID string, ts int64, cause events.Kind) {
	session, exists := t.sessions[appID]
	if !exists {
		return
	}

	session.LastSeenMs = ts
	session.Open = false
	delete(t.sessions, appID)
	t.removeLocked(appID)

	metrics.SessionTransitions.WithLabelValues("close").Inc()
	metrics.OpenSessions.Set(float64(len(t.sessions)))
	metrics.UsageSecondsConsumed.Add(float64(session.DurationMs()) / 1000.0)

	t.logger.Debug().
		Str("app_id", appID).
		Str("cause", string(cause)).
		Int64("duration_ms", session.DurationMs()).
		Msg("Closed usage session")
}

func (t *Tracker) raiseLocked(appID string) {
	t.removeLocked(appID)
	t.stack = append(t.stack, appID)
}

func (t *Tracker) removeLocked(appID string) {
	for i, id := range t.stack {
		if id == appID {
			t.stack = append(t.stack[:i], t.stack[i+1:]...)
			return
		}
	}
}

func (t *Tracker) currentLocked() string {
	if len(t.stack) == 0 {
		return NoApp
	}
	return t.stack[len(t.stack)-1]
}

// Current returns the foreground app, or NoApp
func (t *Tracker) Current() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.currentLocked()
}

// SessionTimeMs returns the length of the open session of appID, or 0
func (t *Tracker) SessionTimeMs(appID string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	session, exists := t.sessions[appID]
	if !exists {
		return 0
	}
	return session.DurationMs()
}

// ScreentimeMs returns the foreground time of appID inside [startMs, endMs)
func (t *Tracker) ScreentimeMs(appID string, startMs, endMs int64) int64 {
	return t.eventLog.Query(appID, startMs, endMs)
}

// Sessions returns a copy of the open sessions ordered by start time
func (t *Tracker) Sessions() []Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Session, 0, len(t.sessions))
	for _, session := range t.sessions {
		out = append(out, *session)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SessionStartMs == out[j].SessionStartMs {
			return out[i].AppID < out[j].AppID
		}
		return out[i].SessionStartMs < out[j].SessionStartMs
	})
	return out
}
