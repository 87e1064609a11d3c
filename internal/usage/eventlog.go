package usage

import (
	"sync"

	"github.com/goodtune/kscreen/internal/events"
)

// EventLog accumulates per-app foreground intervals from ordered usage
// events and answers windowed screentime queries.
//
// Events must be appended in non-decreasing timestamp order; the log does
// not re-sort.
type EventLog struct {
	intervals map[string][]interval // key: appID, ordered by start
	open      map[string]struct{}   // apps with an open interval
	mu        sync.RWMutex
}

// NewEventLog creates an empty event log
func NewEventLog() *EventLog {
	return &EventLog{
		intervals: make(map[string][]interval),
		open:      make(map[string]struct{}),
	}
}

// Append records the foreground transitions carried by events
func (l *EventLog) Append(evs []events.RawUsageEvent) {
	if len(evs) == 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, ev := range evs {
		switch ev.Kind {
		case events.KindForegroundResumed:
			if _, isOpen := l.open[ev.AppID]; isOpen {
				continue
			}
			l.intervals[ev.AppID] = append(l.intervals[ev.AppID], interval{startMs: ev.TimestampMs, open: true})
			l.open[ev.AppID] = struct{}{}

		case events.KindForegroundPaused, events.KindForegroundStopped:
			l.closeLocked(ev.AppID, ev.TimestampMs)

		case events.KindScreenOff:
			for appID := range l.open {
				l.closeLocked(appID, ev.TimestampMs)
			}
		}
	}
}

// closeLocked closes the open interval of appID (must be called with lock held)
func (l *EventLog) closeLocked(appID string, ts int64) {
	if _, isOpen := l.open[appID]; !isOpen {
		return
	}
	ivs := l.intervals[appID]
	last := &ivs[len(ivs)-1]
	last.endMs = ts
	last.open = false
	delete(l.open, appID)
}

// Query returns the foreground milliseconds of appID inside [startMs, endMs).
// Intervals are clipped at both boundaries; an open interval counts up to endMs.
func (l *EventLog) Query(appID string, startMs, endMs int64) int64 {
	if endMs <= startMs {
		return 0
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var total int64
	for _, iv := range l.intervals[appID] {
		if iv.startMs >= endMs {
			break
		}
		ivEnd := iv.endMs
		if iv.open {
			ivEnd = endMs
		}
		lo := max(iv.startMs, startMs)
		hi := min(ivEnd, endMs)
		if hi > lo {
			total += hi - lo
		}
	}
	return total
}

// Prune drops closed intervals that ended before cutoffMs and returns the
// number removed. Open intervals are never pruned.
func (l *EventLog) Prune(cutoffMs int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for appID, ivs := range l.intervals {
		n := 0
		for n < len(ivs) && !ivs[n].open && ivs[n].endMs < cutoffMs {
			n++
		}
		if n == 0 {
			continue
		}
		removed += n
		if n == len(ivs) {
			delete(l.intervals, appID)
			continue
		}
		l.intervals[appID] = append([]interval(nil), ivs[n:]...)
	}
	return removed
}

// Len returns the number of stored intervals across all apps
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, ivs := range l.intervals {
		n += len(ivs)
	}
	return n
}
