package events

// DefaultWindowWidthMs is the default replay window width
const DefaultWindowWidthMs int64 = 300

// Window is the half-open interval [StartMs, EndMs) together with the events
// that fall inside it.
type Window struct {
	StartMs int64
	EndMs   int64
	Events  []RawUsageEvent
}

// Contains reports whether ts falls inside the window.
func (w Window) Contains(ts int64) bool {
	return ts >= w.StartMs && ts < w.EndMs
}

// Walk partitions time-ordered events into consecutive windows of widthMs
// covering [startMs, endMs) and calls fn for each window in order. Empty
// windows are included so that gaps replay in order. Events before startMs
// are skipped and events at or after endMs are ignored. The last window is
// clipped to endMs. Walk returns the number of windows visited.
func Walk(events []RawUsageEvent, startMs, endMs, widthMs int64, fn func(Window)) int {
	if widthMs <= 0 {
		widthMs = DefaultWindowWidthMs
	}

	count := 0
	idx := 0
	for chunkStart := startMs; chunkStart < endMs; chunkStart += widthMs {
		w := Window{StartMs: chunkStart, EndMs: min(chunkStart+widthMs, endMs)}
		begin, stop := -1, -1
		for idx < len(events) && events[idx].TimestampMs < w.EndMs {
			ts := events[idx].TimestampMs
			if ts >= w.StartMs {
				if begin < 0 {
					begin = idx
				}
				stop = idx + 1
			}
			idx++
		}
		if begin >= 0 {
			w.Events = events[begin:stop]
		}
		fn(w)
		count++
	}
	return count
}

// Split is Walk collected into a slice.
func Split(events []RawUsageEvent, startMs, endMs, widthMs int64) []Window {
	var windows []Window
	Walk(events, startMs, endMs, widthMs, func(w Window) {
		windows = append(windows, w)
	})
	return windows
}
