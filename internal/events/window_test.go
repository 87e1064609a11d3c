package events

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestSplit(t *testing.T) {
	evs := []RawUsageEvent{
		{AppID: "app1", Kind: KindForegroundResumed, TimestampMs: 750},
		{AppID: "app1", Kind: KindForegroundPaused, TimestampMs: 1320},
		{AppID: "app2", Kind: KindForegroundResumed, TimestampMs: 1999},
	}

	tests := []struct {
		name        string
		start, end  int64
		width       int64
		wantWindows int
		wantCounts  []int
	}{
		{"single window", 700, 1000, 300, 1, []int{1}},
		{"gap windows kept", 700, 1900, 300, 4, []int{1, 0, 1, 0}},
		{"event at end excluded", 700, 1999, 300, 5, []int{1, 0, 1, 0, 0}},
		{"partial last window", 700, 2000, 300, 5, []int{1, 0, 1, 0, 1}},
		{"empty range", 1000, 1000, 300, 0, nil},
		{"default width", 700, 1000, 0, 1, []int{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			windows := Split(evs, tt.start, tt.end, tt.width)
			if len(windows) != tt.wantWindows {
				t.Fatalf("Split() windows = %d, want %d", len(windows), tt.wantWindows)
			}
			if len(windows) > 0 && windows[len(windows)-1].EndMs != tt.end {
				t.Errorf("last window ends at %d, want %d", windows[len(windows)-1].EndMs, tt.end)
			}
			for i, w := range windows {
				if len(w.Events) != tt.wantCounts[i] {
					t.Errorf("window %d [%d,%d) events = %d, want %d", i, w.StartMs, w.EndMs, len(w.Events), tt.wantCounts[i])
				}
				for _, ev := range w.Events {
					if !w.Contains(ev.TimestampMs) {
						t.Errorf("window %d [%d,%d) holds event at %d", i, w.StartMs, w.EndMs, ev.TimestampMs)
					}
				}
			}
		})
	}
}

func TestSplitSkipsEventsBeforeStart(t *testing.T) {
	evs := []RawUsageEvent{
		{AppID: "old", Kind: KindForegroundResumed, TimestampMs: 100},
		{AppID: "new", Kind: KindForegroundResumed, TimestampMs: 800},
	}
	windows := Split(evs, 700, 1000, 300)
	if len(windows) != 1 || len(windows[0].Events) != 1 {
		t.Fatalf("expected one window with one event, got %+v", windows)
	}
	if windows[0].Events[0].AppID != "new" {
		t.Errorf("expected event for new, got %s", windows[0].Events[0].AppID)
	}
}

func TestWalkCountsWindows(t *testing.T) {
	visited := 0
	n := Walk(nil, 0, 3000, 300, func(w Window) {
		if len(w.Events) != 0 {
			t.Errorf("expected empty window, got %d events", len(w.Events))
		}
		visited++
	})
	if n != 10 || visited != 10 {
		t.Fatalf("expected 10 windows, got n=%d visited=%d", n, visited)
	}
}

func TestKindJSON(t *testing.T) {
	var ev RawUsageEvent
	if err := json.Unmarshal([]byte(`{"app_id":"a","kind":"foreground_resumed","timestamp_ms":5}`), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Kind != KindForegroundResumed {
		t.Errorf("expected %s, got %s", KindForegroundResumed, ev.Kind)
	}
	if !ev.Kind.Relevant() {
		t.Error("expected resumed to be relevant")
	}
	if Kind("CONFIGURATION_CHANGE").Relevant() {
		t.Error("expected unknown kind to be irrelevant")
	}
	if !KindScreenOff.Terminal() || KindScreenOn.Terminal() {
		t.Error("unexpected terminal classification for screen kinds")
	}
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	content := `{"app_id":"b","kind":"FOREGROUND_RESUMED","timestamp_ms":900}
not json
{"app_id":"a","kind":"FOREGROUND_RESUMED","timestamp_ms":750}

{"app_id":"a","kind":"FOREGROUND_PAUSED","timestamp_ms":1200}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write events: %v", err)
	}

	src := NewFileSource(path, zerolog.Nop())
	evs, err := src.QueryEvents(context.Background(), 700, 1000)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].TimestampMs != 750 || evs[1].TimestampMs != 900 {
		t.Errorf("expected events ordered by timestamp, got %d, %d", evs[0].TimestampMs, evs[1].TimestampMs)
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "missing.jsonl"), zerolog.Nop())
	evs, err := src.QueryEvents(context.Background(), 0, 1000)
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if len(evs) != 0 {
		t.Fatalf("expected no events, got %d", len(evs))
	}
}
