package events

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// MemorySource is an in-memory Source. Events can be pushed while a poll loop
// is reading from it.
type MemorySource struct {
	mu     sync.RWMutex
	events []RawUsageEvent
	err    error
}

// NewMemorySource creates a source pre-loaded with events
func NewMemorySource(events ...RawUsageEvent) *MemorySource {
	s := &MemorySource{}
	s.Push(events...)
	return s
}

// Push adds events to the source
func (s *MemorySource) Push(events ...RawUsageEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
}

// FailWith makes subsequent queries return err. Pass nil to clear.
func (s *MemorySource) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// QueryEvents returns pushed events within [startMs, endMs) in push order
func (s *MemorySource) QueryEvents(ctx context.Context, startMs, endMs int64) ([]RawUsageEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return nil, s.err
	}
	return filterRange(s.events, startMs, endMs), nil
}

// FileSource replays events from a JSON-lines file, one RawUsageEvent per
// line. The file is re-read on every query so an external writer can append
// to it.
type FileSource struct {
	path   string
	logger zerolog.Logger
}

// NewFileSource creates a file-backed source
func NewFileSource(path string, logger zerolog.Logger) *FileSource {
	return &FileSource{
		path:   path,
		logger: logger.With().Str("component", "event-source").Logger(),
	}
}

// QueryEvents reads the file and returns events within [startMs, endMs)
// ordered by timestamp. A missing file yields no events.
func (s *FileSource) QueryEvents(ctx context.Context, startMs, endMs int64) ([]RawUsageEvent, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open event file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var all []RawUsageEvent
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev RawUsageEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			s.logger.Warn().Err(err).Int("line", line).Msg("Skipping malformed event line")
			continue
		}
		if ev.TimestampMs >= startMs && ev.TimestampMs < endMs {
			all = append(all, ev)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event file: %w", err)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].TimestampMs < all[j].TimestampMs
	})
	return all, nil
}

func filterRange(events []RawUsageEvent, startMs, endMs int64) []RawUsageEvent {
	out := make([]RawUsageEvent, 0)
	for _, ev := range events {
		if ev.TimestampMs >= startMs && ev.TimestampMs < endMs {
			out = append(out, ev)
		}
	}
	return out
}
