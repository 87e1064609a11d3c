package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goodtune/kscreen/internal/metrics"
	"github.com/goodtune/kscreen/internal/storage"
	"github.com/rs/zerolog"
)

// Clock provides the current time for retention
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Store keeps the heartbeat and device-status sequences. Each sequence is
// sorted ascending by timestamp and round-trips through the KV store as a
// JSON list. Appends are serialized; queries share a read lock.
// Subscribers run after the lock is released and may read the store.
type Store struct {
	kv       storage.KVStore
	clock    Clock
	location *time.Location
	logger   zerolog.Logger
	mu       sync.RWMutex

	subMu       sync.Mutex
	subscribers map[int]func(Kind)
	nextSubID   int
}

// NewStore creates a history store persisted in kv
func NewStore(kv storage.KVStore, logger zerolog.Logger) *Store {
	return &Store{
		kv:          kv,
		clock:       systemClock{},
		location:    time.Local,
		logger:      logger.With().Str("component", "history").Logger(),
		subscribers: make(map[int]func(Kind)),
	}
}

// SetClock sets the clock used for retention (for testing)
func (s *Store) SetClock(clock Clock) {
	s.clock = clock
}

// SetLocation sets the zone day labels are interpreted in
func (s *Store) SetLocation(loc *time.Location) {
	if loc != nil {
		s.location = loc
	}
}

// Append adds rec to the sequence of kind if its timestamp is strictly after
// the last stored one, then prunes expired records from the head. It
// reports whether rec was stored; rejected records are not an error.
func (s *Store) Append(ctx context.Context, kind Kind, rec Record) (bool, error) {
	key, err := kind.Key()
	if err != nil {
		return false, err
	}

	stored, err := s.append(ctx, kind, key, rec)
	if stored {
		s.notify(kind)
	}
	return stored, err
}

func (s *Store) append(ctx context.Context, kind Kind, key string, rec Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, err := s.load(ctx, key)
	if err != nil {
		return false, err
	}

	if n := len(seq); n > 0 && rec.Timestamp <= seq[n-1].Timestamp {
		metrics.HistoryRecordsTotal.WithLabelValues(string(kind), "dropped").Inc()
		s.logger.Debug().
			Str("kind", string(kind)).
			Int64("timestamp", rec.Timestamp).
			Int64("last_timestamp", seq[n-1].Timestamp).
			Msg("Dropped out-of-order history record")
		return false, nil
	}
	seq = append(seq, rec)

	cutoff := s.clock.Now().Add(-Retention).Unix()
	pruned := 0
	// sorted ascending, so stop at the first record inside retention
	for pruned < len(seq) && seq[pruned].Timestamp < cutoff {
		pruned++
	}
	seq = seq[pruned:]

	if err := storage.PutJSON(ctx, s.kv, key, seq); err != nil {
		metrics.HistoryRecordsTotal.WithLabelValues(string(kind), "error").Inc()
		return false, fmt.Errorf("persist %s history: %w", kind, err)
	}

	metrics.HistoryRecordsTotal.WithLabelValues(string(kind), "appended").Inc()
	if pruned > 0 {
		metrics.HistoryPrunedTotal.WithLabelValues(string(kind)).Add(float64(pruned))
		s.logger.Debug().
			Str("kind", string(kind)).
			Int("pruned", pruned).
			Msg("Pruned expired history records")
	}
	return true, nil
}

// Query returns the records of kind for the day labelled "YYYY-MM-DD".
// Heartbeats cover [day, next day); device status is padded to
// [previous day, next day). The stored sequence is never modified.
func (s *Store) Query(ctx context.Context, kind Kind, day string) ([]Record, error) {
	key, err := kind.Key()
	if err != nil {
		return nil, err
	}

	start, err := time.ParseInLocation(DayLayout, day, s.location)
	if err != nil {
		return nil, fmt.Errorf("invalid day %q: %w", day, err)
	}
	end := start.AddDate(0, 0, 1)
	if kind == KindDeviceStatus {
		start = start.AddDate(0, 0, -1)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	seq, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0)
	for _, rec := range seq {
		if rec.Timestamp >= start.Unix() && rec.Timestamp < end.Unix() {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Records returns the full sequence of kind
func (s *Store) Records(ctx context.Context, kind Kind) ([]Record, error) {
	key, err := kind.Key()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(ctx, key)
}

// Subscribe calls fn with the kind of every sequence this store appends to.
// The returned function removes fn again.
func (s *Store) Subscribe(fn func(Kind)) func() {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subscribers, id)
			s.subMu.Unlock()
		})
	}
}

// notify calls subscribers in subscription order; s.mu must not be held
func (s *Store) notify(kind Kind) {
	s.subMu.Lock()
	ids := make([]int, 0, len(s.subscribers))
	for id := range s.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Kind), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subscribers[id])
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(kind)
	}
}

// load reads a sequence; missing or corrupt blobs read as empty
func (s *Store) load(ctx context.Context, key string) ([]Record, error) {
	seq, err := storage.GetJSON[[]Record](ctx, s.kv, key)
	switch {
	case err == nil:
		return seq, nil
	case errors.Is(err, storage.ErrNotFound):
		return nil, nil
	case errors.Is(err, storage.ErrCorrupt):
		s.logger.Warn().Err(err).Str("key", key).Msg("Discarding corrupt history")
		return nil, nil
	default:
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
}
