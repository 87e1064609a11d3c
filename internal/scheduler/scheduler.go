package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/kscreen/internal/history"
	"github.com/goodtune/kscreen/internal/policy"
	"github.com/goodtune/kscreen/internal/usage"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Defaults for Config fields left at zero
const (
	DefaultHeartbeatInterval = time.Minute
	DefaultPruneInterval     = time.Hour
	DefaultEventRetention    = 48 * time.Hour
)

// WatermarkSource reports the poll loop watermark
type WatermarkSource interface {
	Watermark() int64
}

// Config holds job intervals
type Config struct {
	HeartbeatInterval time.Duration
	PruneInterval     time.Duration
	EventRetention    time.Duration // closed event log intervals older than this are pruned
}

// Scheduler runs the periodic housekeeping jobs: heartbeat snapshots into
// the history store and event log pruning.
type Scheduler struct {
	cfg       Config
	cron      *cron.Cron
	tracker   *usage.Tracker
	history   *history.Store
	watermark WatermarkSource
	clock     policy.Clock
	logger    zerolog.Logger
	mu        sync.Mutex
	running   bool
}

// NewScheduler creates a scheduler. watermark may be nil.
func NewScheduler(cfg Config, tracker *usage.Tracker, store *history.Store, watermark WatermarkSource, logger zerolog.Logger) *Scheduler {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = DefaultPruneInterval
	}
	if cfg.EventRetention <= 0 {
		cfg.EventRetention = DefaultEventRetention
	}

	logger = logger.With().Str("component", "scheduler").Logger()
	cl := cronLogger{logger: logger}

	return &Scheduler{
		cfg:       cfg,
		cron:      cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		tracker:   tracker,
		history:   store,
		watermark: watermark,
		clock:     policy.RealClock{},
		logger:    logger,
	}
}

// SetClock sets the clock used by jobs (for testing)
func (s *Scheduler) SetClock(clock policy.Clock) {
	s.clock = clock
}

// Start registers the jobs and starts the cron runner
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if _, err := s.cron.AddFunc(every(s.cfg.HeartbeatInterval), s.runHeartbeat); err != nil {
		return fmt.Errorf("failed to add heartbeat job: %w", err)
	}
	if _, err := s.cron.AddFunc(every(s.cfg.PruneInterval), s.runPrune); err != nil {
		return fmt.Errorf("failed to add prune job: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Dur("heartbeat_interval", s.cfg.HeartbeatInterval).
		Dur("prune_interval", s.cfg.PruneInterval).
		Dur("event_retention", s.cfg.EventRetention).
		Msg("Scheduler started")
	return nil
}

// Stop stops the cron runner and waits for running jobs
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info().Msg("Scheduler stopped")
}

// IsRunning reports whether the cron runner is active
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

func (s *Scheduler) runHeartbeat() {
	if _, err := s.Heartbeat(context.Background()); err != nil {
		s.logger.Error().Err(err).Msg("Heartbeat failed")
	}
}

func (s *Scheduler) runPrune() {
	s.PruneEventLog()
}

// Heartbeat appends a status snapshot to the history store and reports
// whether it was stored
func (s *Scheduler) Heartbeat(ctx context.Context) (bool, error) {
	payload := history.HeartbeatPayload{
		ForegroundApp: s.tracker.Current(),
		OpenSessions:  len(s.tracker.Sessions()),
	}
	if s.watermark != nil {
		payload.WatermarkMs = s.watermark.Watermark()
	}

	rec, err := history.NewRecord(s.clock.Now(), payload)
	if err != nil {
		return false, err
	}

	stored, err := s.history.Append(ctx, history.KindHeartbeat, rec)
	if err != nil {
		return false, fmt.Errorf("append heartbeat: %w", err)
	}

	s.logger.Debug().
		Str("foreground_app", payload.ForegroundApp).
		Int("open_sessions", payload.OpenSessions).
		Bool("stored", stored).
		Msg("Heartbeat recorded")
	return stored, nil
}

// PruneEventLog drops event log intervals that closed before the retention
// cutoff and returns how many were removed
func (s *Scheduler) PruneEventLog() int {
	cutoff := s.clock.Now().Add(-s.cfg.EventRetention)
	removed := s.tracker.EventLog().Prune(cutoff.UnixMilli())

	if removed > 0 {
		s.logger.Info().
			Int("removed", removed).
			Time("cutoff", cutoff).
			Msg("Pruned event log")
	}
	return removed
}

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
