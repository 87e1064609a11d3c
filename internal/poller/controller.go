package poller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goodtune/kscreen/internal/events"
	"github.com/goodtune/kscreen/internal/history"
	"github.com/goodtune/kscreen/internal/metrics"
	"github.com/goodtune/kscreen/internal/policy"
	"github.com/goodtune/kscreen/internal/usage"
	"github.com/rs/zerolog"
)

// Defaults for Config fields left at zero
const (
	DefaultPollInterval = 300 * time.Millisecond
	DefaultInitialDelay = time.Second
	DefaultLookback     = 24 * time.Hour
)

// Presenter shows and hides the blocking overlay
type Presenter interface {
	ShowOverlay(ctx context.Context, message string) error
	HideOverlay(ctx context.Context) error
}

// Config holds poll loop settings
type Config struct {
	PollInterval time.Duration
	InitialDelay time.Duration
	WindowWidth  time.Duration
	Lookback     time.Duration // initial watermark is now minus lookback
}

// TickResult summarizes one poll cycle
type TickResult struct {
	Consumed  int    // events fed to the tracker
	Dropped   int    // events discarded before tracking
	Windows   int    // replay windows visited
	Current   string // foreground app at the end of the last window
	Watermark int64
	Decision  *policy.Decision // nil when nothing was dispatched
}

// Controller runs the poll cycle: pull events past the watermark, replay
// them through the session tracker in fixed windows, then evaluate the
// foreground app and dispatch the decision. Ticks are serialized.
type Controller struct {
	cfg       Config
	clock     policy.Clock
	source    events.Source
	tracker   *usage.Tracker
	engine    *policy.Engine
	history   *history.Store
	presenter Presenter
	logger    zerolog.Logger

	watermark      atomic.Int64
	overlayVisible bool
	onTick         func(TickResult, error)
	mu             sync.Mutex
}

// NewController creates a poll controller. The watermark starts at
// now minus cfg.Lookback.
func NewController(cfg Config, source events.Source, tracker *usage.Tracker, engine *policy.Engine, presenter Presenter, logger zerolog.Logger) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}
	if cfg.WindowWidth <= 0 {
		cfg.WindowWidth = time.Duration(events.DefaultWindowWidthMs) * time.Millisecond
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}

	c := &Controller{
		cfg:       cfg,
		clock:     policy.RealClock{},
		source:    source,
		tracker:   tracker,
		engine:    engine,
		presenter: presenter,
		logger:    logger.With().Str("component", "poller").Logger(),
	}
	c.watermark.Store(c.clock.Now().Add(-cfg.Lookback).UnixMilli())
	return c
}

// SetClock sets the clock used for ticks (for testing)
func (c *Controller) SetClock(clock policy.Clock) {
	c.clock = clock
}

// SetHistory enables device-status recording for screen events
func (c *Controller) SetHistory(store *history.Store) {
	c.history = store
}

// SetWatermark moves the watermark to ms
func (c *Controller) SetWatermark(ms int64) {
	c.watermark.Store(ms)
	metrics.Watermark.Set(float64(ms))
}

// OnTick registers fn to be called by Run after every tick
func (c *Controller) OnTick(fn func(TickResult, error)) {
	c.onTick = fn
}

// Watermark returns the timestamp of the last consumed event
func (c *Controller) Watermark() int64 {
	return c.watermark.Load()
}

// OverlayVisible reports whether the last dispatched decision left the
// overlay on screen
func (c *Controller) OverlayVisible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overlayVisible
}

// Tick runs one poll cycle. Failures reaching the source, the history store
// or the presenter are returned joined; tracker state and the watermark are
// kept regardless.
func (c *Controller) Tick(ctx context.Context) (TickResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	started := time.Now()
	defer func() {
		metrics.PollTicksTotal.Inc()
		metrics.PollTickDuration.Observe(time.Since(started).Seconds())
	}()

	now := c.clock.Now()
	nowMs := now.UnixMilli()
	watermark := c.watermark.Load()
	startMs := watermark + 1

	result := TickResult{Current: usage.NoApp, Watermark: watermark}
	if startMs >= nowMs {
		return result, nil
	}

	raw, err := c.source.QueryEvents(ctx, startMs, nowMs)
	if err != nil {
		metrics.PollErrorsTotal.WithLabelValues("source").Inc()
		return result, fmt.Errorf("query events: %w", err)
	}

	evs := make([]events.RawUsageEvent, 0, len(raw))
	for _, ev := range raw {
		switch {
		case !ev.Kind.Relevant():
			metrics.UsageEventsDropped.WithLabelValues("irrelevant").Inc()
			result.Dropped++
		case ev.TimestampMs <= watermark:
			metrics.UsageEventsDropped.WithLabelValues("stale").Inc()
			result.Dropped++
		default:
			evs = append(evs, ev)
		}
	}
	sort.SliceStable(evs, func(i, j int) bool {
		return evs[i].TimestampMs < evs[j].TimestampMs
	})

	var screen []events.RawUsageEvent
	current := usage.NoApp
	result.Windows = events.Walk(evs, startMs, nowMs, c.cfg.WindowWidth.Milliseconds(), func(w events.Window) {
		current = c.tracker.ProcessWindow(w)
		for _, ev := range w.Events {
			watermark = ev.TimestampMs
			result.Consumed++
			metrics.UsageEventsTotal.WithLabelValues(string(ev.Kind)).Inc()
			if ev.Kind == events.KindScreenOn || ev.Kind == events.KindScreenOff {
				screen = append(screen, ev)
			}
		}
	})

	c.watermark.Store(watermark)
	metrics.Watermark.Set(float64(watermark))
	metrics.PollWindowsTotal.Add(float64(result.Windows))
	result.Watermark = watermark
	result.Current = current

	var errs []error
	if err := c.recordScreenEvents(ctx, screen); err != nil {
		metrics.PollErrorsTotal.WithLabelValues("history").Inc()
		errs = append(errs, err)
	}

	decision, err := c.dispatch(ctx, current, now)
	if err != nil {
		metrics.PollErrorsTotal.WithLabelValues("presenter").Inc()
		errs = append(errs, err)
	}
	result.Decision = decision

	return result, errors.Join(errs...)
}

// dispatch evaluates app and drives the presenter. With no app in the
// foreground nothing is evaluated; a visible overlay is cleared.
func (c *Controller) dispatch(ctx context.Context, app string, now time.Time) (*policy.Decision, error) {
	if app == usage.NoApp {
		if !c.overlayVisible {
			return nil, nil
		}
		decision := policy.Decision{Action: policy.ActionHideModal, Reason: policy.ReasonNoForeground}
		return &decision, c.hide(ctx)
	}

	decision := c.engine.Check(app, c.tracker, now)

	var err error
	switch decision.Action {
	case policy.ActionShowModal:
		if err = c.presenter.ShowOverlay(ctx, decision.Message); err == nil {
			if !c.overlayVisible {
				c.logger.Info().
					Str("app_id", app).
					Str("reason", string(decision.Reason)).
					Str("message", decision.Message).
					Msg("Overlay shown")
			}
			c.overlayVisible = true
		} else {
			err = fmt.Errorf("show overlay: %w", err)
		}
	case policy.ActionHideModal:
		err = c.hide(ctx)
	default:
		if c.overlayVisible {
			err = c.hide(ctx)
		}
	}
	return &decision, err
}

func (c *Controller) hide(ctx context.Context) error {
	if err := c.presenter.HideOverlay(ctx); err != nil {
		return fmt.Errorf("hide overlay: %w", err)
	}
	if c.overlayVisible {
		c.logger.Info().Msg("Overlay hidden")
	}
	c.overlayVisible = false
	return nil
}

// recordScreenEvents appends a device-status record per screen event
func (c *Controller) recordScreenEvents(ctx context.Context, screen []events.RawUsageEvent) error {
	if c.history == nil || len(screen) == 0 {
		return nil
	}

	var errs []error
	for _, ev := range screen {
		rec, err := history.NewRecord(time.UnixMilli(ev.TimestampMs), history.DeviceStatusPayload{
			ScreenOn: ev.Kind == events.KindScreenOn,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := c.history.Append(ctx, history.KindDeviceStatus, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run waits for the initial delay and then ticks every poll interval until
// ctx is cancelled. Tick errors are logged and the loop keeps going.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info().
		Dur("poll_interval", c.cfg.PollInterval).
		Dur("initial_delay", c.cfg.InitialDelay).
		Dur("window_width", c.cfg.WindowWidth).
		Int64("watermark", c.Watermark()).
		Msg("Starting poll loop")

	select {
	case <-ctx.Done():
		return nil
	case <-time.After(c.cfg.InitialDelay):
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	c.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Poll loop stopped")
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			c.runTick(ctx)
		}
	}
}

func (c *Controller) runTick(ctx context.Context) {
	result, err := c.Tick(ctx)
	if err != nil {
		c.logger.Error().Err(err).Int64("watermark", result.Watermark).Msg("Poll tick failed")
	}
	if c.onTick != nil {
		c.onTick(result, err)
	}
}
