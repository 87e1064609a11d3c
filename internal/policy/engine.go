package policy

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/goodtune/kscreen/internal/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// DefaultStartupDelay is the startup delay window applied to rules with the
// startup delay enabled
const DefaultStartupDelay = 10 * time.Second

const resetCacheSize = 256

// UsageReader supplies the session and screentime figures for an app
type UsageReader interface {
	SessionTimeMs(appID string) int64
	ScreentimeMs(appID string, startMs, endMs int64) int64
}

// Config holds engine settings
type Config struct {
	StartupDelay time.Duration
	Location     *time.Location // zone for hourly and daily windows, time.Local if nil
}

// Engine evaluates the active rule snapshot. The snapshot is replaced
// wholesale by SetRules and read without locks.
type Engine struct {
	rules        atomic.Pointer[map[string]Rule]
	startupDelay time.Duration
	location     *time.Location
	resets       *lru.Cache[string, TimeOfDay]
	logger       zerolog.Logger
}

// NewEngine creates an engine with an empty rule snapshot
func NewEngine(cfg Config, logger zerolog.Logger) (*Engine, error) {
	resets, err := lru.New[string, TimeOfDay](resetCacheSize)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		startupDelay: cfg.StartupDelay,
		location:     cfg.Location,
		resets:       resets,
		logger:       logger.With().Str("component", "rule-engine").Logger(),
	}
	if e.startupDelay <= 0 {
		e.startupDelay = DefaultStartupDelay
	}
	if e.location == nil {
		e.location = time.Local
	}

	empty := map[string]Rule{}
	e.rules.Store(&empty)
	return e, nil
}

// SetRules replaces the whole rule snapshot. The map is copied; rules with
// an empty App take their key.
func (e *Engine) SetRules(rules map[string]Rule) {
	snapshot := make(map[string]Rule, len(rules))
	for appID, rule := range rules {
		if rule.App == "" {
			rule.App = appID
		}
		snapshot[appID] = rule
	}
	e.rules.Store(&snapshot)

	metrics.RuleSetSize.Set(float64(len(snapshot)))
	e.logger.Info().Int("rules", len(snapshot)).Msg("Rule snapshot replaced")
}

// SetRuleList replaces the snapshot with rules keyed by their App
func (e *Engine) SetRuleList(rules []Rule) {
	e.SetRules(RuleMap(rules))
}

// Rule returns the rule for appID from the current snapshot
func (e *Engine) Rule(appID string) (Rule, bool) {
	rule, ok := (*e.rules.Load())[appID]
	return rule, ok
}

// Rules returns the current snapshot ordered by app
func (e *Engine) Rules() []Rule {
	snapshot := *e.rules.Load()
	out := make([]Rule, 0, len(snapshot))
	for _, rule := range snapshot {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].App < out[j].App })
	return out
}

// StartupDelay returns the configured startup delay window
func (e *Engine) StartupDelay() time.Duration {
	return e.startupDelay
}

// Check gathers the usage figures of appID at now and evaluates its rule.
func (e *Engine) Check(appID string, usage UsageReader, now time.Time) Decision {
	now = now.In(e.location)

	rule, ok := e.Rule(appID)
	var decision Decision
	if !ok {
		decision = Evaluate(appID, nil, Usage{}, e.startupDelay.Milliseconds())
	} else {
		decision = Evaluate(appID, &rule, e.usageFor(appID, rule, usage, now), e.startupDelay.Milliseconds())
	}

	metrics.DecisionsTotal.WithLabelValues(string(decision.Action), string(decision.Reason)).Inc()
	return decision
}

// UsageFor returns the figures Check would evaluate the rule of appID against
func (e *Engine) UsageFor(appID string, usage UsageReader, now time.Time) Usage {
	rule, _ := e.Rule(appID)
	return e.usageFor(appID, rule, usage, now.In(e.location))
}

func (e *Engine) usageFor(appID string, rule Rule, usage UsageReader, now time.Time) Usage {
	nowMs := now.UnixMilli()
	hourlyStart := HourlyWindowStart(now).UnixMilli()
	dailyStart := DailyWindowStart(now, e.resetTime(rule)).UnixMilli()

	return Usage{
		SessionTimeMs:  usage.SessionTimeMs(appID),
		HourlyUsageSec: usage.ScreentimeMs(appID, hourlyStart, nowMs) / 1000,
		DailyUsageSec:  usage.ScreentimeMs(appID, dailyStart, nowMs) / 1000,
	}
}

// resetTime parses the daily reset of rule, falling back to midnight
func (e *Engine) resetTime(rule Rule) TimeOfDay {
	if rule.DailyReset == "" {
		return Midnight
	}
	if reset, ok := e.resets.Get(rule.DailyReset); ok {
		return reset
	}

	reset, err := ParseTimeOfDay(rule.DailyReset)
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("app_id", rule.App).
			Msg("Invalid daily reset, using midnight")
	}
	e.resets.Add(rule.DailyReset, reset)
	return reset
}

// RuleMap keys rules by app. Later duplicates win.
func RuleMap(rules []Rule) map[string]Rule {
	out := make(map[string]Rule, len(rules))
	for _, rule := range rules {
		out[rule.App] = rule
	}
	return out
}
