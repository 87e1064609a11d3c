package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/goodtune/kscreen/internal/storage"
	"github.com/rs/zerolog"
)

// rulesFile is the TOML layout: one [[rule]] table per app
type rulesFile struct {
	Rules []Rule `toml:"rule"`
}

// LoadRulesFile reads rules from a .toml file ([[rule]] tables) or a .json
// file (a list in the persisted format).
func LoadRulesFile(path string) ([]Rule, error) {
	var rules []Rule

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		var file rulesFile
		md, err := toml.DecodeFile(path, &file)
		if err != nil {
			return nil, fmt.Errorf("failed to decode rules: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, key := range undecoded {
				keys = append(keys, key.String())
			}
			return nil, fmt.Errorf("unknown rule keys: %s", strings.Join(keys, ", "))
		}
		rules = file.Rules

	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read rules: %w", err)
		}
		if err := json.Unmarshal(data, &rules); err != nil {
			return nil, fmt.Errorf("failed to decode rules: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported rules file %s (want .toml or .json)", path)
	}

	if err := validateRules(rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func validateRules(rules []Rule) error {
	seen := make(map[string]bool, len(rules))
	for i, rule := range rules {
		if rule.App == "" {
			return fmt.Errorf("rule %d: app is required", i)
		}
		if seen[rule.App] {
			return fmt.Errorf("rule %d: duplicate app %s", i, rule.App)
		}
		seen[rule.App] = true
	}
	return nil
}

// RuleRepository persists the rule snapshot under storage.KeyRules
type RuleRepository struct {
	store  storage.KVStore
	logger zerolog.Logger
}

// NewRuleRepository creates a repository backed by store
func NewRuleRepository(store storage.KVStore, logger zerolog.Logger) *RuleRepository {
	return &RuleRepository{
		store:  store,
		logger: logger.With().Str("component", "rule-repository").Logger(),
	}
}

// Load returns the persisted rules. A missing or corrupt blob reads as no rules.
func (r *RuleRepository) Load(ctx context.Context) ([]Rule, error) {
	rules, err := storage.GetJSON[[]Rule](ctx, r.store, storage.KeyRules)
	switch {
	case err == nil:
		return rules, nil
	case errors.Is(err, storage.ErrNotFound):
		return nil, nil
	case errors.Is(err, storage.ErrCorrupt):
		r.logger.Warn().Err(err).Msg("Discarding corrupt persisted rules")
		return nil, nil
	default:
		return nil, fmt.Errorf("load rules: %w", err)
	}
}

// Save persists rules
func (r *RuleRepository) Save(ctx context.Context, rules []Rule) error {
	if rules == nil {
		rules = []Rule{}
	}
	if err := storage.PutJSON(ctx, r.store, storage.KeyRules, rules); err != nil {
		return fmt.Errorf("save rules: %w", err)
	}
	return nil
}

// Reload installs rules into engine. With a rules file the file wins and is
// persisted; without one the persisted rules are used.
func (r *RuleRepository) Reload(ctx context.Context, engine *Engine, rulesFile string) error {
	if rulesFile == "" {
		rules, err := r.Load(ctx)
		if err != nil {
			return err
		}
		engine.SetRuleList(rules)
		return nil
	}

	rules, err := LoadRulesFile(rulesFile)
	if err != nil {
		return err
	}
	engine.SetRuleList(rules)

	r.logger.Info().
		Str("rules_file", rulesFile).
		Int("rules", len(rules)).
		Msg("Loaded rules file")

	return r.Save(ctx, rules)
}

// Watch reloads engine from the store whenever the rules key is written
// through observed. The returned function stops watching.
func (r *RuleRepository) Watch(observed *storage.Observed, engine *Engine) func() {
	return observed.Subscribe(func(key string) {
		if key != storage.KeyRules {
			return
		}
		rules, err := r.Load(context.Background())
		if err != nil {
			r.logger.Error().Err(err).Msg("Failed to reload persisted rules")
			return
		}
		engine.SetRuleList(rules)
	})
}
