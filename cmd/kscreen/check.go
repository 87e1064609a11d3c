package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/kscreen/internal/config"
	"github.com/goodtune/kscreen/internal/policy"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	checkApp     string
	checkHourly  time.Duration
	checkDaily   time.Duration
	checkSession time.Duration
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check rule decisions interactively",
	Long:  `Check what decision kscreen would make for given usage figures.`,
}

var checkRuleCmd = &cobra.Command{
	Use:   "rule",
	Short: "Evaluate the rule of an app",
	Long: `Evaluate the configured rule of an app against the given hourly, daily and
session usage. Rules come from policy.rules_file when set, otherwise from storage.`,
	Example: `  kscreen -c config.yaml check rule --app com.example.game --hourly 50m --daily 2h
  kscreen check rule --app com.example.video --session 5s`,
	Args: cobra.NoArgs,
	RunE: runCheckRule,
}

func init() {
	checkRuleCmd.Flags().StringVar(&checkApp, "app", "", "App identifier (required)")
	checkRuleCmd.Flags().DurationVar(&checkHourly, "hourly", 0, "Usage in the current hour")
	checkRuleCmd.Flags().DurationVar(&checkDaily, "daily", 0, "Usage since the daily reset")
	checkRuleCmd.Flags().DurationVar(&checkSession, "session", 0, "Length of the current session")
	_ = checkRuleCmd.MarkFlagRequired("app")

	checkCmd.AddCommand(checkRuleCmd)
	rootCmd.AddCommand(checkCmd)
}

func runCheckRule(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Create a quiet logger for check mode
	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	rules, err := loadRules(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}

	usage := policy.Usage{
		SessionTimeMs:  checkSession.Milliseconds(),
		HourlyUsageSec: int64(checkHourly.Seconds()),
		DailyUsageSec:  int64(checkDaily.Seconds()),
	}
	startupDelay := config.ParseDuration(cfg.Policy.StartupDelay, policy.DefaultStartupDelay)

	var rule *policy.Rule
	if r, ok := policy.RuleMap(rules)[checkApp]; ok {
		rule = &r
	}
	decision := policy.Evaluate(checkApp, rule, usage, startupDelay.Milliseconds())

	location, err := cfg.Policy.LoadLocation()
	if err != nil {
		return err
	}
	printRuleResult(rule, usage, decision, time.Now().In(location))
	return nil
}

// loadRules returns the rules file contents, or the persisted rules when no
// file is configured
func loadRules(ctx context.Context, cfg *config.Config, logger zerolog.Logger) ([]policy.Rule, error) {
	if cfg.Policy.RulesFile != "" {
		rules, err := policy.LoadRulesFile(cfg.Policy.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load rules file: %w", err)
		}
		return rules, nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	kv, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = kv.Close() }()

	return policy.NewRuleRepository(kv, logger).Load(ctx)
}

// printRuleResult prints the rule check result with colors
func printRuleResult(rule *policy.Rule, usage policy.Usage, decision policy.Decision, now time.Time) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)

	fmt.Println()
	_, _ = cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	_, _ = cyan.Println("SCREEN TIME RULE CHECK")
	_, _ = cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("App:        %s\n", decision.App)
	fmt.Printf("Hourly:     %s\n", policy.FormatDuration(int(usage.HourlyUsageSec)))
	fmt.Printf("Daily:      %s\n", policy.FormatDuration(int(usage.DailyUsageSec)))
	fmt.Printf("Session:    %s\n", policy.FormatDuration(int(usage.SessionTimeMs/1000)))

	if rule == nil {
		_, _ = yellow.Println("Rule:       (none)")
	} else {
		fmt.Printf("Rule:       active=%v\n", rule.Active)
		printLimit("hourly", rule.HourlyMaxSeconds, rule.HourlyEnforced)
		printLimit("daily", rule.DailyMaxSeconds, rule.DailyEnforced)
		printLimit("session", rule.SessionMaxSeconds, rule.SessionEnforced)

		reset, err := policy.ParseTimeOfDay(rule.DailyReset)
		if rule.DailyReset == "" || err != nil {
			reset = policy.Midnight
		}
		fmt.Printf("Day Since:  %s (reset %s)\n", policy.DailyWindowStart(now, reset).Format("2006-01-02 15:04:05"), reset)
	}
	fmt.Println()

	_, _ = cyan.Print("Decision:   ")
	switch decision.Action {
	case policy.ActionShowModal:
		_, _ = red.Println("SHOW_MODAL")
		fmt.Printf("            → %s\n", decision.Message)
	case policy.ActionHideModal:
		_, _ = green.Println("HIDE_MODAL")
		fmt.Println("            → Overlay will be removed")
	case policy.ActionAllow:
		_, _ = green.Println("ALLOW")
		fmt.Println("            → Nothing is dispatched")
	default:
		fmt.Printf("%s\n", decision.Action)
	}
	fmt.Printf("Reason:     %s\n", decision.Reason)

	fmt.Println()
	_, _ = cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}

func printLimit(name string, limit *int, enforced bool) {
	if limit == nil {
		fmt.Printf("  %-8s  (no limit)\n", name)
		return
	}
	fmt.Printf("  %-8s  %s enforced=%v\n", name, policy.FormatDuration(*limit), enforced)
}
