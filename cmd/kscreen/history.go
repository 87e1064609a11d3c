package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/kscreen/internal/config"
	"github.com/goodtune/kscreen/internal/history"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var historyDay string

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query recorded history",
	Long:  `Print heartbeat or device status records stored for a calendar day.`,
}

var historyHeartbeatsCmd = &cobra.Command{
	Use:     "heartbeats",
	Short:   "Print heartbeats for a day",
	Example: `  kscreen history heartbeats --day 2024-01-10`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHistory(cmd, history.KindHeartbeat)
	},
}

var historyDeviceStatusCmd = &cobra.Command{
	Use:   "device-status",
	Short: "Print device status changes for a day",
	Long: `Print screen on/off records for a day. The previous day is included so
the state at the start of the day is known.`,
	Example: `  kscreen history device-status --day 2024-01-10`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHistory(cmd, history.KindDeviceStatus)
	},
}

func init() {
	historyCmd.PersistentFlags().StringVar(&historyDay, "day", "", "Day to query (YYYY-MM-DD), defaults to today")

	historyCmd.AddCommand(historyHeartbeatsCmd)
	historyCmd.AddCommand(historyDeviceStatusCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, kind history.Kind) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	location, err := cfg.Policy.LoadLocation()
	if err != nil {
		return err
	}

	day := historyDay
	if day == "" {
		day = time.Now().In(location).Format(history.DayLayout)
	}

	kv, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = kv.Close() }()

	store := history.NewStore(kv, logger)
	store.SetLocation(location)

	records, err := store.Query(cmd.Context(), kind, day)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan, color.Bold)
	_, _ = cyan.Printf("%s records for %s: %d\n", kind, day, len(records))
	for _, rec := range records {
		fmt.Printf("  %s  %s\n", rec.Time().In(location).Format("2006-01-02 15:04:05"), string(rec.Payload))
	}
	return nil
}
