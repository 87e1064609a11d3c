package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/goodtune/kscreen/internal/account"
	"github.com/goodtune/kscreen/internal/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	userID       string
	userName     string
	userEmail    string
	userDeviceID string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage the linked user",
}

var userShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the linked user",
	Args:  cobra.NoArgs,
	RunE:  runUserShow,
}

var userLinkCmd = &cobra.Command{
	Use:     "link",
	Short:   "Link the device to a user",
	Example: `  kscreen user link --id u-42 --name Sam --device tablet-1`,
	Args:    cobra.NoArgs,
	RunE:    runUserLink,
}

var userUnlinkCmd = &cobra.Command{
	Use:   "unlink",
	Short: "Remove the linked user",
	Args:  cobra.NoArgs,
	RunE:  runUserUnlink,
}

func init() {
	userLinkCmd.Flags().StringVar(&userID, "id", "", "User ID (required)")
	userLinkCmd.Flags().StringVar(&userName, "name", "", "Display name")
	userLinkCmd.Flags().StringVar(&userEmail, "email", "", "Email address")
	userLinkCmd.Flags().StringVar(&userDeviceID, "device", "", "Device identifier")
	_ = userLinkCmd.MarkFlagRequired("id")

	userCmd.AddCommand(userShowCmd)
	userCmd.AddCommand(userLinkCmd)
	userCmd.AddCommand(userUnlinkCmd)
	rootCmd.AddCommand(userCmd)
}

// withAccounts opens storage and passes an account store to fn
func withAccounts(fn func(*account.Store) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	kv, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = kv.Close() }()

	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()
	return fn(account.NewStore(kv, logger))
}

func runUserShow(cmd *cobra.Command, args []string) error {
	return withAccounts(func(store *account.Store) error {
		user, err := store.Get(cmd.Context())
		if err != nil {
			return err
		}
		if user == nil {
			_, _ = color.New(color.FgYellow).Println("No user linked")
			return nil
		}
		fmt.Printf("ID:        %s\n", user.ID)
		fmt.Printf("Name:      %s\n", user.Name)
		fmt.Printf("Email:     %s\n", user.Email)
		fmt.Printf("Device:    %s\n", user.DeviceID)
		fmt.Printf("Linked At: %s\n", user.LinkedAt.Local().Format("2006-01-02 15:04:05"))
		return nil
	})
}

func runUserLink(cmd *cobra.Command, args []string) error {
	return withAccounts(func(store *account.Store) error {
		err := store.Set(cmd.Context(), account.User{
			ID:       userID,
			Name:     userName,
			Email:    userEmail,
			DeviceID: userDeviceID,
		})
		if err != nil {
			return err
		}
		_, _ = color.New(color.FgGreen).Printf("✅ Linked user %s\n", userID)
		return nil
	})
}

func runUserUnlink(cmd *cobra.Command, args []string) error {
	return withAccounts(func(store *account.Store) error {
		if err := store.Clear(cmd.Context()); err != nil {
			return err
		}
		_, _ = color.New(color.FgGreen).Println("✅ User unlinked")
		return nil
	})
}
