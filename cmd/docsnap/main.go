package main

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"docsnap/internal/app"
	"docsnap/internal/config"
	"docsnap/internal/snap"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if snap.IsInvalidInput(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "SnapshotCreate").
func newApp(cmd *cobra.Command, operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cmd.Context(), cfg, operation, promptPassphrase)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// promptPassphrase reads a passphrase from the terminal without echo.
func promptPassphrase() (string, error) {
	fmt.Fprint(os.Stderr, "Passphrase: ")
	pass, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if len(pass) == 0 {
		return "", snap.NewError(snap.InvalidInput, "read passphrase", "",
			fmt.Errorf("passphrase is empty"))
	}
	return string(pass), nil
}

var rootCmd = &cobra.Command{
	Use:           "docsnap",
	Short:         "Snapshot lifecycle manager for a self-hosted document stack",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init INSTANCE",
	Short: "Initialize configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(args[0], hostID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Instance: %s\n", cfg.Instance)
		fmt.Printf("Host ID:  %s\n", hostID)
		fmt.Printf("Data Dir: %s\n", cfg.DataRoot)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Instance:   %s\n", cfg.Instance)
		fmt.Printf("Host ID:    %s\n", cfg.HostID)
		fmt.Printf("Data Root:  %s\n", cfg.DataRoot)
		fmt.Printf("Config Dir: %s\n", cfg.ConfigDir)
		fmt.Printf("State Dir:  %s\n", cfg.StateDir)
		fmt.Printf("Remote:     %s (%s)\n", cfg.Remote.Type, cfg.Namespace())
		fmt.Printf("Retention:  keep %dd, archives %dd\n", cfg.Retention.KeepDays, cfg.Retention.ArchiveDays)
		return nil
	},
}

// snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage snapshots",
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create [full|incremental|archive]",
	Short: "Create and upload a snapshot",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := "incremental"
		if len(args) > 0 {
			kind = args[0]
		}

		a, err := newApp(cmd, "SnapshotCreate")
		if err != nil {
			return err
		}
		defer a.Close()

		manifest, err := a.CreateSnapshot(cmd.Context(), kind)
		if err != nil {
			return fmt.Errorf("creating snapshot: %w", err)
		}

		fmt.Printf("Created %s snapshot %s (%s)\n",
			manifest.Kind.String(), manifest.ID, humanize.Bytes(uint64(manifest.TotalSize())))
		if manifest.Parent != "" {
			fmt.Printf("Parent: %s\n", manifest.Parent)
		}
		return nil
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List remote snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "SnapshotList")
		if err != nil {
			return err
		}
		defer a.Close()

		infos, err := a.ListSnapshots(cmd.Context())
		if err != nil {
			return err
		}

		if len(infos) == 0 {
			fmt.Println("No snapshots found.")
			return nil
		}

		for _, info := range infos {
			m := info.Manifest
			parent := "-"
			if m.Parent != "" {
				parent = m.Parent
			}
			fmt.Printf("%s  %-11s  parent:%-19s  %8s  %s\n",
				m.ID,
				m.Kind.String(),
				parent,
				humanize.Bytes(uint64(m.TotalSize())),
				info.Status,
			)
		}
		return nil
	},
}

var snapshotVerifyCmd = &cobra.Command{
	Use:   "verify SNAPSHOT_ID",
	Short: "Verify a snapshot against its manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "SnapshotVerify")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.VerifySnapshot(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}

		fmt.Printf("Snapshot %s verified\n", args[0])
		return nil
	},
}

var snapshotPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete snapshots outside the retention policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "SnapshotPrune")
		if err != nil {
			return err
		}
		defer a.Close()

		deleted, err := a.Prune(cmd.Context())
		if err != nil {
			return fmt.Errorf("pruning: %w", err)
		}

		if len(deleted) == 0 {
			fmt.Println("Nothing to prune.")
			return nil
		}
		for _, id := range deleted {
			fmt.Printf("Deleted %s\n", id)
		}
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore SNAPSHOT_ID",
	Short: "Restore the stack from a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		skipConfig, _ := cmd.Flags().GetBool("skip-config")

		a, err := newApp(cmd, "Restore")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Restore(cmd.Context(), args[0], skipConfig); err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}

		fmt.Printf("Restored from snapshot %s\n", args[0])
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "GetHistory")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.History(limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if !op.FinishedAt.IsZero() {
				d := op.FinishedAt.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			snapshot := op.SnapshotID
			if snapshot == "" {
				snapshot = "-"
			}
			fmt.Printf("%-15s  %s  %-19s  %-10s  %s\n",
				op.Operation,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				snapshot,
				op.Status,
				duration,
			)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// snapshot subcommands
	snapshotCmd.AddCommand(snapshotCreateCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotVerifyCmd)
	snapshotCmd.AddCommand(snapshotPruneCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().Bool("skip-config", false, "Leave the current instance configuration in place")
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}
