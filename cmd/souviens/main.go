package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"souviens/internal/app"
	"souviens/internal/config"
	"souviens/internal/encryption"
	"souviens/internal/report"
	"souviens/internal/snapshot"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// EnvPassphrase supplies the key passphrase when stdin is not a terminal.
const EnvPassphrase = "SOUVIENS_PASSPHRASE"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, _, err := app.LoadConfig(os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp creates an App from cfg. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "backup", "history").
func newApp(ctx context.Context, cfg *config.Config, operation, archiveRoot string) (*app.App, error) {
	a, err := app.New(ctx, cfg, app.Options{Operation: operation, ArchiveRoot: archiveRoot})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// unlock asks for the key passphrase if the archive is encrypted.
func unlock(a *app.App) error {
	if !a.NeedsUnlock() {
		return nil
	}
	passphrase, err := readPassphrase("Enter passphrase: ")
	if err != nil {
		return err
	}
	return a.Unlock(passphrase)
}

func readPassphrase(prompt string) (string, error) {
	if p := os.Getenv(EnvPassphrase); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("passphrase required: run from a terminal or set %s", EnvPassphrase)
	}

	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return string(b), nil
}

func confirm(prompt string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, errors.New("confirmation required: run from a terminal or pass --yes")
	}
	fmt.Printf("%s [y/N] ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return false, fmt.Errorf("reading confirmation: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

var rootCmd = &cobra.Command{
	Use:          "souviens",
	Short:        "Snapshot backups of a hosted Supabase project",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults(os.Getenv)
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults.BaseDir)
		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Base Dir: %s\n", defaults.BaseDir)
		fmt.Printf("Set %s and %s before running a backup.\n", config.EnvGatewayURL, config.EnvServiceKey)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, defaults, err := app.LoadConfig(os.Getenv)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		key := "(not set)"
		if cfg.Gateway.ServiceKey != "" {
			key = "(set)"
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Gateway:     %s %s\n", cfg.Gateway.Type, cfg.Gateway.URL)
		fmt.Printf("Service Key: %s\n", key)
		fmt.Printf("Archive:     %s %s%s\n", cfg.Archive.Type, cfg.Archive.Root, cfg.Archive.S3Bucket)
		fmt.Printf("Encrypted:   %t\n", cfg.Archive.Encrypted)
		fmt.Printf("Tables:      %s\n", strings.Join(cfg.Snapshot.Tables, ", "))
		fmt.Printf("Buckets:     %s\n", strings.Join(cfg.Snapshot.Buckets, ", "))

		if err := config.ValidateLocal(cfg); err != nil {
			fmt.Printf("\n%v\n", err)
		}
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate the archive encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := app.LoadConfig(os.Getenv)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}
		if enc.IsConfigured() {
			return fmt.Errorf("%w: %s", encryption.ErrKeysExist, cfg.Encryption.PrivateKeyPath)
		}

		passphrase, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		if os.Getenv(EnvPassphrase) == "" {
			again, err := readPassphrase("Repeat passphrase: ")
			if err != nil {
				return err
			}
			if again != passphrase {
				return errors.New("passphrases do not match")
			}
		}

		if err := enc.Setup(passphrase); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}

		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Encryption.PrivateKeyPath)
		if ae, ok := enc.(*encryption.AgeEncryptor); ok {
			if recipient, err := ae.PublicKey(); err == nil {
				fmt.Printf("Recipient:   %s\n", recipient)
			}
		}
		fmt.Println("Set encrypted = true under [archive] to encrypt new snapshots.")
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export all tables and storage buckets into today's snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, "backup", "")
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.Backup(cmd.Context())
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}

		report.BackupSummary(os.Stdout, summary, a.SnapshotLocation(summary.Label))
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore PATH",
	Short: "Replay a snapshot into the project",
	Long: `Replay a snapshot into the project.

Rows are upserted on their id and files are replaced or uploaded. Nothing
is deleted and nothing is rolled back. PATH is the snapshot directory for a
filesystem archive, such as ./backups/2024-01-15, and the snapshot label
otherwise.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		root, label, err := app.ResolveSnapshot(cfg.Archive, args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cfg, "restore", root)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlock(a); err != nil {
			return err
		}

		// A missing snapshot goes straight to Restore, which reports and
		// records it.
		m, err := a.Manifest(cmd.Context(), label)
		if !errors.Is(err, snapshot.ErrSnapshotNotFound) {
			note := ""
			if err != nil {
				note = err.Error()
			}
			report.ManifestPreview(os.Stdout, m, note)

			fmt.Printf("\n%s\n\n", report.RestoreWarning)
			if !yes {
				ok, err := confirm("Restore " + label + "?")
				if err != nil {
					return err
				}
				if !ok {
					return errors.New("restore cancelled")
				}
			}
		}

		summary, err := a.Restore(cmd.Context(), label)
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}

		report.RestoreSummary(os.Stdout, summary)
		return nil
	},
}

// manifest command
var manifestCmd = &cobra.Command{
	Use:   "manifest PATH",
	Short: "Show the manifest of a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		if err := report.ValidateFormat(output); err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		root, label, err := app.ResolveSnapshot(cfg.Archive, args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cfg, "manifest", root)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlock(a); err != nil {
			return err
		}

		m, err := a.Manifest(cmd.Context(), label)
		if err != nil {
			return err
		}
		return report.Manifest(os.Stdout, m, output)
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View backup and restore history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		output, _ := cmd.Flags().GetString("output")
		if err := report.ValidateFormat(output); err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, "history", "")
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 && output == report.FormatTable {
			fmt.Println("No runs recorded.")
			return nil
		}
		return report.Runs(os.Stdout, runs, output)
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeysCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(manifestCmd)
	manifestCmd.Flags().StringP("output", "o", "", "Output format: table, json or yaml")
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to show")
	historyCmd.Flags().StringP("output", "o", "", "Output format: table, json or yaml")
}
