package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/btsentry/btsentry/internal/audit"
	"github.com/btsentry/btsentry/internal/config"
	"github.com/btsentry/btsentry/internal/core"
	"github.com/btsentry/btsentry/internal/database"
	"github.com/btsentry/btsentry/internal/logger"
	"github.com/btsentry/btsentry/internal/privilege"
	"github.com/btsentry/btsentry/internal/session"
	"github.com/btsentry/btsentry/internal/telemetry"
)

var (
	cfg   *config.Config
	log   *logger.Logger
	store core.ResultStore
	trail core.AuditTrail
	tel   core.Telemetry
	sess  *session.Aggregator
)

var rootCmd = &cobra.Command{
	Use:   "btsentry",
	Short: "Bluetooth security assessment toolkit",
	Long: `BTSentry - Bluetooth Security Assessment Toolkit

Discovers nearby Bluetooth devices, enumerates their services, and runs
authorized attack scenarios against them to evaluate their resilience.

Every scenario passes through an authorization gate and is written to an
append-only audit trail. Run attacks only against devices you own or
have written permission to test.

COMMANDS:
  btsentry scan                     - Discover nearby devices
  btsentry enumerate <mac>          - Enumerate SDP services of a device
  btsentry simulate <kind> <mac>    - Run an attack scenario
  btsentry report [--session id]    - Generate an HTML report
  btsentry audit show               - Print the audit trail
  btsentry audit verify             - Check audit sequence integrity
  btsentry sessions                 - List stored sessions`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		if err := initConfig(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		var err error
		log, err = logger.New(cfg.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		trail, err = audit.Open(cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("failed to open audit trail: %w", err)
		}

		store, err = database.NewStore(cfg.Database, log)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}

		tel, err = telemetry.New(cmd.Context(), cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}

		sess = session.NewAggregator()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			// Sync errors on stdout/stderr are expected on Linux.
			_ = log.Sync()
		}
		if tel != nil {
			if err := tel.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close telemetry: %v\n", err)
			}
		}
		if trail != nil {
			if err := trail.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close audit trail: %v\n", err)
			}
		}
		if store != nil {
			if err := store.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to close database: %v\n", err)
			}
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with a signal-aware context so
// Ctrl+C cancels in-flight scenarios cooperatively.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Logging configuration
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (json, console)")
	viper.BindPFlag("logger.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logger.format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindEnv("logger.level", "BTSENTRY_LOG_LEVEL")
	viper.BindEnv("logger.format", "BTSENTRY_LOG_FORMAT")

	// Database configuration
	rootCmd.PersistentFlags().String("db-dsn", "btsentry.db", "SQLite database path")
	viper.BindPFlag("database.dsn", rootCmd.PersistentFlags().Lookup("db-dsn"))
	viper.BindEnv("database.dsn", "BTSENTRY_DATABASE_DSN")

	// Bluetooth adapter
	rootCmd.PersistentFlags().String("adapter", "hci0", "Bluetooth adapter to use")
	viper.BindPFlag("bluetooth.adapter", rootCmd.PersistentFlags().Lookup("adapter"))
	viper.BindEnv("bluetooth.adapter", "BTSENTRY_ADAPTER")

	// Attack policy
	rootCmd.PersistentFlags().Bool("ethical-mode", true, "Require authorization before every attack scenario")
	rootCmd.PersistentFlags().Duration("max-duration", 5*time.Minute, "Hard ceiling on scenario runtime")
	rootCmd.PersistentFlags().Int("workers", 3, "Maximum concurrently executing scenarios")
	viper.BindPFlag("attacks.ethical_mode", rootCmd.PersistentFlags().Lookup("ethical-mode"))
	viper.BindPFlag("attacks.max_duration", rootCmd.PersistentFlags().Lookup("max-duration"))
	viper.BindPFlag("attacks.worker_count", rootCmd.PersistentFlags().Lookup("workers"))
	viper.BindEnv("attacks.ethical_mode", "BTSENTRY_ETHICAL_MODE")
	viper.BindEnv("attacks.worker_count", "BTSENTRY_WORKERS")

	// Audit trail
	rootCmd.PersistentFlags().String("audit-path", "logs/audit.jsonl", "Audit trail file")
	viper.BindPFlag("audit.path", rootCmd.PersistentFlags().Lookup("audit-path"))
	viper.BindEnv("audit.path", "BTSENTRY_AUDIT_PATH")

	// Ollama summarization
	viper.BindEnv("ollama.enabled", "BTSENTRY_OLLAMA_ENABLED")
	viper.BindEnv("ollama.host", "BTSENTRY_OLLAMA_HOST", "OLLAMA_HOST")
	viper.BindEnv("ollama.model", "BTSENTRY_OLLAMA_MODEL")

	// Set sensible defaults
	viper.SetDefault("logger.output_paths", []string{"stdout"})
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.max_connections", 5)
	viper.SetDefault("database.max_idle_conns", 2)
	viper.SetDefault("database.conn_max_lifetime", "1h")
	viper.SetDefault("bluetooth.scan_duration", "10s")
	viper.SetDefault("bluetooth.classic", true)
	viper.SetDefault("bluetooth.low_energy", true)
	viper.SetDefault("attacks.require_confirmation", true)
	viper.SetDefault("attacks.cancel_grace", "5s")
	viper.SetDefault("attacks.output_buffer_lines", 1000)
	viper.SetDefault("privilege.methods", []string{"pkexec", "sudo"})
	viper.SetDefault("ollama.host", "http://localhost:11434")
	viper.SetDefault("ollama.model", "qwen2.5-coder:7b")
	viper.SetDefault("ollama.timeout", "60s")
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.service_name", "btsentry")
	viper.SetDefault("telemetry.exporter_type", "otlp")
	viper.SetDefault("telemetry.endpoint", "localhost:4317")
	viper.SetDefault("telemetry.sample_rate", 1.0)
	viper.SetDefault("reporting.output_directory", "reports")
	viper.SetDefault("session.directory", "sessions")
}

func initConfig() error {
	// No YAML files - configuration from flags + env vars only
	viper.AutomaticEnv()
	viper.SetEnvPrefix("BTSENTRY")

	cfg = config.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

// newBroker builds the privilege broker shared by commands that talk
// to the radio.
func newBroker() core.PrivilegeBroker {
	return privilege.NewBroker(cfg.Privilege, trail, log)
}

// saveSession persists the current aggregator to the store and the
// session directory.
func saveSession(ctx context.Context) {
	record := sess.Snapshot()
	if len(record.Devices) == 0 && len(record.Scenarios) == 0 {
		return
	}
	slog := log.WithSessionID(record.ID)
	if err := store.SaveSession(ctx, record); err != nil {
		slog.Errorw("Failed to persist session", "error", err)
	}
	path, err := sess.SaveTo(cfg.Session.Directory)
	if err != nil {
		slog.Errorw("Failed to write session file", "error", err)
		return
	}
	color.White("Session saved: %s\n", path)
}
