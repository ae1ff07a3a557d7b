// Package cli implements the infco command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/tOgg1/infco/internal/config"
	"github.com/tOgg1/infco/internal/db"
	"github.com/tOgg1/infco/internal/logging"
)

var (
	cfgFile    string
	logLevel   string
	logFormat  string
	jsonOutput bool
	noColor    bool

	appConfig *config.Config
	logCloser io.Closer

	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "infco",
	Short: "Apply declarative tasks to hosts over SSH",
	Long: `infco applies a task file to the hosts in a host file.

Hosts whose tags intersect the task file's tags are processed; every task
runs in order on the local machine or over an SSH session pinned to the
host's public key fingerprint.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/infco/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override logging format (json, console)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine-readable JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// SetVersion records build information shown by --version.
func SetVersion(v, c, d string) {
	version, commit, date = v, c, d
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func initConfig(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader()
	if cfgFile != "" {
		loader.SetConfigFile(cfgFile)
	}

	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if logLevel != "" {
		if !logging.ValidLevel(logLevel) {
			return fmt.Errorf("invalid --log-level %q", logLevel)
		}
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	closer, err := logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		File:         cfg.Logging.File,
		EnableCaller: cfg.Logging.EnableCaller,
	})
	if err != nil {
		return fmt.Errorf("failed to initialise logging: %w", err)
	}
	logCloser = closer

	if used := loader.ConfigFileUsed(); used != "" {
		logger := logging.Component("cli")
		logger.Debug().Str("config_file", used).Msg("loaded config file")
	}

	appConfig = cfg
	return nil
}

// GetConfig returns the loaded configuration, or defaults before loading.
func GetConfig() *config.Config {
	if appConfig == nil {
		return config.DefaultConfig()
	}
	return appConfig
}

// IsJSONOutput reports whether --json was given.
func IsJSONOutput() bool {
	return jsonOutput
}

// WriteOutput writes v as indented JSON.
func WriteOutput(out io.Writer, v any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// openHistory opens the history database and applies migrations.
func openHistory(ctx context.Context, cfg *config.Config) (*db.DB, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		logger := logging.Component("cli")
		logger.Warn().Err(err).Msg("failed to create directories")
	}

	database, err := db.Open(db.DefaultConfig(cfg.HistoryPath()))
	if err != nil {
		return nil, err
	}
	if _, err := database.MigrateUp(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	return database, nil
}
