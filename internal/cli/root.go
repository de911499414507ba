// Package cli provides the command-line interface for the corporate
// actions service.
package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"corporate-actions/internal/config"
	"corporate-actions/internal/logging"
)

// Version information
const (
	Version = "1.0.0"
)

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "corpactions",
		Short: "Corporate actions service - event lifecycle and processing",
		Long: `Corporate actions service records corporate action events
(dividends, splits, mergers) submitted over HTTP, persists them with an
audit trail, and advances them through their lifecycle with a background
processor.

Use 'corpactions serve' to start the HTTP server and processor.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: current directory)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newServeCmd())

	return rootCmd
}

// loadConfig loads configuration honoring the --config flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configDir, _ := cmd.Flags().GetString("config")
	return config.Load(configDir)
}

// newLogger builds the logger from config, honoring the --debug flag.
func newLogger(cmd *cobra.Command, cfg *config.Config) zerolog.Logger {
	logCfg := logging.LogConfig{
		Level:      cfg.Logging.Level,
		Console:    cfg.Logging.Console,
		File:       cfg.Logging.File,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	}
	logger := logging.NewLoggerWithConfig(logCfg)

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logging.SetDebugLevel()
		logger = logger.Level(zerolog.DebugLevel)
	}
	return logger
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("corpactions v%s\n", Version)
		},
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			fmt.Printf("Server addr:        %s\n", cfg.Server.Addr)
			fmt.Printf("Database path:      %s\n", cfg.Database.Path)
			fmt.Printf("Failure rate:       %.2f\n", cfg.Processor.FailureRate)
			fmt.Printf("Processing delay:   %s\n", cfg.Processor.ProcessingDelay)
			fmt.Printf("Poll interval:      %s\n", cfg.Processor.PollInterval)
			fmt.Printf("Batch size:         %d\n", cfg.Processor.BatchSize)
			fmt.Printf("Max retries:        %d\n", cfg.Processor.MaxRetries)
			fmt.Printf("Log level:          %s\n", cfg.Logging.Level)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Println("Configuration is valid")
			return nil
		},
	})

	return cmd
}
