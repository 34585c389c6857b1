package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/julienstroheker/hexagent/internal/config"
	"github.com/julienstroheker/hexagent/internal/logging"
)

var (
	cfg         *config.Config
	logger      *logging.Logger
	verboseFlag bool
	jsonFlag    bool
)

var rootCmd = &cobra.Command{
	Use:          "gateway",
	Short:        "hexagent relay gateway",
	Long:         `gateway - relay server that agents connect to over websocket`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Only the ambient settings apply here; agent mode is irrelevant
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded

		level := logging.ParseLevel(cfg.LogLevel)
		if verboseFlag {
			level = logging.DebugLevel
		}

		format := logging.FormatConsole
		if jsonFlag || cfg.LogFormat == "json" {
			format = logging.FormatJSON
		}

		logger = logging.NewWithFormatOutput(level, format, cmd.ErrOrStderr())
		logger.Debug("Logger initialized", logging.String("level", level.String()))
		return nil
	},
}

func init() {
	// Disable default completion and help commands
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose logging (debug level)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Output logs in JSON format")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GetLogger returns the global logger instance
func GetLogger() *logging.Logger {
	return logger
}

// GetConfig returns the global config instance
func GetConfig() *config.Config {
	return cfg
}
