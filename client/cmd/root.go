package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/julienstroheker/hexagent/internal/config"
	"github.com/julienstroheker/hexagent/internal/logging"
)

var (
	cfg            *config.Config
	logger         *logging.Logger
	verboseFlag    bool
	jsonFlag       bool
	configFlag     string
	modeFlag       string
	serverAddrFlag string
	insecureFlag   bool
)

var rootCmd = &cobra.Command{
	Use:           "hexagent",
	Short:         "Expose local services through a relay",
	Long:          `hexagent - expose local services through a relay`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig()
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
		logger.Debug("Logger initialized",
			logging.String("level", level.String()),
			logging.String("mode", cfg.Mode.String()))
		return nil
	},
}

func init() {
	// Disable default completion and help commands
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose logging (debug level)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&modeFlag, "mode", "", "Relay backend: local, remote or azure")
	rootCmd.PersistentFlags().StringVar(&serverAddrFlag, "server-addr", "", "Relay address used in remote mode")
	rootCmd.PersistentFlags().BoolVar(&insecureFlag, "insecure", false, "Dial the relay over ws:// instead of wss://")
}

// loadConfig reads the environment, then the config file, then flags
func loadConfig() (*config.Config, error) {
	c, err := config.Load()
	if err != nil {
		return nil, err
	}
	if configFlag != "" {
		if c, err = config.LoadFile(configFlag, c); err != nil {
			return nil, err
		}
	}
	if modeFlag != "" {
		c.Mode = config.Mode(modeFlag)
	}
	if serverAddrFlag != "" {
		c.ServerAddr = serverAddrFlag
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
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
