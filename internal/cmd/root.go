package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yoanbernabeu/piprov/internal/config"
	"github.com/yoanbernabeu/piprov/internal/security"
)

var (
	// Version is set at build time
	Version = "dev"

	// Global flags
	verbose   bool
	cfgFile   string
	yesFlag   bool // CI/CD: skip confirmations
	logLevel  string
	logFormat string

	// logger is configured in PersistentPreRunE
	logger = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "piprov",
	Short: "Provision Raspberry Pi hosts over SSH",
	Long: `piprov prepares single-board computers over SSH: it partitions and mounts
USB disks, mounts network shares, installs Docker and Portainer, and keeps the
system up to date, streaming every line of remote output as it runs.

Quick start:
  piprov target add kitchen pi@192.168.1.50   # Register a host
  piprov hostkey trust kitchen                # Pin its SSH host key
  piprov probe kitchen                        # Show OS and board model
  piprov provision usb kitchen --vol /mnt/usb # Prepare a USB disk

Commands:
  target        Manage configured hosts
  hostkey       Manage pinned SSH host keys
  probe         Test a connection and detect the board
  ops           List available operations
  provision     Run an operation on one or more hosts
  history       Show past runs
  serve         Expose operations over a websocket API

Environment Variables:
  PIPROV_TARGET        Default target name
  PIPROV_SECRET        SSH password (non-interactive use)
  PIPROV_KNOWN_HOSTS   Host key store path
  PIPROV_HISTORY_DB    Run history database path
  PIPROV_LOG_LEVEL     Log level (trace, debug, info, warn, error)
  PIPROV_MAX_PARALLEL  Hosts provisioned at once`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogger,
}

// Execute runs the root command
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		PrintError("%s", security.SanitizeCommandForLog(err.Error()))
	}
	return err
}

// GetRootCmd returns the root command, used for documentation generation
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed logs")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ~/.config/piprov/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&yesFlag, "yes", "y", false, "Skip confirmations (CI/CD mode)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error (default from config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console or json (default from config)")

	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(`piprov {{.Version}}
`)
}

// setupLogger builds the zerolog logger from flags, environment and config
func setupLogger(cmd *cobra.Command, args []string) error {
	level, format := logLevel, logFormat
	if level == "" || format == "" {
		cfg, err := config.LoadGlobalConfig(cfgFile)
		if err != nil {
			return err
		}
		if err := cfg.ApplyEnv(os.Getenv); err != nil {
			return err
		}
		if level == "" {
			level = cfg.LogLevel
		}
		if format == "" {
			format = cfg.LogFormat
		}
	}
	if verbose && level == "info" {
		level = "debug"
	}

	l, err := newLogger(os.Stderr, level, format)
	if err != nil {
		return err
	}
	logger = l
	return nil
}

func newLogger(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q", level)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	switch format {
	case config.LogFormatJSON:
	case config.LogFormatConsole, "":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q (use console or json)", format)
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// IsVerbose returns true if verbose mode is enabled
func IsVerbose() bool {
	return verbose
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// IsYesMode returns true if --yes flag is set (CI/CD mode)
func IsYesMode() bool {
	return yesFlag
}

// PrintError prints a formatted error message
func PrintError(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "❌ "+msg+"\n", args...)
}

// PrintSuccess prints a success message
func PrintSuccess(msg string, args ...interface{}) {
	fmt.Printf("✅ "+msg+"\n", args...)
}

// PrintInfo prints an info message
func PrintInfo(msg string, args ...interface{}) {
	fmt.Printf("ℹ️  "+msg+"\n", args...)
}

// PrintWarning prints a warning message
func PrintWarning(msg string, args ...interface{}) {
	fmt.Printf("⚠️  "+msg+"\n", args...)
}

// PrintVerbose prints a message only in verbose mode
func PrintVerbose(msg string, args ...interface{}) {
	if verbose {
		fmt.Printf("   "+msg+"\n", args...)
	}
}
