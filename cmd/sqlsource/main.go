package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version info (set by ldflags)
	version = "dev"

	// Flags
	configPath string
	debug      bool
	jsonOutput bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sqlsource",
		Short: "Inspect configured database connection sources",
		Long: `sqlsource loads a sources file and exercises each configured
connection source the way the server would.

Process-wide tunables are read from the environment:
  SQLSOURCE_IDLE_TIMEOUT_MS   pool idle timeout in milliseconds (default 5000)
  SQLSOURCE_MAX_POOL_SIZE     maximum pool size (default 3)
  SQLSOURCE_STRATEGY          pooled or direct`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "sources.yaml", "sources file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newCheckCmd(),
		newListCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		// Error already printed by cobra
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
