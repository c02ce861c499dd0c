// Package main is the blinkrelay daemon: it reads blink triggers from a
// serial-attached sensor and relays them to websocket subscribers.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/c360/blinkrelay/errors"
)

// Build information, overridden via ldflags.
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

const appName = "blinkrelay"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := newRootCmd().Execute(); err != nil {
		slog.Error("Application failed", "error", err, "class", errors.Classify(err).String(), "exit_code", 1)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Running the root without a
// subcommand serves.
func newRootCmd() *cobra.Command {
	opts := &serveOptions{}

	root := &cobra.Command{
		Use:   appName,
		Short: "Relay debounced blink events from a serial sensor to websocket subscribers",
		Long: `blinkrelay reads "signal,peak[,timestampMs]" records from a
serial-attached sensor. Records with peak 1 are triggers: they are debounced,
numbered and broadcast as JSON blink events to every connected websocket
client.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
	root.Version = Version
	root.SetVersionTemplate(fmt.Sprintf("%s version %s (build %s)\n", appName, Version, BuildTime))

	pf := root.PersistentFlags()
	pf.String("log-level", getEnv("BLINKRELAY_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: BLINKRELAY_LOG_LEVEL)")
	pf.String("log-format", getEnv("BLINKRELAY_LOG_FORMAT", "json"),
		"Log format: json, text (env: BLINKRELAY_LOG_FORMAT)")

	addServeFlags(root, opts)

	root.AddCommand(newServeCmd())
	root.AddCommand(newAdviseCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build %s)\n", appName, Version, BuildTime)
		},
	}
}

// loggerFor builds the logger from the persistent flags and installs it as
// the slog default.
func loggerFor(cmd *cobra.Command) (*slog.Logger, error) {
	level, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")
	if err := validateLogFlags(level, format); err != nil {
		return nil, err
	}
	logger := setupLogger(cmd.ErrOrStderr(), level, format)
	slog.SetDefault(logger)
	return logger, nil
}
