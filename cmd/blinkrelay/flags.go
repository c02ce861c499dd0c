package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/c360/blinkrelay/config"
)

// serveOptions holds serve flags that are not config overrides.
type serveOptions struct {
	ConfigPath string
	EnvFile    string
	Validate   bool
}

// addServeFlags registers the serve flags on cmd. Config overrides are read
// back through applyFlagOverrides, only when set on the command line.
func addServeFlags(cmd *cobra.Command, opts *serveOptions) {
	f := cmd.Flags()

	f.StringVarP(&opts.ConfigPath, "config", "c", getEnv("BLINKRELAY_CONFIG", ""),
		"Path to a JSON configuration file (env: BLINKRELAY_CONFIG)")
	f.StringVar(&opts.EnvFile, "env-file", ".env", "Path to a .env file, skipped when missing")
	f.BoolVar(&opts.Validate, "validate", false, "Validate configuration and exit")

	f.String("device", "", "Serial device path")
	f.Int("baud", 0, "Serial baud rate")
	f.Int("reconnect-attempts", 0, "Serial reopen attempts after a read error, 0 disables")
	f.String("debounce", "", `Debounce window, milliseconds or a duration such as "350ms"`)
	f.Bool("send-raw", false, "Forward non-trigger samples to subscribers")
	f.Int("port", 0, "Websocket server port")
	f.String("path", "", "Websocket endpoint path")
	f.Int("metrics-port", 0, "Metrics and health port, 0 disables")
	f.String("nats-url", "", "Mirror events to this NATS server")
	f.String("nats-prefix", "", "Subject prefix for mirrored events")
	f.Duration("shutdown-timeout", 0, "Graceful shutdown timeout")
}

// applyFlagOverrides copies explicitly set flags onto cfg.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()

	if f.Changed("device") {
		cfg.Serial.Device, _ = f.GetString("device")
	}
	if f.Changed("baud") {
		cfg.Serial.BaudRate, _ = f.GetInt("baud")
	}
	if f.Changed("reconnect-attempts") {
		cfg.Serial.Reconnect.MaxAttempts, _ = f.GetInt("reconnect-attempts")
	}
	if f.Changed("debounce") {
		raw, _ := f.GetString("debounce")
		window, err := config.ParseWindow(raw)
		if err != nil {
			return fmt.Errorf("invalid --debounce %q: %w", raw, err)
		}
		cfg.Debounce.Window = window
	}
	if f.Changed("send-raw") {
		cfg.Relay.ForwardRaw, _ = f.GetBool("send-raw")
	}
	if f.Changed("port") {
		cfg.Server.Port, _ = f.GetInt("port")
	}
	if f.Changed("path") {
		cfg.Server.Path, _ = f.GetString("path")
	}
	if f.Changed("metrics-port") {
		cfg.Metrics.Port, _ = f.GetInt("metrics-port")
	}
	if f.Changed("nats-url") {
		cfg.NATS.URL, _ = f.GetString("nats-url")
	}
	if f.Changed("nats-prefix") {
		cfg.NATS.SubjectPrefix, _ = f.GetString("nats-prefix")
	}
	if f.Changed("shutdown-timeout") {
		cfg.ShutdownTimeout, _ = f.GetDuration("shutdown-timeout")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
