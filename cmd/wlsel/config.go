package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/wlsel"
	"go.klb.dev/wlsel/internal/logging"
)

// bindViper wires a command's flags into a viper instance with the standard
// config file search order and WLSEL_* env var prefix.
//
// Precedence (lowest → highest): defaults → config file → WLSEL_* env vars → flags
func bindViper(cmd *cobra.Command, v *viper.Viper) error {
	configFlag, _ := cmd.Flags().GetString("config")
	if configFlag != "" {
		v.SetConfigFile(configFlag)
	} else {
		v.SetConfigName("wlsel")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/wlsel/")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(fmt.Sprintf("%s/.config/wlsel", home))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("config: %w", err)
		}
	}

	v.SetEnvPrefix("WLSEL")
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

// addCommonFlags adds the flags every wlsel command carries.
func addCommonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("display", "", "Wayland display to connect to (default: $WAYLAND_DISPLAY)")
	f.String("log-format", "auto", "log format: auto|text|json")
	f.String("log-level", "warn", "log level: debug|info|warn|error")
	f.String("config", "", "path to config file (overrides auto-discovery)")
}

// setupLogging builds the command's logger from viper and installs it as
// the slog default. Logs go to stderr; stdout belongs to the selection
// payload.
func setupLogging(v *viper.Viper) *slog.Logger {
	log := logging.New(os.Stderr,
		logging.ParseFormat(v.GetString("log-format")),
		logging.ParseLevel(v.GetString("log-level")))
	slog.SetDefault(log)
	return log
}

// openClipboard connects to the compositor configured by v.
func openClipboard(v *viper.Viper, log *slog.Logger, opts ...wlsel.Option) (*wlsel.Clipboard, error) {
	opts = append(opts,
		wlsel.WithLogger(log),
		wlsel.WithDisplay(v.GetString("display")),
	)
	return wlsel.New(opts...)
}
