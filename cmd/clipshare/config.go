package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipshare/internal/logging"
	"go.klb.dev/clipshare/internal/message"
	"go.klb.dev/clipshare/internal/transfer"
)

const defaultPort = "8752"

// bindViper wires a command's flags into a viper instance with the standard
// config file search order and CLIPSHARE_* env var prefix.
//
// Precedence (lowest → highest): defaults → config file → CLIPSHARE_* env vars → flags
func bindViper(cmd *cobra.Command, v *viper.Viper) error {
	configFlag, _ := cmd.Flags().GetString("config")
	if configFlag != "" {
		v.SetConfigFile(configFlag)
	} else {
		v.SetConfigName("clipshare")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/clipshare/")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "clipshare"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("config: %w", err)
		}
	}

	v.SetEnvPrefix("CLIPSHARE")
	v.SetEnvKeyReplacer(envKeys)
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

// addLoggingFlags adds the standard logging flags to a command.
func addLoggingFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-background", false, "run interactively: tinter logs + debug level")
	cmd.Flags().String("log-format", "auto", "log format: auto|text|json")
	cmd.Flags().String("log-level", "", "log level: debug|info|warn|error (default: info for service, debug for interactive)")
}

// addConfigFlag adds the --config flag to a command.
func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "path to config file (overrides auto-discovery)")
}

// addDaemonFlags adds the flags shared by serve and connect.
func addDaemonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("token", "", "shared secret (empty = no auth, no encryption)")
	f.String("temp-dir", transfer.DefaultDir(), "directory received files are written to (emptied on every transfer)")
	f.String("uri-prefix", "auto", "file reference prefix: auto|file://|file:///")
	f.Bool("auto-send", true, "send local clipboard changes to the peer automatically")
	f.Int("max-message-size", message.DefaultMaxSize, "largest message accepted or sent, in bytes")
	f.String("source", defaultSource(), "name for this host shown to the peer")
	f.Bool("no-ipc", false, "do not open the local control socket")
	f.String("clipboard", "auto", "clipboard backend: auto|memory (memory = relay without a display)")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)
}

// setupLogging reads logging flags from viper and configures slog.
func setupLogging(v *viper.Viper) {
	interactive := v.GetBool("no-background") || logging.IsTTY(os.Stderr)
	logging.Setup(interactive, v.GetString("log-format"), v.GetString("log-level"))
}
