package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"adbcast/adb"
	"adbcast/config"
)

// app carries what every command needs once flags are parsed.
type app struct {
	configFile string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "adbcast",
		Short: "Mirror and control Android devices over adb",
		Long: `adbcast runs scrcpy sessions on Android devices reachable through an
adb daemon and shares each session between any number of websocket and
WebRTC viewers.

It also exposes the adb sync protocol for quick file transfers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			setupLogging(cfg.Log)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(
		serveCmd(a),
		devicesCmd(a),
		statCmd(a),
		lsCmd(a),
		pullCmd(a),
		pushCmd(a),
	)
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func setupLogging(cfg config.LogConfig) {
	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		log.Warn().Str("level", cfg.Level).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// adbClient builds the daemon client from the adb section.
func (a *app) adbClient() *adb.Client {
	c := adb.NewClient(a.cfg.ADB.Addr)
	c.Attempts = a.cfg.ADB.ConnectAttempts
	c.Interval = a.cfg.ADB.RetryInterval
	c.DialTimeout = a.cfg.ADB.DialTimeout
	return c
}
