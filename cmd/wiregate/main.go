package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wiregate/internal/app"
	"github.com/vovakirdan/wiregate/internal/config"
	"github.com/vovakirdan/wiregate/internal/eventsocket"
	wglog "github.com/vovakirdan/wiregate/internal/log"
	"github.com/vovakirdan/wiregate/internal/notify"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "wiregate",
		Short:        "Realtime chat, conference monitoring and notification gateway",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")

	root.AddCommand(newServeCmd(&configPath), newNotifyCmd(&configPath), newFSAPICmd(&configPath))
	return root
}

func loadConfig(configPath string, overrides config.Config) (config.Config, error) {
	bootLog := wglog.NewWithWriter(os.Stderr, "info")
	cfg, _, err := config.Load(bootLog, configPath)
	if err != nil {
		return cfg, err
	}
	cfg.UpdateFrom(overrides)
	return cfg, nil
}

func newServeCmd(configPath *string) *cobra.Command {
	var overrides config.Config
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath, overrides)
			if err != nil {
				return err
			}
			logger := wglog.New(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}

			logger.Info().
				Str("addr", cfg.Addr).
				Str("notify_addr", cfg.NotifyAddr).
				Bool("freeswitch", cfg.FreeSWITCH.Enabled).
				Msg("starting wiregate")
			if err := application.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("server exited with error")
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	cmd.Flags().StringVar(&overrides.NotifyAddr, "notify-addr", "", "UDP notification listen address")
	cmd.Flags().StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.Flags().DurationVar(&overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	return cmd
}

func newNotifyCmd(configPath *string) *cobra.Command {
	var (
		addr string
		msg  string
	)
	cmd := &cobra.Command{
		Use:   "notify <type> <dest>",
		Short: "Send one notification datagram to a running gateway",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, err := loadConfig(*configPath, config.Config{})
				if err != nil {
					return err
				}
				addr = cfg.NotifyAddr
			}
			p := notify.Payload{Type: args[0], Dest: args[1]}
			if msg != "" {
				if !json.Valid([]byte(msg)) {
					return errors.New("--msg must be valid JSON")
				}
				p.Msg = json.RawMessage(msg)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			if err := notify.Send(ctx, addr, p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s via %s\n", p.Type, p.Dest, addr)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "relay address (defaults to notify_addr from config)")
	cmd.Flags().StringVar(&msg, "msg", "", "JSON payload")
	return cmd
}

func newFSAPICmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "fsapi <command...>",
		Short: "Send one api command to FreeSWITCH without waiting for the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, config.Config{})
			if err != nil {
				return err
			}
			logger := wglog.NewWithWriter(os.Stderr, cfg.LogLevel)
			command := strings.Join(args, " ")
			if err := eventsocket.Exec(cmd.Context(), app.BridgeConfig(cfg.FreeSWITCH), command, logger); err != nil {
				return err
			}
			logger.Info().Str("command", command).Msg("api command sent")
			return nil
		},
	}
}
