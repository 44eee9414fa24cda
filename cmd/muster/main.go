// Command muster runs the service registry.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"muster/internal/config"
	"muster/internal/listener"
	"muster/internal/notify"
	"muster/internal/reaper"
	"muster/internal/registry"
	"muster/internal/server"
)

const defaultConfigPath = "muster.json"

func main() {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "muster",
		Short: "Service registry with heartbeat expiry and webhook notifications",
	}
	rootCmd.PersistentFlags().String("config", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Start the muster service",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			addr, _ := cmd.Flags().GetString("addr")

			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			}))

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return run(ctx, logger, configPath, addr)
		},
	}
	serverCmd.Flags().String("addr", "", "listen address (overrides config)")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	configInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			store := config.NewStore(configPath)
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("config file %s already exists", configPath)
			}
			if err := store.Save(config.Default()); err != nil {
				return err
			}
			fmt.Println("wrote", configPath)
			return nil
		},
	}
	configCmd.AddCommand(configInitCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(server.Version)
		},
	}

	rootCmd.AddCommand(serverCmd, configCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, addrOverride string) error {
	// Load configuration; a missing file means defaults.
	store := config.NewStore(configPath)
	cfg, err := store.Load()
	if err != nil {
		return err
	}
	if addrOverride != "" {
		cfg.Listen = addrOverride
	}
	logger.Info("loaded config",
		"path", store.Path(),
		"listen", cfg.Listen,
		"defaultTtl", cfg.DefaultTTL(),
		"reapInterval", cfg.ReapInterval(),
	)

	// Listener directory, seeded with the configured subscriptions.
	directory := listener.NewDirectory()
	if err := seedSubscriptions(directory, cfg.Subscriptions); err != nil {
		return err
	}
	if len(cfg.Subscriptions) > 0 {
		logger.Info("seeded subscriptions", "count", len(cfg.Subscriptions))
	}

	// Dispatcher fans registry changes out to subscribed webhooks.
	dispatcher, err := notify.NewDispatcher(notify.Config{
		Directory:   directory,
		Timeout:     cfg.NotifyTimeout(),
		MaxInFlight: cfg.NotifyMaxInFlight,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	// Registry store; every shape change flows into the dispatcher.
	reg := registry.NewStore(registry.Config{
		DefaultTTL: cfg.DefaultTTL(),
		OnChange:   dispatcher.Notify,
		Logger:     logger,
	})

	// Reaper removes providers whose heartbeats went stale.
	rpr, err := reaper.New(reaper.Config{
		Store:    reg,
		Interval: cfg.ReapInterval(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if err := rpr.Start(); err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Store:      reg,
		Directory:  directory,
		Dispatcher: dispatcher,
		Reaper:     rpr,
		RateLimit:  cfg.RateLimit,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	var serverWg sync.WaitGroup
	serverWg.Add(1)
	go func() {
		defer serverWg.Done()
		if err := srv.ServeTCP(cfg.Listen); err != nil {
			logger.Error("server error", "error", err)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()

	// Stop the server first so no new mutations arrive, then the
	// reaper.
	logger.Info("stopping server")
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(stopCtx); err != nil {
		logger.Error("server stop error", "error", err)
	}
	serverWg.Wait()

	logger.Info("stopping reaper")
	if err := rpr.Stop(); err != nil {
		logger.Error("reaper stop error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// seedSubscriptions replays the configured static subscriptions into
// the directory.
func seedSubscriptions(directory *listener.Directory, subs []config.Subscription) error {
	for _, sub := range subs {
		var err error
		switch sub.Kind {
		case config.SubscribeService:
			err = directory.SubscribeName(sub.Key, sub.Webhook)
		case config.SubscribeTag:
			err = directory.SubscribeTag(sub.Key, sub.Webhook)
		case config.SubscribeAll:
			err = directory.SubscribeAll(sub.Webhook)
		default:
			err = fmt.Errorf("unknown subscription kind %q", sub.Kind)
		}
		if err != nil {
			return fmt.Errorf("seed subscription %s %q: %w", sub.Kind, sub.Key, err)
		}
	}
	return nil
}
