package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/chaz8081/watchy-server/internal/ble"
	"github.com/chaz8081/watchy-server/internal/bluez"
	"github.com/chaz8081/watchy-server/internal/config"
	"github.com/chaz8081/watchy-server/internal/notify"
)

func main() {
	app := cli.NewApp()

	app.Name = "watchy-server"
	app.Usage = "Advertise the Watchy BLE service and serve the current time"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to config file (default: ~/.config/watchy-server/config.yaml)",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "override log_level from the config (debug, info, warn, error)",
		},
	}
	app.Action = run

	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "Start the peripheral and follow the adapter until interrupted",
			Action: run,
		},
		{
			Name:   "init",
			Usage:  "Write the default config file if none exists",
			Action: initConfig,
		},
		{
			Name:   "profile",
			Usage:  "Print the GATT profile served by the peripheral",
			Action: printProfile,
		},
		{
			Name:    "notifications",
			Aliases: []string{"n"},
			Usage:   "Capture desktop notifications and print cache changes",
			Action:  watchNotifications,
		},
	}

	if err := app.Run(os.Args); err != nil {
		color.Red("watchy-server: %v", err)
		os.Exit(1)
	}
}

// setup loads the config and installs the default logger.
func setup(c *cli.Context) (*config.Config, error) {
	cfg, err := loadConfig(c.GlobalString("config"))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if lvl := c.GlobalString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)
	return cfg, nil
}

func run(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	printBanner(cfg)

	client, err := bluez.Connect(cfg.Adapter)
	if err != nil {
		return fmt.Errorf("connecting to BlueZ: %w", err)
	}
	defer client.Close()

	profile := ble.WatchyProfile()
	advCtl := ble.NewAdvertisingController(ble.NewTinyGoAdvertiser("watchy-server"), cfg.AdvertiseSettings(), nil)
	defer advCtl.Close()
	gattCtl := ble.NewGattServerController(bluez.NewGattServer(client))

	coord := ble.NewCoordinator(client, client, advCtl, gattCtl, profile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := coord.Start(ctx); err != nil {
		if ble.IsCapabilityError(err) {
			return fmt.Errorf("this host cannot act as a BLE peripheral: %w", err)
		}
		return err
	}

	if cfg.Notifications.Enabled {
		store, err := notify.NewStore(cfg.Notifications.CacheSize)
		if err != nil {
			coord.Stop()
			return err
		}
		go func() {
			if err := notify.NewCapture(store).Run(ctx); err != nil {
				slog.Warn("[NOTIFY] notification capture stopped", "error", err)
			}
		}()
	}

	slog.Info("Ready! Ctrl+C to quit.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("Shutting down", "signal", sig)

	coord.Stop()
	cancel()
	slog.Info("Goodbye!")
	return nil
}

func initConfig(c *cli.Context) error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
		return nil
	}
	color.Green("Wrote default config to %s", path)
	return nil
}

func printProfile(c *cli.Context) error {
	p := ble.WatchyProfile()
	bold := color.New(color.Bold).SprintFunc()

	fmt.Printf("%s %s (primary)\n", bold("service"), p.Service)
	for _, ch := range p.Characteristics {
		fmt.Printf("  %s %s %v\n", bold("characteristic"), ch.UUID, ch.Flags())
		for _, d := range ch.Descriptors {
			fmt.Printf("    %s %s\n", bold("descriptor"), d)
		}
	}
	return nil
}

func watchNotifications(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}

	store, err := notify.NewStore(cfg.Notifications.CacheSize)
	if err != nil {
		return err
	}

	posted := color.New(color.FgGreen).SprintFunc()
	gone := color.New(color.FgYellow).SprintFunc()
	store.OnChange(func(e notify.Event) {
		ts := time.Now().Format("15:04:05")
		switch e.Kind {
		case notify.EventPosted:
			fmt.Printf("%s %s %s %q\n", ts, posted("+"), e.Key, e.Notification.Title+": "+e.Notification.Text)
		default:
			fmt.Printf("%s %s %s (%s)\n", ts, gone("-"), e.Key, e.Kind)
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("Watching desktop notifications. Ctrl+C to quit.")
	return notify.NewCapture(store).Run(ctx)
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	cfg, err := config.LoadOrDefault(defaultPath)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
	}
	return cfg, nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	title := color.New(color.FgCyan, color.Bold)
	title.Println("=== watchy-server ===")
	fmt.Printf("  Adapter:   %s\n", cfg.Adapter)
	fmt.Printf("  Service:   %s\n", ble.ServiceUUID)
	fmt.Printf("  Advertise: %s, tx %s, connectable=%t\n", cfg.Advertise.Mode, cfg.Advertise.TxPower, cfg.Advertise.Connectable)
	fmt.Printf("  Notify:    enabled=%t, cache %d\n", cfg.Notifications.Enabled, cfg.Notifications.CacheSize)
	fmt.Printf("  Log:       %s\n", cfg.LogLevel)
	title.Println("=====================")
}
