package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/chaz8081/blemux/internal/ble"
	"github.com/chaz8081/blemux/internal/command"
	"github.com/chaz8081/blemux/internal/config"
	"github.com/chaz8081/blemux/internal/publish"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/blemux/config.yaml)")
	writeConfig := flag.Bool("write-config", false, "write the default config file and exit")
	noConsole := flag.Bool("no-console", false, "do not read BLEOp commands from stdin")
	flag.Parse()

	if *writeConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			log.Printf("Config already exists at %s", config.DefaultConfigPath())
			return
		}
		log.Printf("Default config written to %s", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	printBanner(cfg)

	sink, err := publish.OpenSink(cfg.Publish.Output)
	if err != nil {
		log.Fatalf("Failed to open output: %v", err)
	}
	defer sink.Close()
	pub := publish.NewPublisher(sink, cfg.Publish.Topic, logger)

	adapter := ble.NewTinyGoAdapter()
	if err := adapter.Enable(); err != nil {
		log.Fatalf("Failed to enable BLE adapter: %v\n\nEnsure Bluetooth is on and this process may use it.", err)
	}
	logger.Info("[BLE] adapter enabled")

	radio := ble.NewRadio()
	engine := ble.NewEngine(adapter, radio, ble.EngineOptions{
		QueueSize:      cfg.Queue.Size,
		ConnectTimeout: cfg.Queue.ConnectTimeout,
		NotifyTimeout:  cfg.Queue.NotifyTimeout,
	}, logger)
	engine.SetUnclaimedHandler(pub.HandleOperation)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("[BLE] executor stopped", "error", err)
		}
	}()

	if cfg.Scan.Enabled {
		scanner := ble.NewScanner(adapter, radio, ble.ScannerOptions{
			Window: cfg.Scan.Window,
			Pause:  cfg.Scan.Pause,
		}, logger)
		if cfg.Publish.Advertisements {
			adverts, err := publish.NewAdvertPublisher(pub, publish.AdvertOptions{
				PerSecond:      cfg.Publish.AdvertsPerSecond,
				Burst:          cfg.Publish.AdvertBurst,
				SeenCacheSize:  cfg.Publish.SeenCacheSize,
				RepeatInterval: cfg.Publish.RepeatInterval,
			}, logger)
			if err != nil {
				log.Fatalf("Failed to set up advertisement publishing: %v", err)
			}
			scanner.SetUnclaimedHandler(adverts.HandleAdvertisement)
			scanner.RegisterScanCompleteHandler("stats", func(*ble.ScanSummary) ble.Verdict {
				devices, suppressed, limited := adverts.Stats()
				logger.Debug("[PUB] advertisement stats", "devices", devices, "suppressed", suppressed, "rate_limited", limited)
				return ble.Pass
			})
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := scanner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("[SCAN] scanner stopped", "error", err)
			}
		}()
	}

	if !*noConsole {
		console := command.NewConsole(engine, pub, logger)
		go runConsole(ctx, console)
		log.Println("Ready! Type BLEOp commands, e.g. BLEOp1 <MAC>; BLEOp2 <svc>; BLEOp3 <char>; BLEOp5; BLEOp10. Ctrl+C to quit.")
	} else {
		log.Println("Ready! Ctrl+C to quit.")
	}

	<-ctx.Done()
	log.Println("Shutting down...")
	wg.Wait()
	snap := engine.Status()
	log.Printf("Completed %d operations (%d failed), published %d records", snap.Completed, snap.Failed, pub.Published())
	log.Println("Goodbye!")
}

// runConsole executes BLEOp lines from stdin and prints one JSON reply per
// command. It returns when stdin closes or ctx is done.
func runConsole(ctx context.Context, console *command.Console) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		for _, r := range console.Execute(sc.Text()) {
			fmt.Fprintln(os.Stderr, r.String())
		}
	}
	if err := sc.Err(); err != nil {
		slog.Warn("[CMD] console stopped", "error", err)
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary. It goes to
// stderr because stdout may carry records.
func printBanner(cfg *config.Config) {
	w := os.Stderr
	fmt.Fprintln(w, "=== blemux ===")
	fmt.Fprintf(w, "  Queue:   %d ops, connect %s, notify %s\n", cfg.Queue.Size, cfg.Queue.ConnectTimeout, cfg.Queue.NotifyTimeout)
	if cfg.Scan.Enabled {
		fmt.Fprintf(w, "  Scan:    %s windows, %s pause\n", cfg.Scan.Window, cfg.Scan.Pause)
	} else {
		fmt.Fprintln(w, "  Scan:    off")
	}
	fmt.Fprintf(w, "  Publish: %s -> %s (adverts: %t)\n", cfg.Publish.Topic, cfg.Publish.Output, cfg.Publish.Advertisements)
	fmt.Fprintf(w, "  Log:     %s\n", cfg.LogLevel)
	fmt.Fprintln(w, "==============")
}
