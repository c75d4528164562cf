// cmd/voxmediad/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"voxmedia"
	"voxmedia/internal/config"
	"voxmedia/internal/session"
	"voxmedia/internal/util"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
)

var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("voxmediad v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: run command requires a data directory")
		fmt.Fprintln(os.Stderr, "Usage: voxmediad run <data-directory>")
		os.Exit(1)
	}
	if args[0] != "run" {
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", args[0])
		showUsage()
		os.Exit(1)
	}
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "Error: run command requires a data directory")
		os.Exit(1)
	}
	runEngine(args[1])
}

// runEngine loads (or creates) the peer's config file, starts the engine,
// and waits for Ctrl+C.
func runEngine(dirArg string) {
	absDir, err := filepath.Abs(dirArg)
	if err != nil {
		log.Fatalf("Invalid data directory: %v", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		log.Fatalf("Create data directory: %v", err)
	}

	cfgPath := filepath.Join(absDir, "voxmedia.json")
	cfg, created, err := ensureConfig(cfgPath, absDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	printBanner(absDir, cfgPath, cfg, created)

	engine, err := voxmedia.New(cfg)
	if err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}
	defer engine.Close()

	identityKey := engine.MLS().IdentityKey()
	if identityKey == nil {
		if _, err := engine.MLS().GenerateIdentity(1, filepath.Base(absDir)); err != nil {
			log.Fatalf("Failed to generate identity: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	if cfg.SFU.URL != "" {
		var certDER []byte
		if cfg.SFU.PinnedCertPath != "" {
			certDER, err = loadPinnedCert(cfg.SFU.PinnedCertPath)
			if err != nil {
				log.Fatalf("Failed to load pinned certificate: %v", err)
			}
		}
		engine.Enqueue(session.Command{
			Kind: session.CmdConnect,
			Connect: session.ConnectParams{
				URL:             cfg.SFU.URL,
				IdleTimeoutSecs: cfg.SFU.IdleTimeoutSecs,
				CertDER:         certDER,
			},
		})
	}

	for {
		select {
		case <-sigCh:
			slog.Info("shutting down")
			return
		case ev, ok := <-engine.Events():
			if !ok {
				return
			}
			slog.Info("session event", "kind", ev.Kind, "reason", ev.Reason, "user_id", ev.UserID)
		case <-ctx.Done():
			return
		}
	}
}

// ensureConfig loads cfgPath if present, or writes a fresh default config
// scoped to dataDir and returns it, matching goop2's Config.Ensure pattern
// (internal/config intentionally has no Load/Save of its own, per spec.md
// §1's "config loading" being out of scope for the engine itself).
func ensureConfig(cfgPath, dataDir string) (config.Config, bool, error) {
	if b, err := os.ReadFile(cfgPath); err == nil {
		cfg := config.Default()
		if err := json.Unmarshal(b, &cfg); err != nil {
			return config.Config{}, false, fmt.Errorf("parse %s: %w", cfgPath, err)
		}
		return cfg, false, nil
	} else if !os.IsNotExist(err) {
		return config.Config{}, false, err
	}

	cfg := config.Default()
	cfg.Paths.DataDir = dataDir
	if err := util.WriteJSONFile(cfgPath, cfg); err != nil {
		return config.Config{}, false, fmt.Errorf("write default config: %w", err)
	}
	return cfg, true, nil
}

// loadPinnedCert reads the DER-encoded certificate named by
// cfg.SFU.PinnedCertPath for use as transport.Dial's exact-match pin, per
// spec.md §4.5's pinned-certificate trust mode.
func loadPinnedCert(path string) ([]byte, error) {
	der, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pinned cert %s: %w", path, err)
	}
	return der, nil
}

func showUsage() {
	fmt.Println("voxmediad - real-time media engine host")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  voxmediad run <data-directory>")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h        Show this help message")
	fmt.Println("  -version  Show version information")
}

func printBanner(dataDir, cfgPath string, cfg config.Config, created bool) {
	fmt.Println("voxmediad")
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Printf("Config file:    %s\n", cfgPath)
	if created {
		fmt.Println("Wrote default config (edit sfu.url to connect to a server)")
	}
	if cfg.SFU.URL != "" {
		fmt.Printf("SFU:            %s\n", cfg.SFU.URL)
	} else {
		fmt.Println("SFU:            (not configured, running with no session)")
	}
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()
}
