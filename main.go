// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rvanholten/opsdesk/internal/app"
	"github.com/rvanholten/opsdesk/internal/config"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("opsdesk v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		showUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "call":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: call command requires a profile directory")
			fmt.Fprintln(os.Stderr, "Usage: opsdesk call <profile-directory>")
			os.Exit(1)
		}
		runCallService(args[1])

	case "relay":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: relay command requires a profile directory")
			fmt.Fprintln(os.Stderr, "Usage: opsdesk relay <profile-directory>")
			os.Exit(1)
		}
		runRelay(args[1])

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n", args[0])
		fmt.Fprintln(os.Stderr)
		showUsage()
		os.Exit(1)
	}
}

func runCallService(dirArg string) {
	absDir, cfgPath, cfg := loadProfile(dirArg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config not ready: %v (edit %s)", err, cfgPath)
	}

	printBanner(absDir, cfgPath, cfg)

	ctx, cancel := signalContext()
	defer cancel()

	if err := app.Run(ctx, app.Options{
		ProfileDir: absDir,
		CfgPath:    cfgPath,
		Cfg:        cfg,
	}); err != nil {
		log.Fatalf("Call service failed: %v", err)
	}
}

func runRelay(dirArg string) {
	absDir, cfgPath, cfg := loadProfile(dirArg)

	// Force relay mode regardless of what the config file says.
	cfg.Signaling.RelayHost = true

	printBanner(absDir, cfgPath, cfg)

	ctx, cancel := signalContext()
	defer cancel()

	if err := app.RunRelay(ctx, cfg.Signaling.RelayBind); err != nil {
		log.Fatalf("Relay failed: %v", err)
	}
}

func loadProfile(dirArg string) (string, string, config.Config) {
	absDir, err := filepath.Abs(dirArg)
	if err != nil {
		log.Fatalf("Invalid profile directory: %v", err)
	}
	if stat, err := os.Stat(absDir); err != nil || !stat.IsDir() {
		log.Fatalf("Profile directory does not exist: %s", absDir)
	}

	cfgPath := filepath.Join(absDir, "opsdesk.json")
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if created {
		log.Printf("Wrote default config to %s - set identity.user_id and signaling.relay_url", cfgPath)
	}
	return absDir, cfgPath, cfg
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("\nShutting down gracefully...")
		cancel()
	}()
	return ctx, cancel
}

func showUsage() {
	fmt.Println("opsdesk - desktop call service")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  opsdesk call <directory>    Run the call service for a profile")
	fmt.Println("  opsdesk relay <directory>   Run only the LAN signaling relay")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h        Show this help message")
	fmt.Println("  -version  Show version information")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Run the call service")
	fmt.Println("  opsdesk call ./profiles/workshop")
	fmt.Println()
	fmt.Println("  # Run a standalone relay for the LAN")
	fmt.Println("  opsdesk relay ./profiles/relay")
}

func printBanner(profileDir, cfgPath string, cfg config.Config) {
	fmt.Println("╔════════════════════════════════════════════════════════╗")
	fmt.Println("║                 opsdesk call service                   ║")
	fmt.Println("╚════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Profile Directory: %s\n", profileDir)
	fmt.Printf("Config File:       %s\n", cfgPath)
	if cfg.Identity.DisplayName != "" {
		fmt.Printf("Display Name:      %s\n", cfg.Identity.DisplayName)
	}
	if cfg.Signaling.RelayHost {
		fmt.Printf("Relay:             ws://%s\n", cfg.Signaling.RelayBind)
	} else if cfg.Signaling.RelayURL != "" {
		fmt.Printf("Relay:             %s\n", cfg.Signaling.RelayURL)
	}
	fmt.Println()
	fmt.Println("Starting... (Press Ctrl+C to stop)")
	fmt.Println("────────────────────────────────────────────────────────")
	fmt.Println()
}
