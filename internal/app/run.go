// Package app wires the call service together: config, call history,
// signaling, the session manager, and the local HTTP surface the desktop UI
// talks to.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rvanholten/opsdesk/internal/call"
	"github.com/rvanholten/opsdesk/internal/config"
	"github.com/rvanholten/opsdesk/internal/diag"
	"github.com/rvanholten/opsdesk/internal/history"
	"github.com/rvanholten/opsdesk/internal/routes"
	"github.com/rvanholten/opsdesk/internal/signaling"
)

type Options struct {
	ProfileDir string
	CfgPath    string
	Cfg        config.Config
}

// Run starts the call service and blocks until ctx is cancelled.
func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg

	// ── Log capture for the diagnostics screen
	logs := diag.NewLogBuffer(500)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	// ── Optional LAN relay
	var relaySrv *http.Server
	if cfg.Signaling.RelayHost {
		relay := signaling.NewRelay()
		relaySrv = &http.Server{Addr: cfg.Signaling.RelayBind, Handler: relay.Handler()}
		go func() {
			log.Printf("APP: relay listening on %s", cfg.Signaling.RelayBind)
			if err := relaySrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("APP: relay server: %v", err)
			}
		}()
		if cfg.Signaling.RelayURL == "" {
			cfg.Signaling.RelayURL = "ws://" + cfg.Signaling.RelayBind
		}
	}

	// ── Call history
	hist, err := history.Open(filepath.Join(opt.ProfileDir, cfg.Storage.DataDir))
	if err != nil {
		return fmt.Errorf("open call history: %w", err)
	}
	defer hist.Close()

	// ── Signaling channel, keyed by our user id
	ch, err := signaling.Dial(cfg.Signaling.RelayURL, cfg.Identity.UserID)
	if err != nil {
		return fmt.Errorf("connect signaling: %w", err)
	}
	defer ch.Close()

	// ── Capture + engine + manager
	capturer, err := call.NewDeviceCapturer(captureConfig(cfg))
	if err != nil {
		return fmt.Errorf("init capture: %w", err)
	}

	engine := call.NewEngine(engineConfig(cfg), capturer.PopulateMediaEngine)

	mgr := call.New(ch, cfg.Identity.DisplayName, engine.NewLink, capturer, hist)
	defer mgr.Close()

	// ── Config hot reload. A live call keeps the inputs it started with;
	// the next session's link and capture opens pick up the new values.
	watcher, err := config.Watch(opt.CfgPath, cfg, func(next config.Config) {
		engine.SetConfig(engineConfig(next))
		if err := capturer.SetConfig(captureConfig(next)); err != nil {
			log.Printf("APP: apply capture config: %v", err)
		}
	})
	if err != nil {
		log.Printf("APP: config watch disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	// ── Local HTTP surface for the UI
	mux := http.NewServeMux()
	routes.RegisterCall(mux, mgr, hist)
	routes.RegisterLogs(mux, logs)

	srv := &http.Server{Addr: cfg.Service.HTTPAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("APP: call service on http://%s (user %s)", cfg.Service.HTTPAddr, cfg.Identity.UserID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if relaySrv != nil {
		_ = relaySrv.Shutdown(shutdownCtx)
	}
	return nil
}

// engineConfig and captureConfig map the on-disk config to the call
// package's inputs. Startup and hot reload go through the same mapping.
func engineConfig(cfg config.Config) call.EngineConfig {
	return call.EngineConfig{
		STUNURLs:            cfg.ICE.STUNURLs,
		DisconnectedTimeout: time.Duration(cfg.ICE.DisconnectedTimeoutSec) * time.Second,
		FailedTimeout:       time.Duration(cfg.ICE.FailedTimeoutSec) * time.Second,
		KeepAliveInterval:   time.Duration(cfg.ICE.KeepAliveIntervalSec) * time.Second,
	}
}

func captureConfig(cfg config.Config) call.CaptureConfig {
	return call.CaptureConfig{
		MaxWidth:  cfg.Media.MaxWidth,
		MaxHeight: cfg.Media.MaxHeight,
		BitRate:   cfg.Media.BitRate,
	}
}

// RunRelay runs only the LAN relay, for a machine that just routes
// signaling for others.
func RunRelay(ctx context.Context, bind string) error {
	relay := signaling.NewRelay()
	srv := &http.Server{Addr: bind, Handler: relay.Handler()}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("APP: relay listening on %s", bind)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("relay server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
