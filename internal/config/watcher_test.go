package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitForConfig(t *testing.T, w *Watcher, cond func(Config) bool) Config {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cfg := w.Current(); cond(cfg) {
			return cfg
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("config never reached expected state, last: %+v", w.Current())
	return Config{}
}

func TestWatcherReloadsOnRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opsdesk.json")
	cfg := validConfig()
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	changes := make(chan Config, 4)
	w, err := Watch(path, cfg, func(c Config) { changes <- c })
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer w.Close()

	cfg.Identity.DisplayName = "Renamed"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	got := waitForConfig(t, w, func(c Config) bool { return c.Identity.DisplayName == "Renamed" })
	if got.Identity.UserID != "alice" {
		t.Errorf("reload lost fields: %+v", got)
	}
	select {
	case c := <-changes:
		if c.Identity.DisplayName != "Renamed" {
			t.Errorf("onChange got %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Error("onChange never fired")
	}
}

func TestWatcherKeepsLastValidOnBadRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "opsdesk.json")
	cfg := validConfig()
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	w, err := Watch(path, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	// The broken rewrite must not clobber the served config. Prove the loop
	// is still alive afterwards by serving one more good rewrite.
	time.Sleep(200 * time.Millisecond)
	if got := w.Current(); got.Identity.UserID != "alice" {
		t.Fatalf("broken rewrite clobbered config: %+v", got)
	}

	cfg.Identity.DisplayName = "AfterBreakage"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	waitForConfig(t, w, func(c Config) bool { return c.Identity.DisplayName == "AfterBreakage" })
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "opsdesk.json")
	cfg := validConfig()
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	w, err := Watch(path, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if got := w.Current(); got.Identity.DisplayName != cfg.Identity.DisplayName {
		t.Errorf("sibling write changed config: %+v", got)
	}
}
