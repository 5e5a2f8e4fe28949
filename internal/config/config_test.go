package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() Config {
	cfg := Default()
	cfg.Identity.UserID = "alice"
	cfg.Signaling.RelayURL = "ws://127.0.0.1:8790"
	return cfg
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing user id", func(c *Config) { c.Identity.UserID = " " }, "user_id"},
		{"missing relay url", func(c *Config) { c.Signaling.RelayURL = "" }, "relay_url"},
		{"relay host without url", func(c *Config) {
			c.Signaling.RelayURL = ""
			c.Signaling.RelayHost = true
		}, ""},
		{"http relay url", func(c *Config) { c.Signaling.RelayURL = "http://x" }, "relay_url"},
		{"wss relay url", func(c *Config) { c.Signaling.RelayURL = "wss://relay.example" }, ""},
		{"no stun servers", func(c *Config) { c.ICE.STUNURLs = nil }, "stun_urls"},
		{"bad stun url", func(c *Config) { c.ICE.STUNURLs = []string{"turn:x"} }, "stun"},
		{"negative bitrate", func(c *Config) { c.Media.BitRate = -1 }, "media"},
		{"missing http addr", func(c *Config) { c.Service.HTTPAddr = "" }, "http_addr"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate() = %v, want error mentioning %q", err, tc.wantErr)
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile", "opsdesk.json")
	in := validConfig()
	in.Identity.DisplayName = "Alice"
	in.Media.MaxWidth = 1280

	if err := Save(path, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out.Identity.DisplayName != "Alice" || out.Media.MaxWidth != 1280 {
		t.Errorf("round trip lost fields: %+v", out)
	}
	if len(out.ICE.STUNURLs) != 2 {
		t.Errorf("stun urls = %v", out.ICE.STUNURLs)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("{oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("malformed JSON accepted")
	}

	cfg := validConfig()
	cfg.Identity.UserID = ""
	path = filepath.Join(dir, "invalid.json")
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("invalid config accepted")
	}

	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestEnsureCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opsdesk.json")

	cfg, created, err := Ensure(path)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !created {
		t.Fatal("created = false on first run")
	}
	if cfg.Signaling.RelayBind == "" || cfg.Service.HTTPAddr == "" {
		t.Errorf("defaults incomplete: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}

	// Second run loads the existing file; a fresh default still has no user
	// id, so the load fails validation until the profile is filled in.
	if _, created, err = Ensure(path); created {
		t.Error("created = true on second run")
	} else if err == nil {
		t.Error("unprovisioned profile passed validation")
	}

	filled := validConfig()
	if err := Save(path, filled); err != nil {
		t.Fatal(err)
	}
	cfg, created, err = Ensure(path)
	if err != nil || created {
		t.Fatalf("ensure after provisioning: cfg=%v created=%v err=%v", cfg, created, err)
	}
	if cfg.Identity.UserID != "alice" {
		t.Errorf("user id = %q", cfg.Identity.UserID)
	}
}
