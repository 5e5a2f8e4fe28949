package call

import (
	"testing"
	"time"
)

func TestEngineConfigDefaults(t *testing.T) {
	e := NewEngine(EngineConfig{}, nil)
	cfg := e.config()
	if len(cfg.STUNURLs) == 0 {
		t.Error("no default STUN resolver")
	}
	if cfg.DisconnectedTimeout != 30*time.Second {
		t.Errorf("DisconnectedTimeout = %v, want 30s", cfg.DisconnectedTimeout)
	}
	if cfg.FailedTimeout != 120*time.Second {
		t.Errorf("FailedTimeout = %v, want 120s", cfg.FailedTimeout)
	}
	if cfg.KeepAliveInterval != 2*time.Second {
		t.Errorf("KeepAliveInterval = %v, want 2s", cfg.KeepAliveInterval)
	}
}

func TestEngineSetConfigAppliesToNextLink(t *testing.T) {
	e := NewEngine(EngineConfig{STUNURLs: []string{"stun:old.example.net:3478"}}, nil)

	e.SetConfig(EngineConfig{
		STUNURLs:            []string{"stun:new.example.net:3478"},
		DisconnectedTimeout: 10 * time.Second,
	})

	// NewLink snapshots this on every call, so the swap reaches the next
	// session without touching existing links.
	cfg := e.config()
	if len(cfg.STUNURLs) != 1 || cfg.STUNURLs[0] != "stun:new.example.net:3478" {
		t.Errorf("STUNURLs = %v after swap", cfg.STUNURLs)
	}
	if cfg.DisconnectedTimeout != 10*time.Second {
		t.Errorf("DisconnectedTimeout = %v, want 10s", cfg.DisconnectedTimeout)
	}
	// Fields left zero in the swap still get the baseline.
	if cfg.FailedTimeout != 120*time.Second {
		t.Errorf("FailedTimeout = %v, want default 120s", cfg.FailedTimeout)
	}
}
