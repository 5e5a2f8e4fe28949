package app

import (
	"testing"
	"time"

	"github.com/rvanholten/opsdesk/internal/config"
)

func TestConfigMappingFeedsCallLayer(t *testing.T) {
	var cfg config.Config
	cfg.ICE.STUNURLs = []string{"stun:stun.example.net:3478"}
	cfg.ICE.DisconnectedTimeoutSec = 15
	cfg.ICE.FailedTimeoutSec = 60
	cfg.ICE.KeepAliveIntervalSec = 1
	cfg.Media.MaxWidth = 1280
	cfg.Media.MaxHeight = 720
	cfg.Media.BitRate = 2_000_000

	ec := engineConfig(cfg)
	if len(ec.STUNURLs) != 1 || ec.STUNURLs[0] != "stun:stun.example.net:3478" {
		t.Errorf("STUNURLs = %v", ec.STUNURLs)
	}
	if ec.DisconnectedTimeout != 15*time.Second || ec.FailedTimeout != 60*time.Second || ec.KeepAliveInterval != time.Second {
		t.Errorf("timeouts = %v/%v/%v", ec.DisconnectedTimeout, ec.FailedTimeout, ec.KeepAliveInterval)
	}

	cc := captureConfig(cfg)
	if cc.MaxWidth != 1280 || cc.MaxHeight != 720 || cc.BitRate != 2_000_000 {
		t.Errorf("capture config = %+v", cc)
	}
}
