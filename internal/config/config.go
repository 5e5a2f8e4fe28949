package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

type Config struct {
	Identity  Identity  `json:"identity"`
	Signaling Signaling `json:"signaling"`
	ICE       ICE       `json:"ice"`
	Media     Media     `json:"media"`
	Service   Service   `json:"service"`
	Storage   Storage   `json:"storage"`
}

type Identity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type Signaling struct {
	// Relay base URL, e.g. "ws://relay.lan:8790".
	RelayURL string `json:"relay_url"`

	// If true, serve a LAN relay on RelayBind instead of dialing one.
	RelayHost bool   `json:"relay_host"`
	RelayBind string `json:"relay_bind"`
}

type ICE struct {
	// Public STUN resolvers. No TURN fallback - calls across restrictive
	// NATs may fail to connect; known limitation.
	STUNURLs []string `json:"stun_urls"`

	DisconnectedTimeoutSec int `json:"disconnected_timeout_sec"`
	FailedTimeoutSec       int `json:"failed_timeout_sec"`
	KeepAliveIntervalSec   int `json:"keepalive_interval_sec"`
}

type Media struct {
	MaxWidth  int `json:"max_width"`
	MaxHeight int `json:"max_height"`
	// Outgoing VP8 bitrate in bits per second.
	BitRate int `json:"bit_rate"`
}

type Service struct {
	// Local HTTP address the desktop UI talks to.
	HTTPAddr string `json:"http_addr"`
}

type Storage struct {
	// Directory for the call log database, relative to the profile dir.
	DataDir string `json:"data_dir"`
}

func Default() Config {
	return Config{
		Identity: Identity{
			DisplayName: "me",
		},
		Signaling: Signaling{
			RelayURL:  "",
			RelayHost: false,
			RelayBind: "127.0.0.1:8790",
		},
		ICE: ICE{
			STUNURLs: []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
			},
			DisconnectedTimeoutSec: 30,
			FailedTimeoutSec:       120,
			KeepAliveIntervalSec:   2,
		},
		Media: Media{
			MaxWidth:  640,
			MaxHeight: 480,
			BitRate:   1_500_000,
		},
		Service: Service{
			HTTPAddr: "127.0.0.1:8791",
		},
		Storage: Storage{
			DataDir: "data",
		},
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Identity.UserID) == "" {
		return errors.New("identity.user_id is required")
	}
	if c.Signaling.RelayURL == "" && !c.Signaling.RelayHost {
		return errors.New("signaling.relay_url is required unless relay_host is set")
	}
	if c.Signaling.RelayURL != "" {
		u, err := url.Parse(c.Signaling.RelayURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("signaling.relay_url must be a ws:// or wss:// URL, got %q", c.Signaling.RelayURL)
		}
	}
	if len(c.ICE.STUNURLs) == 0 {
		return errors.New("ice.stun_urls must list at least one resolver")
	}
	for _, s := range c.ICE.STUNURLs {
		if !strings.HasPrefix(s, "stun:") {
			return fmt.Errorf("ice.stun_urls entry %q is not a stun: URL", s)
		}
	}
	if c.Media.MaxWidth < 0 || c.Media.MaxHeight < 0 || c.Media.BitRate < 0 {
		return errors.New("media caps must be non-negative")
	}
	if strings.TrimSpace(c.Service.HTTPAddr) == "" {
		return errors.New("service.http_addr is required")
	}
	return nil
}

// Load reads and validates a config file.
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config, creating parent directories if needed.
func Save(path string, cfg Config) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Ensure loads the config at path, writing defaults first when the file does
// not exist yet. Returns the config and whether it was created.
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		if err := Save(path, cfg); err != nil {
			return cfg, false, fmt.Errorf("write default config: %w", err)
		}
		return cfg, true, nil
	}
	cfg, err := Load(path)
	return cfg, false, err
}
