package call

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// EngineConfig carries the environment-specific negotiation inputs: STUN
// resolvers (no TURN fallback - calls across restrictive NATs may simply
// fail, a documented limitation) and ICE timeouts.
type EngineConfig struct {
	STUNURLs            []string
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
}

// MediaEngineSetup registers codecs on a fresh media engine. The device
// capturer supplies one built from its codec selector; nil falls back to
// pion's defaults.
type MediaEngineSetup func(*webrtc.MediaEngine) error

// withDefaults fills zero fields with the engine's baseline values.
func (c EngineConfig) withDefaults() EngineConfig {
	if len(c.STUNURLs) == 0 {
		c.STUNURLs = []string{"stun:stun.l.google.com:19302"}
	}
	if c.DisconnectedTimeout == 0 {
		// The pion default of 5s is far too eager for relay/NAT hiccups;
		// give ICE time to recover before the state machine sees "failed".
		c.DisconnectedTimeout = 30 * time.Second
	}
	if c.FailedTimeout == 0 {
		c.FailedTimeout = 120 * time.Second
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = 2 * time.Second
	}
	return c
}

// Engine builds peer connections for sessions.
type Engine struct {
	setup MediaEngineSetup

	mu  sync.RWMutex
	cfg EngineConfig
}

// NewEngine creates an engine. setup may be nil.
func NewEngine(cfg EngineConfig, setup MediaEngineSetup) *Engine {
	return &Engine{cfg: cfg.withDefaults(), setup: setup}
}

// SetConfig swaps the negotiation inputs. Links already built keep the
// values they were created with; the next NewLink picks these up.
func (e *Engine) SetConfig(cfg EngineConfig) {
	e.mu.Lock()
	e.cfg = cfg.withDefaults()
	e.mu.Unlock()
}

func (e *Engine) config() EngineConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// NewLink builds one peer connection with the configured codecs,
// interceptors, and ICE settings. Satisfies linkFactory.
func (e *Engine) NewLink() (peerLink, error) {
	cfg := e.config()

	mediaEngine := &webrtc.MediaEngine{}
	if e.setup != nil {
		if err := e.setup(mediaEngine); err != nil {
			return nil, fmt.Errorf("media engine: %w", err)
		}
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: cfg.STUNURLs}},
	})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return &pionPeer{pc: pc}, nil
}

// pionPeer adapts *webrtc.PeerConnection to the peerLink surface.
type pionPeer struct {
	pc *webrtc.PeerConnection
}

func (p *pionPeer) AddTrack(t webrtc.TrackLocal) (trackSender, error) {
	sender, err := p.pc.AddTrack(t)
	if err != nil {
		return nil, err
	}
	return sender, nil
}

func (p *pionPeer) AddRecvOnly(kind webrtc.RTPCodecType) error {
	_, err := p.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	return err
}

func (p *pionPeer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *pionPeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *pionPeer) SetLocalDescription(d webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(d)
}

func (p *pionPeer) SetRemoteDescription(d webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(d)
}

func (p *pionPeer) RemoteDescription() *webrtc.SessionDescription {
	return p.pc.RemoteDescription()
}

func (p *pionPeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(c)
}

func (p *pionPeer) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	p.pc.OnICECandidate(fn)
}

func (p *pionPeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

func (p *pionPeer) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	p.pc.OnTrack(fn)
}

func (p *pionPeer) WriteRTCP(pkts []rtcp.Packet) error {
	return p.pc.WriteRTCP(pkts)
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}
