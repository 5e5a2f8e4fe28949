package call

import (
	"fmt"
	"log"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/rvanholten/opsdesk/internal/signaling"
)

// VideoSource says what currently feeds the outgoing video leg.
type VideoSource string

const (
	SourceCamera VideoSource = "camera"
	SourceScreen VideoSource = "screen"
)

// Media owns the local capture state for one session: microphone, camera,
// and screen tracks, their enabled flags, and the senders they feed. Every
// operation here is a transport-track operation - none of them changes call
// status or re-enters offer/answer negotiation.
type Media struct {
	chatID string
	cap    Capturer

	mu          sync.Mutex
	link        peerLink
	audio       Track
	camera      Track
	screen      Track
	audioSender trackSender
	videoSender trackSender
	source      VideoSource
	speakerOn   bool
	// preview receives whichever track should show in the local self-view;
	// the screen share mirrors here while the outgoing sender carries it.
	preview func(Track)
	closed  bool
}

func newMedia(chatID string, cap Capturer) *Media {
	return &Media{
		chatID:    chatID,
		cap:       cap,
		source:    SourceCamera,
		speakerOn: true,
	}
}

// OnPreview registers the local self-view sink. May be nil.
func (m *Media) OnPreview(fn func(Track)) {
	m.mu.Lock()
	m.preview = fn
	m.mu.Unlock()
}

// acquire opens the microphone, and the camera too for video calls. Fails
// with ErrMediaAcquisition when a required device cannot be opened, before
// any track is attached anywhere.
func (m *Media) acquire(kind signaling.CallKind) error {
	audio, err := m.cap.Microphone()
	if err != nil {
		return fmt.Errorf("%w: microphone: %v", ErrMediaAcquisition, err)
	}

	var camera Track
	if kind == signaling.KindVideo {
		camera, err = m.cap.Camera()
		if err != nil {
			audio.Close()
			return fmt.Errorf("%w: camera: %v", ErrMediaAcquisition, err)
		}
	}

	m.mu.Lock()
	m.audio = audio
	m.camera = camera
	m.mu.Unlock()

	if camera != nil {
		m.firePreview(camera)
	}
	return nil
}

// attach adds the captured tracks to the link and records their senders.
// Must run before the first offer or answer is produced, or the far end
// receives no media on this leg.
func (m *Media) attach(link peerLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.link = link
	if m.audio != nil {
		s, err := link.AddTrack(m.audio.Local())
		if err != nil {
			return fmt.Errorf("%w: attach audio: %v", ErrNegotiation, err)
		}
		m.audioSender = s
	}
	if m.camera != nil {
		s, err := link.AddTrack(m.camera.Local())
		if err != nil {
			return fmt.Errorf("%w: attach video: %v", ErrNegotiation, err)
		}
		m.videoSender = s
	}
	return nil
}

// ToggleAudio flips the microphone's enabled flag without touching the
// negotiated leg. Returns the new muted state (true = muted).
func (m *Media) ToggleAudio() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.audio == nil {
		return true
	}
	m.audio.SetEnabled(!m.audio.Enabled())
	muted := !m.audio.Enabled()
	log.Printf("CALL [%s]: audio muted=%v", m.chatID, muted)
	return muted
}

// ToggleVideo flips the camera's enabled flag. When the call started
// audio-only and video is being turned on, a camera is acquired lazily and
// attached as a new outgoing track. Returns the new disabled state.
func (m *Media) ToggleVideo() (bool, error) {
	m.mu.Lock()
	if m.camera != nil {
		m.camera.SetEnabled(!m.camera.Enabled())
		disabled := !m.camera.Enabled()
		m.mu.Unlock()
		log.Printf("CALL [%s]: video disabled=%v", m.chatID, disabled)
		return disabled, nil
	}
	link := m.link
	m.mu.Unlock()

	// Audio-only call turning video on for the first time.
	camera, err := m.cap.Camera()
	if err != nil {
		return true, fmt.Errorf("%w: camera: %v", ErrMediaAcquisition, err)
	}

	m.mu.Lock()
	m.camera = camera
	if link != nil {
		s, err := link.AddTrack(camera.Local())
		if err != nil {
			m.camera = nil
			m.mu.Unlock()
			camera.Close()
			return true, fmt.Errorf("%w: attach camera: %v", ErrNegotiation, err)
		}
		m.videoSender = s
	}
	m.mu.Unlock()

	m.firePreview(camera)
	log.Printf("CALL [%s]: camera acquired, video on", m.chatID)
	return false, nil
}

// StartScreenShare swaps the outgoing video source to a screen capture by
// replacing the sender's track in place - no renegotiation, no new
// offer/answer. The screen stream also mirrors into the local preview, and
// the capture's own end-of-stream stops the share.
func (m *Media) StartScreenShare() error {
	m.mu.Lock()
	if m.screen != nil {
		m.mu.Unlock()
		return nil // already sharing
	}
	sender := m.videoSender
	m.mu.Unlock()

	if sender == nil {
		return fmt.Errorf("%w: no outgoing video leg to replace", ErrMediaAcquisition)
	}

	screen, err := m.cap.Screen()
	if err != nil {
		return fmt.Errorf("%w: screen: %v", ErrMediaAcquisition, err)
	}

	if err := sender.ReplaceTrack(screen.Local()); err != nil {
		screen.Close()
		return fmt.Errorf("replace video track: %w", err)
	}

	m.mu.Lock()
	m.screen = screen
	m.source = SourceScreen
	m.mu.Unlock()

	// Desktop "stop sharing" UI ends the capture out from under us.
	screen.OnEnded(func() {
		if err := m.StopScreenShare(); err != nil {
			log.Printf("CALL [%s]: stop screen share after source ended: %v", m.chatID, err)
		}
	})

	m.firePreview(screen)
	log.Printf("CALL [%s]: screen share started", m.chatID)
	return nil
}

// StopScreenShare releases the screen capture and puts the camera back on
// the outgoing leg - or a null track when video is off.
func (m *Media) StopScreenShare() error {
	m.mu.Lock()
	screen := m.screen
	m.screen = nil
	m.source = SourceCamera
	sender := m.videoSender
	camera := m.camera
	m.mu.Unlock()

	if screen == nil {
		return nil // idempotent
	}
	screen.Close()

	var back webrtc.TrackLocal
	if camera != nil && camera.Enabled() {
		back = camera.Local()
	}
	if sender != nil {
		if err := sender.ReplaceTrack(back); err != nil {
			return fmt.Errorf("restore video track: %w", err)
		}
	}

	if camera != nil {
		m.firePreview(camera)
	}
	log.Printf("CALL [%s]: screen share stopped", m.chatID)
	return nil
}

// ToggleSpeaker flips local playback of remote audio. Purely local; the
// remote side never notices. Returns the new speaker-off state.
func (m *Media) ToggleSpeaker() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speakerOn = !m.speakerOn
	log.Printf("CALL [%s]: speaker on=%v", m.chatID, m.speakerOn)
	return !m.speakerOn
}

// SpeakerOn reports whether remote audio should play locally.
func (m *Media) SpeakerOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speakerOn
}

// Source reports what currently feeds the outgoing video leg.
func (m *Media) Source() VideoSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.source
}

// AudioOn reports whether the microphone track exists and is enabled.
func (m *Media) AudioOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audio != nil && m.audio.Enabled()
}

// VideoOn reports whether the camera track exists and is enabled.
func (m *Media) VideoOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.camera != nil && m.camera.Enabled()
}

// Close stops every local capture. Idempotent; part of session teardown.
func (m *Media) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	tracks := []Track{m.audio, m.camera, m.screen}
	m.audio, m.camera, m.screen = nil, nil, nil
	m.audioSender, m.videoSender = nil, nil
	m.link = nil
	m.mu.Unlock()

	for _, t := range tracks {
		if t != nil {
			t.Close()
		}
	}
}

func (m *Media) firePreview(t Track) {
	m.mu.Lock()
	fn := m.preview
	m.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}
