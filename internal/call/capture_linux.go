//go:build linux

package call

import (
	"fmt"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// CaptureConfig caps the camera capture. Higher resolutions push VP8
// encoding latency past what a desktop webview renders smoothly.
type CaptureConfig struct {
	MaxWidth  int
	MaxHeight int
	BitRate   int
}

func (c CaptureConfig) withDefaults() CaptureConfig {
	if c.MaxWidth == 0 {
		c.MaxWidth = 640
	}
	if c.MaxHeight == 0 {
		c.MaxHeight = 480
	}
	if c.BitRate == 0 {
		c.BitRate = 1_500_000
	}
	return c
}

func newCodecSelector(cfg CaptureConfig) (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = cfg.BitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

// DeviceCapturer opens local media through pion/mediadevices (V4L2 + malgo +
// X11 on Linux). One instance serves the whole process; each call session
// opens its own tracks through it.
type DeviceCapturer struct {
	mu       sync.RWMutex
	cfg      CaptureConfig
	selector *mediadevices.CodecSelector
}

// NewDeviceCapturer builds the capturer with a VP8+Opus codec selector.
func NewDeviceCapturer(cfg CaptureConfig) (*DeviceCapturer, error) {
	cfg = cfg.withDefaults()
	sel, err := newCodecSelector(cfg)
	if err != nil {
		return nil, err
	}
	return &DeviceCapturer{cfg: cfg, selector: sel}, nil
}

// SetConfig swaps the capture caps and rebuilds the codec selector. Tracks
// already open keep the encoder they started with; the next open and the
// next link's codec registration use the new values.
func (d *DeviceCapturer) SetConfig(cfg CaptureConfig) error {
	cfg = cfg.withDefaults()
	sel, err := newCodecSelector(cfg)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.cfg = cfg
	d.selector = sel
	d.mu.Unlock()
	return nil
}

func (d *DeviceCapturer) snapshot() (CaptureConfig, *mediadevices.CodecSelector) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg, d.selector
}

// PopulateMediaEngine registers the capturer's codecs; passed to the engine
// as its MediaEngineSetup.
func (d *DeviceCapturer) PopulateMediaEngine(me *webrtc.MediaEngine) error {
	_, sel := d.snapshot()
	sel.Populate(me)
	return nil
}

// Microphone opens an audio capture track.
func (d *DeviceCapturer) Microphone() (Track, error) {
	_, sel := d.snapshot()
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
		Codec: sel,
	})
	if err != nil {
		return nil, fmt.Errorf("get user media (audio): %w", err)
	}
	return d.firstTrack(stream, webrtc.RTPCodecTypeAudio)
}

// Camera opens a video capture track with the configured caps. MJPEG nodes
// are excluded - some cameras emit malformed JPEG frames that poison the
// VP8 encoder and break SDP negotiation.
func (d *DeviceCapturer) Camera() (Track, error) {
	cfg, sel := d.snapshot()
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: cfg.MaxWidth}
			c.Height = prop.IntRanged{Max: cfg.MaxHeight}
		},
		Codec: sel,
	})
	if err != nil {
		return nil, fmt.Errorf("get user media (video): %w", err)
	}
	return d.firstTrack(stream, webrtc.RTPCodecTypeVideo)
}

// Screen opens a display capture track.
func (d *DeviceCapturer) Screen() (Track, error) {
	_, sel := d.snapshot()
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(_ *mediadevices.MediaTrackConstraints) {},
		Codec: sel,
	})
	if err != nil {
		return nil, fmt.Errorf("get display media: %w", err)
	}
	return d.firstTrack(stream, webrtc.RTPCodecTypeVideo)
}

func (d *DeviceCapturer) firstTrack(stream mediadevices.MediaStream, kind webrtc.RTPCodecType) (Track, error) {
	for _, t := range stream.GetTracks() {
		if t.Kind() == kind {
			return newDeviceTrack(t), nil
		}
	}
	for _, t := range stream.GetTracks() {
		t.Close()
	}
	return nil, fmt.Errorf("no %s track in capture stream", kind)
}

// deviceTrack adapts a mediadevices track to the Track surface.
type deviceTrack struct {
	md mediadevices.Track

	mu      sync.Mutex
	enabled bool
	onEnded func()
}

func newDeviceTrack(md mediadevices.Track) *deviceTrack {
	t := &deviceTrack{md: md, enabled: true}
	md.OnEnded(func(error) {
		t.mu.Lock()
		fn := t.onEnded
		t.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
	return t
}

func (t *deviceTrack) Kind() webrtc.RTPCodecType { return t.md.Kind() }
func (t *deviceTrack) Local() webrtc.TrackLocal  { return t.md }

// suspender is implemented by drivers that can pause capture in place.
type suspender interface {
	Suspend() error
	Resume() error
}

// SetEnabled gates the source without detaching it from its sender: the
// negotiated leg stays up and the remote hears silence / sees a still frame.
func (t *deviceTrack) SetEnabled(on bool) {
	t.mu.Lock()
	if t.enabled == on {
		t.mu.Unlock()
		return
	}
	t.enabled = on
	t.mu.Unlock()

	if s, ok := t.md.(suspender); ok {
		if on {
			_ = s.Resume()
		} else {
			_ = s.Suspend()
		}
	}
}

func (t *deviceTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *deviceTrack) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}

func (t *deviceTrack) Close() error { return t.md.Close() }
