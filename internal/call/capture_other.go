//go:build !linux

package call

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// CaptureConfig caps the camera capture; unused on this platform.
type CaptureConfig struct {
	MaxWidth  int
	MaxHeight int
	BitRate   int
}

// DeviceCapturer has no driver backend off Linux - camera/mic capture via
// pion/mediadevices needs V4L2/malgo/X11. Each open fails with
// ErrMediaAcquisition, which aborts an outgoing attempt and auto-rejects an
// incoming one exactly like a denied device would.
type DeviceCapturer struct{}

func NewDeviceCapturer(CaptureConfig) (*DeviceCapturer, error) {
	return &DeviceCapturer{}, nil
}

// SetConfig is a no-op without a driver backend.
func (d *DeviceCapturer) SetConfig(CaptureConfig) error { return nil }

func (d *DeviceCapturer) PopulateMediaEngine(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}

func (d *DeviceCapturer) Microphone() (Track, error) { return nil, d.unsupported("microphone") }
func (d *DeviceCapturer) Camera() (Track, error)     { return nil, d.unsupported("camera") }
func (d *DeviceCapturer) Screen() (Track, error)     { return nil, d.unsupported("screen") }

func (d *DeviceCapturer) unsupported(what string) error {
	return fmt.Errorf("%s capture not supported on this platform", what)
}
