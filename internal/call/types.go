package call

import (
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/rvanholten/opsdesk/internal/signaling"
)

// Signaler is the only surface the call package needs from the signaling
// layer: deliver outbound messages and expose the inbound stream. The
// concrete signaling.Channel satisfies it; the channel's lifecycle stays
// with whoever dialed it.
type Signaler interface {
	Send(*signaling.Message) error
	Subscribe() (ch chan *signaling.Message, cancel func())
}

var _ Signaler = (*signaling.Channel)(nil)

// Track is one local capture source (microphone, camera, or screen).
// SetEnabled gates samples at the source, so a disabled track keeps its
// negotiated leg alive and the remote side sees silence or black frames
// instead of a torn-down stream.
type Track interface {
	Kind() webrtc.RTPCodecType
	Local() webrtc.TrackLocal
	SetEnabled(bool)
	Enabled() bool
	// OnEnded fires when the source stops on its own, e.g. the desktop
	// portal's "stop sharing" button ending a screen capture.
	OnEnded(func())
	Close() error
}

// Capturer opens local capture tracks. The production implementation sits on
// pion/mediadevices (capture_linux.go / capture_other.go); tests use fakes.
type Capturer interface {
	Microphone() (Track, error)
	Camera() (Track, error)
	Screen() (Track, error)
}

// trackSender is the outgoing leg a local track is attached to. Wraps
// *webrtc.RTPSender; ReplaceTrack swaps the source without renegotiation.
type trackSender interface {
	ReplaceTrack(webrtc.TrackLocal) error
}

// peerLink is the surface a session needs from its peer connection. One live
// link per session, created only after local capture exists. The pion-backed
// implementation lives in engine.go; tests drive the state machine through a
// fake.
type peerLink interface {
	AddTrack(webrtc.TrackLocal) (trackSender, error)
	AddRecvOnly(kind webrtc.RTPCodecType) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(webrtc.ICECandidateInit) error
	OnICECandidate(func(*webrtc.ICECandidate))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	WriteRTCP([]rtcp.Packet) error
	Close() error
}

// linkFactory builds the peer connection for one session.
type linkFactory func() (peerLink, error)

// RemoteSink receives remote media for the presentation layer to render.
// The default sink discards packets.
type RemoteSink interface {
	RemoteTrack(kind webrtc.RTPCodecType, pkt *rtp.Packet)
}
