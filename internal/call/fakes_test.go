package call

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/rvanholten/opsdesk/internal/signaling"
)

// ── fake signaler ────────────────────────────────────────────────────────────

type fakeSignaler struct {
	mu      sync.Mutex
	sent    []*signaling.Message
	inbox   chan *signaling.Message
	sendErr error
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{
		inbox: make(chan *signaling.Message, 64),
	}
}

func (f *fakeSignaler) Send(m *signaling.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeSignaler) Subscribe() (chan *signaling.Message, func()) {
	return f.inbox, func() {}
}

func (f *fakeSignaler) deliver(m *signaling.Message) { f.inbox <- m }

func (f *fakeSignaler) countType(t string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent {
		if m.Type == t {
			n++
		}
	}
	return n
}

func (f *fakeSignaler) lastOfType(t string) *signaling.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].Type == t {
			return f.sent[i]
		}
	}
	return nil
}

// ── fake peer link ───────────────────────────────────────────────────────────

type fakeSender struct {
	mu       sync.Mutex
	replaced []webrtc.TrackLocal
}

func (s *fakeSender) ReplaceTrack(t webrtc.TrackLocal) error {
	s.mu.Lock()
	s.replaced = append(s.replaced, t)
	s.mu.Unlock()
	return nil
}

func (s *fakeSender) current() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replaced) == 0 {
		return nil
	}
	return s.replaced[len(s.replaced)-1]
}

type fakeLink struct {
	mu sync.Mutex

	remote  *webrtc.SessionDescription
	local   *webrtc.SessionDescription
	applied []webrtc.ICECandidateInit
	tracks  []webrtc.TrackLocal
	senders []*fakeSender
	recv    []webrtc.RTPCodecType
	closed  bool

	// steps records the negotiation calls in order, for ordering asserts.
	steps []string

	offerCount    int
	answerCount   int
	tracksAtOffer int

	failRemote bool
	failAnswer bool
	failCand   bool

	onState func(webrtc.PeerConnectionState)
}

func newFakeLink() *fakeLink { return &fakeLink{} }

func (l *fakeLink) factory() linkFactory {
	return func() (peerLink, error) { return l, nil }
}

func (l *fakeLink) AddTrack(t webrtc.TrackLocal) (trackSender, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tracks = append(l.tracks, t)
	s := &fakeSender{replaced: []webrtc.TrackLocal{t}}
	l.senders = append(l.senders, s)
	return s, nil
}

func (l *fakeLink) AddRecvOnly(kind webrtc.RTPCodecType) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recv = append(l.recv, kind)
	return nil
}

func (l *fakeLink) CreateOffer() (webrtc.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.offerCount++
	l.tracksAtOffer = len(l.tracks)
	l.steps = append(l.steps, "createOffer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 local-offer"}, nil
}

func (l *fakeLink) CreateAnswer() (webrtc.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.remote == nil {
		return webrtc.SessionDescription{}, errors.New("no remote description")
	}
	if l.failAnswer {
		return webrtc.SessionDescription{}, errors.New("create answer forced failure")
	}
	l.answerCount++
	l.steps = append(l.steps, "createAnswer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 local-answer"}, nil
}

func (l *fakeLink) SetLocalDescription(d webrtc.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.local = &d
	l.steps = append(l.steps, "setLocal")
	return nil
}

func (l *fakeLink) SetRemoteDescription(d webrtc.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failRemote {
		return errors.New("set remote forced failure")
	}
	l.remote = &d
	l.steps = append(l.steps, "setRemote")
	return nil
}

func (l *fakeLink) RemoteDescription() *webrtc.SessionDescription {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remote
}

func (l *fakeLink) AddICECandidate(c webrtc.ICECandidateInit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failCand {
		return errors.New("add candidate forced failure")
	}
	l.applied = append(l.applied, c)
	l.steps = append(l.steps, "cand:"+c.Candidate)
	return nil
}

func (l *fakeLink) OnICECandidate(func(*webrtc.ICECandidate)) {}

func (l *fakeLink) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	l.mu.Lock()
	l.onState = fn
	l.mu.Unlock()
}

func (l *fakeLink) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (l *fakeLink) WriteRTCP([]rtcp.Packet) error { return nil }

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) appliedCands() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.applied))
	for i, c := range l.applied {
		out[i] = c.Candidate
	}
	return out
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// ── fake capture ─────────────────────────────────────────────────────────────

// nullTrackLocal is the cheapest possible webrtc.TrackLocal.
type nullTrackLocal struct {
	id   string
	kind webrtc.RTPCodecType
}

func (n *nullTrackLocal) Bind(webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return webrtc.RTPCodecParameters{}, nil
}
func (n *nullTrackLocal) Unbind(webrtc.TrackLocalContext) error { return nil }
func (n *nullTrackLocal) ID() string                            { return n.id }
func (n *nullTrackLocal) RID() string                           { return "" }
func (n *nullTrackLocal) StreamID() string                      { return "fake-stream" }
func (n *nullTrackLocal) Kind() webrtc.RTPCodecType             { return n.kind }

type fakeTrack struct {
	mu      sync.Mutex
	local   *nullTrackLocal
	enabled bool
	closed  bool
	onEnded func()
}

func newFakeTrack(id string, kind webrtc.RTPCodecType) *fakeTrack {
	return &fakeTrack{local: &nullTrackLocal{id: id, kind: kind}, enabled: true}
}

func (t *fakeTrack) Kind() webrtc.RTPCodecType { return t.local.kind }
func (t *fakeTrack) Local() webrtc.TrackLocal  { return t.local }

func (t *fakeTrack) SetEnabled(on bool) {
	t.mu.Lock()
	t.enabled = on
	t.mu.Unlock()
}

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}

func (t *fakeTrack) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTrack) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// endSource simulates the capture source stopping on its own, e.g. the
// desktop portal's stop-sharing button.
func (t *fakeTrack) endSource() {
	t.mu.Lock()
	fn := t.onEnded
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type fakeCapturer struct {
	mu        sync.Mutex
	micErr    error
	camErr    error
	screenErr error
	opened    []*fakeTrack
	serial    int
}

func newFakeCapturer() *fakeCapturer { return &fakeCapturer{} }

func (c *fakeCapturer) open(prefix string, kind webrtc.RTPCodecType) *fakeTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serial++
	t := newFakeTrack(fmt.Sprintf("%s-%d", prefix, c.serial), kind)
	c.opened = append(c.opened, t)
	return t
}

func (c *fakeCapturer) Microphone() (Track, error) {
	if c.micErr != nil {
		return nil, c.micErr
	}
	return c.open("mic", webrtc.RTPCodecTypeAudio), nil
}

func (c *fakeCapturer) Camera() (Track, error) {
	if c.camErr != nil {
		return nil, c.camErr
	}
	return c.open("cam", webrtc.RTPCodecTypeVideo), nil
}

func (c *fakeCapturer) Screen() (Track, error) {
	if c.screenErr != nil {
		return nil, c.screenErr
	}
	return c.open("screen", webrtc.RTPCodecTypeVideo), nil
}

func (c *fakeCapturer) allClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.opened {
		if !t.isClosed() {
			return false
		}
	}
	return true
}
