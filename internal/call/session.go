package call

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/rvanholten/opsdesk/internal/signaling"
)

const pliInterval = 3 * time.Second

// Session is one call between the local user and one remote user. It owns
// the peer connection, the local media, and the candidate queue, and it is
// the only place the call status ever changes.
//
// All negotiation steps are serialized on one mutex: a second offer/answer/
// candidate is never applied while a previous step is still in flight.
type Session struct {
	ID        string
	ChatID    string
	remoteID  string
	selfName  string
	kind      signaling.CallKind
	direction Direction

	sig     Signaler
	newLink linkFactory
	media   *Media
	cands   *candidateQueue
	sink    RemoteSink

	mu          sync.Mutex
	link        peerLink
	status      Status
	reason      string
	startedAt   time.Time
	connectedAt time.Time
	endedAt     time.Time
	done        chan struct{}

	// set by the Manager before the session runs
	onTransition func(*Session, Status, string)
	releaseSig   func()
}

func newSession(chatID, remoteID, selfName string, kind signaling.CallKind, dir Direction, sig Signaler, newLink linkFactory, cap Capturer) *Session {
	return &Session{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		remoteID:  remoteID,
		selfName:  selfName,
		kind:      kind,
		direction: dir,
		sig:       sig,
		newLink:   newLink,
		media:     newMedia(chatID, cap),
		cands:     newCandidateQueue(),
		status:    StatusConnecting,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// Media exposes the session's local media controls.
func (s *Session) Media() *Media { return s.media }

// RemoteID returns the remote participant.
func (s *Session) RemoteID() string { return s.remoteID }

// Kind returns the requested media kind.
func (s *Session) Kind() signaling.CallKind { return s.kind }

// Direction reports which side initiated the call.
func (s *Session) Direction() Direction { return s.direction }

// SetRemoteSink registers the renderer for remote media. May be nil.
func (s *Session) SetRemoteSink(sink RemoteSink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// Status returns the current lifecycle state and its reason.
func (s *Session) Status() (Status, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.reason
}

// Duration is how long the call has been (or was) connected.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectedAt.IsZero() {
		return 0
	}
	if !s.endedAt.IsZero() {
		return s.endedAt.Sub(s.connectedAt)
	}
	return time.Since(s.connectedAt)
}

// StartedAt is when the session was created.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// startOutgoing acquires local media, builds the peer connection, attaches
// the tracks, and sends the offer. Media comes first: a capture failure
// terminates the attempt before anything touches the network, and the peer
// connection never exists without local tracks to carry.
func (s *Session) startOutgoing() error {
	if err := s.media.acquire(s.kind); err != nil {
		s.finish(StatusEnded, ReasonMediaFailed, "")
		return err
	}

	link, err := s.setupLink()
	if err != nil {
		s.finish(StatusEnded, ReasonNegotiation, "")
		return err
	}

	s.mu.Lock()
	offer, err := link.CreateOffer()
	if err == nil {
		err = link.SetLocalDescription(offer)
	}
	if err != nil {
		s.mu.Unlock()
		s.finish(StatusEnded, ReasonNegotiation, "")
		return fmt.Errorf("%w: create offer: %v", ErrNegotiation, err)
	}
	s.mu.Unlock()

	if err := s.sig.Send(&signaling.Message{
		Type:     signaling.TypeOffer,
		To:       s.remoteID,
		ChatID:   s.ChatID,
		CallType: s.kind,
		UserName: s.selfName,
		Offer:    &offer,
	}); err != nil {
		s.finish(StatusEnded, ReasonSignalingLost, "")
		return fmt.Errorf("%w: send offer: %v", ErrSignalingTransport, err)
	}

	s.transition(StatusRinging, "")
	log.Printf("CALL [%s]: ringing %s (%s)", s.ChatID, s.remoteID, s.kind)
	return nil
}

// acceptIncoming answers a received offer. Remote description first, then a
// full candidate drain, then the answer - buffered candidates are never sent
// into the void after the answer. Any failure along the way rejects the call
// so the caller is not left ringing into a half-open session.
func (s *Session) acceptIncoming(offer *signaling.Message) error {
	if err := s.media.acquire(s.kind); err != nil {
		s.Reject()
		return err
	}

	link, err := s.setupLink()
	if err != nil {
		s.Reject()
		return err
	}

	s.mu.Lock()
	err = link.SetRemoteDescription(*offer.Offer)
	if err == nil {
		err = s.cands.Drain(link)
	}
	var answer webrtc.SessionDescription
	if err == nil {
		answer, err = link.CreateAnswer()
	}
	if err == nil {
		err = link.SetLocalDescription(answer)
	}
	s.mu.Unlock()
	if err != nil {
		s.Reject()
		return fmt.Errorf("%w: answer offer: %v", ErrNegotiation, err)
	}

	if err := s.sig.Send(&signaling.Message{
		Type:   signaling.TypeAnswer,
		To:     s.remoteID,
		Answer: &answer,
	}); err != nil {
		s.Reject()
		return fmt.Errorf("%w: send answer: %v", ErrSignalingTransport, err)
	}

	s.markConnected()
	log.Printf("CALL [%s]: accepted %s (%s)", s.ChatID, s.remoteID, s.kind)
	return nil
}

// setupLink creates the peer connection, attaches local tracks, tops up
// receive directions, and wires the event handlers. Local capture must
// already exist.
func (s *Session) setupLink() (peerLink, error) {
	link, err := s.newLink()
	if err != nil {
		return nil, fmt.Errorf("%w: peer connection: %v", ErrNegotiation, err)
	}

	if err := s.media.attach(link); err != nil {
		link.Close()
		return nil, err
	}

	// Request receive capability for both kinds regardless of what we send,
	// so the far end may always send video back on an audio-only leg.
	if !s.media.AudioOn() {
		if err := link.AddRecvOnly(webrtc.RTPCodecTypeAudio); err != nil {
			log.Printf("CALL [%s]: recvonly audio: %v", s.ChatID, err)
		}
	}
	if s.kind != signaling.KindVideo {
		if err := link.AddRecvOnly(webrtc.RTPCodecTypeVideo); err != nil {
			log.Printf("CALL [%s]: recvonly video: %v", s.ChatID, err)
		}
	}

	link.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		if err := s.sig.Send(&signaling.Message{
			Type:      signaling.TypeICE,
			To:        s.remoteID,
			Candidate: &init,
		}); err != nil {
			log.Printf("CALL [%s]: send candidate: %v", s.ChatID, err)
		}
	})
	link.OnConnectionStateChange(s.handleConnectionState)
	link.OnTrack(s.handleRemoteTrack)

	s.mu.Lock()
	s.link = link
	s.mu.Unlock()
	return link, nil
}

// handleSignal processes one inbound signaling message. Messages for a
// session arrive in channel order; terminal sessions ignore everything.
func (s *Session) handleSignal(msg *signaling.Message) {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		log.Printf("CALL [%s]: %s ignored, session already %s", s.ChatID, msg.Type, s.status)
		return
	}
	link := s.link
	s.mu.Unlock()

	switch msg.Type {
	case signaling.TypeOffer:
		// A re-offer on an already-running session (late offer / glare).
		// Apply it and answer; no new session is created for it.
		s.applyDescription(link, msg)
	case signaling.TypeAnswer:
		s.applyDescription(link, msg)
	case signaling.TypeICE:
		if msg.Candidate == nil {
			return
		}
		if err := s.cands.Offer(link, *msg.Candidate); err != nil {
			log.Printf("CALL [%s]: apply candidate: %v", s.ChatID, err)
		}
	case signaling.TypeRejected:
		s.finish(StatusRejected, ReasonRemoteRejected, "")
	case signaling.TypeEnded:
		s.finish(StatusEnded, ReasonRemoteEnded, "")
	case signaling.TypeBusy:
		s.finish(StatusEnded, ReasonBusy, "")
	default:
		log.Printf("CALL [%s]: unknown signal %q", s.ChatID, msg.Type)
	}
}

// applyDescription sets the remote description, drains the candidate queue,
// and - when the description was an offer - produces and sends the
// complementary answer.
func (s *Session) applyDescription(link peerLink, msg *signaling.Message) {
	desc := msg.Description()
	if link == nil || desc == nil {
		return
	}

	s.mu.Lock()
	err := link.SetRemoteDescription(*desc)
	if err == nil {
		err = s.cands.Drain(link)
	}
	var answer webrtc.SessionDescription
	answered := false
	if err == nil && msg.Type == signaling.TypeOffer {
		answer, err = link.CreateAnswer()
		if err == nil {
			err = link.SetLocalDescription(answer)
		}
		answered = err == nil
	}
	s.mu.Unlock()

	if err != nil {
		log.Printf("CALL [%s]: apply %s: %v", s.ChatID, msg.Type, err)
		s.negotiationFailed()
		return
	}

	if answered {
		if err := s.sig.Send(&signaling.Message{
			Type:   signaling.TypeAnswer,
			To:     s.remoteID,
			Answer: &answer,
		}); err != nil {
			log.Printf("CALL [%s]: send answer: %v", s.ChatID, err)
			s.negotiationFailed()
			return
		}
	}

	s.markConnected()
}

// negotiationFailed routes a fatal negotiation error per direction: an
// incoming call still being set up is rejected, everything else ends.
func (s *Session) negotiationFailed() {
	s.mu.Lock()
	rejecting := s.direction == DirectionIncoming && s.status == StatusConnecting
	s.mu.Unlock()
	if rejecting {
		s.Reject()
		return
	}
	s.finish(StatusEnded, ReasonNegotiation, "")
}

// End hangs up. The status flips to ended eagerly so the UI reflects
// termination immediately; the call-ended message is fire-and-forget and
// teardown is not gated on the remote acknowledging it. Idempotent: a second
// End neither fails nor emits a second message.
func (s *Session) End() {
	s.finish(StatusEnded, ReasonHangup, signaling.TypeEnded)
}

// Reject declines the call and releases everything.
func (s *Session) Reject() {
	s.finish(StatusRejected, ReasonLocalRejected, signaling.TypeRejected)
}

// finish is the single exit path for every way a session can stop: user
// hangup, user reject, remote termination, transport failure, and setup
// errors all converge here. The first caller wins; later calls are no-ops.
func (s *Session) finish(st Status, reason, notifyType string) {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.status = st
	s.reason = reason
	s.endedAt = time.Now()
	s.mu.Unlock()

	if notifyType != "" {
		if err := s.sig.Send(&signaling.Message{Type: notifyType, To: s.remoteID}); err != nil {
			log.Printf("CALL [%s]: send %s: %v", s.ChatID, notifyType, err)
		}
	}

	s.teardown()

	log.Printf("CALL [%s]: %s (%s)", s.ChatID, st, reason)
	if s.onTransition != nil {
		s.onTransition(s, st, reason)
	}
}

// teardown releases every resource the session holds: local tracks, the
// peer connection, the per-call signaling scope, and the duration timer.
// Safe to call once only - finish guarantees that.
func (s *Session) teardown() {
	close(s.done)
	s.media.Close()

	s.mu.Lock()
	link := s.link
	s.link = nil
	s.mu.Unlock()
	if link != nil {
		if err := link.Close(); err != nil {
			log.Printf("CALL [%s]: close peer connection: %v", s.ChatID, err)
		}
	}

	if s.releaseSig != nil {
		s.releaseSig()
	}
}

func (s *Session) markConnected() {
	s.mu.Lock()
	if s.status.Terminal() || s.status == StatusConnected {
		s.mu.Unlock()
		return
	}
	s.status = StatusConnected
	s.connectedAt = time.Now()
	s.mu.Unlock()
	if s.onTransition != nil {
		s.onTransition(s, StatusConnected, "")
	}
}

func (s *Session) transition(st Status, reason string) {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.status = st
	s.reason = reason
	s.mu.Unlock()
	if s.onTransition != nil {
		s.onTransition(s, st, reason)
	}
}

// handleConnectionState maps transport state to the state machine. A failed
// or closed transport is equivalent to a local hangup - fail fast, no retry.
// A disconnected transport is a recoverable blip: logged, nothing more; ICE
// either restores it or escalates to failed.
func (s *Session) handleConnectionState(state webrtc.PeerConnectionState) {
	s.mu.Lock()
	terminal := s.status.Terminal()
	s.mu.Unlock()
	if terminal {
		return
	}

	switch state {
	case webrtc.PeerConnectionStateDisconnected:
		log.Printf("CALL [%s]: transport disconnected (transient)", s.ChatID)
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		log.Printf("CALL [%s]: transport %s, ending", s.ChatID, state)
		s.finish(StatusEnded, ReasonTransportFailed, signaling.TypeEnded)
	default:
	}
}

// handleRemoteTrack pumps inbound media to the sink and, for video, asks the
// remote for periodic keyframes so a fresh receiver is never stuck waiting
// on one.
func (s *Session) handleRemoteTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	log.Printf("CALL [%s]: remote %s track %s", s.ChatID, track.Kind(), track.ID())

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go s.pliLoop(track)
	}

	go func() {
		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				return
			}
			s.mu.Lock()
			sink := s.sink
			speaker := true
			if track.Kind() == webrtc.RTPCodecTypeAudio {
				speaker = s.media.SpeakerOn()
			}
			s.mu.Unlock()
			if sink == nil || !speaker {
				continue
			}
			sink.RemoteTrack(track.Kind(), pkt)
		}
	}()
}

func (s *Session) pliLoop(track *webrtc.TrackRemote) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			link := s.link
			s.mu.Unlock()
			if link == nil {
				return
			}
			pli := &rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}
			if err := link.WriteRTCP([]rtcp.Packet{pli}); err != nil {
				return
			}
		}
	}
}
