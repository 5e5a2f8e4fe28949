// Package call manages two-party audio/video call sessions over an
// out-of-band signaling channel. It is designed to be maximally standalone -
// it talks to the rest of the application only through the Signaler,
// Capturer, and Recorder interfaces, and to pion/webrtc through a narrow
// peer-connection surface.
package call

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/rvanholten/opsdesk/internal/signaling"
)

// Record is one finished call, handed to the Recorder on every terminal
// transition.
type Record struct {
	ChatID    string
	RemoteID  string
	Direction Direction
	Kind      signaling.CallKind
	StartedAt time.Time
	Duration  time.Duration
	Status    Status
	Reason    string
}

// Recorder persists finished calls. history.Store satisfies it; a nil
// Recorder disables the log.
type Recorder interface {
	Record(Record) error
}

// Event is pushed to subscribers for UI rendering: an incoming call waiting
// for a decision, or a status change on a known session.
type Event struct {
	Type     string             `json:"type"` // "incoming" | "status"
	ChatID   string             `json:"chat_id"`
	From     string             `json:"from,omitempty"`
	UserName string             `json:"user_name,omitempty"`
	CallType signaling.CallKind `json:"call_type,omitempty"`
	Status   Status             `json:"status,omitempty"`
	Reason   string             `json:"reason,omitempty"`
	Seconds  int64              `json:"seconds,omitempty"`
}

// pendingOffer is an incoming call the user has not decided on yet. Its
// candidates are buffered in arrival order and seeded into the session's
// queue on acceptance, so the remote's early paths survive the modal delay.
// expiry fires when nobody decides within the manager's offer TTL.
type pendingOffer struct {
	offer  *signaling.Message
	cands  []webrtc.ICECandidateInit
	at     time.Time
	expiry *time.Timer
}

// defaultOfferTTL bounds how long an incoming call rings. Past it the offer
// is treated as missed even if the caller never gives up on their end.
const defaultOfferTTL = 45 * time.Second

// Manager owns the active sessions and bridges the signaling channel to
// them. At most one authoritative session exists per chat id: the first one
// to reach connecting wins, later offers for the same pair are glare and are
// not allowed to create a second session.
type Manager struct {
	sig      Signaler
	selfName string
	newLink  linkFactory
	cap      Capturer
	rec      Recorder

	mu       sync.RWMutex
	sessions map[string]*Session
	pending  map[string]*pendingOffer
	offerTTL time.Duration

	listenerMu sync.RWMutex
	listeners  map[chan Event]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Manager attached to sig and starts consuming signaling
// messages immediately. rec may be nil.
func New(sig Signaler, selfName string, links linkFactory, cap Capturer, rec Recorder) *Manager {
	m := &Manager{
		sig:       sig,
		selfName:  selfName,
		newLink:   links,
		cap:       cap,
		rec:       rec,
		sessions:  make(map[string]*Session),
		pending:   make(map[string]*pendingOffer),
		offerTTL:  defaultOfferTTL,
		listeners: make(map[chan Event]struct{}),
		done:      make(chan struct{}),
	}
	go m.dispatchLoop()
	return m
}

// StartCall opens an outgoing call to remoteID on chatID. Fails without any
// network action when local media cannot be acquired, and refuses to stack a
// second call on top of an active one.
func (m *Manager) StartCall(chatID, remoteID string, kind signaling.CallKind) (*Session, error) {
	m.mu.Lock()
	if _, exists := m.sessions[chatID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("call already active on %s", chatID)
	}
	if m.busyLocked("") {
		m.mu.Unlock()
		return nil, fmt.Errorf("another call is already active")
	}
	sess := newSession(chatID, remoteID, m.selfName, kind, DirectionOutgoing, m.sig, m.newLink, m.cap)
	m.adopt(sess)
	m.sessions[chatID] = sess
	m.mu.Unlock()

	log.Printf("CALL: starting %s → %s (%s)", chatID, remoteID, kind)
	if err := sess.startOutgoing(); err != nil {
		return nil, err
	}
	return sess, nil
}

// Accept answers the pending incoming call on chatID.
func (m *Manager) Accept(chatID string) (*Session, error) {
	m.mu.Lock()
	p, ok := m.pending[chatID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("no incoming call on %s", chatID)
	}
	delete(m.pending, chatID)
	p.expiry.Stop()

	sess := newSession(chatID, p.offer.From, m.selfName, p.offer.CallType, DirectionIncoming, m.sig, m.newLink, m.cap)
	m.adopt(sess)
	m.sessions[chatID] = sess
	m.mu.Unlock()

	// Seed candidates that raced ahead of the user's decision; they buffer
	// until acceptIncoming applies the offer, then drain before the answer.
	for _, c := range p.cands {
		if err := sess.cands.Offer(nil, c); err != nil {
			log.Printf("CALL [%s]: seed candidate: %v", chatID, err)
		}
	}

	log.Printf("CALL: accepting %s from %s (%s)", chatID, p.offer.From, p.offer.CallType)
	if err := sess.acceptIncoming(p.offer); err != nil {
		return nil, err
	}
	return sess, nil
}

// Decline refuses the pending incoming call on chatID, informing the caller.
func (m *Manager) Decline(chatID string) error {
	m.mu.Lock()
	p, ok := m.pending[chatID]
	if ok {
		delete(m.pending, chatID)
		p.expiry.Stop()
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no incoming call on %s", chatID)
	}

	if err := m.sig.Send(&signaling.Message{Type: signaling.TypeRejected, To: p.offer.From}); err != nil {
		log.Printf("CALL [%s]: send reject: %v", chatID, err)
	}
	m.publish(Event{Type: "status", ChatID: chatID, Status: StatusRejected, Reason: ReasonLocalRejected})
	return nil
}

// GetSession returns the active session for chatID, if any.
func (m *Manager) GetSession(chatID string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[chatID]
	m.mu.RUnlock()
	return s, ok
}

// AllSessions returns every active session.
func (m *Manager) AllSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Subscribe returns a channel of call events for the UI. cancel releases it.
func (m *Manager) Subscribe() (ch chan Event, cancel func()) {
	ch = make(chan Event, 16)

	m.listenerMu.Lock()
	m.listeners[ch] = struct{}{}
	m.listenerMu.Unlock()

	cancel = func() {
		m.listenerMu.Lock()
		if _, ok := m.listeners[ch]; ok {
			delete(m.listeners, ch)
			close(ch)
		}
		m.listenerMu.Unlock()
	}
	return ch, cancel
}

// Close shuts the manager down and hangs up every active session.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)

		m.mu.Lock()
		sessions := m.sessions
		m.sessions = make(map[string]*Session)
		m.pending = make(map[string]*pendingOffer)
		m.mu.Unlock()

		for _, s := range sessions {
			s.End()
		}

		m.listenerMu.Lock()
		for ch := range m.listeners {
			close(ch)
		}
		m.listeners = make(map[chan Event]struct{})
		m.listenerMu.Unlock()
	})
}

// adopt wires a fresh session to the manager. Caller holds m.mu.
func (m *Manager) adopt(s *Session) {
	chatID := s.ChatID
	s.onTransition = m.sessionTransition
	s.releaseSig = func() {
		m.mu.Lock()
		delete(m.sessions, chatID)
		m.mu.Unlock()
	}
}

// busyLocked reports whether any call other than exclude is active or
// pending. Caller holds m.mu.
func (m *Manager) busyLocked(exclude string) bool {
	for id, s := range m.sessions {
		if id == exclude {
			continue
		}
		if st, _ := s.Status(); !st.Terminal() {
			return true
		}
	}
	for id := range m.pending {
		if id != exclude {
			return true
		}
	}
	return false
}

func (m *Manager) sessionTransition(s *Session, st Status, reason string) {
	m.publish(Event{
		Type:    "status",
		ChatID:  s.ChatID,
		Status:  st,
		Reason:  reason,
		Seconds: int64(s.Duration() / time.Second),
	})

	if st.Terminal() && m.rec != nil {
		rec := Record{
			ChatID:    s.ChatID,
			RemoteID:  s.remoteID,
			Direction: s.direction,
			Kind:      s.kind,
			StartedAt: s.startedAt,
			Duration:  s.Duration(),
			Status:    st,
			Reason:    reason,
		}
		if err := m.rec.Record(rec); err != nil {
			log.Printf("CALL [%s]: record history: %v", s.ChatID, err)
		}
	}
}

func (m *Manager) publish(ev Event) {
	m.listenerMu.RLock()
	for ch := range m.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
	m.listenerMu.RUnlock()
}

func (m *Manager) dispatchLoop() {
	ch, cancel := m.sig.Subscribe()
	defer cancel()

	for {
		select {
		case <-m.done:
			return
		case msg, ok := <-ch:
			if !ok {
				// Signaling transport gone: every in-flight call dies with it.
				m.signalingLost()
				return
			}
			m.dispatch(msg)
		}
	}
}

// dispatch routes one inbound message. Messages are handled strictly in
// arrival order on this goroutine.
func (m *Manager) dispatch(msg *signaling.Message) {
	// call-busy carries no chat id on the wire; it belongs to whichever
	// outgoing session is still waiting on this caller.
	if msg.Type == signaling.TypeBusy && msg.ChatID == "" {
		m.mu.RLock()
		var target *Session
		for _, s := range m.sessions {
			if s.direction == DirectionOutgoing && (msg.From == "" || s.remoteID == msg.From) {
				target = s
				break
			}
		}
		m.mu.RUnlock()
		if target != nil {
			target.handleSignal(msg)
		}
		return
	}

	m.mu.Lock()
	sess, haveSession := m.sessions[msg.ChatID]
	p, havePending := m.pending[msg.ChatID]

	switch msg.Type {
	case signaling.TypeOffer:
		if haveSession {
			// Glare or late offer on the authoritative session; the session
			// decides, no second session is created.
			m.mu.Unlock()
			sess.handleSignal(msg)
			return
		}
		if havePending {
			// Duplicate offer delivery; the first one is already ringing.
			m.mu.Unlock()
			log.Printf("CALL [%s]: duplicate offer from %s ignored", msg.ChatID, msg.From)
			return
		}
		if m.busyLocked(msg.ChatID) {
			m.mu.Unlock()
			log.Printf("CALL [%s]: busy, refusing offer from %s", msg.ChatID, msg.From)
			if err := m.sig.Send(&signaling.Message{Type: signaling.TypeBusy, To: msg.From}); err != nil {
				log.Printf("CALL [%s]: send busy: %v", msg.ChatID, err)
			}
			return
		}
		p := &pendingOffer{offer: msg, at: time.Now()}
		p.expiry = time.AfterFunc(m.offerTTL, func() { m.expirePending(msg.ChatID, p) })
		m.pending[msg.ChatID] = p
		m.mu.Unlock()
		m.publish(Event{
			Type:     "incoming",
			ChatID:   msg.ChatID,
			From:     msg.From,
			UserName: msg.UserName,
			CallType: msg.CallType,
		})
		return

	case signaling.TypeICE:
		if !haveSession && havePending && msg.Candidate != nil {
			p.cands = append(p.cands, *msg.Candidate)
			m.mu.Unlock()
			return
		}

	case signaling.TypeEnded, signaling.TypeRejected:
		if !haveSession && havePending {
			// Caller gave up before the user decided.
			delete(m.pending, msg.ChatID)
			p.expiry.Stop()
			m.mu.Unlock()
			m.publish(Event{Type: "status", ChatID: msg.ChatID, Status: StatusEnded, Reason: ReasonRemoteEnded})
			return
		}
	}
	m.mu.Unlock()

	if haveSession {
		sess.handleSignal(msg)
		return
	}
	log.Printf("CALL: %s for unknown call %q dropped", msg.Type, msg.ChatID)
}

// expirePending gives up on an incoming offer nobody answered within the
// TTL: the caller is told the call was not picked up and the UI stops
// ringing. Racing against Accept or Decline is resolved by identity - a
// stale timer finds a different (or no) pendingOffer and does nothing.
func (m *Manager) expirePending(chatID string, p *pendingOffer) {
	m.mu.Lock()
	if cur, ok := m.pending[chatID]; !ok || cur != p {
		m.mu.Unlock()
		return
	}
	delete(m.pending, chatID)
	m.mu.Unlock()

	log.Printf("CALL [%s]: offer from %s unanswered for %s, expiring", chatID, p.offer.From, time.Since(p.at).Round(time.Second))
	if err := m.sig.Send(&signaling.Message{Type: signaling.TypeRejected, To: p.offer.From}); err != nil {
		log.Printf("CALL [%s]: send reject: %v", chatID, err)
	}
	m.publish(Event{Type: "status", ChatID: chatID, Status: StatusEnded, Reason: ReasonUnanswered})
}

// signalingLost ends every session when the channel drops; no reconnect is
// attempted within a call attempt.
func (m *Manager) signalingLost() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.pending = make(map[string]*pendingOffer)
	m.mu.Unlock()

	for _, s := range sessions {
		log.Printf("CALL [%s]: signaling lost, ending", s.ChatID)
		s.finish(StatusEnded, ReasonSignalingLost, "")
	}
}
