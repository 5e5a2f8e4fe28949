package signaling

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

var relayUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The relay serves desktop clients on the local network; origin checks
	// would only see file:// and localhost anyway.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Relay routes signaling messages between connected users. One websocket per
// user id at /ws/<userID>; messages are forwarded to the connection matching
// their "to" field. Undeliverable messages are answered with call-busy when
// they were offers, and dropped otherwise - the transport makes no delivery
// promise.
type Relay struct {
	mu    sync.RWMutex
	conns map[string]*relayConn
}

type relayConn struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
	relay  *Relay
}

// NewRelay creates an empty relay.
func NewRelay() *Relay {
	return &Relay{conns: make(map[string]*relayConn)}
}

// Handler returns the http handler serving /ws/.
func (r *Relay) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", r.handleWS)
	return mux
}

// Connected reports whether a user currently holds a channel.
func (r *Relay) Connected(userID string) bool {
	r.mu.RLock()
	_, ok := r.conns[userID]
	r.mu.RUnlock()
	return ok
}

func (r *Relay) handleWS(w http.ResponseWriter, req *http.Request) {
	userID := strings.TrimPrefix(req.URL.Path, "/ws/")
	if userID == "" || strings.Contains(userID, "/") {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	conn, err := relayUpgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Warnw("relay upgrade failed", "err", err)
		return
	}

	rc := &relayConn{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		relay:  r,
	}

	r.mu.Lock()
	if old, ok := r.conns[userID]; ok {
		// Same user reconnected; the stale socket wins nothing.
		old.conn.Close()
		close(old.send)
	}
	r.conns[userID] = rc
	r.mu.Unlock()

	log.Infow("relay client joined", "user", userID)

	go rc.writePump()
	rc.readPump()
}

func (r *Relay) remove(rc *relayConn) {
	r.mu.Lock()
	if cur, ok := r.conns[rc.userID]; ok && cur == rc {
		delete(r.conns, rc.userID)
		close(rc.send)
	}
	r.mu.Unlock()
	log.Infow("relay client left", "user", rc.userID)
}

// route forwards a raw message to its recipient. Returns false when the
// recipient has no connection. The send happens under the read lock so it
// cannot race remove closing the buffer.
func (r *Relay) route(to string, data []byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rc, ok := r.conns[to]
	if !ok {
		return false
	}
	select {
	case rc.send <- data:
	default:
		// Recipient's buffer is full; best-effort transport drops.
	}
	return true
}

func (rc *relayConn) readPump() {
	defer func() {
		rc.relay.remove(rc)
		rc.conn.Close()
	}()

	for {
		_, data, err := rc.conn.ReadMessage()
		if err != nil {
			return
		}

		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			log.Warnw("relay dropped malformed message", "user", rc.userID, "err", err)
			continue
		}
		if m.To == "" {
			continue
		}

		if !rc.relay.route(m.To, data) && m.Type == TypeOffer {
			// Caller gets an immediate busy signal instead of ringing into
			// the void when the callee is offline.
			busy := Message{Type: TypeBusy, From: m.To, To: m.From}
			if b, err := busy.Encode(); err == nil {
				rc.relay.route(m.From, b)
			}
		}
	}
}

func (rc *relayConn) writePump() {
	defer rc.conn.Close()

	for data := range rc.send {
		if err := rc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}
