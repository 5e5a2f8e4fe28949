// Package signaling carries call negotiation messages between two users over
// a persistent websocket to a relay. Each user keeps one channel open, keyed
// by their own user id; the relay routes messages by the "to" field.
package signaling

import (
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("signaling")

const sendBuffer = 64

// Channel is a persistent, bidirectional signaling connection for one local
// user. Inbound messages are fanned out to subscribers in arrival order.
// A Channel is not reopened after failure - callers treat closure as a
// transport error and end whatever call was using it.
type Channel struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte

	listenerMu sync.RWMutex
	listeners  map[chan *Message]struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to the relay at base (e.g. "ws://host:port") using path
// /ws/<userID>, and starts the read/write pumps.
func Dial(base, userID string) (*Channel, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("relay url: %w", err)
	}
	u.Path = "/ws/" + userID

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	c := &Channel{
		userID:    userID,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		listeners: make(map[chan *Message]struct{}),
		closed:    make(chan struct{}),
	}
	go c.readPump()
	go c.writePump()

	log.Infow("channel open", "user", userID, "relay", u.Host)
	return c, nil
}

// UserID returns the local user id the channel is keyed by.
func (c *Channel) UserID() string { return c.userID }

// Send queues a message for delivery. Delivery is best-effort; an error
// means the channel itself is gone, not that the remote missed the message.
func (c *Channel) Send(msg *Message) error {
	if msg.From == "" {
		msg.From = c.userID
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return fmt.Errorf("signaling channel closed")
	case c.send <- data:
		return nil
	}
}

// Subscribe returns a channel receiving inbound messages in arrival order.
// cancel unsubscribes and closes the channel; safe to call more than once.
func (c *Channel) Subscribe() (ch chan *Message, cancel func()) {
	ch = make(chan *Message, sendBuffer)

	c.listenerMu.Lock()
	c.listeners[ch] = struct{}{}
	c.listenerMu.Unlock()

	cancel = func() {
		c.listenerMu.Lock()
		if _, ok := c.listeners[ch]; ok {
			delete(c.listeners, ch)
			close(ch)
		}
		c.listenerMu.Unlock()
	}
	return ch, cancel
}

// Closed reports whether the channel has shut down, either by Close or by
// the underlying websocket dropping.
func (c *Channel) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Close tears the channel down. Idempotent.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()

		c.listenerMu.Lock()
		for ch := range c.listeners {
			close(ch)
		}
		c.listeners = make(map[chan *Message]struct{})
		c.listenerMu.Unlock()

		log.Infow("channel closed", "user", c.userID)
	})
	return nil
}

func (c *Channel) readPump() {
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.Closed() && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnw("channel read failed", "user", c.userID, "err", err)
			}
			return
		}

		msg, err := Decode(data)
		if err != nil {
			log.Warnw("bad signaling message dropped", "user", c.userID, "err", err)
			continue
		}

		c.listenerMu.RLock()
		for ch := range c.listeners {
			select {
			case ch <- msg:
			default:
				// Subscriber not keeping up. Signaling is best-effort by
				// contract, so drop rather than block the read pump.
			}
		}
		c.listenerMu.RUnlock()
	}
}

func (c *Channel) writePump() {
	for {
		select {
		case <-c.closed:
			return
		case data := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warnw("channel write failed", "user", c.userID, "err", err)
				c.Close()
				return
			}
		}
	}
}
