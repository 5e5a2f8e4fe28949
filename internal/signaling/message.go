package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Message types exchanged over a call signaling channel.
const (
	TypeOffer    = "call-offer"
	TypeAnswer   = "call-answer"
	TypeICE      = "ice-candidate"
	TypeRejected = "call-rejected"
	TypeEnded    = "call-ended"
	TypeBusy     = "call-busy"
)

// CallKind is the media kind requested for a call.
type CallKind string

const (
	KindAudio CallKind = "audio"
	KindVideo CallKind = "video"
)

// Message is one signaling message. The Type tag decides which payload
// fields are set: Offer for call-offer, Answer for call-answer, Candidate
// for ice-candidate. The remaining types carry no payload.
//
// Delivery is best-effort - there is no ack or retry envelope, so receivers
// must tolerate duplicates and gaps without corrupting call state.
type Message struct {
	Type      string                     `json:"type"`
	From      string                     `json:"from,omitempty"`
	To        string                     `json:"to,omitempty"`
	ChatID    string                     `json:"chat_id,omitempty"`
	CallType  CallKind                   `json:"call_type,omitempty"`
	UserName  string                     `json:"user_name,omitempty"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// Description returns the session description carried by an offer or answer
// message, or nil for every other type.
func (m *Message) Description() *webrtc.SessionDescription {
	switch m.Type {
	case TypeOffer:
		return m.Offer
	case TypeAnswer:
		return m.Answer
	}
	return nil
}

// Validate checks that the payload matches the type tag.
func (m *Message) Validate() error {
	switch m.Type {
	case TypeOffer:
		if m.Offer == nil {
			return fmt.Errorf("%s without offer payload", m.Type)
		}
	case TypeAnswer:
		if m.Answer == nil {
			return fmt.Errorf("%s without answer payload", m.Type)
		}
	case TypeICE:
		if m.Candidate == nil {
			return fmt.Errorf("%s without candidate payload", m.Type)
		}
	case TypeRejected, TypeEnded, TypeBusy:
	case "":
		return fmt.Errorf("message without type")
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}

// Encode marshals the message for the wire.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a wire message and validates its payload.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode signaling message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
