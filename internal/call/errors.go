package call

import "errors"

// Every failure a session can hit wraps one of these. They never reach the
// presentation layer as faults - the session converts each into a terminal
// Status plus a reason string.
var (
	// ErrMediaAcquisition: camera/microphone/screen capture denied or
	// unavailable. Aborts an outgoing attempt before any network action;
	// auto-rejects an incoming one.
	ErrMediaAcquisition = errors.New("media acquisition failed")

	// ErrSignalingTransport: the signaling channel failed or dropped.
	// No reconnect is attempted inside a call attempt.
	ErrSignalingTransport = errors.New("signaling transport failed")

	// ErrNegotiation: applying a description or producing an offer/answer
	// failed. Fatal for the session, never retried.
	ErrNegotiation = errors.New("negotiation failed")

	// ErrTransportFailure: the established connection reached failed/closed.
	ErrTransportFailure = errors.New("peer transport failed")
)
