package call

// Status is the lifecycle state of one call session.
//
//	connecting → ringing → connected → ended | rejected   (outgoing)
//	connecting → connected → ended | rejected             (incoming)
//
// Terminal states absorb: no transition ever leaves ended or rejected, and a
// new call attempt means a new Session.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusRinging    Status = "ringing"
	StatusConnected  Status = "connected"
	StatusEnded      Status = "ended"
	StatusRejected   Status = "rejected"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusRejected
}

// Direction says which side initiated the call.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// Human-readable reasons attached to terminal statuses. The UI shows these
// verbatim; nothing else ever propagates out of the session.
const (
	ReasonHangup          = "call ended"
	ReasonLocalRejected   = "call rejected"
	ReasonRemoteRejected  = "call rejected by remote"
	ReasonRemoteEnded     = "remote ended the call"
	ReasonBusy            = "remote is busy"
	ReasonUnanswered      = "no answer"
	ReasonMediaFailed     = "camera or microphone unavailable"
	ReasonNegotiation     = "call setup failed"
	ReasonTransportFailed = "connection lost"
	ReasonSignalingLost   = "signaling connection lost"
)
