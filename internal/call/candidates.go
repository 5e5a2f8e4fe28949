package call

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// candidateQueue buffers remote ICE candidates that arrive before the peer
// connection has a remote description, and replays them in arrival order once
// it does. Candidates are keyed so that a duplicate delivery (the transport
// makes no promises) applies at most once. One queue per session; it dies
// with the session.
type candidateQueue struct {
	mu      sync.Mutex
	pending []webrtc.ICECandidateInit
	seen    map[string]struct{}
}

func newCandidateQueue() *candidateQueue {
	return &candidateQueue{seen: make(map[string]struct{})}
}

func candidateKey(c webrtc.ICECandidateInit) string {
	mid := ""
	if c.SDPMid != nil {
		mid = *c.SDPMid
	}
	idx := uint16(0)
	if c.SDPMLineIndex != nil {
		idx = *c.SDPMLineIndex
	}
	return fmt.Sprintf("%s/%d/%s", mid, idx, c.Candidate)
}

// Offer applies the candidate immediately when the link already has a remote
// description, and buffers it otherwise, including before the link exists
// at all, for candidates racing ahead of call acceptance. A candidate seen
// before is a no-op.
func (q *candidateQueue) Offer(link peerLink, cand webrtc.ICECandidateInit) error {
	q.mu.Lock()
	key := candidateKey(cand)
	if _, dup := q.seen[key]; dup {
		q.mu.Unlock()
		return nil
	}
	q.seen[key] = struct{}{}

	if link == nil || link.RemoteDescription() == nil {
		q.pending = append(q.pending, cand)
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	return link.AddICECandidate(cand)
}

// Drain applies every buffered candidate in FIFO order and empties the
// buffer. Called right after a remote description is applied - and always
// before an answer is sent, so the remote's discovered paths are never
// silently dropped. Draining an empty queue is a no-op.
func (q *candidateQueue) Drain(link peerLink) error {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, cand := range pending {
		if err := link.AddICECandidate(cand); err != nil {
			return fmt.Errorf("apply buffered candidate: %w", err)
		}
	}
	return nil
}

// Len reports how many candidates are waiting.
func (q *candidateQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
