package call

import (
	"fmt"
	"testing"

	"github.com/pion/webrtc/v4"
)

func cand(n int) webrtc.ICECandidateInit {
	mid := "0"
	idx := uint16(0)
	return webrtc.ICECandidateInit{
		Candidate:     fmt.Sprintf("candidate:%d 1 udp 2130706431 10.0.0.%d 5000 typ host", n, n),
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
}

func TestCandidateQueueBuffersUntilRemoteDescription(t *testing.T) {
	q := newCandidateQueue()
	link := newFakeLink()

	for i := 1; i <= 3; i++ {
		if err := q.Offer(link, cand(i)); err != nil {
			t.Fatalf("offer %d: %v", i, err)
		}
	}
	if got := len(link.appliedCands()); got != 0 {
		t.Fatalf("applied %d candidates before remote description", got)
	}
	if q.Len() != 3 {
		t.Fatalf("Len = %d, want 3", q.Len())
	}

	if err := link.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := q.Drain(link); err != nil {
		t.Fatalf("drain: %v", err)
	}

	got := link.appliedCands()
	if len(got) != 3 {
		t.Fatalf("applied %d candidates, want 3", len(got))
	}
	for i, c := range got {
		if want := cand(i + 1).Candidate; c != want {
			t.Errorf("candidate %d out of order: got %q, want %q", i, c, want)
		}
	}
	if q.Len() != 0 {
		t.Errorf("queue not emptied after drain, Len = %d", q.Len())
	}
}

func TestCandidateQueueAppliesDirectlyAfterRemoteDescription(t *testing.T) {
	q := newCandidateQueue()
	link := newFakeLink()
	if err := link.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"}); err != nil {
		t.Fatal(err)
	}

	if err := q.Offer(link, cand(1)); err != nil {
		t.Fatalf("offer: %v", err)
	}
	if got := len(link.appliedCands()); got != 1 {
		t.Fatalf("applied %d candidates, want 1", got)
	}
	if q.Len() != 0 {
		t.Errorf("candidate buffered despite remote description present")
	}
}

func TestCandidateQueueDuplicateAppliesAtMostOnce(t *testing.T) {
	q := newCandidateQueue()
	link := newFakeLink()
	if err := link.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := q.Offer(link, cand(7)); err != nil {
			t.Fatalf("offer attempt %d: %v", i, err)
		}
	}
	if got := len(link.appliedCands()); got != 1 {
		t.Fatalf("duplicate candidate applied %d times, want 1", got)
	}
}

func TestCandidateQueueDuplicateAcrossBufferAndDirect(t *testing.T) {
	q := newCandidateQueue()
	link := newFakeLink()

	// Buffered while no remote description exists.
	if err := q.Offer(link, cand(1)); err != nil {
		t.Fatal(err)
	}
	if err := link.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := q.Drain(link); err != nil {
		t.Fatal(err)
	}
	// Same candidate redelivered after the drain.
	if err := q.Offer(link, cand(1)); err != nil {
		t.Fatal(err)
	}

	if got := len(link.appliedCands()); got != 1 {
		t.Fatalf("candidate applied %d times across buffer and direct path, want 1", got)
	}
}

func TestCandidateQueueBuffersWithoutLink(t *testing.T) {
	q := newCandidateQueue()

	// Candidates racing ahead of call acceptance have no link yet.
	if err := q.Offer(nil, cand(1)); err != nil {
		t.Fatalf("offer without link: %v", err)
	}
	if err := q.Offer(nil, cand(2)); err != nil {
		t.Fatalf("offer without link: %v", err)
	}
	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}

	link := newFakeLink()
	if err := link.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := q.Drain(link); err != nil {
		t.Fatal(err)
	}
	if got := len(link.appliedCands()); got != 2 {
		t.Fatalf("applied %d candidates after late link, want 2", got)
	}
}

func TestCandidateQueueDrainEmptyIsNoop(t *testing.T) {
	q := newCandidateQueue()
	link := newFakeLink()
	if err := q.Drain(link); err != nil {
		t.Fatalf("drain empty: %v", err)
	}
	if got := len(link.appliedCands()); got != 0 {
		t.Fatalf("empty drain applied %d candidates", got)
	}
}
