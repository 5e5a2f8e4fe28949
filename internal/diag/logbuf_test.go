package diag

import (
	"fmt"
	"io"
	"log"
	"testing"
	"time"
)

func TestLogBufferDropsOldestAtSteadyState(t *testing.T) {
	b := NewLogBuffer(3)
	for i := 1; i <= 7; i++ {
		fmt.Fprintf(b, "line %d\n", i)
	}
	got := b.Snapshot()
	if len(got) != 3 {
		t.Fatalf("captured %d lines, want 3: %v", len(got), got)
	}
	for i, want := range []string{"line 5", "line 6", "line 7"} {
		if got[i].Msg != want {
			t.Fatalf("lines = %v", got)
		}
	}
}

func TestLogBufferSplitsLines(t *testing.T) {
	b := NewLogBuffer(10)

	// A write may carry a fragment of a line; only complete lines count.
	fmt.Fprint(b, "first line\nsecond ")
	fmt.Fprint(b, "line\n\n   \nthird\n")

	got := b.Snapshot()
	if len(got) != 3 {
		t.Fatalf("captured %d lines, want 3: %v", len(got), got)
	}
	if got[0].Msg != "first line" || got[1].Msg != "second line" || got[2].Msg != "third" {
		t.Errorf("lines = %v", got)
	}
}

func TestLogBufferCapsEntries(t *testing.T) {
	b := NewLogBuffer(2)
	fmt.Fprint(b, "one\ntwo\nthree\n")

	got := b.Snapshot()
	if len(got) != 2 || got[0].Msg != "two" || got[1].Msg != "three" {
		t.Errorf("lines = %v", got)
	}
}

func TestLogBufferSubscribe(t *testing.T) {
	b := NewLogBuffer(10)
	ch, cancel := b.Subscribe()
	defer cancel()

	fmt.Fprint(b, "hello\n")
	select {
	case e := <-ch:
		if e.Msg != "hello" {
			t.Errorf("msg = %q", e.Msg)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the line")
	}

	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}
	// Writing after cancel must not panic.
	fmt.Fprint(b, "after\n")
}

func TestLogBufferBehindStdLogger(t *testing.T) {
	b := NewLogBuffer(10)
	logger := log.New(io.MultiWriter(io.Discard, b), "", log.LstdFlags)
	logger.Printf("CALL [chat1]: ringing")

	got := b.Snapshot()
	if len(got) != 1 {
		t.Fatalf("captured %d lines, want 1", len(got))
	}
}
