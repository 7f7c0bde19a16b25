package session

import (
	"context"
	"testing"
	"time"
)

func TestRuntimeNewTurnCancelsPrior(t *testing.T) {
	rt := newRuntime("bob", "alice")

	ctx1 := rt.NewTurn(context.Background())
	ctx2 := rt.NewTurn(context.Background())

	select {
	case <-ctx1.Done():
	default:
		t.Fatalf("first turn context should be cancelled once a second turn starts")
	}
	select {
	case <-ctx2.Done():
		t.Fatalf("second turn context should still be live")
	default:
	}
}

func TestRuntimeCancelAllIsIdempotent(t *testing.T) {
	rt := newRuntime("bob", "alice")
	rt.NewTurn(context.Background())

	rt.CancelAll()
	rt.CancelAll() // must not panic on double-close

	select {
	case <-rt.TTSCancel:
	default:
		t.Fatalf("TTSCancel should be closed after CancelAll")
	}
}

func TestRuntimeCheckpointRoundTrip(t *testing.T) {
	rt := newRuntime("bob", "alice")
	if got := rt.PopCheckpoint(); got != "" {
		t.Fatalf("PopCheckpoint() = %q, want empty before any checkpoint", got)
	}

	rt.Checkpoint("I was about to say")
	if got := rt.PopCheckpoint(); got != "I was about to say" {
		t.Fatalf("PopCheckpoint() = %q, want %q", got, "I was about to say")
	}
	if got := rt.PopCheckpoint(); got != "" {
		t.Fatalf("PopCheckpoint() after pop = %q, want empty", got)
	}
}

func TestRuntimeOutboundQueueDropsOldest(t *testing.T) {
	rt := newRuntime("bob", "alice")
	for i := 0; i < maxOutboundQueue+5; i++ {
		rt.PushOutbound([]byte{byte(i)})
	}

	drained := rt.DrainOutbound()
	if len(drained) != maxOutboundQueue {
		t.Fatalf("len(drained) = %d, want %d", len(drained), maxOutboundQueue)
	}
	if drained[0][0] != 5 {
		t.Fatalf("oldest surviving entry = %d, want 5", drained[0][0])
	}
	if got := rt.DrainOutbound(); len(got) != 0 {
		t.Fatalf("second drain should be empty, got %d entries", len(got))
	}
}

func TestRuntimeDeafWindow(t *testing.T) {
	rt := newRuntime("bob", "alice")
	now := time.Now()

	if rt.IsDeaf(now) {
		t.Fatalf("IsDeaf() = true before any deaf window is set")
	}

	rt.SetTTSDeafUntil(now.Add(200 * time.Millisecond))
	if !rt.IsDeaf(now) {
		t.Fatalf("IsDeaf() = false within an active deaf window")
	}
	if rt.IsDeaf(now.Add(300 * time.Millisecond)) {
		t.Fatalf("IsDeaf() = true after the deaf window elapsed")
	}
}

func TestRuntimeTTSPlayingFlag(t *testing.T) {
	rt := newRuntime("bob", "alice")
	if rt.IsTTSPlaying() {
		t.Fatalf("IsTTSPlaying() = true initially")
	}
	rt.SetTTSPlaying(true)
	if !rt.IsTTSPlaying() {
		t.Fatalf("IsTTSPlaying() = false after SetTTSPlaying(true)")
	}
}
