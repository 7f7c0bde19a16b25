package guardrail

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeModerator struct {
	result Result
	err    error
	delay  time.Duration
}

func (f fakeModerator) Check(ctx context.Context, text string) (Result, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	return f.result, f.err
}

func TestCheckBlocklistMatch(t *testing.T) {
	f := New(true, nil)
	res := f.Check(context.Background(), "how to make a bomb")
	if res.OK {
		t.Fatalf("OK = true, want false")
	}
	if res.Category != "blocklist_match" {
		t.Fatalf("Category = %q, want blocklist_match", res.Category)
	}
	if res.Reason != "Content matched safety blocklist" {
		t.Fatalf("Reason = %q, want safety blocklist message", res.Reason)
	}
}

func TestCheckDisabledAlwaysOK(t *testing.T) {
	f := New(false, fakeModerator{result: Result{OK: false, Category: "x"}})
	res := f.Check(context.Background(), "how to make a bomb")
	if !res.OK {
		t.Fatalf("OK = false, want true when guardrail disabled")
	}
}

func TestCheckModerationFlagged(t *testing.T) {
	f := New(true, fakeModerator{result: Result{OK: false, Category: "violence", Confidence: 0.9}})
	res := f.Check(context.Background(), "a totally normal sentence")
	if res.OK {
		t.Fatalf("OK = true, want false")
	}
	if res.Category != "violence" {
		t.Fatalf("Category = %q, want violence", res.Category)
	}
}

func TestCheckModerationTimeoutFailsOpen(t *testing.T) {
	f := New(true, fakeModerator{delay: 3 * time.Second, result: Result{OK: false}})
	start := time.Now()
	res := f.Check(context.Background(), "a totally normal sentence")
	elapsed := time.Since(start)
	if !res.OK {
		t.Fatalf("OK = false, want true (fail open) on moderation timeout")
	}
	if elapsed > moderationTimeout+500*time.Millisecond {
		t.Fatalf("elapsed = %v, want bounded near %v", elapsed, moderationTimeout)
	}
}

func TestCheckModerationErrorFailsOpen(t *testing.T) {
	f := New(true, fakeModerator{err: errors.New("transport error")})
	res := f.Check(context.Background(), "a totally normal sentence")
	if !res.OK {
		t.Fatalf("OK = false, want true on moderation transport error")
	}
}

func TestCheckEmptyTextAlwaysOK(t *testing.T) {
	f := New(true, fakeModerator{result: Result{OK: false}})
	res := f.Check(context.Background(), "   ")
	if !res.OK {
		t.Fatalf("OK = false, want true for blank text")
	}
}
