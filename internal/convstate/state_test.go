package convstate

import (
	"strings"
	"testing"
)

func TestAddTurnTrimsTail(t *testing.T) {
	s := New("bob", "alice")
	for i := 0; i < 20; i++ {
		s.AddTurn("user", "hello", int64(i))
	}
	if len(s.TranscriptTail) != maxTranscriptTail {
		t.Fatalf("len(TranscriptTail) = %d, want %d", len(s.TranscriptTail), maxTranscriptTail)
	}
	if len(s.FullTranscript) != 20 {
		t.Fatalf("len(FullTranscript) = %d, want 20", len(s.FullTranscript))
	}
	if s.TurnCount != 20 {
		t.Fatalf("TurnCount = %d, want 20", s.TurnCount)
	}
}

func TestAppendSummaryBounded(t *testing.T) {
	s := New("bob")
	long := strings.Repeat("x", 600)
	s.AppendSummary(long, long)
	if len(s.Summary) > maxSummaryChars {
		t.Fatalf("len(Summary) = %d, want <= %d", len(s.Summary), maxSummaryChars)
	}
}

func TestMergePatchScalarAndDedup(t *testing.T) {
	s := New("bob")
	s.MergePatch([]byte(`{"room":"kitchen","goals":["wider aisle","wider aisle"],"unknown_key":"ignored"}`))
	if s.Project.Room != "kitchen" {
		t.Fatalf("Room = %q, want %q", s.Project.Room, "kitchen")
	}
	if len(s.Project.Goals) != 1 {
		t.Fatalf("len(Goals) = %d, want 1", len(s.Project.Goals))
	}

	s.MergePatch([]byte(`{"goals":["wider aisle","better lighting"]}`))
	if len(s.Project.Goals) != 2 {
		t.Fatalf("len(Goals) = %d, want 2", len(s.Project.Goals))
	}
}

func TestMergePatchMalformedIsSilentNoOp(t *testing.T) {
	s := New("bob")
	s.MergePatch([]byte(`{"room":"kitchen"}`))
	s.MergePatch([]byte(`not json`))
	if s.Project.Room != "kitchen" {
		t.Fatalf("Room = %q, want unchanged %q", s.Project.Room, "kitchen")
	}
}

func TestMergePatchTypeMismatchDropped(t *testing.T) {
	s := New("bob")
	// room expects a string; a JSON number fails to unmarshal into *string,
	// so the whole patch is rejected rather than partially applied.
	s.MergePatch([]byte(`{"room": 42}`))
	if s.Project.Room != "" {
		t.Fatalf("Room = %q, want unchanged empty", s.Project.Room)
	}
}

func TestMarkAgentSeenIdempotent(t *testing.T) {
	s := New("bob", "alice")
	if seen := s.MarkAgentSeen("bob"); seen {
		t.Fatalf("first MarkAgentSeen() = true, want false")
	}
	if seen := s.MarkAgentSeen("bob"); !seen {
		t.Fatalf("second MarkAgentSeen() = false, want true")
	}
}

func TestGenerateHandoffNoteIncludesFocus(t *testing.T) {
	s := New("bob", "alice")
	s.AddTurn("user", "what about the permits", 0)
	note := s.GenerateHandoffNote("alice")
	if !strings.Contains(note, "permits/codes") {
		t.Fatalf("note missing alice focus line: %q", note)
	}

	note = s.GenerateHandoffNote("bob")
	if !strings.Contains(note, "next steps") {
		t.Fatalf("note missing bob focus line: %q", note)
	}
}
