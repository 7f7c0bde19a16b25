package persona

import (
	"strings"
	"testing"

	"github.com/antoniostano/voiceagent/internal/convstate"
)

func TestTransferToUnknownTarget(t *testing.T) {
	m := New()
	text, from, changed := m.TransferTo("carol")
	if changed {
		t.Fatalf("changed = true, want false")
	}
	if from != Bob {
		t.Fatalf("from = %q, want %q", from, Bob)
	}
	if !strings.Contains(text, "didn't understand") {
		t.Fatalf("text = %q, want unknown-transfer message", text)
	}
}

func TestTransferToSameTarget(t *testing.T) {
	m := New()
	text, from, changed := m.TransferTo(Bob)
	if changed {
		t.Fatalf("changed = true, want false")
	}
	if from != Bob {
		t.Fatalf("from = %q, want %q", from, Bob)
	}
	if !strings.Contains(text, "already talking") {
		t.Fatalf("text = %q, want same-target message", text)
	}
}

func TestTransferToAlice(t *testing.T) {
	m := New()
	text, from, changed := m.TransferTo(Alice)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	if from != Bob {
		t.Fatalf("from = %q, want %q", from, Bob)
	}
	if m.Current() != Alice {
		t.Fatalf("Current() = %q, want %q", m.Current(), Alice)
	}
	if !strings.Contains(text, "Bringing Alice in") {
		t.Fatalf("text = %q, want Alice handoff line", text)
	}
}

func TestBuildMessagesFirstTurnMarksAgentSeen(t *testing.T) {
	m := New()
	state := convstate.New(Bob, Alice)

	msgs := m.BuildMessages("I want to redo my kitchen.", state, false)
	if len(msgs) == 0 || msgs[0].Role != "system" {
		t.Fatalf("expected leading system message, got %+v", msgs)
	}
	if msgs[len(msgs)-1].Content != "I want to redo my kitchen." {
		t.Fatalf("final message = %+v, want the user input", msgs[len(msgs)-1])
	}
	for _, msg := range msgs {
		if strings.Contains(msg.Content, "Do not introduce yourself") {
			t.Fatalf("unexpected no-reintroduce message on first turn: %+v", msgs)
		}
	}

	msgs2 := m.BuildMessages("anything else", state, false)
	found := false
	for _, msg := range msgs2 {
		if strings.Contains(msg.Content, "Do not introduce yourself") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected no-reintroduce reminder on second turn: %+v", msgs2)
	}
}

func TestBuildMessagesTransferIncludesHandoffNote(t *testing.T) {
	m := New()
	state := convstate.New(Bob, Alice)
	m.TransferTo(Alice)

	msgs := m.BuildMessages("continue", state, true)
	joined := ""
	for _, msg := range msgs {
		joined += msg.Content
	}
	if !strings.Contains(joined, "Handoff note") {
		t.Fatalf("expected handoff note in messages: %+v", msgs)
	}
}
