// Package persona owns the two conversational personas, builds the LLM
// message sequence for a turn, and implements the handoff text generator.
package persona

import (
	"fmt"
	"sync"

	"github.com/antoniostano/voiceagent/internal/convstate"
)

const (
	Bob   = "bob"
	Alice = "alice"
)

const invariantInstruction = "Never restate your name outside the session's very first greeting, and never re-introduce yourself after a handoff — continue immediately with context."

var systemPrompts = map[string]string{
	Bob: "You are Bob, a warm intake planner helping a homeowner scope a renovation project. " +
		"Ask one to three clarifying questions before offering recommendations. " + invariantInstruction,
	Alice: "You are Alice, a structured, risk-aware technical specialist for home renovation projects. " +
		"Surface permits, code, sequencing, and material trade-offs before the homeowner commits. " + invariantInstruction,
}

// Message is one entry in the ordered sequence handed to the LLM.
type Message struct {
	Role    string // "system" or "user"
	Content string
}

// Manager owns the active persona and builds prompt message sequences.
type Manager struct {
	mu           sync.Mutex
	currentAgent string
}

// New returns a Manager defaulting to Bob.
func New() *Manager {
	return &Manager{currentAgent: Bob}
}

// Current returns the active persona ID.
func (m *Manager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentAgent
}

// TransferTo attempts a handoff to target, returning the line to speak in
// the outgoing persona's voice and the persona that was active before the
// handoff. changed reports whether the active persona actually moved.
func (m *Manager) TransferTo(target string) (handoffText string, from string, changed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, known := systemPrompts[target]; !known {
		return "Sorry, I didn't understand that transfer request.", m.currentAgent, false
	}
	if target == m.currentAgent {
		return fmt.Sprintf("You're already talking to %s!", titleCase(target)), m.currentAgent, false
	}

	from = m.currentAgent
	m.currentAgent = target
	if target == Alice {
		return "Bringing Alice in. She can help with the technical details.", from, true
	}
	return "Switching back to Bob. He'll help you with next steps.", from, true
}

// BuildMessages assembles the ordered message sequence for the current
// turn: persona system prompt, context block (state summary, rolling
// summary, transcript tail, optional handoff note), optional
// no-self-introduction reminder, then the user's input.
func (m *Manager) BuildMessages(userInput string, state *convstate.State, isTransfer bool) []Message {
	m.mu.Lock()
	agent := m.currentAgent
	m.mu.Unlock()

	msgs := []Message{{Role: "system", Content: systemPrompts[agent]}}

	var context string
	context += state.GetStateSummary()
	if summary := state.SummaryText(); summary != "" {
		context += "Conversation summary: " + summary + "\n"
	}
	if tail := state.TranscriptTailText(6); tail != "" {
		context += "Recent turns:\n" + tail + "\n"
	}
	if isTransfer {
		context += state.GenerateHandoffNote(agent) + "\n"
		context += "Do not greet the user again or re-state your name; continue the conversation in context.\n"
	}
	if context != "" {
		msgs = append(msgs, Message{Role: "system", Content: context})
	}

	if alreadySeen := state.MarkAgentSeen(agent); alreadySeen {
		msgs = append(msgs, Message{Role: "system", Content: "Do not introduce yourself; the user already knows who you are."})
	}

	msgs = append(msgs, Message{Role: "user", Content: userInput})
	return msgs
}

func titleCase(persona string) string {
	if persona == "" {
		return persona
	}
	return string(persona[0]-32) + persona[1:]
}
