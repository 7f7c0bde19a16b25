// Package convstate holds the per-session structured project facts, rolling
// summary, and transcript tail that accompany every LLM call.
package convstate

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

const (
	maxTranscriptTail = 12
	maxSummaryChars   = 500
)

// TurnRecord is one entry in the transcript tail / full transcript.
type TurnRecord struct {
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	TSUnixMS  int64  `json:"ts_ms"`
}

// Project holds the recognized project-fact keys. Scalar fields overwrite on
// update; slice fields append unique items.
type Project struct {
	Room            string   `json:"room,omitempty"`
	Budget          string   `json:"budget,omitempty"`
	Timeline        string   `json:"timeline,omitempty"`
	DIYOrContractor string   `json:"diy_or_contractor,omitempty"`
	Goals           []string `json:"goals,omitempty"`
	Constraints     []string `json:"constraints,omitempty"`
}

// State is the mutable, single-owner conversation state for one session.
// It is never shared across sessions and never read back from persistence.
type State struct {
	mu sync.Mutex

	Project            Project      `json:"project"`
	OpenQuestions      []string     `json:"open_questions"`
	Risks              []string     `json:"risks"`
	Decisions          []string     `json:"decisions"`
	MaterialsDiscussed []string     `json:"materials_discussed"`
	Summary            string       `json:"summary"`
	TranscriptTail     []TurnRecord `json:"transcript_tail"`
	FullTranscript     []TurnRecord `json:"full_transcript"`
	AgentSeen          map[string]bool `json:"agent_seen"`
	TurnCount          int          `json:"turn_count"`
}

// New returns a State with agent_seen initialized false for every known
// persona.
func New(personas ...string) *State {
	seen := make(map[string]bool, len(personas))
	for _, p := range personas {
		seen[p] = false
	}
	return &State{AgentSeen: seen}
}

// AddTurn appends a turn record to the full transcript and the bounded tail,
// then increments the turn counter.
func (s *State) AddTurn(speaker, text string, tsUnixMS int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := TurnRecord{Speaker: speaker, Text: text, TSUnixMS: tsUnixMS}
	s.FullTranscript = append(s.FullTranscript, rec)
	s.TranscriptTail = append(s.TranscriptTail, rec)
	if len(s.TranscriptTail) > maxTranscriptTail {
		s.TranscriptTail = s.TranscriptTail[len(s.TranscriptTail)-maxTranscriptTail:]
	}
	s.TurnCount++
}

// AppendSummary extends the rolling summary with a new line and truncates it
// to the trailing maxSummaryChars characters.
func (s *State) AppendSummary(userText, agentText string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	line := fmt.Sprintf("User: %s Agent: %s", userText, agentText)
	if s.Summary == "" {
		s.Summary = line
	} else {
		s.Summary = s.Summary + " " + line
	}
	if len(s.Summary) > maxSummaryChars {
		s.Summary = s.Summary[len(s.Summary)-maxSummaryChars:]
	}
}

// patch is the strictly-validated shape an LLM state-extraction call may
// emit. Unknown keys are ignored by encoding/json; fields here are the only
// ones ever merged.
type patch struct {
	Room               *string  `json:"room"`
	Budget             *string  `json:"budget"`
	Timeline           *string  `json:"timeline"`
	DIYOrContractor    *string  `json:"diy_or_contractor"`
	Goals              []string `json:"goals"`
	Constraints        []string `json:"constraints"`
	OpenQuestions      []string `json:"open_questions"`
	Risks              []string `json:"risks"`
	Decisions          []string `json:"decisions"`
	MaterialsDiscussed []string `json:"materials_discussed"`
}

// MergePatch applies a JSON patch emitted by the background state-extraction
// call. Malformed JSON is a silent no-op: the previous state remains
// authoritative. A type mismatch anywhere in the patch makes json.Unmarshal
// fail, so the whole patch is discarded and nothing from it is applied.
func (s *State) MergePatch(raw []byte) {
	var p patch
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Room != nil {
		s.Project.Room = *p.Room
	}
	if p.Budget != nil {
		s.Project.Budget = *p.Budget
	}
	if p.Timeline != nil {
		s.Project.Timeline = *p.Timeline
	}
	if p.DIYOrContractor != nil {
		s.Project.DIYOrContractor = *p.DIYOrContractor
	}
	s.Project.Goals = dedupAppend(s.Project.Goals, p.Goals)
	s.Project.Constraints = dedupAppend(s.Project.Constraints, p.Constraints)
	s.OpenQuestions = dedupAppend(s.OpenQuestions, p.OpenQuestions)
	s.Risks = dedupAppend(s.Risks, p.Risks)
	s.Decisions = dedupAppend(s.Decisions, p.Decisions)
	s.MaterialsDiscussed = dedupAppend(s.MaterialsDiscussed, p.MaterialsDiscussed)
}

func dedupAppend(existing []string, incoming []string) []string {
	if len(incoming) == 0 {
		return existing
	}
	seen := make(map[string]bool, len(existing))
	for _, v := range existing {
		seen[v] = true
	}
	out := existing
	for _, v := range incoming {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// factsSnapshot is the wire shape for StateUpdate.Facts: the project fields
// plus the other top-level fact lists, as of the moment it is taken.
type factsSnapshot struct {
	Project            Project  `json:"project"`
	OpenQuestions      []string `json:"open_questions,omitempty"`
	Risks              []string `json:"risks,omitempty"`
	Decisions          []string `json:"decisions,omitempty"`
	MaterialsDiscussed []string `json:"materials_discussed,omitempty"`
}

// FactsJSON marshals the current structured facts for the state_update
// event's facts payload. Marshal failures (which cannot occur for this
// fixed, string/slice-only shape) yield nil, the same as an empty snapshot.
func (s *State) FactsJSON() json.RawMessage {
	s.mu.Lock()
	snap := factsSnapshot{
		Project:            s.Project,
		OpenQuestions:      s.OpenQuestions,
		Risks:              s.Risks,
		Decisions:          s.Decisions,
		MaterialsDiscussed: s.MaterialsDiscussed,
	}
	s.mu.Unlock()

	raw, err := json.Marshal(snap)
	if err != nil {
		return nil
	}
	return raw
}

// SummaryText returns the current rolling summary.
func (s *State) SummaryText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Summary
}

// GetStateSummary returns a structured, human-readable serialization used as
// prompt context.
func (s *State) GetStateSummary() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.GetStateSummaryLocked()
	if len(s.OpenQuestions) > 0 {
		b += fmt.Sprintf("Open questions: %s\n", strings.Join(s.OpenQuestions, "; "))
	}
	if len(s.Risks) > 0 {
		b += fmt.Sprintf("Risks: %s\n", strings.Join(s.Risks, "; "))
	}
	if len(s.Decisions) > 0 {
		b += fmt.Sprintf("Decisions: %s\n", strings.Join(s.Decisions, "; "))
	}
	return b
}

// TranscriptTailText renders the last n tail entries as "SPEAKER: text"
// lines.
func (s *State) TranscriptTailText(n int) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	tail := s.TranscriptTail
	if n > 0 && n < len(tail) {
		tail = tail[len(tail)-n:]
	}
	lines := make([]string, 0, len(tail))
	for _, rec := range tail {
		lines = append(lines, fmt.Sprintf("%s: %s", strings.ToUpper(rec.Speaker), rec.Text))
	}
	return strings.Join(lines, "\n")
}

// MarkAgentSeen reports whether the persona has already self-introduced in
// this session, marking it seen if this is the first time.
func (s *State) MarkAgentSeen(persona string) (alreadySeen bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.AgentSeen == nil {
		s.AgentSeen = make(map[string]bool)
	}
	alreadySeen = s.AgentSeen[persona]
	s.AgentSeen[persona] = true
	return alreadySeen
}

// GenerateHandoffNote builds the labeled context block handed to the
// receiving persona on a transfer.
func (s *State) GenerateHandoffNote(currentAgent string) string {
	s.mu.Lock()
	lastUser := ""
	for i := len(s.FullTranscript) - 1; i >= 0; i-- {
		if s.FullTranscript[i].Speaker == "user" {
			lastUser = s.FullTranscript[i].Text
			break
		}
	}
	summary := s.GetStateSummaryLocked()
	openQuestions := strings.Join(s.OpenQuestions, "; ")
	risks := strings.Join(s.Risks, "; ")
	s.mu.Unlock()

	var focus string
	switch currentAgent {
	case "alice":
		focus = "Address technical concerns, risks, permits/codes, sequencing, or material trade-offs."
	default:
		focus = "Provide actionable next steps, create task list, or help with high-level planning."
	}

	var b strings.Builder
	b.WriteString("Handoff note:\n")
	b.WriteString(summary)
	if openQuestions != "" {
		fmt.Fprintf(&b, "Open questions: %s\n", openQuestions)
	}
	if risks != "" {
		fmt.Fprintf(&b, "Risks: %s\n", risks)
	}
	if lastUser != "" {
		fmt.Fprintf(&b, "Last user message: %s\n", lastUser)
	}
	fmt.Fprintf(&b, "Recommended focus: %s\n", focus)
	return b.String()
}

// GetStateSummaryLocked is GetStateSummary for callers that already hold mu.
func (s *State) GetStateSummaryLocked() string {
	var b strings.Builder
	b.WriteString("Project facts:\n")
	if s.Project.Room != "" {
		fmt.Fprintf(&b, "- room: %s\n", s.Project.Room)
	}
	if s.Project.Budget != "" {
		fmt.Fprintf(&b, "- budget: %s\n", s.Project.Budget)
	}
	if s.Project.Timeline != "" {
		fmt.Fprintf(&b, "- timeline: %s\n", s.Project.Timeline)
	}
	if s.Project.DIYOrContractor != "" {
		fmt.Fprintf(&b, "- diy_or_contractor: %s\n", s.Project.DIYOrContractor)
	}
	if len(s.Project.Goals) > 0 {
		fmt.Fprintf(&b, "- goals: %s\n", strings.Join(s.Project.Goals, "; "))
	}
	if len(s.Project.Constraints) > 0 {
		fmt.Fprintf(&b, "- constraints: %s\n", strings.Join(s.Project.Constraints, "; "))
	}
	return b.String()
}
