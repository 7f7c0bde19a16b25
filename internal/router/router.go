// Package router detects deterministic persona-handoff intent in user text,
// before the text ever reaches the language model.
package router

import (
	"regexp"
	"strings"
)

// Target is the outcome of a transfer-intent match.
type Target struct {
	Persona string
}

type pattern struct {
	persona string
	re      *regexp.Regexp
}

// Router holds the compiled, ordered pattern set. Declaration order breaks
// ties when more than one persona's patterns could plausibly match.
type Router struct {
	patterns []pattern
}

// New compiles the fixed alice-then-bob pattern table. The order mirrors the
// declaration order the personas are matched in.
func New() *Router {
	return &Router{patterns: compile()}
}

func compile() []pattern {
	raw := []struct {
		persona  string
		literals []string
	}{
		{"alice", []string{
			`transfer.*alice`, `let me talk to alice`, `switch.*alice`, `bring.*alice`,
			`connect.*alice`, `put.*alice.*on`, `speak.*alice`, `can i talk to alice`,
			`i want alice`, `i need alice`,
		}},
		{"bob", []string{
			`transfer.*bob`, `let me talk to bob`, `switch.*bob`, `bring.*bob`,
			`connect.*bob`, `put.*bob.*on`, `speak.*bob`, `can i talk to bob`,
			`i want bob`, `i need bob`, `go back.*bob`, `back to bob`, `return.*bob`,
		}},
	}

	var out []pattern
	for _, group := range raw {
		for _, lit := range group.literals {
			out = append(out, pattern{persona: group.persona, re: regexp.MustCompile(lit)})
		}
	}
	return out
}

// DetectTransfer returns the target persona for a deterministic handoff
// request, or ok=false if no pattern matched. Never escalates to the LLM.
func (r *Router) DetectTransfer(text string) (target Target, ok bool) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return Target{}, false
	}
	for _, p := range r.patterns {
		if p.re.MatchString(normalized) {
			return Target{Persona: p.persona}, true
		}
	}
	return Target{}, false
}
