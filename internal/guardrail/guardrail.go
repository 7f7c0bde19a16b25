// Package guardrail implements the two-pass content-safety gate applied to
// user input and to agent output.
package guardrail

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// Result is the outcome of a guardrail check.
type Result struct {
	OK         bool
	Category   string
	Confidence float64
	Reason     string
}

// Moderator is the remote moderation capability contract (pass 2). It is
// satisfied by internal/voice's OpenAI-backed client or its no-op fallback.
type Moderator interface {
	Check(ctx context.Context, text string) (Result, error)
}

var blocklistPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)\b(how\s+to\s+(make|build|create|synthesize)\s+(a\s+)?(bomb|weapon|poison|drug)s?)\b`),
	regexp.MustCompile(`(?is)\b(kill\s+(yourself|myself|himself|herself|themselves))\b`),
	regexp.MustCompile(`(?is)\b(child\s+(pornography|abuse|exploitation|sexual))\b`),
	regexp.MustCompile(`(?is)\b(self[\-\s]harm|suicide\s+method)\b`),
	regexp.MustCompile(`(?is)\b(synthesize\s+(drugs?|methamphetamine|heroin|fentanyl))\b`),
}

const moderationTimeout = 2 * time.Second

// Filter runs the two passes: a local blocklist, then an optional remote
// moderation check. Both passes short-circuit on first violation.
type Filter struct {
	Enabled   bool
	Moderator Moderator
}

// New returns a Filter. moderator may be nil — pass 2 is then skipped, as if
// the remote dependency were unavailable.
func New(enabled bool, moderator Moderator) *Filter {
	return &Filter{Enabled: enabled, Moderator: moderator}
}

// Check runs both passes. When the filter is disabled, or text is blank, it
// always returns ok=true. On a pass-2 timeout or transport error, it fails
// open — it never blocks a turn on infrastructure trouble.
func (f *Filter) Check(ctx context.Context, text string) Result {
	if !f.Enabled || strings.TrimSpace(text) == "" {
		return Result{OK: true}
	}

	for _, pattern := range blocklistPatterns {
		if pattern.MatchString(text) {
			return Result{
				OK:         false,
				Category:   "blocklist_match",
				Confidence: 1.0,
				Reason:     "Content matched safety blocklist",
			}
		}
	}

	if f.Moderator == nil {
		return Result{OK: true}
	}

	modCtx, cancel := context.WithTimeout(ctx, moderationTimeout)
	defer cancel()

	resultCh := make(chan Result, 1)
	go func() {
		res, err := f.Moderator.Check(modCtx, text)
		if err != nil {
			res = Result{OK: true}
		}
		resultCh <- res
	}()

	select {
	case res := <-resultCh:
		return res
	case <-modCtx.Done():
		return Result{OK: true}
	}
}
