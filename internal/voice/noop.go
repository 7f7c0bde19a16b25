package voice

import (
	"context"

	"github.com/antoniostano/voiceagent/internal/guardrail"
)

// NoopProvider is the deterministic degraded implementation used when
// OPENAI_API_KEY is unset: every capability returns "no output" rather than
// failing, so the rest of the pipeline behaves identically (just silent).
type NoopProvider struct{}

func NewNoopProvider() *NoopProvider { return &NoopProvider{} }

func (NoopProvider) Transcribe(_ context.Context, _ []byte, _ int, _ string) (string, bool, error) {
	return "", false, nil
}

func (NoopProvider) Complete(_ context.Context, _ []Message, _ int, _ float64) (string, bool) {
	return "", false
}

func (NoopProvider) StreamTokens(_ context.Context, _ []Message, _ <-chan struct{}) (<-chan string, error) {
	ch := make(chan string)
	close(ch)
	return ch, nil
}

func (NoopProvider) StreamChunks(_ context.Context, _ string, _ string, _ <-chan struct{}) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (NoopProvider) Check(_ context.Context, _ string) (guardrail.Result, error) {
	return guardrail.Result{OK: true}, nil
}
