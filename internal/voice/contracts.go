// Package voice defines the capability contracts for ASR, LLM, TTS, and
// moderation, plus an OpenAI-backed implementation and a deterministic
// no-op fallback used when no API key is configured.
package voice

import (
	"context"

	"github.com/antoniostano/voiceagent/internal/guardrail"
)

// Message is one entry in an LLM prompt.
type Message struct {
	Role    string
	Content string
}

// STTProvider transcribes a finalized utterance.
type STTProvider interface {
	// Transcribe wraps pcm in a WAV container and transcribes it. ok is
	// false (with a nil error) for near-silent audio rejected without a
	// network call, or when no provider is configured.
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (text string, ok bool, err error)
}

// LLMProvider issues both single-shot completions (used by guardrail-
// adjacent utility calls and background state extraction) and streamed
// completions (used by the per-turn pipeline).
type LLMProvider interface {
	Complete(ctx context.Context, messages []Message, maxTokens int, temperature float64) (text string, ok bool)
	// StreamTokens must check cancel before emitting each token and stop
	// cleanly, closing the returned channel, when it fires.
	StreamTokens(ctx context.Context, messages []Message, cancel <-chan struct{}) (<-chan string, error)
}

// TTSProvider synthesizes speech for one persona's voice, sentence by
// sentence, for minimum time-to-first-audio.
type TTSProvider interface {
	// StreamChunks must check cancel before emitting each chunk and stop
	// cleanly, closing the returned channel, when it fires.
	StreamChunks(ctx context.Context, text string, persona string, cancel <-chan struct{}) (<-chan []byte, error)
}

// Moderation is the remote content-moderation capability contract; it
// satisfies guardrail.Moderator directly.
type Moderation interface {
	Check(ctx context.Context, text string) (guardrail.Result, error)
}
