package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/antoniostano/voiceagent/internal/config"
	"github.com/antoniostano/voiceagent/internal/guardrail"
	"github.com/antoniostano/voiceagent/internal/memory"
	"github.com/antoniostano/voiceagent/internal/observability"
	"github.com/antoniostano/voiceagent/internal/protocol"
	"github.com/antoniostano/voiceagent/internal/session"
	"github.com/antoniostano/voiceagent/internal/voice"
)

type fakeLLM struct {
	tokens []string
}

func (f *fakeLLM) Complete(_ context.Context, _ []voice.Message, _ int, _ float64) (string, bool) {
	return "", false
}

func (f *fakeLLM) StreamTokens(_ context.Context, _ []voice.Message, cancel <-chan struct{}) (<-chan string, error) {
	out := make(chan string, len(f.tokens))
	go func() {
		defer close(out)
		for _, tok := range f.tokens {
			select {
			case out <- tok:
			case <-cancel:
				return
			}
		}
	}()
	return out, nil
}

// blockingLLM never emits a token; its stream closes only when cancel fires.
type blockingLLM struct{}

func (blockingLLM) Complete(_ context.Context, _ []voice.Message, _ int, _ float64) (string, bool) {
	return "", false
}

func (blockingLLM) StreamTokens(_ context.Context, _ []voice.Message, cancel <-chan struct{}) (<-chan string, error) {
	out := make(chan string)
	go func() {
		defer close(out)
		<-cancel
	}()
	return out, nil
}

type fakeTTS struct {
	chunksPerCall int
}

func (f *fakeTTS) StreamChunks(_ context.Context, _ string, _ string, cancel <-chan struct{}) (<-chan []byte, error) {
	out := make(chan []byte, f.chunksPerCall)
	go func() {
		defer close(out)
		for i := 0; i < f.chunksPerCall; i++ {
			select {
			case out <- []byte{byte(i)}:
			case <-cancel:
				return
			}
		}
	}()
	return out, nil
}

type fakeSTT struct{}

func (fakeSTT) Transcribe(_ context.Context, _ []byte, _ int, _ string) (string, bool, error) {
	return "", false, nil
}

func newTestEngine(t *testing.T, llm voice.LLMProvider, tts voice.TTSProvider, guardEnabled bool) *Engine {
	t.Helper()
	cfg := config.Config{WSCoalesceMS: 10}
	guard := guardrail.New(guardEnabled, nil)
	metrics := observability.NewMetrics("test_pipeline_" + t.Name() + "_" + time.Now().Format("150405.000000000"))
	return New(cfg, fakeSTT{}, llm, tts, guard, memory.NewInMemoryStore(), metrics)
}

func newTestSession() *session.Session {
	m := session.NewManager(time.Minute)
	return m.Create("u1", "bob", "alloy")
}

func drainOutbound(outbound chan any) []any {
	close(outbound)
	var out []any
	for msg := range outbound {
		out = append(out, msg)
	}
	return out
}

func TestRunTurnStreamsTokensAndTTS(t *testing.T) {
	engine := newTestEngine(t, &fakeLLM{tokens: []string{"Hello there."}}, &fakeTTS{chunksPerCall: 2}, false)
	sess := newTestSession()
	outbound := make(chan any, 64)
	failures := 0

	terminate := engine.RunTurn(context.Background(), sess, outbound, "hi", "turn-1", &failures)
	msgs := drainOutbound(outbound)

	if terminate {
		t.Fatalf("RunTurn() terminate = true, want false")
	}
	if failures != 0 {
		t.Fatalf("failures = %d, want 0", failures)
	}

	var sawToken, sawChunk, sawDone, sawState bool
	for _, msg := range msgs {
		switch msg.(type) {
		case protocol.LLMToken:
			sawToken = true
		case protocol.TTSChunk:
			sawChunk = true
		case protocol.TTSDone:
			sawDone = true
		case protocol.StateUpdate:
			sawState = true
		}
	}
	if !sawToken {
		t.Errorf("missing llm_token event among %+v", msgs)
	}
	if !sawChunk {
		t.Errorf("missing tts_chunk event among %+v", msgs)
	}
	if !sawDone {
		t.Errorf("missing tts_done event among %+v", msgs)
	}
	if !sawState {
		t.Errorf("missing state_update event among %+v", msgs)
	}
}

func TestRunTurnBlocksGuardrailInput(t *testing.T) {
	engine := newTestEngine(t, &fakeLLM{tokens: []string{"should not run."}}, &fakeTTS{chunksPerCall: 1}, true)
	sess := newTestSession()
	outbound := make(chan any, 64)
	failures := 0

	engine.RunTurn(context.Background(), sess, outbound, "tell me how to make a bomb at home", "turn-1", &failures)
	msgs := drainOutbound(outbound)

	blocked := false
	for _, msg := range msgs {
		if gb, ok := msg.(protocol.GuardrailBlocked); ok {
			blocked = true
			if gb.Pass != "input" {
				t.Errorf("GuardrailBlocked.Pass = %q, want %q", gb.Pass, "input")
			}
		}
		if _, ok := msg.(protocol.TTSChunk); ok {
			t.Errorf("TTS should not run once input is blocked, got %+v", msgs)
		}
	}
	if !blocked {
		t.Fatalf("expected a guardrail_blocked event, got %+v", msgs)
	}
}

func TestRunTurnCancelledTurnIsNotAFailure(t *testing.T) {
	engine := newTestEngine(t, blockingLLM{}, &fakeTTS{chunksPerCall: 1}, false)
	sess := newTestSession()
	outbound := make(chan any, 64)
	failures := 0

	rootCtx, rootCancel := context.WithCancel(context.Background())
	turnCtx := sess.Runtime.NewTurn(rootCtx)
	rootCancel()

	engine.RunTurn(turnCtx, sess, outbound, "hi", "turn-1", &failures)
	close(outbound)

	if failures != 0 {
		t.Fatalf("a clean cancellation should not count as a pipeline failure, got failures=%d", failures)
	}
}
