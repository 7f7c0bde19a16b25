// Package pipeline implements the per-turn orchestrator: guardrail checks,
// transfer detection, streamed LLM completion coalesced into outbound token
// events, sentence-buffered streamed TTS, and the background conversation
// state update that follows every turn.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/voiceagent/internal/config"
	"github.com/antoniostano/voiceagent/internal/guardrail"
	"github.com/antoniostano/voiceagent/internal/memory"
	"github.com/antoniostano/voiceagent/internal/observability"
	"github.com/antoniostano/voiceagent/internal/persona"
	"github.com/antoniostano/voiceagent/internal/protocol"
	"github.com/antoniostano/voiceagent/internal/reliability"
	"github.com/antoniostano/voiceagent/internal/session"
	"github.com/antoniostano/voiceagent/internal/voice"
)

const maxConsecutiveFailures = 3

// Engine runs turns for every session. One Engine is shared across all
// connections; all per-connection and per-turn state lives on session.Runtime.
type Engine struct {
	cfg     config.Config
	stt     voice.STTProvider
	llm     voice.LLMProvider
	tts     voice.TTSProvider
	guard   *guardrail.Filter
	store   memory.Store
	metrics *observability.Metrics
}

func New(cfg config.Config, stt voice.STTProvider, llm voice.LLMProvider, tts voice.TTSProvider, guard *guardrail.Filter, store memory.Store, metrics *observability.Metrics) *Engine {
	return &Engine{cfg: cfg, stt: stt, llm: llm, tts: tts, guard: guard, store: store, metrics: metrics}
}

// RunTurn runs one turn to completion, recovering from any panic inside the
// pipeline steps and translating it into a spoken apology. It reports
// whether the session should be terminated: three consecutive failures end
// it with a final apology.
func (e *Engine) RunTurn(ctx context.Context, sess *session.Session, outbound chan<- any, userText, turnID string, failures *int) (terminate bool) {
	defer func() {
		if r := recover(); r != nil {
			*failures++
			apologyCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if *failures >= maxConsecutiveFailures {
				e.speakSync(apologyCtx, sess, outbound, "I'm having trouble keeping up right now. Let's pick this back up in a moment.", sess.Runtime.PersonaManager.Current(), turnID)
				terminate = true
				return
			}
			e.speakSync(apologyCtx, sess, outbound, "Sorry, I ran into a problem there. Could you say that again?", sess.Runtime.PersonaManager.Current(), turnID)
		}
	}()
	e.runTurn(ctx, sess, outbound, userText, turnID, failures)
	return false
}

// runTurn executes SPEC_FULL.md's ten-step per-turn algorithm for one
// finalized user utterance (or text_input).
func (e *Engine) runTurn(ctx context.Context, sess *session.Session, outbound chan<- any, userText string, turnID string, failures *int) {
	rt := sess.Runtime
	start := time.Now()

	cancelled := func() bool {
		select {
		case <-ctx.Done():
			return true
		default:
			return false
		}
	}

	if cancelled() {
		return
	}

	// Step 2: input guardrail.
	if res := e.guard.Check(ctx, userText); !res.OK {
		e.metrics.ObserveGuardrailBlock("input", res.Category)
		outbound <- protocol.GuardrailBlocked{Type: protocol.TypeGuardrailBlocked, SessionID: sess.ID, TurnID: turnID, Pass: "input", Category: res.Category, Reason: res.Reason}
		return
	}
	if cancelled() {
		return
	}

	// Step 3: transfer detection.
	isTransfer := false
	if target, ok := rt.Router.DetectTransfer(userText); ok {
		if line, from, changed := rt.PersonaManager.TransferTo(target.Persona); changed {
			isTransfer = true
			rt.State.AddTurn("system", fmt.Sprintf("[Transferred to %s]", target.Persona), nowMS())
			outbound <- protocol.AgentChange{Type: protocol.TypeAgentChange, SessionID: sess.ID, FromID: from, ToID: target.Persona, Line: line}
			e.speakSync(ctx, sess, outbound, line, from, turnID)
			outbound <- protocol.TTSDone{Type: protocol.TypeTTSDone, SessionID: sess.ID, TurnID: turnID}
		}
	}
	if cancelled() {
		return
	}

	// Step 4: checkpoint restoration.
	if checkpoint := rt.PopCheckpoint(); checkpoint != "" {
		rt.State.AddTurn("system", fmt.Sprintf("[INTERRUPTED — was saying: %s]", checkpoint), nowMS())
		outbound <- protocol.CheckpointRestored{Type: protocol.TypeCheckpointRestored, SessionID: sess.ID, TurnID: turnID, Text: checkpoint}
	}

	// Step 5: message construction.
	agent := rt.PersonaManager.Current()
	msgs := toVoiceMessages(rt.PersonaManager.BuildMessages(userText, rt.State, isTransfer))

	// Step 6: streaming body.
	fullResponse, ttsCancelled := e.streamBody(ctx, sess, outbound, msgs, agent, turnID)
	if ttsCancelled {
		// Step 7: barge-in path.
		preview := fullResponse
		if len(preview) > 120 {
			preview = preview[:120]
		}
		rt.Checkpoint(fullResponse)
		outbound <- protocol.CheckpointSaved{Type: protocol.TypeCheckpointSaved, SessionID: sess.ID, TurnID: turnID, Partial: preview}
		return
	}
	if cancelled() {
		return
	}

	// Step 8: output guardrail.
	if res := e.guard.Check(ctx, fullResponse); !res.OK {
		e.metrics.ObserveGuardrailBlock("output", res.Category)
		rt.CancelAll()
		outbound <- protocol.GuardrailBlocked{Type: protocol.TypeGuardrailBlocked, SessionID: sess.ID, TurnID: turnID, Pass: "output", Category: res.Category, Reason: res.Reason}
		return
	}

	// Step 9: the streamBody call above already drove the single-slot TTS
	// task to completion before returning, so the flush is implicit here.
	outbound <- protocol.TTSDone{Type: protocol.TypeTTSDone, SessionID: sess.ID, TurnID: turnID}

	// Step 10: state update.
	nowTS := nowMS()
	rt.State.AddTurn("user", userText, nowTS)
	rt.State.AddTurn(agent, fullResponse, nowTS)
	go e.updateStateInBackground(sess, userText, fullResponse)
	outbound <- protocol.StateUpdate{Type: protocol.TypeStateUpdate, SessionID: sess.ID, Facts: rt.State.FactsJSON(), Summary: rt.State.SummaryText()}

	if e.store != nil {
		go e.persistTurn(sess, "user", userText)
		go e.persistTurn(sess, agent, fullResponse)
	}

	e.metrics.ObserveTurnStage("turn_total", time.Since(start))
	*failures = 0
}

// streamBody drives step 6: it pulls tokens from the LLM stream, coalesces
// them into outbound llm_token batches, and hands completed sentences to a
// single-slot TTS task. It returns the full accumulated text and whether the
// turn was cancelled (barge-in) before the stream finished.
func (e *Engine) streamBody(ctx context.Context, sess *session.Session, outbound chan<- any, msgs []voice.Message, agent, turnID string) (string, bool) {
	rt := sess.Runtime
	tokens, err := e.llm.StreamTokens(ctx, msgs, ctx.Done())
	if err != nil {
		e.reportProviderError(sess, outbound, "llm", "llm_stream_failed", err)
		return "", false
	}

	var full strings.Builder
	var pending strings.Builder
	planner := newSentenceAccumulator()
	var ttsDone chan struct{}
	coalesceWindow := time.Duration(e.cfg.WSCoalesceMS) * time.Millisecond
	if coalesceWindow <= 0 {
		coalesceWindow = 25 * time.Millisecond
	}
	ticker := time.NewTicker(coalesceWindow)
	defer ticker.Stop()

	flushTokens := func() {
		if pending.Len() == 0 {
			return
		}
		outbound <- protocol.LLMToken{Type: protocol.TypeLLMToken, SessionID: sess.ID, TurnID: turnID, PersonaID: agent, Token: pending.String()}
		pending.Reset()
	}

	firstAudioSent := false
	startSentenceTTS := func(sentence string) chan struct{} {
		done := make(chan struct{})
		rt.SetTTSPlaying(true)
		go func() {
			defer close(done)
			e.speakSentence(ctx, sess, outbound, sentence, agent, turnID, &firstAudioSent)
		}()
		return done
	}

	for {
		select {
		case <-ctx.Done():
			flushTokens()
			if ttsDone != nil {
				<-ttsDone
			}
			return full.String(), true
		case tok, ok := <-tokens:
			if !ok {
				flushTokens()
				if ttsDone != nil {
					<-ttsDone
					ttsDone = nil
				}
				// The stream also closes when cancel fires; that is a
				// cancellation, not a finished stream.
				if ctx.Err() != nil {
					return full.String(), true
				}
				for _, sentence := range planner.Finalize() {
					d := startSentenceTTS(sentence)
					<-d
				}
				return full.String(), false
			}
			full.WriteString(tok)
			pending.WriteString(tok)
			for _, sentence := range planner.Push(tok) {
				if ttsDone != nil {
					<-ttsDone
				}
				ttsDone = startSentenceTTS(sentence)
			}
		case <-ticker.C:
			flushTokens()
		}
	}
}

func (e *Engine) speakSentence(ctx context.Context, sess *session.Session, outbound chan<- any, sentence, agent, turnID string, firstAudioSent *bool) {
	rt := sess.Runtime
	chunks, err := e.tts.StreamChunks(ctx, sentence, agent, rt.TTSCancel)
	if err != nil {
		e.reportProviderError(sess, outbound, "tts", "tts_stream_failed", err)
		return
	}
	seq := 0
	for chunk := range chunks {
		if !*firstAudioSent {
			*firstAudioSent = true
			e.metrics.ObserveFirstAudioLatency(time.Since(rt.TurnStartedAt))
		}
		outbound <- protocol.TTSChunk{
			Type:        protocol.TypeTTSChunk,
			SessionID:   sess.ID,
			TurnID:      turnID,
			Seq:         seq,
			Format:      "pcm16",
			AudioBase64: encodeBase64(chunk),
		}
		seq++
	}
}

// speakSync synthesizes and emits one short line (a handoff line) to
// completion before returning, used outside the main streaming body.
func (e *Engine) speakSync(ctx context.Context, sess *session.Session, outbound chan<- any, text, agent, turnID string) {
	rt := sess.Runtime
	rt.SetTTSPlaying(true)
	defer rt.SetTTSPlaying(false)
	chunks, err := e.tts.StreamChunks(ctx, text, agent, rt.TTSCancel)
	if err != nil {
		e.reportProviderError(sess, outbound, "tts", "tts_stream_failed", err)
		return
	}
	seq := 0
	for chunk := range chunks {
		outbound <- protocol.TTSChunk{
			Type:        protocol.TypeTTSChunk,
			SessionID:   sess.ID,
			TurnID:      turnID,
			Seq:         seq,
			Format:      "pcm16",
			AudioBase64: encodeBase64(chunk),
		}
		seq++
	}
}

// reportProviderError records a provider failure in metrics and surfaces it
// to the client as a non-fatal error event, classifying retryability the way
// the realtime TTS path does for its own transport errors.
func (e *Engine) reportProviderError(sess *session.Session, outbound chan<- any, provider, code string, err error) {
	reason := "error"
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "timeout"
	}
	e.metrics.ProviderErrors.WithLabelValues(provider, reason).Inc()
	outbound <- protocol.ErrorEvent{
		Type:      protocol.TypeError,
		SessionID: sess.ID,
		Code:      code,
		Retryable: reliability.IsRetryableRealtimeMessageType(reason),
		Detail:    err.Error(),
	}
}

// updateStateInBackground implements §4.4's background update_from_turn: it
// never blocks the turn and its failures are silent no-ops.
func (e *Engine) updateStateInBackground(sess *session.Session, userText, agentText string) {
	rt := sess.Runtime
	rt.State.AppendSummary(userText, agentText)

	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()

	prompt := []voice.Message{
		{Role: "system", Content: "Extract any new project facts from this exchange as a JSON object with optional keys room, budget, timeline, diy_or_contractor, goals, constraints, open_questions, risks, decisions, materials_discussed. Respond with JSON only."},
		{Role: "user", Content: fmt.Sprintf("User: %s\nAgent: %s", userText, agentText)},
	}
	text, ok := e.llm.Complete(ctx, prompt, 300, 0.0)
	if !ok {
		return
	}
	rt.State.MergePatch([]byte(text))
}

func (e *Engine) persistTurn(sess *session.Session, role, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = e.store.SaveTurn(ctx, memory.TurnRecord{
		ID:        uuid.NewString(),
		UserID:    sess.UserID,
		SessionID: sess.ID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
}

func toVoiceMessages(msgs []persona.Message) []voice.Message {
	out := make([]voice.Message, len(msgs))
	for i, m := range msgs {
		out[i] = voice.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func nowMS() int64 { return time.Now().UnixMilli() }
