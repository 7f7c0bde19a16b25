package pipeline

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/antoniostano/voiceagent/internal/protocol"
	"github.com/antoniostano/voiceagent/internal/reliability"
	"github.com/antoniostano/voiceagent/internal/session"
	"github.com/antoniostano/voiceagent/internal/vad"
)

const (
	preRollMaxBytes   = 9600
	minUtteranceBytes = 8000
	maxUtteranceBytes = 400000
	inactivitySilence = 30 * time.Second
)

// RunConnection is the per-connection dispatch loop described in §4.9: it
// classifies inbound audio through the VAD, dispatches pipeline turns on
// qualifying end-of-utterance, qualifies barge-in, and answers WebRTC
// signaling frames. It returns when inbound closes or ctx is cancelled.
func (e *Engine) RunConnection(ctx context.Context, sess *session.Session, inbound <-chan any, outbound chan<- any) error {
	rt := sess.Runtime
	outbound <- protocol.Connected{Type: protocol.TypeConnected, SessionID: sess.ID, PersonaID: rt.PersonaManager.Current()}

	vadProc := vad.New(e.cfg.VADSpeechThreshold, e.cfg.VADSilenceMS, e.cfg.VADMinSpeechMS)
	startupDeafWindow := time.Duration(e.cfg.SessionStartupDeafMS) * time.Millisecond
	postTTSDeafWindow := time.Duration(e.cfg.SessionTTSDeafMS) * time.Millisecond
	startupDeafUntil := time.Now().Add(startupDeafWindow)

	var audioBuf []byte
	inUtterance := false
	pipelineRunning := false
	terminate := false
	failures := 0
	lastActivity := time.Now()

	turnDone := make(chan bool, 1)
	webrtcAudio := make(chan []byte, 64)
	var peerConn *webrtc.PeerConnection
	defer func() {
		if peerConn != nil {
			_ = peerConn.Close()
		}
	}()

	inactivityTicker := time.NewTicker(time.Second)
	defer inactivityTicker.Stop()

	dispatchUtterance := func(pcmSnapshot []byte) {
		if pipelineRunning {
			return
		}
		pipelineRunning = true
		turnCtx := rt.NewTurn(ctx)
		turnID := uuid.NewString()
		go func() {
			outbound <- protocol.STTProcessing{Type: protocol.TypeSTTProcessing, SessionID: sess.ID, TurnID: turnID}
			text, ok, err := e.stt.Transcribe(turnCtx, pcmSnapshot, e.cfg.STTSampleRate, "en")
			if err != nil {
				e.metrics.ProviderErrors.WithLabelValues("stt", "error").Inc()
				outbound <- protocol.ErrorEvent{
					Type:      protocol.TypeError,
					SessionID: sess.ID,
					Code:      "stt_transcribe_failed",
					Retryable: reliability.IsRetryableHTTPStatus(503),
					Detail:    err.Error(),
				}
				turnDone <- false
				return
			}
			if !ok || strings.TrimSpace(text) == "" {
				turnDone <- false
				return
			}
			outbound <- protocol.FinalTranscript{Type: protocol.TypeFinalTranscript, SessionID: sess.ID, TurnID: turnID, Text: text}
			turnDone <- e.RunTurn(turnCtx, sess, outbound, text, turnID, &failures)
		}()
	}

	dispatchText := func(text string) {
		if pipelineRunning {
			return
		}
		pipelineRunning = true
		turnCtx := rt.NewTurn(ctx)
		turnID := uuid.NewString()
		go func() {
			turnDone <- e.RunTurn(turnCtx, sess, outbound, text, turnID, &failures)
		}()
	}

	// dispatchInactivityPrompt spontaneously starts a turn after a period of
	// user silence. The transcript carries the literal inactivity marker;
	// the LLM sees a separate, longer instruction so the two don't conflate.
	dispatchInactivityPrompt := func() {
		if pipelineRunning {
			return
		}
		pipelineRunning = true
		turnCtx := rt.NewTurn(ctx)
		turnID := uuid.NewString()
		const (
			transcriptText = "[User inactive for 30 seconds]"
			llmInstruction = "The user has been silent for a while. Gently check whether they are still there."
		)
		go func() {
			outbound <- protocol.STTProcessing{Type: protocol.TypeSTTProcessing, SessionID: sess.ID, TurnID: turnID}
			outbound <- protocol.FinalTranscript{Type: protocol.TypeFinalTranscript, SessionID: sess.ID, TurnID: turnID, Text: transcriptText}
			turnDone <- e.RunTurn(turnCtx, sess, outbound, llmInstruction, turnID, &failures)
		}()
	}

	handleChunk := func(pcm []byte) {
		lastActivity = time.Now()
		result := vadProc.ProcessChunk(pcm)
		now := time.Now()

		if rt.IsTTSPlaying() && now.After(startupDeafUntil) && !rt.IsDeaf(now) && result.RMS >= vadProc.BargeInThreshold {
			rt.CancelAll()
			rt.SetTTSPlaying(false)
			vadProc.Reset()
			audioBuf = nil
			inUtterance = false
			outbound <- protocol.BargeInAck{Type: protocol.TypeBargeInAck, SessionID: sess.ID}
			return
		}

		switch result.State {
		case vad.StateEndOfUtterance:
			audioBuf = append(audioBuf, pcm...)
			inUtterance = false
			if now.Before(startupDeafUntil) {
				audioBuf = nil
				return
			}
			if len(audioBuf) < minUtteranceBytes || len(audioBuf) > maxUtteranceBytes {
				audioBuf = nil
				return
			}
			snapshot := audioBuf
			audioBuf = nil
			dispatchUtterance(snapshot)
		case vad.StateSpeech:
			inUtterance = true
			audioBuf = append(audioBuf, pcm...)
		default:
			audioBuf = append(audioBuf, pcm...)
			if !inUtterance && len(audioBuf) > preRollMaxBytes {
				audioBuf = audioBuf[len(audioBuf)-preRollMaxBytes:]
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			rt.CancelAll()
			return ctx.Err()

		case ok := <-turnDone:
			pipelineRunning = false
			if ok {
				terminate = true
			}
			if terminate {
				return nil
			}

		case pcm := <-webrtcAudio:
			handleChunk(pcm)

		case <-inactivityTicker.C:
			if pipelineRunning || rt.IsTTSPlaying() {
				continue
			}
			if time.Since(lastActivity) < inactivitySilence {
				continue
			}
			lastActivity = time.Now()
			dispatchInactivityPrompt()

		case msg, ok := <-inbound:
			if !ok {
				rt.CancelAll()
				return nil
			}
			lastActivity = time.Now()

			switch m := msg.(type) {
			case protocol.AudioChunk:
				// A negotiated media track is the audio source; message-channel
				// chunks are ignored while it is active.
				if peerConn != nil {
					continue
				}
				pcm, err := base64.StdEncoding.DecodeString(m.PCM16Base64)
				if err != nil {
					continue
				}
				handleChunk(pcm)
			case protocol.EndOfAudio:
				if len(audioBuf) >= minUtteranceBytes && !pipelineRunning {
					snapshot := audioBuf
					audioBuf = nil
					inUtterance = false
					vadProc.Reset()
					dispatchUtterance(snapshot)
				}
			case protocol.BargeIn:
				rt.CancelAll()
				rt.SetTTSPlaying(false)
				vadProc.Reset()
				audioBuf = nil
				inUtterance = false
				outbound <- protocol.BargeInAck{Type: protocol.TypeBargeInAck, SessionID: sess.ID}
			case protocol.TextInput:
				dispatchText(m.Text)
			case protocol.Ping:
				outbound <- protocol.Pong{Type: protocol.TypePong, TSMs: m.TSMs}
			case protocol.TTSPlaybackDone:
				rt.SetTTSPlaying(false)
				rt.SetTTSDeafUntil(time.Now().Add(postTTSDeafWindow))
			case protocol.WebRTCOffer:
				// Track data arrives on pion's goroutine; it is copied and
				// handed to this loop so the VAD and buffers stay loop-owned.
				answer, pc, err := negotiateWebRTC(m.SDP, func(pcm []byte) {
					select {
					case webrtcAudio <- append([]byte(nil), pcm...):
					case <-ctx.Done():
					}
				})
				if err != nil {
					outbound <- protocol.ErrorEvent{Type: protocol.TypeError, SessionID: sess.ID, Code: "webrtc_negotiation_failed", Detail: err.Error()}
					continue
				}
				if peerConn != nil {
					_ = peerConn.Close()
				}
				peerConn = pc
				outbound <- protocol.WebRTCAnswer{Type: protocol.TypeWebRTCAnswer, SessionID: sess.ID, SDP: answer}
			case protocol.ICECandidate:
				if peerConn == nil {
					continue
				}
				_ = peerConn.AddICECandidate(webrtc.ICECandidateInit{
					Candidate:     m.Candidate,
					SDPMid:        strPtr(m.SDPMid),
					SDPMLineIndex: uint16Ptr(m.SDPMLineIndex),
				})
			}
		}
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func uint16Ptr(i int) *uint16 {
	v := uint16(i)
	return &v
}
