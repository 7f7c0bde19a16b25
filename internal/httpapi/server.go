package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/voiceagent/internal/config"
	"github.com/antoniostano/voiceagent/internal/observability"
	"github.com/antoniostano/voiceagent/internal/protocol"
	"github.com/antoniostano/voiceagent/internal/session"
	"github.com/antoniostano/voiceagent/internal/voice"
)

// Orchestrator runs one connection's full duplex turn loop. *pipeline.Engine
// is the only production implementation.
type Orchestrator interface {
	RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error
}

type Server struct {
	cfg          config.Config
	sessions     *session.Manager
	orchestrator Orchestrator
	tts          voice.TTSProvider
	metrics      *observability.Metrics
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, orchestrator Orchestrator, tts voice.TTSProvider, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:          cfg,
		sessions:     sessions,
		orchestrator: orchestrator,
		tts:          tts,
		metrics:      metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the same origin.
				// This prevents other websites from driving a user's mic session if the
				// orchestrator is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/voice/session", s.handleCreateSession)
	r.Post("/v1/voice/session/{id}/end", s.handleEndSession)
	r.Get("/v1/voice/session/ws", s.handleSessionWS)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Post("/v1/perf/latency/reset", s.handlePerfLatencyReset)
	r.Get("/v1/voice/voices", s.handleListVoices)
	r.Post("/v1/voice/tts/preview", s.handlePreviewTTS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"guardrail_enabled": s.cfg.GuardrailEnabled,
		"active_sessions":   s.sessions.ActiveCount(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}
	if strings.TrimSpace(req.PersonaID) == "" {
		req.PersonaID = "bob"
	}
	if strings.TrimSpace(req.VoiceID) == "" {
		if req.PersonaID == "alice" {
			req.VoiceID = s.cfg.TTSVoiceAlice
		} else {
			req.VoiceID = s.cfg.TTSVoiceBob
		}
	}

	sess := s.sessions.Create(req.UserID, req.PersonaID, req.VoiceID)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		PersonaID:       sess.PersonaID,
		VoiceID:         sess.VoiceID,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.orchestrator == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "orchestrator not configured")
		return
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		_ = s.orchestrator.RunConnection(ctx, sess, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		coalesceWindow := time.Duration(s.cfg.WSCoalesceMS) * time.Millisecond
		if coalesceWindow <= 0 {
			coalesceWindow = 25 * time.Millisecond
		}

		var batch []any
		var flushTimer *time.Timer
		var flushC <-chan time.Time

		// flush writes the batched events as a single frame: one bare event
		// when only one arrived within the window, an array when several
		// coalesced together. Returns false if the connection should close.
		flush := func() bool {
			if len(batch) == 0 {
				return true
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			var writeErr error
			if len(batch) == 1 {
				writeErr = conn.WriteJSON(batch[0])
			} else {
				writeErr = conn.WriteJSON(batch)
			}
			for _, msg := range batch {
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
			batch = batch[:0]
			if writeErr != nil {
				s.metrics.WSWriteErrors.WithLabelValues("write_json").Inc()
				cancel()
				return false
			}
			return true
		}

		for {
			select {
			case <-ctx.Done():
				flush()
				return
			case msg, ok := <-outbound:
				if !ok {
					flush()
					return
				}
				batch = append(batch, msg)
				if flushTimer == nil {
					flushTimer = time.NewTimer(coalesceWindow)
					flushC = flushTimer.C
				}
			case <-flushC:
				flushTimer = nil
				flushC = nil
				if !flush() {
					return
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeError,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Retryable: false,
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
				s.metrics.ObserveOutboundMessage(string(protocol.TypeError), "queued")
			default:
				// Keep websocket writes single-threaded; drop if outbound queue is saturated.
				s.metrics.ObserveOutboundMessage(string(protocol.TypeError), "drop_full")
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.AudioChunk:
		return m.Type, true
	case protocol.EndOfAudio:
		return m.Type, true
	case protocol.BargeIn:
		return m.Type, true
	case protocol.TextInput:
		return m.Type, true
	case protocol.Ping:
		return m.Type, true
	case protocol.TTSPlaybackDone:
		return m.Type, true
	case protocol.WebRTCOffer:
		return m.Type, true
	case protocol.ICECandidate:
		return m.Type, true
	case protocol.Connected:
		return m.Type, true
	case protocol.STTProcessing:
		return m.Type, true
	case protocol.FinalTranscript:
		return m.Type, true
	case protocol.LLMToken:
		return m.Type, true
	case protocol.TTSChunk:
		return m.Type, true
	case protocol.TTSDone:
		return m.Type, true
	case protocol.AgentChange:
		return m.Type, true
	case protocol.CheckpointSaved:
		return m.Type, true
	case protocol.CheckpointRestored:
		return m.Type, true
	case protocol.StateUpdate:
		return m.Type, true
	case protocol.BargeInAck:
		return m.Type, true
	case protocol.GuardrailBlocked:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	case protocol.LogEvent:
		return m.Type, true
	case protocol.Pong:
		return m.Type, true
	case protocol.WebRTCAnswer:
		return m.Type, true
	default:
		return "", false
	}
}
