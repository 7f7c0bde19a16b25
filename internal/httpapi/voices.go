package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/voiceagent/internal/audio"
)

type voiceSummary struct {
	VoiceID   string `json:"voice_id"`
	PersonaID string `json:"persona_id"`
	Name      string `json:"name"`
}

type listVoicesResponse struct {
	Voices []voiceSummary `json:"voices"`
}

// handleListVoices reports the two fixed persona voices. Unlike a
// catalog-backed provider, bob and alice each own exactly one voice for the
// lifetime of a deployment; there is no voice picker beyond persona choice.
func (s *Server) handleListVoices(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, listVoicesResponse{
		Voices: []voiceSummary{
			{VoiceID: s.cfg.TTSVoiceBob, PersonaID: "bob", Name: "Bob"},
			{VoiceID: s.cfg.TTSVoiceAlice, PersonaID: "alice", Name: "Alice"},
		},
	})
}

type previewTTSRequest struct {
	PersonaID string `json:"persona_id"`
	Text      string `json:"text"`
}

// handlePreviewTTS synthesizes a short line with the live TTS provider and
// returns it as a WAV file, bypassing the turn pipeline entirely.
func (s *Server) handlePreviewTTS(w http.ResponseWriter, r *http.Request) {
	if s.tts == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "tts provider not configured")
		return
	}

	var req previewTTSRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	personaID := strings.TrimSpace(req.PersonaID)
	if personaID == "" {
		personaID = "bob"
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		respondError(w, http.StatusBadRequest, "missing_text", "text is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	cancelCh := make(chan struct{})
	chunks, err := s.tts.StreamChunks(ctx, text, personaID, cancelCh)
	if err != nil {
		respondError(w, http.StatusBadGateway, "tts_preview_failed", err.Error())
		return
	}

	var pcm []byte
	for chunk := range chunks {
		pcm = append(pcm, chunk...)
	}
	if len(pcm) == 0 {
		respondError(w, http.StatusBadGateway, "tts_preview_failed", "no audio produced")
		return
	}

	wavBytes, err := audio.EncodeWAVPCM16LE(pcm, openAITTSSampleRate)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wavBytes)
}

// openAITTSSampleRate is the fixed sample rate OpenAI's speech endpoint emits
// when asked for the pcm response format.
const openAITTSSampleRate = 24000
