package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Inbound, client to server.
	TypeAudioChunk      MessageType = "audio_chunk"
	TypeEndOfAudio       MessageType = "end_of_audio"
	TypeBargeIn          MessageType = "barge_in"
	TypeTextInput         MessageType = "text_input"
	TypePing              MessageType = "ping"
	TypeTTSPlaybackDone   MessageType = "tts_playback_done"
	TypeWebRTCOffer       MessageType = "webrtc_offer"
	TypeICECandidate      MessageType = "ice_candidate"

	// Outbound, server to client.
	TypeConnected          MessageType = "connected"
	TypeSTTProcessing      MessageType = "stt_processing"
	TypeFinalTranscript    MessageType = "final_transcript"
	TypeLLMToken           MessageType = "llm_token"
	TypeTTSChunk           MessageType = "tts_chunk"
	TypeTTSDone            MessageType = "tts_done"
	TypeAgentChange        MessageType = "agent_change"
	TypeCheckpointSaved    MessageType = "checkpoint_saved"
	TypeCheckpointRestored MessageType = "checkpoint_restored"
	TypeStateUpdate        MessageType = "state_update"
	TypeBargeInAck         MessageType = "barge_in_ack"
	TypeGuardrailBlocked   MessageType = "guardrail_blocked"
	TypeError              MessageType = "error"
	TypeLog                MessageType = "log"
	TypePong               MessageType = "pong"
	TypeWebRTCAnswer       MessageType = "webrtc_answer"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// AudioChunk carries a slice of raw 16-bit little-endian PCM audio from the
// caller's microphone, base64-encoded for transport over the text websocket
// frame.
type AudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	TSMs        int64       `json:"ts_ms"`
}

type EndOfAudio struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TSMs      int64       `json:"ts_ms"`
}

// BargeIn is sent when the client-side VAD (or a push-to-talk gesture)
// detects the caller has started speaking over assistant audio.
type BargeIn struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TSMs      int64       `json:"ts_ms"`
}

type TextInput struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms"`
}

type Ping struct {
	Type MessageType `json:"type"`
	TSMs int64       `json:"ts_ms"`
}

// TTSPlaybackDone tells the server the client finished playing the audio for
// a turn; the server clears tts_playing and starts the post-TTS deaf window.
type TTSPlaybackDone struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
}

type WebRTCOffer struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	SDP       string      `json:"sdp"`
}

type ICECandidate struct {
	Type          MessageType `json:"type"`
	SessionID     string      `json:"session_id"`
	Candidate     string      `json:"candidate"`
	SDPMid        string      `json:"sdp_mid,omitempty"`
	SDPMLineIndex int         `json:"sdp_mline_index,omitempty"`
}

type Connected struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	PersonaID string      `json:"persona_id"`
}

type STTProcessing struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
}

type FinalTranscript struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	Text      string      `json:"text"`
}

type LLMToken struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	PersonaID string      `json:"persona_id"`
	Token     string      `json:"token"`
}

type TTSChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	TurnID      string      `json:"turn_id"`
	Seq         int         `json:"seq"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio_base64"`
}

type TTSDone struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
}

// AgentChange announces a persona handoff and the spoken handoff line that
// accompanies it.
type AgentChange struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	FromID    string      `json:"from_id,omitempty"`
	ToID      string      `json:"to_id"`
	Line      string      `json:"line,omitempty"`
}

type CheckpointSaved struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	Partial   string      `json:"partial,omitempty"`
}

type CheckpointRestored struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	Text      string      `json:"text"`
}

type StateUpdate struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"session_id"`
	Facts     json.RawMessage `json:"facts,omitempty"`
	Summary   string          `json:"summary,omitempty"`
}

type BargeInAck struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id,omitempty"`
}

type GuardrailBlocked struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id,omitempty"`
	Pass      string      `json:"pass"`
	Category  string      `json:"category"`
	Reason    string      `json:"reason,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

type LogEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Level     string      `json:"level"`
	Message   string      `json:"message"`
}

type Pong struct {
	Type MessageType `json:"type"`
	TSMs int64       `json:"ts_ms"`
}

type WebRTCAnswer struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	SDP       string      `json:"sdp"`
}

type clientInbound struct {
	Type          MessageType `json:"type"`
	SessionID     string      `json:"session_id"`
	Seq           int         `json:"seq"`
	PCM16Base64   string      `json:"pcm16_base64"`
	SampleRate    int         `json:"sample_rate"`
	TSMs          int64       `json:"ts_ms"`
	Text          string      `json:"text"`
	TurnID        string      `json:"turn_id"`
	SDP           string      `json:"sdp"`
	Candidate     string      `json:"candidate"`
	SDPMid        string      `json:"sdp_mid"`
	SDPMLineIndex int         `json:"sdp_mline_index"`
}

// ParseClientMessage decodes a raw websocket text frame into one of the
// inbound message types. Unknown types and structurally invalid payloads are
// rejected rather than silently dropped, so the caller can surface an error
// event back to the client.
func ParseClientMessage(raw []byte) (any, error) {
	var inbound clientInbound
	if err := json.Unmarshal(raw, &inbound); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch inbound.Type {
	case TypeAudioChunk:
		if inbound.SessionID == "" || inbound.PCM16Base64 == "" || inbound.SampleRate <= 0 {
			return nil, errors.New("invalid audio_chunk")
		}
		return AudioChunk{
			Type:        TypeAudioChunk,
			SessionID:   inbound.SessionID,
			Seq:         inbound.Seq,
			PCM16Base64: inbound.PCM16Base64,
			SampleRate:  inbound.SampleRate,
			TSMs:        inbound.TSMs,
		}, nil
	case TypeEndOfAudio:
		if inbound.SessionID == "" {
			return nil, errors.New("invalid end_of_audio")
		}
		return EndOfAudio{Type: TypeEndOfAudio, SessionID: inbound.SessionID, TSMs: inbound.TSMs}, nil
	case TypeBargeIn:
		if inbound.SessionID == "" {
			return nil, errors.New("invalid barge_in")
		}
		return BargeIn{Type: TypeBargeIn, SessionID: inbound.SessionID, TSMs: inbound.TSMs}, nil
	case TypeTextInput:
		if inbound.SessionID == "" || inbound.Text == "" {
			return nil, errors.New("invalid text_input")
		}
		return TextInput{Type: TypeTextInput, SessionID: inbound.SessionID, Text: inbound.Text, TSMs: inbound.TSMs}, nil
	case TypePing:
		return Ping{Type: TypePing, TSMs: inbound.TSMs}, nil
	case TypeTTSPlaybackDone:
		if inbound.SessionID == "" {
			return nil, errors.New("invalid tts_playback_done")
		}
		return TTSPlaybackDone{Type: TypeTTSPlaybackDone, SessionID: inbound.SessionID, TurnID: inbound.TurnID}, nil
	case TypeWebRTCOffer:
		if inbound.SessionID == "" || inbound.SDP == "" {
			return nil, errors.New("invalid webrtc_offer")
		}
		return WebRTCOffer{Type: TypeWebRTCOffer, SessionID: inbound.SessionID, SDP: inbound.SDP}, nil
	case TypeICECandidate:
		if inbound.SessionID == "" || inbound.Candidate == "" {
			return nil, errors.New("invalid ice_candidate")
		}
		return ICECandidate{
			Type:          TypeICECandidate,
			SessionID:     inbound.SessionID,
			Candidate:     inbound.Candidate,
			SDPMid:        inbound.SDPMid,
			SDPMLineIndex: inbound.SDPMLineIndex,
		}, nil
	default:
		return nil, ErrUnsupportedType
	}
}
