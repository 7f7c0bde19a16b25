package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageAudioChunk(t *testing.T) {
	raw := []byte(`{"type":"audio_chunk","session_id":"s1","seq":1,"pcm16_base64":"AQID","sample_rate":16000,"ts_ms":123}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	audio, ok := msg.(AudioChunk)
	if !ok {
		t.Fatalf("message type = %T, want AudioChunk", msg)
	}
	if audio.SessionID != "s1" || audio.SampleRate != 16000 {
		t.Fatalf("unexpected audio chunk: %+v", audio)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageEndOfAudio(t *testing.T) {
	raw := []byte(`{"type":"end_of_audio","session_id":"s1","ts_ms":456}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	eoa, ok := msg.(EndOfAudio)
	if !ok {
		t.Fatalf("message type = %T, want EndOfAudio", msg)
	}
	if eoa.SessionID != "s1" || eoa.TSMs != 456 {
		t.Fatalf("unexpected end_of_audio: %+v", eoa)
	}
}

func TestParseClientMessageBargeIn(t *testing.T) {
	raw := []byte(`{"type":"barge_in","session_id":"s1","ts_ms":789}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	bi, ok := msg.(BargeIn)
	if !ok {
		t.Fatalf("message type = %T, want BargeIn", msg)
	}
	if bi.SessionID != "s1" {
		t.Fatalf("unexpected barge_in: %+v", bi)
	}
}

func TestParseClientMessageTextInput(t *testing.T) {
	raw := []byte(`{"type":"text_input","session_id":"s1","text":"hello there"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	ti, ok := msg.(TextInput)
	if !ok {
		t.Fatalf("message type = %T, want TextInput", msg)
	}
	if ti.Text != "hello there" {
		t.Fatalf("Text = %q, want %q", ti.Text, "hello there")
	}
}

func TestParseClientMessageWebRTCOffer(t *testing.T) {
	raw := []byte(`{"type":"webrtc_offer","session_id":"s1","sdp":"v=0..."}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	offer, ok := msg.(WebRTCOffer)
	if !ok {
		t.Fatalf("message type = %T, want WebRTCOffer", msg)
	}
	if offer.SDP != "v=0..." {
		t.Fatalf("SDP = %q, want %q", offer.SDP, "v=0...")
	}
}

func TestParseClientMessageICECandidate(t *testing.T) {
	raw := []byte(`{"type":"ice_candidate","session_id":"s1","candidate":"candidate:1 1 UDP 1 0.0.0.0 1 typ host","sdp_mid":"0","sdp_mline_index":0}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	ice, ok := msg.(ICECandidate)
	if !ok {
		t.Fatalf("message type = %T, want ICECandidate", msg)
	}
	if ice.SDPMid != "0" {
		t.Fatalf("SDPMid = %q, want %q", ice.SDPMid, "0")
	}
}

func TestParseClientMessageRejectsInvalidAudioChunk(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"audio_chunk","session_id":"","pcm16_base64":"","sample_rate":0}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func BenchmarkParseClientMessageAudioChunk(b *testing.B) {
	raw := []byte(`{"type":"audio_chunk","session_id":"s1","seq":7,"pcm16_base64":"AQIDBAUGBwgJCgsMDQ4P","sample_rate":16000,"ts_ms":123456}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(AudioChunk); !ok {
			b.Fatalf("message type = %T, want AudioChunk", msg)
		}
	}
}
