package vad

import (
	"encoding/binary"
	"testing"
	"time"
)

func pcmConstant(amplitude int16, samples int) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:i*2+2], uint16(amplitude))
	}
	return buf
}

func fakeClock(start time.Time) (*time.Time, func() time.Time) {
	cur := start
	return &cur, func() time.Time { return cur }
}

func TestProcessChunkDetectsEndOfUtterance(t *testing.T) {
	p := New(0.015, 500, 150)
	cur, clock := fakeClock(time.Unix(0, 0))
	p.now = clock

	loud := pcmConstant(8000, 320)
	quiet := pcmConstant(0, 320)

	res := p.ProcessChunk(loud)
	if res.State != StateSpeech {
		t.Fatalf("State = %v, want StateSpeech", res.State)
	}

	*cur = cur.Add(200 * time.Millisecond)
	res = p.ProcessChunk(loud)
	if res.State != StateSpeech || res.SpeechDurationMS < 150 {
		t.Fatalf("expected sustained speech >= 150ms, got %+v", res)
	}

	*cur = cur.Add(600 * time.Millisecond)
	res = p.ProcessChunk(quiet)
	if res.State != StateEndOfUtterance {
		t.Fatalf("State = %v, want StateEndOfUtterance", res.State)
	}
}

func TestProcessChunkDiscardsShortNoiseBurst(t *testing.T) {
	p := New(0.015, 500, 150)
	cur, clock := fakeClock(time.Unix(0, 0))
	p.now = clock

	loud := pcmConstant(8000, 320)
	quiet := pcmConstant(0, 320)

	p.ProcessChunk(loud)
	*cur = cur.Add(50 * time.Millisecond) // well under min_speech_ms
	*cur = cur.Add(600 * time.Millisecond)
	res := p.ProcessChunk(quiet)
	if res.State == StateEndOfUtterance {
		t.Fatalf("State = %v, want anything but StateEndOfUtterance for a short burst", res.State)
	}
}

func TestIsBargeIn(t *testing.T) {
	p := New(0.015, 500, 150)
	if p.IsBargeIn(0.001) {
		t.Fatalf("IsBargeIn(0.001) = true, want false")
	}
	if !p.IsBargeIn(0.5) {
		t.Fatalf("IsBargeIn(0.5) = false, want true")
	}
}

func TestComputeRMSSilence(t *testing.T) {
	silent := pcmConstant(0, 160)
	if rms := computeRMS(silent); rms != 0 {
		t.Fatalf("computeRMS(silence) = %v, want 0", rms)
	}
}
