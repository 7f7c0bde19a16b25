// Package vad implements energy-based voice activity detection used both
// for end-of-utterance endpointing and for barge-in qualification.
package vad

import (
	"encoding/binary"
	"math"
	"time"
)

type State string

const (
	StateSilence        State = "silence"
	StateSpeech         State = "speech"
	StateEndOfUtterance State = "end_of_utterance"
)

// Result is returned from every ProcessChunk call.
type Result struct {
	State            State
	RMS              float64
	SpeechDurationMS float64
	SilenceDuration  float64
	InUtterance      bool
}

// Processor holds the mutable per-session VAD state. It is not safe for
// concurrent use; callers serialize access (the session's own dispatch
// loop).
type Processor struct {
	SpeechThreshold    float64
	SilenceThresholdMS float64
	MinSpeechMS        float64
	BargeInThreshold   float64

	now func() time.Time

	inSpeech          bool
	speechStart       time.Time
	silenceStart      time.Time
	speechDurationMS  float64
	silenceDurationMS float64
}

// Defaults per the configuration surface: 0.015 speech threshold, 500ms
// silence to end an utterance, 150ms minimum speech to confirm one.
func New(speechThreshold float64, silenceThresholdMS, minSpeechMS int) *Processor {
	return &Processor{
		SpeechThreshold:    speechThreshold,
		SilenceThresholdMS: float64(silenceThresholdMS),
		MinSpeechMS:        float64(minSpeechMS),
		BargeInThreshold:   0.04,
		now:                time.Now,
	}
}

// ProcessChunk classifies one PCM16LE mono chunk as speech or silence and
// detects utterance end once accumulated silence clears the threshold and
// speech previously cleared the minimum-speech floor. Every speech chunk
// resets the silence accumulator, so silence is measured from the most
// recent speech chunk.
func (p *Processor) ProcessChunk(pcm []byte) Result {
	rms := computeRMS(pcm)
	now := p.now()
	isSpeech := rms >= p.SpeechThreshold

	if isSpeech {
		if !p.inSpeech {
			p.inSpeech = true
			p.speechStart = now
		}
		p.silenceStart = now
		p.silenceDurationMS = 0
		p.speechDurationMS = now.Sub(p.speechStart).Seconds() * 1000
		return Result{
			State:            StateSpeech,
			RMS:              rms,
			SpeechDurationMS: p.speechDurationMS,
			InUtterance:      p.inSpeech,
		}
	}

	if p.inSpeech {
		if p.silenceStart.IsZero() {
			p.silenceStart = now
		}
		p.silenceDurationMS = now.Sub(p.silenceStart).Seconds() * 1000

		if p.silenceDurationMS >= p.SilenceThresholdMS {
			speechDuration := p.speechDurationMS
			silenceDuration := p.silenceDurationMS
			p.reset()
			if speechDuration >= p.MinSpeechMS {
				return Result{
					State:            StateEndOfUtterance,
					RMS:              rms,
					SpeechDurationMS: speechDuration,
					SilenceDuration:  silenceDuration,
					InUtterance:      false,
				}
			}
			// Too short to have been real speech — discard as noise.
			return Result{State: StateSilence, RMS: rms, InUtterance: false}
		}
	}

	return Result{
		State:           StateSilence,
		RMS:             rms,
		SilenceDuration: p.silenceDurationMS,
		InUtterance:     p.inSpeech,
	}
}

// IsBargeIn reports whether rms alone constitutes speech energy. Callers add
// their own higher RMS gate plus the TTS-deaf window for real barge-in
// qualification (see internal/pipeline).
func (p *Processor) IsBargeIn(rms float64) bool {
	return rms >= p.SpeechThreshold
}

// Reset clears accumulated state; called at the start of each new turn.
func (p *Processor) Reset() {
	p.reset()
}

func (p *Processor) reset() {
	p.inSpeech = false
	p.speechStart = time.Time{}
	p.silenceStart = time.Time{}
	p.speechDurationMS = 0
	p.silenceDurationMS = 0
}

func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sumSq float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		v := float64(sample)
		sumSq += v * v
	}
	meanSq := sumSq / float64(n)
	return math.Sqrt(meanSq) / 32768.0
}
