package audio

import (
	"errors"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// seekBuffer is a minimal in-memory io.WriteSeeker. wav.Encoder seeks back
// to the start on Close to patch the RIFF/data chunk sizes once the final
// length is known.
type seekBuffer struct {
	buf []byte
	pos int64
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + int64(len(p))
	if end > int64(len(s.buf)) {
		grown := make([]byte, end)
		copy(grown, s.buf)
		s.buf = grown
	}
	n := copy(s.buf[s.pos:end], p)
	s.pos = end
	return n, nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = s.pos + offset
	case io.SeekEnd:
		newPos = int64(len(s.buf)) + offset
	default:
		return 0, errors.New("audio: invalid seek whence")
	}
	if newPos < 0 {
		return 0, errors.New("audio: negative seek position")
	}
	s.pos = newPos
	return newPos, nil
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container,
// the format the ASR capability wrapper hands to the transcription call.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		lo := pcm[i*2]
		hi := pcm[i*2+1]
		samples[i] = int(int16(uint16(lo) | uint16(hi)<<8))
	}

	buf := &seekBuffer{}
	enc := wav.NewEncoder(buf, sampleRate, 16, 1, 1)
	intBuf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(intBuf); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.buf, nil
}
