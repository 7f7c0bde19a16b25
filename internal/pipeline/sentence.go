package pipeline

import (
	"encoding/base64"
	"strings"
)

// sentenceAccumulator implements §4.7 step 6's TTS sentence buffer: it
// accumulates streamed LLM token deltas and releases a sentence once the
// buffer ends on terminal punctuation or a newline.
type sentenceAccumulator struct {
	buf strings.Builder
}

func newSentenceAccumulator() *sentenceAccumulator {
	return &sentenceAccumulator{}
}

func (s *sentenceAccumulator) Push(tok string) []string {
	s.buf.WriteString(tok)
	text := s.buf.String()
	idx := lastSentenceBoundary(text)
	if idx < 0 || strings.TrimSpace(text[idx+1:]) != "" {
		return nil
	}
	sentence := strings.TrimSpace(text[:idx+1])
	s.buf.Reset()
	s.buf.WriteString(text[idx+1:])
	if sentence == "" {
		return nil
	}
	return []string{sentence}
}

func (s *sentenceAccumulator) Finalize() []string {
	text := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	if text == "" {
		return nil
	}
	return []string{text}
}

func lastSentenceBoundary(text string) int {
	for i := len(text) - 1; i >= 0; i-- {
		switch text[i] {
		case '.', '!', '?', '\n':
			return i
		}
	}
	return -1
}

func encodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
