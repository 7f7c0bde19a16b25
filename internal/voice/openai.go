package voice

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	voiceaudio "github.com/antoniostano/voiceagent/internal/audio"
	"github.com/antoniostano/voiceagent/internal/guardrail"
)

const (
	asrTimeout        = 15 * time.Second
	utilityLLMTimeout = 8 * time.Second
	moderationTimeout = 2 * time.Second
	silentRMSFloor    = 0.002
)

// OpenAIProvider backs STTProvider, LLMProvider, TTSProvider, and Moderation
// with the OpenAI API. It holds a single process-wide client handle, safe
// for concurrent use across sessions.
type OpenAIProvider struct {
	client openai.Client

	llmModel       string
	llmTemperature float64
	ttsModel       string
	ttsVoiceBob    string
	ttsVoiceAlice  string
	ttsChunkSize   int
}

// NewOpenAIProvider constructs the real provider. apiKey must be non-empty;
// callers otherwise use NoopProvider.
func NewOpenAIProvider(apiKey, llmModel string, llmTemperature float64, ttsModel, ttsVoiceBob, ttsVoiceAlice string, ttsChunkSize int) *OpenAIProvider {
	return &OpenAIProvider{
		client:         openai.NewClient(option.WithAPIKey(apiKey)),
		llmModel:       llmModel,
		llmTemperature: llmTemperature,
		ttsModel:       ttsModel,
		ttsVoiceBob:    ttsVoiceBob,
		ttsVoiceAlice:  ttsVoiceAlice,
		ttsChunkSize:   ttsChunkSize,
	}
}

// Transcribe wraps pcm in a WAV container and calls the transcription API.
// Near-silent audio is rejected without a network round trip.
func (p *OpenAIProvider) Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (string, bool, error) {
	if quickRMS(pcm) < silentRMSFloor {
		return "", false, nil
	}

	wavBytes, err := voiceaudio.EncodeWAVPCM16LE(pcm, sampleRate)
	if err != nil {
		return "", false, fmt.Errorf("encode wav: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, asrTimeout)
	defer cancel()

	resp, err := p.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model:    openai.AudioModelWhisper1,
		File:     openai.File(bytes.NewReader(wavBytes), "utterance.wav", "audio/wav"),
		Language: openai.String(language),
	})
	if err != nil {
		return "", false, fmt.Errorf("transcribe: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", false, nil
	}
	return text, true, nil
}

func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message, maxTokens int, temperature float64) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, utilityLLMTimeout)
	defer cancel()

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       p.llmModel,
		Messages:    toOpenAIMessages(messages),
		MaxTokens:   openai.Int(int64(maxTokens)),
		Temperature: openai.Float(temperature),
	})
	if err != nil || len(resp.Choices) == 0 {
		return "", false
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", false
	}
	return text, true
}

func (p *OpenAIProvider) StreamTokens(ctx context.Context, messages []Message, cancel <-chan struct{}) (<-chan string, error) {
	out := make(chan string, 16)

	stream := p.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:       p.llmModel,
		Messages:    toOpenAIMessages(messages),
		Temperature: openai.Float(p.llmTemperature),
	})

	go func() {
		defer close(out)
		for stream.Next() {
			select {
			case <-cancel:
				return
			default:
			}
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case out <- delta:
			case <-cancel:
				return
			}
		}
	}()

	return out, nil
}

func (p *OpenAIProvider) StreamChunks(ctx context.Context, text, persona string, cancel <-chan struct{}) (<-chan []byte, error) {
	out := make(chan []byte, 4)

	voiceID := p.ttsVoiceBob
	if persona == "alice" {
		voiceID = p.ttsVoiceAlice
	}

	go func() {
		defer close(out)
		planner := newProsodyPlanner()
		sentences := planner.Push(text)
		sentences = append(sentences, planner.Finalize()...)
		// A trailing fragment under 20 characters is merged into the
		// sentence before it rather than synthesized on its own.
		if n := len(sentences); n > 1 && len(sentences[n-1]) < 20 {
			sentences[n-2] += " " + sentences[n-1]
			sentences = sentences[:n-1]
		}
		for _, sentence := range sentences {
			select {
			case <-cancel:
				return
			default:
			}

			resp, err := p.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
				Model:          openai.SpeechModel(p.ttsModel),
				Voice:          openai.AudioSpeechNewParamsVoice(voiceID),
				Input:          sentence,
				ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
			})
			if err != nil {
				return
			}
			for {
				buf := make([]byte, p.chunkSizeOrDefault())
				n, readErr := resp.Body.Read(buf)
				if n > 0 {
					select {
					case out <- buf[:n]:
					case <-cancel:
						resp.Body.Close()
						return
					}
				}
				if readErr != nil {
					break
				}
			}
			resp.Body.Close()
		}
	}()

	return out, nil
}

func (p *OpenAIProvider) Check(ctx context.Context, text string) (guardrail.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, moderationTimeout)
	defer cancel()

	resp, err := p.client.Moderations.New(ctx, openai.ModerationNewParams{Input: openai.ModerationNewParamsInputUnion{OfString: openai.String(text)}})
	if err != nil {
		return guardrail.Result{}, err
	}
	if len(resp.Results) == 0 || !resp.Results[0].Flagged {
		return guardrail.Result{OK: true}, nil
	}

	result := resp.Results[0]
	topCategory, topScore := topFlaggedCategory(result)

	return guardrail.Result{
		OK:         false,
		Category:   topCategory,
		Confidence: topScore,
		Reason:     fmt.Sprintf("OpenAI Moderation flagged: %s", topCategory),
	}, nil
}

func (p *OpenAIProvider) chunkSizeOrDefault() int {
	if p.ttsChunkSize > 0 {
		return p.ttsChunkSize
	}
	return 4096
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func quickRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sumSq float64
	for i := 0; i < n; i++ {
		sample := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		v := float64(sample)
		sumSq += v * v
	}
	meanSq := sumSq / float64(n)
	return math.Sqrt(meanSq) / 32768.0
}

// topFlaggedCategory picks the highest-scoring flagged category out of the
// moderation response's per-category score struct.
func topFlaggedCategory(result openai.ModerationModerationCreateResponseResult) (string, float64) {
	scores := result.CategoryScores
	candidates := map[string]float64{
		"sexual":                 scores.Sexual,
		"sexual_minors":          scores.SexualMinors,
		"hate":                   scores.Hate,
		"hate_threatening":       scores.HateThreatening,
		"harassment":             scores.Harassment,
		"harassment_threatening": scores.HarassmentThreatening,
		"self_harm":              scores.SelfHarm,
		"self_harm_intent":       scores.SelfHarmIntent,
		"self_harm_instructions": scores.SelfHarmInstructions,
		"violence":               scores.Violence,
		"violence_graphic":       scores.ViolenceGraphic,
	}
	topCategory, topScore := "unknown", 0.0
	for cat, score := range candidates {
		if score > topScore {
			topCategory, topScore = cat, score
		}
	}
	return topCategory, topScore
}
