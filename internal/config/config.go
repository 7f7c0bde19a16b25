package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice-agent orchestrator.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	OpenAIAPIKey string

	LLMModel       string
	LLMTemperature float64

	TTSModel      string
	TTSVoiceBob   string
	TTSVoiceAlice string
	TTSChunkSize  int

	VADSpeechThreshold float64
	VADSilenceMS       int
	VADMinSpeechMS     int

	WSCoalesceMS int

	GuardrailEnabled bool

	STTSampleRate int

	SessionInactivityTimeout time.Duration
	SessionStartupDeafMS     int
	SessionTTSDeafMS         int

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "voiceagent"),
		AllowAnyOrigin:   false,
		OpenAIAPIKey:     stringsTrimSpace("OPENAI_API_KEY"),

		LLMModel:       envOrDefault("LLM_MODEL", "gpt-4o-mini"),
		LLMTemperature: 0.7,

		TTSModel:      envOrDefault("TTS_MODEL", "tts-1"),
		TTSVoiceBob:   envOrDefault("TTS_VOICE_BOB", "alloy"),
		TTSVoiceAlice: envOrDefault("TTS_VOICE_ALICE", "shimmer"),
		TTSChunkSize:  4096,

		VADSpeechThreshold: 0.015,
		VADSilenceMS:       500,
		VADMinSpeechMS:     150,

		WSCoalesceMS: 25,

		GuardrailEnabled: true,

		STTSampleRate: 16000,

		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 30 * time.Second,
		SessionStartupDeafMS:     8000,
		SessionTTSDeafMS:         700,
	}

	var err error
	cfg.LLMTemperature, err = floatFromEnv("LLM_TEMPERATURE", cfg.LLMTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSChunkSize, err = intFromEnv("TTS_CHUNK_SIZE", cfg.TTSChunkSize)
	if err != nil {
		return Config{}, err
	}
	cfg.VADSpeechThreshold, err = floatFromEnv("VAD_SPEECH_THRESHOLD", cfg.VADSpeechThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.VADSilenceMS, err = intFromEnv("VAD_SILENCE_MS", cfg.VADSilenceMS)
	if err != nil {
		return Config{}, err
	}
	cfg.VADMinSpeechMS, err = intFromEnv("VAD_MIN_SPEECH_MS", cfg.VADMinSpeechMS)
	if err != nil {
		return Config{}, err
	}
	cfg.WSCoalesceMS, err = intFromEnv("WS_COALESCE_MS", cfg.WSCoalesceMS)
	if err != nil {
		return Config{}, err
	}
	cfg.GuardrailEnabled, err = boolFromEnv("GUARDRAIL_ENABLED", cfg.GuardrailEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.STTSampleRate, err = intFromEnv("STT_SAMPLE_RATE", cfg.STTSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionStartupDeafMS, err = intFromEnv("SESSION_STARTUP_DEAF_MS", cfg.SessionStartupDeafMS)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTTSDeafMS, err = intFromEnv("SESSION_TTS_DEAF_MS", cfg.SessionTTSDeafMS)
	if err != nil {
		return Config{}, err
	}
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 1*time.Second {
		return Config{}, fmt.Errorf("SESSION_INACTIVITY_TIMEOUT must be at least 1s")
	}
	if cfg.VADSpeechThreshold <= 0 {
		return Config{}, fmt.Errorf("VAD_SPEECH_THRESHOLD must be positive")
	}
	if cfg.VADSilenceMS <= 0 {
		return Config{}, fmt.Errorf("VAD_SILENCE_MS must be positive")
	}
	if cfg.VADMinSpeechMS <= 0 {
		return Config{}, fmt.Errorf("VAD_MIN_SPEECH_MS must be positive")
	}
	if cfg.WSCoalesceMS <= 0 {
		return Config{}, fmt.Errorf("WS_COALESCE_MS must be positive")
	}
	if cfg.TTSChunkSize <= 0 {
		return Config{}, fmt.Errorf("TTS_CHUNK_SIZE must be positive")
	}
	if cfg.STTSampleRate <= 0 {
		return Config{}, fmt.Errorf("STT_SAMPLE_RATE must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
