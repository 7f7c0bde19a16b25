package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/antoniostano/voiceagent/internal/config"
	"github.com/antoniostano/voiceagent/internal/guardrail"
	"github.com/antoniostano/voiceagent/internal/httpapi"
	"github.com/antoniostano/voiceagent/internal/memory"
	"github.com/antoniostano/voiceagent/internal/observability"
	"github.com/antoniostano/voiceagent/internal/pipeline"
	"github.com/antoniostano/voiceagent/internal/session"
	"github.com/antoniostano/voiceagent/internal/voice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	memoryStore, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("memory store init failed: %v", err)
	}
	defer memoryStore.Close()

	var provider interface {
		voice.STTProvider
		voice.LLMProvider
		voice.TTSProvider
		voice.Moderation
	}
	if cfg.OpenAIAPIKey != "" {
		provider = voice.NewOpenAIProvider(
			cfg.OpenAIAPIKey,
			cfg.LLMModel,
			cfg.LLMTemperature,
			cfg.TTSModel,
			cfg.TTSVoiceBob,
			cfg.TTSVoiceAlice,
			cfg.TTSChunkSize,
		)
		log.Printf("voice provider: openai (%s / %s)", cfg.LLMModel, cfg.TTSModel)
	} else {
		provider = voice.NewNoopProvider()
		log.Printf("voice provider: noop (OPENAI_API_KEY not set)")
	}

	guard := guardrail.New(cfg.GuardrailEnabled, provider)

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	engine := pipeline.New(cfg, provider, provider, provider, guard, memoryStore, metrics)

	api := httpapi.New(cfg, sessions, engine, provider, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
