package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/echoscribe/echoscribe/internal/audio"
	"github.com/echoscribe/echoscribe/internal/config"
	"github.com/echoscribe/echoscribe/internal/gdrive"
	"github.com/echoscribe/echoscribe/internal/llm"
	"github.com/echoscribe/echoscribe/internal/server"
	"github.com/echoscribe/echoscribe/internal/session"
	"github.com/echoscribe/echoscribe/internal/storage"
	"github.com/echoscribe/echoscribe/internal/summary"
	"github.com/echoscribe/echoscribe/internal/transcribe"
)

// driveExporter writes the transcript locally and then pushes a copy to
// Google Drive. Drive errors are logged, never surfaced to finalization.
type driveExporter struct {
	local  *storage.Writer
	syncer *gdrive.Syncer
	dir    string
}

func (e driveExporter) Export(sessionID string, chunks []transcribe.Chunk) error {
	if err := e.local.Export(sessionID, chunks); err != nil {
		return err
	}
	go func() {
		path := filepath.Join(e.dir, sessionID+".md")
		if err := e.syncer.SyncTranscript(path, sessionID); err != nil {
			log.Printf("gdrive transcript sync error for %s: %v", sessionID, err)
		}
	}()
	return nil
}

// driveRecorder wraps the local audio recorder and uploads the finalized
// artifact in the background.
type driveRecorder struct {
	local  *audio.Recorder
	syncer *gdrive.Syncer
}

func (r driveRecorder) Append(sessionID string, payload []byte, mimeType string) error {
	return r.local.Append(sessionID, payload, mimeType)
}

func (r driveRecorder) Finalize(sessionID string) (string, error) {
	path, err := r.local.Finalize(sessionID)
	if err != nil || path == "" {
		return path, err
	}
	go func() {
		if err := r.syncer.SyncAudio(path, sessionID); err != nil {
			log.Printf("gdrive audio sync error for %s: %v", sessionID, err)
		}
	}()
	return path, nil
}

func (r driveRecorder) Discard(sessionID string) {
	r.local.Discard(sessionID)
}

func main() {
	log.Println("echoscribe: starting")

	configPath := os.Getenv(config.EnvPrefix + "CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	for _, w := range warnings {
		log.Printf("warning: %s", w)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	hub := server.NewHub()

	var transcriber session.Transcriber
	if cfg.DeepgramAPIKey != "" {
		transcriber = transcribe.NewDeepgram(cfg.DeepgramAPIKey, cfg.TranscribeModel)
	}

	var summarizer session.Summarizer
	if cfg.OpenAIAPIKey != "" || cfg.AnthropicAPIKey != "" || cfg.GeminiAPIKey != "" {
		factory := func(provider, model string) (llm.Client, error) {
			key, err := apiKeyFor(&cfg, provider)
			if err != nil {
				return nil, err
			}
			return llm.NewClient(provider, key, model, llm.WithJSONOutput())
		}
		summarizer = summary.New(cfg.SummaryModel, factory, store)
	}

	coord := session.NewCoordinator(store, transcriber, summarizer, hub, session.Config{
		BufferLimit:                 cfg.ChunkBufferLimit,
		DrainTimeout:                cfg.ParsedFinalizeDrainTimeout(),
		MaxConcurrentTranscriptions: cfg.MaxConcurrentTranscriptions,
		IdleTimeout:                 cfg.ParsedIdleTimeout(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorder := audio.NewRecorder(cfg.AudioDir)
	exporter := storage.NewWriter(cfg.TranscriptDir)

	if cfg.GDriveFolderID != "" {
		syncer, syncErr := gdrive.NewSyncer(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if syncErr != nil {
			log.Printf("warning: gdrive sync disabled: %v", syncErr)
			coord.SetArtifactRecorder(recorder)
			coord.SetTranscriptExporter(exporter)
		} else {
			coord.SetArtifactRecorder(driveRecorder{local: recorder, syncer: syncer})
			coord.SetTranscriptExporter(driveExporter{local: exporter, syncer: syncer, dir: cfg.TranscriptDir})
		}
	} else {
		coord.SetArtifactRecorder(recorder)
		coord.SetTranscriptExporter(exporter)
	}

	go coord.Run(ctx)

	handler := server.Handler(hub, store, coord, coord)
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: handler}
	go func() {
		log.Printf("echoscribe: listening on http://%s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("echoscribe: shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	coord.Shutdown(shutdownCtx)

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("warning: http shutdown failed: %v", err)
	}
}

func apiKeyFor(cfg *config.Config, provider string) (string, error) {
	switch provider {
	case "openai":
		if cfg.OpenAIAPIKey != "" {
			return cfg.OpenAIAPIKey, nil
		}
	case "anthropic":
		if cfg.AnthropicAPIKey != "" {
			return cfg.AnthropicAPIKey, nil
		}
	case "gemini":
		if cfg.GeminiAPIKey != "" {
			return cfg.GeminiAPIKey, nil
		}
	default:
		return "", fmt.Errorf("unknown llm provider %q", provider)
	}
	return "", fmt.Errorf("no API key configured for provider %q", provider)
}
