package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LISTEN_ADDR", "DB_PATH", "AUDIO_DIR", "TRANSCRIPT_DIR",
		"TRANSCRIBE_MODEL", "SUMMARY_MODEL",
		"CHUNK_BUFFER_LIMIT", "MAX_CONCURRENT_TRANSCRIPTIONS",
		"FINALIZE_DRAIN_TIMEOUT", "IDLE_TIMEOUT",
		"GDRIVE_FOLDER_ID", "GOOGLE_CREDENTIALS_FILE",
		"DEEPGRAM_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY",
		"CONFIG",
	} {
		t.Setenv(EnvPrefix+key, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1:8787" {
		t.Fatalf("expected default listen_addr, got %q", cfg.ListenAddr)
	}
	if cfg.DBPath != "data/echoscribe.db" {
		t.Fatalf("expected default db_path, got %q", cfg.DBPath)
	}
	if cfg.AudioDir != "data/audio" {
		t.Fatalf("expected default audio_dir, got %q", cfg.AudioDir)
	}
	if cfg.TranscribeModel != "nova-2" {
		t.Fatalf("expected default transcribe_model, got %q", cfg.TranscribeModel)
	}
	if cfg.SummaryModel != "openai/gpt-4o-mini" {
		t.Fatalf("expected default summary_model, got %q", cfg.SummaryModel)
	}
	if cfg.ChunkBufferLimit != 4096 {
		t.Fatalf("expected default chunk_buffer_limit 4096, got %d", cfg.ChunkBufferLimit)
	}
	if cfg.MaxConcurrentTranscriptions != 8 {
		t.Fatalf("expected default max_concurrent_transcriptions 8, got %d", cfg.MaxConcurrentTranscriptions)
	}
}

func TestYAMLLoading(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	yamlContent := `
listen_addr: 0.0.0.0:9999
db_path: /custom/db.sqlite
audio_dir: /custom/audio
transcript_dir: /custom/transcripts
transcribe_model: nova-3
summary_model: anthropic/claude-sonnet-4-0
chunk_buffer_limit: 512
max_concurrent_transcriptions: 2
finalize_drain_timeout: 45s
idle_timeout: 5m
gdrive_folder_id: my-folder
google_credentials_file: /path/to/creds.json
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ListenAddr != "0.0.0.0:9999" {
		t.Fatalf("expected yaml listen_addr, got %q", cfg.ListenAddr)
	}
	if cfg.DBPath != "/custom/db.sqlite" {
		t.Fatalf("expected yaml db_path, got %q", cfg.DBPath)
	}
	if cfg.TranscriptDir != "/custom/transcripts" {
		t.Fatalf("expected yaml transcript_dir, got %q", cfg.TranscriptDir)
	}
	if cfg.TranscribeModel != "nova-3" {
		t.Fatalf("expected yaml transcribe_model, got %q", cfg.TranscribeModel)
	}
	if cfg.SummaryModel != "anthropic/claude-sonnet-4-0" {
		t.Fatalf("expected yaml summary_model, got %q", cfg.SummaryModel)
	}
	if cfg.ChunkBufferLimit != 512 {
		t.Fatalf("expected yaml chunk_buffer_limit, got %d", cfg.ChunkBufferLimit)
	}
	if cfg.MaxConcurrentTranscriptions != 2 {
		t.Fatalf("expected yaml max_concurrent_transcriptions, got %d", cfg.MaxConcurrentTranscriptions)
	}
	if cfg.FinalizeDrainTimeout != "45s" {
		t.Fatalf("expected yaml finalize_drain_timeout, got %q", cfg.FinalizeDrainTimeout)
	}
	if cfg.IdleTimeout != "5m" {
		t.Fatalf("expected yaml idle_timeout, got %q", cfg.IdleTimeout)
	}
	if cfg.GDriveFolderID != "my-folder" {
		t.Fatalf("expected yaml gdrive_folder_id, got %q", cfg.GDriveFolderID)
	}
	if cfg.GoogleCredentialsFile != "/path/to/creds.json" {
		t.Fatalf("expected yaml google_credentials_file, got %q", cfg.GoogleCredentialsFile)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	yamlContent := `
db_path: /from/yaml
summary_model: openai/gpt-yaml
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	clearEnv(t)
	t.Setenv(EnvPrefix+"DB_PATH", "/from/env")
	t.Setenv(EnvPrefix+"SUMMARY_MODEL", "openai/gpt-env")
	t.Setenv(EnvPrefix+"AUDIO_DIR", "/env/audio")
	t.Setenv(EnvPrefix+"CHUNK_BUFFER_LIMIT", "128")

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBPath != "/from/env" {
		t.Fatalf("expected env override for db_path, got %q", cfg.DBPath)
	}
	if cfg.SummaryModel != "openai/gpt-env" {
		t.Fatalf("expected env override for summary_model, got %q", cfg.SummaryModel)
	}
	if cfg.AudioDir != "/env/audio" {
		t.Fatalf("expected env override for audio_dir, got %q", cfg.AudioDir)
	}
	if cfg.ChunkBufferLimit != 128 {
		t.Fatalf("expected env override for chunk_buffer_limit, got %d", cfg.ChunkBufferLimit)
	}
}

func TestSecretsFromEnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"DEEPGRAM_API_KEY", "dg-secret")
	t.Setenv(EnvPrefix+"OPENAI_API_KEY", "oai-secret")
	t.Setenv(EnvPrefix+"ANTHROPIC_API_KEY", "claude-secret")
	t.Setenv(EnvPrefix+"GEMINI_API_KEY", "gem-secret")

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DeepgramAPIKey != "dg-secret" {
		t.Fatalf("expected deepgram key from env, got %q", cfg.DeepgramAPIKey)
	}
	if cfg.OpenAIAPIKey != "oai-secret" {
		t.Fatalf("expected openai key from env, got %q", cfg.OpenAIAPIKey)
	}
	if cfg.AnthropicAPIKey != "claude-secret" {
		t.Fatalf("expected anthropic key from env, got %q", cfg.AnthropicAPIKey)
	}
	if cfg.GeminiAPIKey != "gem-secret" {
		t.Fatalf("expected gemini key from env, got %q", cfg.GeminiAPIKey)
	}
}

func TestSecretsIgnoredInYAML(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	yamlContent := `
deepgram_api_key: should-be-ignored
openai_api_key: also-ignored
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DeepgramAPIKey != "" {
		t.Fatalf("expected empty deepgram key (yaml should be ignored), got %q", cfg.DeepgramAPIKey)
	}
	if cfg.OpenAIAPIKey != "" {
		t.Fatalf("expected empty openai key (yaml should be ignored), got %q", cfg.OpenAIAPIKey)
	}
}

func TestValidationWarnings(t *testing.T) {
	clearEnv(t)

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var deepgramWarning, llmWarning bool
	for _, w := range warnings {
		if strings.Contains(w, "Deepgram") {
			deepgramWarning = true
		}
		if strings.Contains(w, "LLM") {
			llmWarning = true
		}
	}

	if !deepgramWarning {
		t.Fatalf("expected Deepgram warning when key is missing, got warnings: %v", warnings)
	}
	if !llmWarning {
		t.Fatalf("expected LLM warning when no key is set, got warnings: %v", warnings)
	}
}

func TestValidationNoWarningsWhenConfigured(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"DEEPGRAM_API_KEY", "key")
	t.Setenv(EnvPrefix+"OPENAI_API_KEY", "key")

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(warnings) != 0 {
		t.Fatalf("expected no warnings when fully configured, got: %v", warnings)
	}
}

func TestAnyLLMKeySatisfiesValidation(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"DEEPGRAM_API_KEY", "key")
	t.Setenv(EnvPrefix+"ANTHROPIC_API_KEY", "key")

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(warnings) != 0 {
		t.Fatalf("expected no warnings with anthropic key only, got: %v", warnings)
	}
}

func TestInvalidDrainTimeoutWarning(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"DEEPGRAM_API_KEY", "key")
	t.Setenv(EnvPrefix+"OPENAI_API_KEY", "key")
	t.Setenv(EnvPrefix+"FINALIZE_DRAIN_TIMEOUT", "not-a-duration")

	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(warnings) != 1 || !strings.Contains(warnings[0], "finalize_drain_timeout") {
		t.Fatalf("expected finalize_drain_timeout warning, got: %v", warnings)
	}

	if cfg.ParsedFinalizeDrainTimeout() != 30*time.Second {
		t.Fatalf("expected fallback to 30s, got %v", cfg.ParsedFinalizeDrainTimeout())
	}
}

func TestIdleTimeoutParsing(t *testing.T) {
	cfg := defaults()
	if cfg.ParsedIdleTimeout() != 10*time.Minute {
		t.Fatalf("expected default idle timeout 10m, got %v", cfg.ParsedIdleTimeout())
	}

	cfg.IdleTimeout = ""
	if cfg.ParsedIdleTimeout() != 0 {
		t.Fatalf("expected empty idle_timeout to disable the reaper, got %v", cfg.ParsedIdleTimeout())
	}

	cfg.IdleTimeout = "garbage"
	if cfg.ParsedIdleTimeout() != 10*time.Minute {
		t.Fatalf("expected invalid idle_timeout to fall back to 10m, got %v", cfg.ParsedIdleTimeout())
	}
}

func TestMissingConfigFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load should not fail for missing config file, got: %v", err)
	}

	if cfg.DBPath != "data/echoscribe.db" {
		t.Fatalf("expected defaults when config file missing, got db_path=%q", cfg.DBPath)
	}
}

func TestInvalidConfigFileReturnsError(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(configPath, []byte(":::invalid yaml"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	clearEnv(t)

	_, _, err := Load(configPath)
	if err == nil {
		t.Fatal("expected error for invalid yaml, got nil")
	}
}
