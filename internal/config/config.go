package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all EchoScribe environment variables.
const EnvPrefix = "ECHOSCRIBE_"

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	ListenAddr                  string `yaml:"listen_addr"`
	DBPath                      string `yaml:"db_path"`
	AudioDir                    string `yaml:"audio_dir"`
	TranscriptDir               string `yaml:"transcript_dir"`
	TranscribeModel             string `yaml:"transcribe_model"`
	SummaryModel                string `yaml:"summary_model"`
	ChunkBufferLimit            int    `yaml:"chunk_buffer_limit"`
	MaxConcurrentTranscriptions int    `yaml:"max_concurrent_transcriptions"`
	FinalizeDrainTimeout        string `yaml:"finalize_drain_timeout"`
	IdleTimeout                 string `yaml:"idle_timeout"`
	GDriveFolderID              string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile       string `yaml:"google_credentials_file"`

	// Secrets — env vars only, never serialized to YAML.
	DeepgramAPIKey  string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
}

func defaults() Config {
	return Config{
		ListenAddr:                  "127.0.0.1:8787",
		DBPath:                      "data/echoscribe.db",
		AudioDir:                    "data/audio",
		TranscriptDir:               "data/transcripts",
		TranscribeModel:             "nova-2",
		SummaryModel:                "openai/gpt-4o-mini",
		ChunkBufferLimit:            4096,
		MaxConcurrentTranscriptions: 8,
		FinalizeDrainTimeout:        "30s",
		IdleTimeout:                 "10m",
		GoogleCredentialsFile:       "./service-account.json",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedFinalizeDrainTimeout returns FinalizeDrainTimeout as a time.Duration,
// falling back to 30s if the value is invalid.
func (c *Config) ParsedFinalizeDrainTimeout() time.Duration {
	d, err := time.ParseDuration(c.FinalizeDrainTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// ParsedIdleTimeout returns IdleTimeout as a time.Duration, falling back to
// 10m if the value is invalid. Zero disables the idle reaper.
func (c *Config) ParsedIdleTimeout() time.Duration {
	if c.IdleTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.IdleTimeout)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "AUDIO_DIR"); v != "" {
		cfg.AudioDir = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPT_DIR"); v != "" {
		cfg.TranscriptDir = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIBE_MODEL"); v != "" {
		cfg.TranscribeModel = v
	}
	if v := os.Getenv(EnvPrefix + "SUMMARY_MODEL"); v != "" {
		cfg.SummaryModel = v
	}
	if v := os.Getenv(EnvPrefix + "CHUNK_BUFFER_LIMIT"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.ChunkBufferLimit = n
		}
	}
	if v := os.Getenv(EnvPrefix + "MAX_CONCURRENT_TRANSCRIPTIONS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.MaxConcurrentTranscriptions = n
		}
	}
	if v := os.Getenv(EnvPrefix + "FINALIZE_DRAIN_TIMEOUT"); v != "" {
		cfg.FinalizeDrainTimeout = v
	}
	if v := os.Getenv(EnvPrefix + "IDLE_TIMEOUT"); v != "" {
		cfg.IdleTimeout = v
	}
	if v := os.Getenv(EnvPrefix + "GDRIVE_FOLDER_ID"); v != "" {
		cfg.GDriveFolderID = v
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.GoogleCredentialsFile = v
	}
}

func loadSecrets(cfg *Config) {
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.DeepgramAPIKey == "" {
		warnings = append(warnings, "Deepgram API key not configured — transcription is disabled. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
	}
	if cfg.OpenAIAPIKey == "" && cfg.AnthropicAPIKey == "" && cfg.GeminiAPIKey == "" {
		warnings = append(warnings, "No LLM API key configured — session summaries are disabled. Set "+EnvPrefix+"OPENAI_API_KEY, "+EnvPrefix+"ANTHROPIC_API_KEY, or "+EnvPrefix+"GEMINI_API_KEY.")
	}
	if _, err := time.ParseDuration(cfg.FinalizeDrainTimeout); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid finalize_drain_timeout %q — using default 30s.", cfg.FinalizeDrainTimeout))
	}
	if cfg.IdleTimeout != "" {
		if _, err := time.ParseDuration(cfg.IdleTimeout); err != nil {
			warnings = append(warnings, fmt.Sprintf("Invalid idle_timeout %q — using default 10m.", cfg.IdleTimeout))
		}
	}

	return warnings
}
