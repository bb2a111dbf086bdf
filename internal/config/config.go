package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sjawhar/voxflow/internal/routing"
)

// EnvPrefix is the namespace prefix for all Voxflow environment variables.
const EnvPrefix = "VOXFLOW_"

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	DBPath                string  `yaml:"db_path"`
	TranscriptDir         string  `yaml:"transcript_dir"`
	ListenAddr            string  `yaml:"listen_addr"`
	SystemPrompt          string  `yaml:"system_prompt"`
	MaxRetries            int     `yaml:"max_retries"`
	DrainTimeout          string  `yaml:"drain_timeout"`
	ReplayMaxBytes        int     `yaml:"replay_max_bytes"`
	SessionBudgetUSD      float64 `yaml:"session_budget_usd"`
	SttModel              string  `yaml:"stt_model"`
	SttLanguage           string  `yaml:"stt_language"`
	MicSampleRate         int     `yaml:"mic_sample_rate"`
	TtsSampleRate         int     `yaml:"tts_sample_rate"`
	GDriveFolderID        string  `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string  `yaml:"google_credentials_file"`

	// Endpoints declares the routable capability pool, conditions included.
	Endpoints []routing.Endpoint `yaml:"endpoints"`

	// Secrets come from env vars only, never serialized to YAML.
	DeepgramAPIKey  string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
}

func defaults() Config {
	return Config{
		DBPath:                "data/voxflow.db",
		TranscriptDir:         "data/transcripts",
		ListenAddr:            ":8080",
		SystemPrompt:          "You are a helpful voice assistant. Keep answers short enough to say out loud.",
		MaxRetries:            3,
		DrainTimeout:          "10s",
		ReplayMaxBytes:        32 << 20,
		SttModel:              "nova-2",
		SttLanguage:           "en-US",
		MicSampleRate:         16000,
		TtsSampleRate:         24000,
		GoogleCredentialsFile: "./service-account.json",
	}
}

// DefaultEndpoints is the capability pool used when the config file declares
// none: one conversational model per provider plus a Deepgram voice.
func DefaultEndpoints() []routing.Endpoint {
	return []routing.Endpoint{
		{
			ID: "llm-gpt-4o-mini", Family: routing.FamilyLLM, Provider: "openai", Model: "gpt-4o-mini",
			MaxContextTokens: 128000, MaxOutputTokens: 16384,
			TTFTMillis: 350, TokensPerSec: 90, Reliability: 0.99, CostPerToken: 0.0000006,
		},
		{
			ID: "llm-claude-haiku", Family: routing.FamilyLLM, Provider: "anthropic", Model: "claude-3-5-haiku-latest",
			MaxContextTokens: 200000, MaxOutputTokens: 8192,
			TTFTMillis: 400, TokensPerSec: 80, Reliability: 0.99, CostPerToken: 0.000004,
		},
		{
			ID: "llm-gemini-flash", Family: routing.FamilyLLM, Provider: "gemini", Model: "gemini-2.0-flash",
			MaxContextTokens: 1000000, MaxOutputTokens: 8192,
			TTFTMillis: 300, TokensPerSec: 110, Reliability: 0.98, CostPerToken: 0.0000004,
		},
		{
			ID: "tts-aura-asteria", Family: routing.FamilyTTS, Provider: "deepgram", Model: "aura-asteria-en",
			TTFTMillis: 200, Reliability: 0.99, CostPerToken: 0.000015,
		},
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

	if len(cfg.Endpoints) == 0 {
		cfg.Endpoints = DefaultEndpoints()
	}

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedDrainTimeout returns DrainTimeout as a time.Duration, falling back
// to 10s if the value is invalid.
func (c *Config) ParsedDrainTimeout() time.Duration {
	d, err := time.ParseDuration(c.DrainTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// APIKeys returns the per-provider secret map for the LLM clients.
func (c *Config) APIKeys() map[string]string {
	keys := make(map[string]string)
	if c.OpenAIAPIKey != "" {
		keys["openai"] = c.OpenAIAPIKey
	}
	if c.AnthropicAPIKey != "" {
		keys["anthropic"] = c.AnthropicAPIKey
	}
	if c.GeminiAPIKey != "" {
		keys["gemini"] = c.GeminiAPIKey
	}
	return keys
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPT_DIR"); v != "" {
		cfg.TranscriptDir = v
	}
	if v := os.Getenv(EnvPrefix + "LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "SYSTEM_PROMPT"); v != "" {
		cfg.SystemPrompt = v
	}
	if v := os.Getenv(EnvPrefix + "MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv(EnvPrefix + "DRAIN_TIMEOUT"); v != "" {
		cfg.DrainTimeout = v
	}
	if v := os.Getenv(EnvPrefix + "REPLAY_MAX_BYTES"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.ReplayMaxBytes = n
		}
	}
	if v := os.Getenv(EnvPrefix + "SESSION_BUDGET_USD"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f >= 0 {
			cfg.SessionBudgetUSD = f
		}
	}
	if v := os.Getenv(EnvPrefix + "STT_MODEL"); v != "" {
		cfg.SttModel = v
	}
	if v := os.Getenv(EnvPrefix + "STT_LANGUAGE"); v != "" {
		cfg.SttLanguage = v
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATE"); v != "" {
		if rate, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && rate > 0 {
			cfg.MicSampleRate = rate
		}
	}
	if v := os.Getenv(EnvPrefix + "TTS_SAMPLE_RATE"); v != "" {
		if rate, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && rate > 0 {
			cfg.TtsSampleRate = rate
		}
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
		warnings = append(warnings, "Deepgram API key not configured; speech capture and synthesis are disabled. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
	}
	if len(cfg.APIKeys()) == 0 {
		warnings = append(warnings, "No LLM API keys configured; response generation is disabled. Set "+EnvPrefix+"OPENAI_API_KEY, "+EnvPrefix+"ANTHROPIC_API_KEY, or "+EnvPrefix+"GEMINI_API_KEY.")
	}
	if _, err := time.ParseDuration(cfg.DrainTimeout); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid drain_timeout %q, using default 10s.", cfg.DrainTimeout))
	}

	keys := cfg.APIKeys()
	valid := cfg.Endpoints[:0:0]
	for _, ep := range cfg.Endpoints {
		if err := ep.Validate(); err != nil {
			warnings = append(warnings, fmt.Sprintf("Dropping endpoint %q: %v.", ep.ID, err))
			continue
		}
		if ep.Family == routing.FamilyLLM {
			if _, ok := keys[ep.Provider]; !ok {
				warnings = append(warnings, fmt.Sprintf("Endpoint %q has no API key for provider %q and will fail if routed to.", ep.ID, ep.Provider))
			}
		}
		valid = append(valid, ep)
	}
	cfg.Endpoints = valid

	return warnings
}
