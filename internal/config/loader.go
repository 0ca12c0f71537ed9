package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields with their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.OpenAI.RealtimeModel == "" {
		cfg.OpenAI.RealtimeModel = "gpt-4o-realtime-preview"
	}
	if cfg.OpenAI.ChatModel == "" {
		cfg.OpenAI.ChatModel = "gpt-4o-mini"
	}
	if cfg.OpenAI.EmbeddingModel == "" {
		cfg.OpenAI.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.OpenAI.Voice == "" {
		cfg.OpenAI.Voice = "alloy"
	}
	if cfg.Audio.FrameDuration == 0 {
		cfg.Audio.FrameDuration = Duration(100 * time.Millisecond)
	}
	if cfg.Database.EmbeddingDimensions == 0 {
		cfg.Database.EmbeddingDimensions = 1536
	}
	if cfg.Templates.Dir == "" {
		cfg.Templates.Dir = "templates"
	}
	if cfg.ICD10.TopK == 0 {
		cfg.ICD10.TopK = 5
	}
	if cfg.Persist.Debounce == 0 {
		cfg.Persist.Debounce = Duration(5 * time.Second)
	}
	if cfg.Reconnect.MaxAttempts == 0 {
		cfg.Reconnect.MaxAttempts = 3
	}
	if len(cfg.Reconnect.Delays) == 0 {
		cfg.Reconnect.Delays = []Duration{
			Duration(time.Second),
			Duration(2 * time.Second),
			Duration(4 * time.Second),
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.OpenAI.APIKey == "" {
		slog.Warn("openai.api_key is empty and OPENAI_API_KEY is unset; sessions cannot be started")
	}

	if cfg.Audio.FrameDuration.Std() < 10*time.Millisecond || cfg.Audio.FrameDuration.Std() > time.Second {
		errs = append(errs, fmt.Errorf("audio.frame_duration %s is out of range [10ms, 1s]", cfg.Audio.FrameDuration))
	}

	if cfg.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if cfg.Database.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("database.embedding_dimensions %d must be positive", cfg.Database.EmbeddingDimensions))
	}

	if cfg.ICD10.TopK < 0 {
		errs = append(errs, fmt.Errorf("icd10.top_k %d must be positive", cfg.ICD10.TopK))
	}
	if cfg.ICD10.CatalogPath == "" {
		slog.Warn("icd10.catalog_path is empty; the code index will not be synced at startup")
	}

	if cfg.Persist.Debounce < 0 {
		errs = append(errs, fmt.Errorf("persist.debounce %s must not be negative", cfg.Persist.Debounce))
	}

	if cfg.Reconnect.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("reconnect.max_attempts %d must not be negative", cfg.Reconnect.MaxAttempts))
	}
	for i, d := range cfg.Reconnect.Delays {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("reconnect.delays[%d] %s must be positive", i, d))
		}
	}

	return errors.Join(errs...)
}
