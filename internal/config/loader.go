package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per role.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "openai-native", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embedding":  {"openai", "ollama", "hashed"},
	"tts":        {"coqui", "elevenlabs"},
	"transcribe": {"whisper", "whisper-native", "deepgram"},
}

// Load reads the YAML file at path, applies environment overrides, and
// returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment
// overrides, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data)
}

// parse is the shared decode → env override → validate path.
func parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [0, 65535]", cfg.Server.Port))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// LLM backends
	backendsSeen := make(map[string]int, len(cfg.Providers.LLM))
	for i, b := range cfg.Providers.LLM {
		prefix := fmt.Sprintf("providers.llm[%d]", i)
		if b.Provider == "" {
			errs = append(errs, fmt.Errorf("%s.provider is required", prefix))
		} else {
			warnUnknownProvider("llm", b.Provider)
		}
		if b.Name != "" {
			if prev, ok := backendsSeen[b.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.llm[%d]", prefix, b.Name, prev))
			}
			backendsSeen[b.Name] = i
		}
		if b.Models == (RoleModels{}) {
			errs = append(errs, fmt.Errorf("%s.models must name at least one role model", prefix))
		}
	}
	if len(cfg.Providers.LLM) == 0 {
		slog.Warn("no LLM backend configured; generation turns will fail until one is added")
	}

	// Other roles — warn on unknown provider names.
	warnUnknownProvider("embedding", cfg.Providers.Embedding.Provider)
	warnUnknownProvider("tts", cfg.Providers.TTS.Provider)
	warnUnknownProvider("transcribe", cfg.Providers.Transcribe.Provider)

	if cfg.Providers.Embedding.Provider != "" && cfg.Providers.Embedding.Provider != "hashed" && cfg.Providers.Embedding.Model == "" {
		errs = append(errs, fmt.Errorf("providers.embedding.model is required for provider %q", cfg.Providers.Embedding.Provider))
	}
	switch cfg.Providers.Transcribe.Provider {
	case "whisper-native":
		if cfg.Providers.Transcribe.ModelPath == "" {
			errs = append(errs, errors.New("providers.transcribe.model_path is required for whisper-native"))
		}
	case "whisper":
		if cfg.Providers.Transcribe.BaseURL == "" {
			errs = append(errs, errors.New("providers.transcribe.base_url is required for the whisper server provider"))
		}
	case "deepgram":
		if cfg.Providers.Transcribe.APIKey == "" {
			errs = append(errs, errors.New("providers.transcribe.api_key is required for deepgram"))
		}
	}
	if cfg.Providers.TTS.Provider == "elevenlabs" && cfg.Providers.TTS.APIKey == "" {
		errs = append(errs, errors.New("providers.tts.api_key is required for elevenlabs"))
	}
	if cfg.Providers.TTS.Provider == "coqui" && cfg.Providers.TTS.BaseURL == "" {
		errs = append(errs, errors.New("providers.tts.base_url is required for coqui"))
	}

	// Generation budgets
	if cfg.Generation.ContextDefault < 0 {
		errs = append(errs, fmt.Errorf("generation.context_default %d must not be negative", cfg.Generation.ContextDefault))
	}
	if cfg.Generation.ContextThinking < 0 {
		errs = append(errs, fmt.Errorf("generation.context_thinking %d must not be negative", cfg.Generation.ContextThinking))
	}
	if cfg.Generation.MaxModelSizeMB < 0 {
		errs = append(errs, fmt.Errorf("generation.max_model_size_mb %d must not be negative", cfg.Generation.MaxModelSizeMB))
	}

	// Memory
	if cfg.Memory.PostgresDSN == "" {
		slog.Warn("memory.postgres_dsn is empty; all stores run in-memory and nothing survives a restart")
	}
	if cfg.Providers.Embedding.Provider != "" && cfg.Memory.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embedding is configured but memory.embedding_dimensions is not set; defaulting to the provider's native dimension")
	}

	// Integrations
	integrationsSeen := make(map[string]int, len(cfg.Integrations.Servers))
	for i, srv := range cfg.Integrations.Servers {
		prefix := fmt.Sprintf("integrations.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := integrationsSeen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of integrations.servers[%d]", prefix, srv.Name, prev))
			}
			integrationsSeen[srv.Name] = i
		}
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
			}
		case "streamable-http":
			if srv.URL == "" {
				errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
			}
		default:
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
	}

	// Discord
	if len(cfg.Discord.Channels) > 0 && cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.channels is set but discord.token is empty"))
	}

	// Auth
	if cfg.Auth.JWTSecret != "" && len(cfg.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 16 characters"))
	}
	if cfg.Auth.JWTSecret == "" {
		slog.Warn("auth.jwt_secret is empty; the admin surface is disabled")
	}
	if cfg.Auth.JWTExpiry < 0 {
		errs = append(errs, fmt.Errorf("auth.jwt_expiry %s must not be negative", cfg.Auth.JWTExpiry.Std()))
	}

	// Scheduler
	if cfg.Scheduler.PatternStaleDays < 0 {
		errs = append(errs, fmt.Errorf("scheduler.pattern_stale_days %d must not be negative", cfg.Scheduler.PatternStaleDays))
	}

	return errors.Join(errs...)
}

// warnUnknownProvider logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given role.
func warnUnknownProvider(role, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[role]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"role", role,
		"name", name,
		"known", known,
	)
}
