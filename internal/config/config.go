// Package config provides the configuration schema, loader, environment
// overrides, and file watchers for the Atlas Cortex server.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can use the human form
// ("90s", "2h") instead of integer nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: duration must be a string like \"90s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// LogLevel controls log verbosity for the cortex server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l onto the slog level, defaulting to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for Atlas Cortex.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Generation   GenerationConfig   `yaml:"generation"`
	Memory       MemoryConfig       `yaml:"memory"`
	Guardrail    GuardrailConfig    `yaml:"guardrail"`
	Satellites   SatelliteConfig    `yaml:"satellites"`
	Integrations IntegrationsConfig `yaml:"integrations"`
	Discord      DiscordConfig      `yaml:"discord"`
	Auth         AuthConfig         `yaml:"auth"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
}

// ServerConfig holds network, logging, and data directory settings.
type ServerConfig struct {
	// Host is the listen interface. Empty means all interfaces.
	Host string `yaml:"host"`

	// Port is the TCP listen port. 0 selects the default 8080.
	Port int `yaml:"port"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// DataDir is the root for on-disk data packs (guardrail rules,
	// filler phrases). Empty disables pack loading.
	DataDir string `yaml:"data_dir"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// ListenAddr returns the host:port pair the server binds to.
func (c ServerConfig) ListenAddr() string {
	port := c.Port
	if port == 0 {
		port = 8080
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares the model backends behind each role.
type ProvidersConfig struct {
	// LLM lists chat backends in fallover order. The first entry is the
	// primary and is the one environment overrides apply to.
	LLM []LLMBackend `yaml:"llm"`

	Embedding  EmbeddingBackend  `yaml:"embedding"`
	TTS        TTSBackend        `yaml:"tts"`
	Transcribe TranscribeBackend `yaml:"transcribe"`
}

// LLMBackend is one chat-completion backend with its per-role models.
type LLMBackend struct {
	// Name labels the backend in logs and health output.
	Name string `yaml:"name"`

	// Provider selects the implementation: any of the any-llm names
	// ("openai", "anthropic", "ollama", "gemini", "deepseek", "mistral",
	// "groq", "llamacpp", "llamafile") or "openai-native" for the direct
	// openai-go client.
	Provider string `yaml:"provider"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// APIKey is the authentication key, if the provider needs one.
	APIKey string `yaml:"api_key"`

	// Models names the model serving each chat role. A role left empty
	// on this backend registers no candidate here.
	Models RoleModels `yaml:"models"`
}

// RoleModels maps the three chat roles to model names.
type RoleModels struct {
	Fast     string `yaml:"fast"`
	Standard string `yaml:"standard"`
	Thinking string `yaml:"thinking"`
}

// EmbeddingBackend configures the embed role.
type EmbeddingBackend struct {
	// Provider is "openai", "ollama", or "hashed". Empty falls back to
	// the in-process hashing embedder.
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// TTSBackend configures the tts role.
type TTSBackend struct {
	// Provider is "coqui" or "elevenlabs". Empty disables synthesis.
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`

	// Voice is the default voice ID when a profile has no preference.
	Voice string `yaml:"voice"`

	// Language is the synthesis language tag (coqui only).
	Language string `yaml:"language"`
}

// TranscribeBackend configures the transcribe role.
type TranscribeBackend struct {
	// Provider is "whisper-native" (in-process whisper.cpp),
	// "whisper" (HTTP whisper-server), or "deepgram". Empty disables
	// satellite voice input.
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`

	// ModelPath is the ggml model file for whisper-native.
	ModelPath string `yaml:"model_path"`

	// Language is the recognition language tag. Empty auto-detects.
	Language string `yaml:"language"`
}

// GenerationConfig bounds the generation layer.
type GenerationConfig struct {
	// ContextDefault is the token budget for fast and standard turns.
	ContextDefault int `yaml:"context_default"`

	// ContextThinking is the token budget for thinking turns.
	ContextThinking int `yaml:"context_thinking"`

	// MaxModelSizeMB caps local model selection; 0 means no cap.
	MaxModelSizeMB int `yaml:"max_model_size_mb"`
}

// MemoryConfig holds settings for the relational memory store.
type MemoryConfig struct {
	// PostgresDSN is the PostgreSQL connection string for the pgvector
	// store. Empty runs every store in-memory (dev mode, nothing survives
	// a restart).
	PostgresDSN string `yaml:"postgres_dsn"`

	// EmbeddingDimensions is the vector dimension for the embeddings
	// columns. Must match the configured embedding model.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// GuardrailConfig holds safety layer settings.
type GuardrailConfig struct {
	// PacksDir overrides the rule pack directory. Empty defaults to
	// <data_dir>/guardrail.
	PacksDir string `yaml:"packs_dir"`
}

// SatelliteConfig holds the WebSocket gateway settings.
type SatelliteConfig struct {
	// AuthToken is the shared secret satellites present on connect.
	// Empty accepts any satellite (trusted-LAN mode).
	AuthToken string `yaml:"auth_token"`

	// Areas maps satellite IDs to the area they are installed in. A
	// satellite's announce frame overrides its static entry.
	Areas map[string]string `yaml:"areas"`
}

// IntegrationsConfig lists the MCP servers to connect at startup.
type IntegrationsConfig struct {
	Servers []IntegrationServer `yaml:"servers"`
}

// IntegrationServer describes how to reach one integration server.
type IntegrationServer struct {
	// Name is a unique identifier for this server (used in logs).
	Name string `yaml:"name"`

	// Transport is "stdio" or "streamable-http".
	Transport string `yaml:"transport"`

	// Command is the executable (with arguments) for stdio transport.
	Command string `yaml:"command"`

	// URL is the endpoint for streamable-http transport.
	URL string `yaml:"url"`

	// Env holds extra environment variables for stdio subprocesses.
	Env map[string]string `yaml:"env"`
}

// DiscordConfig enables the optional Discord text bridge.
type DiscordConfig struct {
	// Token is the bot token. Empty disables the bridge.
	Token string `yaml:"token"`

	// Channels lists the text channel IDs the bridge listens on.
	// Empty means every channel the bot can read.
	Channels []string `yaml:"channels"`
}

// AuthConfig secures the admin surface.
type AuthConfig struct {
	// JWTSecret keys the admin bearer tokens. Empty disables the
	// admin surface entirely.
	JWTSecret string `yaml:"jwt_secret"`

	// JWTExpiry is the token lifetime. 0 selects the default (1h).
	JWTExpiry Duration `yaml:"jwt_expiry"`
}

// SchedulerConfig tunes the periodic maintenance jobs.
type SchedulerConfig struct {
	// Disabled turns off all cron jobs.
	Disabled bool `yaml:"disabled"`

	// PatternStaleDays is the cutoff for pruning unused learned
	// patterns. 0 selects the default (90 days).
	PatternStaleDays int `yaml:"pattern_stale_days"`
}
