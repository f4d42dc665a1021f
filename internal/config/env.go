package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ApplyEnv overlays environment variables onto cfg. Overrides beat file
// values so a container deployment can reconfigure without editing YAML.
// LLM_* and MODEL_* keys target the primary (first) LLM backend, creating
// it when the file declared none.
func ApplyEnv(cfg *Config) error {
	var errs []error

	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		v, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %s=%q is not an integer", key, v))
			return
		}
		*dst = n
	}

	setString("CORTEX_HOST", &cfg.Server.Host)
	setInt("CORTEX_PORT", &cfg.Server.Port)
	setString("CORTEX_DATA_DIR", &cfg.Server.DataDir)

	if llmEnvSet() {
		if len(cfg.Providers.LLM) == 0 {
			cfg.Providers.LLM = append(cfg.Providers.LLM, LLMBackend{Name: "primary"})
		}
		primary := &cfg.Providers.LLM[0]
		setString("LLM_PROVIDER", &primary.Provider)
		setString("LLM_URL", &primary.BaseURL)
		setString("LLM_API_KEY", &primary.APIKey)
		setString("MODEL_FAST", &primary.Models.Fast)
		setString("MODEL_STANDARD", &primary.Models.Standard)
		setString("MODEL_THINKING", &primary.Models.Thinking)
	}

	setString("EMBED_PROVIDER", &cfg.Providers.Embedding.Provider)
	setString("EMBED_URL", &cfg.Providers.Embedding.BaseURL)
	setString("MODEL_EMBEDDING", &cfg.Providers.Embedding.Model)
	setString("EMBED_MODEL", &cfg.Providers.Embedding.Model)

	setInt("CONTEXT_DEFAULT", &cfg.Generation.ContextDefault)
	setInt("CONTEXT_THINKING", &cfg.Generation.ContextThinking)
	setInt("MAX_MODEL_SIZE_MB", &cfg.Generation.MaxModelSizeMB)

	setString("JWT_SECRET", &cfg.Auth.JWTSecret)
	if v, ok := os.LookupEnv("JWT_EXPIRY"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: JWT_EXPIRY=%q is not a duration", v))
		} else {
			cfg.Auth.JWTExpiry = Duration(d)
		}
	}

	return errors.Join(errs...)
}

// llmEnvSet reports whether any of the primary-backend override keys is
// present, so an empty file config only grows a backend when asked to.
func llmEnvSet() bool {
	for _, key := range []string{
		"LLM_PROVIDER", "LLM_URL", "LLM_API_KEY",
		"MODEL_FAST", "MODEL_STANDARD", "MODEL_THINKING",
	} {
		if _, ok := os.LookupEnv(key); ok {
			return true
		}
	}
	return false
}
