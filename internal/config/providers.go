package config

import (
	"errors"
	"fmt"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/atlas-assistant/cortex/pkg/provider/embeddings"
	embollama "github.com/atlas-assistant/cortex/pkg/provider/embeddings/ollama"
	embopenai "github.com/atlas-assistant/cortex/pkg/provider/embeddings/openai"
	"github.com/atlas-assistant/cortex/pkg/provider/llm"
	"github.com/atlas-assistant/cortex/pkg/provider/llm/anyllm"
	llmopenai "github.com/atlas-assistant/cortex/pkg/provider/llm/openai"
	"github.com/atlas-assistant/cortex/pkg/provider/stt"
	"github.com/atlas-assistant/cortex/pkg/provider/stt/deepgram"
	"github.com/atlas-assistant/cortex/pkg/provider/stt/whisper"
	"github.com/atlas-assistant/cortex/pkg/provider/tts"
	"github.com/atlas-assistant/cortex/pkg/provider/tts/coqui"
	"github.com/atlas-assistant/cortex/pkg/provider/tts/elevenlabs"
)

// ErrNoProvider is returned by the factory functions when the config
// block selects no provider.
var ErrNoProvider = errors.New("config: no provider configured")

// NewChatProvider constructs an llm.Provider for one backend and model.
// "openai-native" uses the direct openai-go client; everything else goes
// through the any-llm multi-provider layer.
func NewChatProvider(b LLMBackend, model string) (llm.Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("config: backend %q: model must not be empty", b.Name)
	}
	if b.Provider == "openai-native" {
		var opts []llmopenai.Option
		if b.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(b.BaseURL))
		}
		return llmopenai.New(b.APIKey, model, opts...)
	}
	var opts []anyllmlib.Option
	if b.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(b.APIKey))
	}
	if b.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(b.BaseURL))
	}
	return anyllm.New(b.Provider, model, opts...)
}

// NewEmbeddingProvider constructs the embed backend. dims carries
// memory.embedding_dimensions; 0 keeps the provider's native dimension.
// Returns [ErrNoProvider] when no embedding block is configured — the
// registry substitutes its hashing fallback in that case.
func NewEmbeddingProvider(e EmbeddingBackend, dims int) (embeddings.Provider, error) {
	switch e.Provider {
	case "ollama":
		var opts []embollama.Option
		if dims > 0 {
			opts = append(opts, embollama.WithDimensions(dims))
		}
		return embollama.New(e.BaseURL, e.Model, opts...)
	case "openai":
		var opts []embopenai.Option
		if e.BaseURL != "" {
			opts = append(opts, embopenai.WithBaseURL(e.BaseURL))
		}
		return embopenai.New(e.APIKey, e.Model, opts...)
	case "", "hashed":
		return nil, ErrNoProvider
	default:
		return nil, fmt.Errorf("config: unknown embedding provider %q", e.Provider)
	}
}

// NewSynthesizer constructs the tts backend, or [ErrNoProvider] when the
// block is empty (voice output disabled).
func NewSynthesizer(t TTSBackend) (tts.Provider, error) {
	switch t.Provider {
	case "coqui":
		var opts []coqui.Option
		if t.Language != "" {
			opts = append(opts, coqui.WithLanguage(t.Language))
		}
		return coqui.New(t.BaseURL, opts...)
	case "elevenlabs":
		return elevenlabs.New(t.APIKey)
	case "":
		return nil, ErrNoProvider
	default:
		return nil, fmt.Errorf("config: unknown tts provider %q", t.Provider)
	}
}

// NewTranscriber constructs the transcribe backend, or [ErrNoProvider]
// when the block is empty (satellite voice input disabled).
func NewTranscriber(t TranscribeBackend) (stt.Provider, error) {
	switch t.Provider {
	case "whisper-native":
		var opts []whisper.NativeOption
		if t.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(t.Language))
		}
		return whisper.NewNative(t.ModelPath, opts...)
	case "whisper":
		var opts []whisper.Option
		if t.Language != "" {
			opts = append(opts, whisper.WithLanguage(t.Language))
		}
		return whisper.New(t.BaseURL, opts...)
	case "deepgram":
		return deepgram.New(t.APIKey)
	case "":
		return nil, ErrNoProvider
	default:
		return nil, fmt.Errorf("config: unknown transcribe provider %q", t.Provider)
	}
}
