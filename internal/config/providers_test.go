package config_test

import (
	"errors"
	"testing"

	"github.com/atlas-assistant/cortex/internal/config"
)

func TestNewChatProviderRequiresModel(t *testing.T) {
	_, err := config.NewChatProvider(config.LLMBackend{Name: "local", Provider: "ollama"}, "")
	if err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNewChatProviderBuildsAnyLLM(t *testing.T) {
	p, err := config.NewChatProvider(config.LLMBackend{
		Name:     "local",
		Provider: "ollama",
		BaseURL:  "http://127.0.0.1:11434",
	}, "qwen2.5:14b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("provider is nil")
	}
}

func TestNewEmbeddingProvider(t *testing.T) {
	tests := []struct {
		name    string
		backend config.EmbeddingBackend
		wantErr error
		wantNil bool
	}{
		{"empty falls back", config.EmbeddingBackend{}, config.ErrNoProvider, true},
		{"hashed falls back", config.EmbeddingBackend{Provider: "hashed"}, config.ErrNoProvider, true},
		{"unknown provider", config.EmbeddingBackend{Provider: "qdrant"}, nil, true},
		{
			"ollama",
			config.EmbeddingBackend{Provider: "ollama", BaseURL: "http://127.0.0.1:11434", Model: "nomic-embed-text"},
			nil, false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := config.NewEmbeddingProvider(tt.backend, 768)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if tt.wantNil {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p == nil {
				t.Fatal("provider is nil")
			}
		})
	}
}

func TestNewSynthesizerDisabledWhenEmpty(t *testing.T) {
	_, err := config.NewSynthesizer(config.TTSBackend{})
	if !errors.Is(err, config.ErrNoProvider) {
		t.Fatalf("err = %v, want ErrNoProvider", err)
	}
}

func TestNewSynthesizerCoqui(t *testing.T) {
	p, err := config.NewSynthesizer(config.TTSBackend{
		Provider: "coqui",
		BaseURL:  "http://127.0.0.1:5002",
		Language: "en",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("provider is nil")
	}
}

func TestNewTranscriberDisabledWhenEmpty(t *testing.T) {
	_, err := config.NewTranscriber(config.TranscribeBackend{})
	if !errors.Is(err, config.ErrNoProvider) {
		t.Fatalf("err = %v, want ErrNoProvider", err)
	}
}

func TestNewTranscriberUnknown(t *testing.T) {
	_, err := config.NewTranscriber(config.TranscribeBackend{Provider: "vosk"})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
