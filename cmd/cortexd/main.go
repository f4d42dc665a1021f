// Command cortexd is the Atlas Cortex server: the request-processing
// core behind the household's satellites, the Discord bridge, and the
// admin API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/atlas-assistant/cortex/internal/app"
	discordbridge "github.com/atlas-assistant/cortex/internal/channel/discord"
	"github.com/atlas-assistant/cortex/internal/config"
	"github.com/atlas-assistant/cortex/internal/observe"
	"github.com/atlas-assistant/cortex/internal/registry"
	"github.com/atlas-assistant/cortex/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	// A .env next to the binary is a dev convenience; absence is fine.
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "cortexd: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "cortexd: %v\n", err)
		}
		return 1
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Slog())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("cortexd starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr(),
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "cortex"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg, err := buildRegistry(cfg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, reg, app.WithLogLevel(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// Discord bridge (optional).
	var bridge *discordbridge.Bridge
	if cfg.Discord.Token != "" {
		bridge, err = discordbridge.New(ctx, discordbridge.Config{
			Token:    cfg.Discord.Token,
			Channels: cfg.Discord.Channels,
		}, application.Pipeline())
		if err != nil {
			slog.Error("failed to connect Discord bridge", "err", err)
			return 1
		}
		go func() {
			if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("discord bridge error", "err", err)
			}
		}()
		slog.Info("discord bridge connected", "channels", len(cfg.Discord.Channels))
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Close the Discord bridge first so no new turns arrive mid-teardown.
	if bridge != nil {
		if err := bridge.Close(); err != nil {
			slog.Warn("discord bridge close error", "err", err)
		}
	}

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildRegistry instantiates every provider the config names and loads
// them into a fresh registry. Chat backends register in config order, so
// the first entry is the primary and later ones are fallbacks.
func buildRegistry(cfg *config.Config) (*registry.Registry, error) {
	reg := registry.New()

	for _, backend := range cfg.Providers.LLM {
		for role, model := range map[types.Role]string{
			types.RoleFast:     backend.Models.Fast,
			types.RoleStandard: backend.Models.Standard,
			types.RoleThinking: backend.Models.Thinking,
		} {
			if model == "" {
				continue
			}
			p, err := config.NewChatProvider(backend, model)
			if err != nil {
				return nil, fmt.Errorf("chat backend %q: %w", backend.Name, err)
			}
			if err := reg.RegisterChat(role, backend.Name, p); err != nil {
				return nil, err
			}
			slog.Info("provider created", "kind", "chat", "role", role,
				"backend", backend.Name, "model", model)
		}
	}

	embedder, err := config.NewEmbeddingProvider(cfg.Providers.Embedding, cfg.Memory.EmbeddingDimensions)
	switch {
	case errors.Is(err, config.ErrNoProvider):
		slog.Info("no embedding provider configured, using hashed fallback")
	case err != nil:
		return nil, fmt.Errorf("embedding provider: %w", err)
	default:
		reg.RegisterEmbedder(cfg.Providers.Embedding.Provider, embedder)
		slog.Info("provider created", "kind", "embedding",
			"name", cfg.Providers.Embedding.Provider, "model", cfg.Providers.Embedding.Model)
	}

	synth, err := config.NewSynthesizer(cfg.Providers.TTS)
	switch {
	case errors.Is(err, config.ErrNoProvider):
		slog.Info("no tts provider configured, voice output disabled")
	case err != nil:
		return nil, fmt.Errorf("tts provider: %w", err)
	default:
		reg.RegisterSynthesizer(cfg.Providers.TTS.Provider, synth)
		slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Provider)
	}

	transcriber, err := config.NewTranscriber(cfg.Providers.Transcribe)
	switch {
	case errors.Is(err, config.ErrNoProvider):
		slog.Info("no transcribe provider configured, satellite voice input disabled")
	case err != nil:
		return nil, fmt.Errorf("transcribe provider: %w", err)
	default:
		reg.RegisterTranscriber(cfg.Providers.Transcribe.Provider, transcriber)
		slog.Info("provider created", "kind", "transcribe", "name", cfg.Providers.Transcribe.Provider)
	}

	return reg, nil
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       Atlas Cortex — startup          ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	if len(cfg.Providers.LLM) > 0 {
		primary := cfg.Providers.LLM[0]
		printRow("Fast", providerValue(primary.Provider, primary.Models.Fast))
		printRow("Standard", providerValue(primary.Provider, primary.Models.Standard))
		printRow("Thinking", providerValue(primary.Provider, primary.Models.Thinking))
		printRow("Fallbacks", fmt.Sprintf("%d", len(cfg.Providers.LLM)-1))
	} else {
		printRow("Chat", "(not configured)")
	}
	printRow("Embedding", providerValue(cfg.Providers.Embedding.Provider, cfg.Providers.Embedding.Model))
	printRow("TTS", providerValue(cfg.Providers.TTS.Provider, ""))
	printRow("Transcribe", providerValue(cfg.Providers.Transcribe.Provider, ""))
	if cfg.Memory.PostgresDSN != "" {
		printRow("Store", "postgres")
	} else {
		printRow("Store", "in-memory")
	}
	if cfg.Discord.Token != "" {
		printRow("Discord", "enabled")
	} else {
		printRow("Discord", "(disabled)")
	}
	printRow("Integrations", fmt.Sprintf("%d", len(cfg.Integrations.Servers)))
	printRow("Listen addr", cfg.Server.ListenAddr())
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s : %-19s ║\n", label, value)
}

func providerValue(name, model string) string {
	if name == "" {
		return "(not configured)"
	}
	if model != "" {
		return name + " / " + model
	}
	return name
}
