package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atlas-assistant/cortex/internal/assembler"
	"github.com/atlas-assistant/cortex/internal/config"
	"github.com/atlas-assistant/cortex/internal/guardrail"
	"github.com/atlas-assistant/cortex/internal/orchestrator"
	"github.com/atlas-assistant/cortex/internal/registry"
	"github.com/atlas-assistant/cortex/pkg/types"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	reg := registry.New(registry.WithLogger(slog.New(slog.DiscardHandler)))
	cfg := &config.Config{}
	cfg.Server.DataDir = t.TempDir()

	a, err := New(context.Background(), cfg, reg,
		WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func TestNewInMemoryMode(t *testing.T) {
	a := newTestApp(t)

	if a.Pipeline() == nil {
		t.Error("Pipeline() = nil")
	}
	if a.gateway == nil {
		t.Error("gateway not built")
	}
	if a.guard == nil {
		t.Error("guardrail engine not built")
	}
	if a.sched == nil {
		t.Error("scheduler not built")
	}
	if a.stores.mem != nil {
		t.Error("postgres store created without a DSN")
	}
	// No synthesizer configured, no bridge.
	if a.bridge != nil {
		t.Error("tts bridge built without a provider")
	}
}

func TestShutdownIdempotent(t *testing.T) {
	a := newTestApp(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestSchedulerDisabled(t *testing.T) {
	reg := registry.New(registry.WithLogger(slog.New(slog.DiscardHandler)))
	cfg := &config.Config{}
	cfg.Scheduler.Disabled = true

	a, err := New(context.Background(), cfg, reg,
		WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	if a.sched != nil {
		t.Error("scheduler built despite disabled flag")
	}
}

func TestLoadRulePacks(t *testing.T) {
	defaults := guardrail.DefaultRuleSet().Len()

	t.Run("empty dir yields defaults", func(t *testing.T) {
		a := &App{logger: slog.New(slog.DiscardHandler), cfg: &config.Config{}}
		a.cfg.Guardrail.PacksDir = t.TempDir()

		rules, err := a.loadRulePacks()
		if err != nil {
			t.Fatalf("loadRulePacks: %v", err)
		}
		if rules.Len() != defaults {
			t.Errorf("rules = %d, want %d defaults", rules.Len(), defaults)
		}
	})

	t.Run("pack extends defaults", func(t *testing.T) {
		dir := t.TempDir()
		pack := []byte(`categories:
  - name: house-rules
    severity: warn
    patterns:
      - "open the safe"
`)
		if err := os.WriteFile(filepath.Join(dir, "house.yaml"), pack, 0o644); err != nil {
			t.Fatal(err)
		}
		a := &App{logger: slog.New(slog.DiscardHandler), cfg: &config.Config{}}
		a.cfg.Guardrail.PacksDir = dir

		rules, err := a.loadRulePacks()
		if err != nil {
			t.Fatalf("loadRulePacks: %v", err)
		}
		if rules.Len() != defaults+1 {
			t.Errorf("rules = %d, want %d", rules.Len(), defaults+1)
		}
	})

	t.Run("broken pack errors", func(t *testing.T) {
		dir := t.TempDir()
		pack := []byte("categories:\n  - name: bad\n    severity: nope\n    patterns: [\"x\"]\n")
		if err := os.WriteFile(filepath.Join(dir, "bad.yml"), pack, 0o644); err != nil {
			t.Fatal(err)
		}
		a := &App{logger: slog.New(slog.DiscardHandler), cfg: &config.Config{}}
		a.cfg.Guardrail.PacksDir = dir

		if _, err := a.loadRulePacks(); err == nil {
			t.Error("expected error for unknown severity")
		}
	})
}

func TestPacksDir(t *testing.T) {
	a := &App{cfg: &config.Config{}}
	a.cfg.Server.DataDir = "/var/lib/cortex"
	if got, want := a.packsDir(), filepath.Join("/var/lib/cortex", "guardrail"); got != want {
		t.Errorf("packsDir = %q, want %q", got, want)
	}

	a.cfg.Guardrail.PacksDir = "/etc/cortex/rules"
	if got := a.packsDir(); got != "/etc/cortex/rules" {
		t.Errorf("packsDir override = %q", got)
	}
}

func TestRoleModels(t *testing.T) {
	a := &App{cfg: &config.Config{}}
	a.cfg.Providers.LLM = []config.LLMBackend{
		{
			Name: "primary",
			Models: config.RoleModels{
				Fast:     "llama3.2:3b",
				Standard: "qwen2.5:14b",
			},
		},
		{
			Name:   "fallback",
			Models: config.RoleModels{Standard: "gpt-4o-mini"},
		},
	}

	models := a.roleModels()
	if len(models) != 2 {
		t.Fatalf("got %d roles, want 2", len(models))
	}
	if models[types.RoleFast] != "llama3.2:3b" {
		t.Errorf("fast = %q", models[types.RoleFast])
	}
	if models[types.RoleStandard] != "qwen2.5:14b" {
		t.Errorf("standard = %q, want the primary backend's model", models[types.RoleStandard])
	}
	if _, ok := models[types.RoleThinking]; ok {
		t.Error("thinking registered without a configured model")
	}
}

func TestRoleModelsNoBackends(t *testing.T) {
	a := &App{cfg: &config.Config{}}
	if got := a.roleModels(); len(got) != 0 {
		t.Errorf("roleModels = %v, want empty", got)
	}
}

func TestApplyConfigLogLevel(t *testing.T) {
	level := &slog.LevelVar{}
	a := &App{
		cfg:    &config.Config{},
		logger: slog.New(slog.DiscardHandler),
		level:  level,
	}

	old := &config.Config{}
	next := &config.Config{}
	next.Server.LogLevel = config.LogDebug

	a.ApplyConfig(old, next)
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}

	// Unchanged config is a no-op.
	a.ApplyConfig(next, next)
	if level.Level() != slog.LevelDebug {
		t.Errorf("level after no-op = %v", level.Level())
	}
}

type stubSummarizer struct{}

func (stubSummarizer) Summarize(ctx context.Context, msgs []types.Message) (*assembler.Checkpoint, error) {
	return &assembler.Checkpoint{Summary: "stub"}, nil
}

func TestAssemblerRecall(t *testing.T) {
	asm := assembler.New(1<<20, stubSummarizer{})
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		asm.Append(ctx, "kitchen", types.Message{
			Role:    "user",
			Content: fmt.Sprintf("turn %d", i),
		})
	}
	recall := assemblerRecall{asm}

	last := recall.RecentMessages("kitchen", 2)
	if len(last) != 2 {
		t.Fatalf("got %d messages, want 2", len(last))
	}
	if last[1].Content != "turn 5" {
		t.Errorf("newest = %q, want \"turn 5\"", last[1].Content)
	}

	if all := recall.RecentMessages("kitchen", 0); len(all) != 6 {
		t.Errorf("unlimited recall = %d messages, want 6", len(all))
	}
	if none := recall.RecentMessages("garage", 4); len(none) != 0 {
		t.Errorf("unknown session = %d messages, want 0", len(none))
	}
}

func TestSatelliteFillers(t *testing.T) {
	fillers := []orchestrator.Filler{
		{ID: "f-sec", Text: "One sec. ", Category: "general"},
		{ID: "f-dana", Text: "On it, love. ", Category: "personal", OwnerID: "user-dana"},
		{ID: "f-hmm", Text: "Hmm, let me check. ", Category: "general"},
	}

	out := satelliteFillers(fillers)
	if len(out) != 2 {
		t.Fatalf("got %d fillers, want 2 shared", len(out))
	}
	for _, f := range out {
		if f.ID == "f-dana" {
			t.Error("personal filler leaked to satellites")
		}
	}
}
