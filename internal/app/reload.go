package app

import (
	"context"
	"os"
	"path/filepath"

	"github.com/atlas-assistant/cortex/internal/assembler"
	"github.com/atlas-assistant/cortex/internal/config"
	"github.com/atlas-assistant/cortex/internal/guardrail"
	"github.com/atlas-assistant/cortex/internal/orchestrator"
	"github.com/atlas-assistant/cortex/internal/pipeline"
	"github.com/atlas-assistant/cortex/internal/satellite"
	"github.com/atlas-assistant/cortex/internal/transcript"
	"github.com/atlas-assistant/cortex/pkg/types"
)

// loadRulePacks compiles every YAML pack in the guardrail data dir on top
// of the built-in rules. A missing directory yields the defaults.
func (a *App) loadRulePacks() (*guardrail.RuleSet, error) {
	dir := a.packsDir()
	var raws [][]byte
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		paths, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			continue
		}
		for _, path := range paths {
			raw, err := os.ReadFile(path)
			if err != nil {
				a.logger.Warn("reading rule pack failed", "path", path, "error", err)
				continue
			}
			raws = append(raws, raw)
		}
	}
	if len(raws) == 0 {
		return guardrail.DefaultRuleSet(), nil
	}
	rules, err := guardrail.ParseRulePacks(raws...)
	if err != nil {
		return nil, err
	}
	a.logger.Info("guardrail rule packs loaded", "packs", len(raws), "rules", rules.Len())
	return rules, nil
}

// initPackWatchers hot-reloads guardrail rule packs and filler packs on
// file change. The initial scan is a no-op refresh of what New already
// loaded.
func (a *App) initPackWatchers() {
	a.packWatcher = config.NewDirWatcher(a.packsDir(), packPollInterval,
		func(path string, _ []byte) {
			rules, err := a.loadRulePacks()
			if err != nil {
				a.logger.Warn("rule pack reload failed, keeping current rules",
					"path", path, "error", err)
				return
			}
			a.guard.SwapRules(rules)
			a.logger.Info("guardrail rules reloaded", "path", path, "rules", rules.Len())
		})

	a.fillerWatcher = config.NewDirWatcher(a.fillersDir(), packPollInterval,
		func(path string, raw []byte) {
			fillers, err := orchestrator.ParseFillerPack(raw)
			if err != nil {
				a.logger.Warn("filler pack reload failed, keeping current pool",
					"path", path, "error", err)
				return
			}
			a.orch.Fillers().SetFillers(fillers)
			a.gateway.SetFillers(context.Background(), satelliteFillers(fillers))
			a.logger.Info("fillers reloaded", "path", path, "count", len(fillers))
		})
}

// ApplyConfig reacts to a config file change. Only hot-swappable settings
// take effect; the rest need a restart.
func (a *App) ApplyConfig(old, next *config.Config) {
	diff := config.Diff(old, next)
	if diff.Empty() {
		return
	}

	if diff.LogLevelChanged && a.level != nil {
		a.level.Set(diff.NewLogLevel.Slog())
		a.logger.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.ModelsChanged {
		a.cfg.Providers.LLM = next.Providers.LLM
		updates := make(map[types.Role]string, 3)
		if diff.NewModels.Fast != "" {
			updates[types.RoleFast] = diff.NewModels.Fast
		}
		if diff.NewModels.Standard != "" {
			updates[types.RoleStandard] = diff.NewModels.Standard
		}
		if diff.NewModels.Thinking != "" {
			updates[types.RoleThinking] = diff.NewModels.Thinking
		}
		if err := a.models.Set(updates); err != nil {
			a.logger.Warn("applying model change failed", "error", err)
		}
	}
	if diff.DiscordChannelsChanged {
		a.logger.Warn("discord channel list changed, restart required to apply")
	}
	if diff.GuardrailPacksChanged {
		a.logger.Warn("guardrail packs_dir changed, restart required to apply")
	}
}

// loadVocabulary collects the correction vocabulary: household member
// names and known device names plus aliases.
func (a *App) loadVocabulary(ctx context.Context) []string {
	var vocab []string
	seen := make(map[string]struct{})
	add := func(s string) {
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		vocab = append(vocab, s)
	}

	profiles, err := a.stores.profiles.ListProfiles(ctx)
	if err != nil {
		a.logger.Warn("listing profiles for vocabulary failed", "error", err)
	}
	for _, p := range profiles {
		add(p.Name)
	}

	if a.stores.actions != nil {
		devices, err := a.stores.actions.ListDevices(ctx, "")
		if err != nil {
			a.logger.Warn("listing devices for vocabulary failed", "error", err)
		}
		for _, d := range devices {
			add(d.Name)
			for _, alias := range d.Aliases {
				add(alias)
			}
		}
	}
	return vocab
}

// assemblerRecall adapts the session window to the instant layer's recall
// interface.
type assemblerRecall struct {
	asm *assembler.Assembler
}

func (r assemblerRecall) RecentMessages(sessionID string, limit int) []types.Message {
	msgs := r.asm.ActiveTurns(sessionID)
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs
}

// correctingPipeline repairs satellite transcripts against the household
// vocabulary before handing the turn to the driver. Other channels pass
// through untouched.
type correctingPipeline struct {
	driver    *pipeline.Driver
	corrector *transcript.CorrectionPipeline
	vocab     func() []string
}

func (p *correctingPipeline) Process(ctx context.Context, turn types.Turn) pipeline.Resolution {
	if turn.Channel == types.ChannelSatellite && turn.Text != "" {
		corrected, err := p.corrector.Correct(ctx, types.Transcript{Text: turn.Text}, p.vocab())
		if err == nil && corrected.Corrected != "" {
			turn.Text = corrected.Corrected
		}
	}
	return p.driver.Process(ctx, turn)
}

// satelliteFillers converts pool fillers to the wire representation.
func satelliteFillers(fillers []orchestrator.Filler) []satellite.Filler {
	out := make([]satellite.Filler, 0, len(fillers))
	for _, f := range fillers {
		// Personal fillers stay server-side; satellites cache only the
		// shared set.
		if f.OwnerID != "" {
			continue
		}
		out = append(out, satellite.Filler{ID: f.ID, Text: f.Text})
	}
	return out
}
