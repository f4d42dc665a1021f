// Package app wires the cortex subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects the
// stores, the safety engine, the turn pipeline, and the HTTP surface;
// Run serves until the context is cancelled; Shutdown tears everything
// down in order against a deadline.
//
// For testing, inject in-memory stores via the functional options. When
// an option is not provided, New creates real implementations from the
// config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atlas-assistant/cortex/internal/action"
	"github.com/atlas-assistant/cortex/internal/assembler"
	"github.com/atlas-assistant/cortex/internal/auth"
	"github.com/atlas-assistant/cortex/internal/config"
	"github.com/atlas-assistant/cortex/internal/guardrail"
	"github.com/atlas-assistant/cortex/internal/health"
	"github.com/atlas-assistant/cortex/internal/instant"
	"github.com/atlas-assistant/cortex/internal/integration"
	"github.com/atlas-assistant/cortex/internal/observe"
	"github.com/atlas-assistant/cortex/internal/orchestrator"
	"github.com/atlas-assistant/cortex/internal/pipeline"
	"github.com/atlas-assistant/cortex/internal/profile"
	"github.com/atlas-assistant/cortex/internal/registry"
	"github.com/atlas-assistant/cortex/internal/satellite"
	"github.com/atlas-assistant/cortex/internal/scheduler"
	"github.com/atlas-assistant/cortex/internal/sentiment"
	"github.com/atlas-assistant/cortex/internal/server"
	"github.com/atlas-assistant/cortex/internal/spatial"
	"github.com/atlas-assistant/cortex/internal/transcript"
	"github.com/atlas-assistant/cortex/internal/transcript/phonetic"
	"github.com/atlas-assistant/cortex/internal/ttsbridge"
	"github.com/atlas-assistant/cortex/pkg/memory"
	"github.com/atlas-assistant/cortex/pkg/types"
)

// packPollInterval is how often the data-pack watchers re-hash their
// directories.
const packPollInterval = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config
	reg *registry.Registry

	logger  *slog.Logger
	level   *slog.LevelVar
	metrics *observe.Metrics

	stores stores

	guard     *guardrail.Engine
	learner   *guardrail.Learner
	identity  *profile.Resolver
	spatial   *spatial.Resolver
	searcher  *memory.Searcher
	consumer  *memory.Consumer
	assembler *assembler.Assembler
	instant   *instant.Resolver
	actions   *action.Registry
	host      *integration.Host
	orch      *orchestrator.Orchestrator
	driver    *pipeline.Driver
	bridge    *ttsbridge.Bridge
	gateway   *satellite.Gateway
	corrector *transcript.CorrectionPipeline
	vocab     []string
	models    *server.ModelSettings
	sched     *scheduler.Scheduler

	httpSrv *http.Server

	packWatcher   *config.DirWatcher
	fillerWatcher *config.DirWatcher

	// closers run in order during Shutdown.
	closers []closer

	stopOnce sync.Once
}

// closer is one named teardown step.
type closer struct {
	name string
	fn   func() error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the application logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithLogLevel attaches the level var behind the default slog handler so
// config reloads can change verbosity at runtime.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithProfileStore injects a profile store instead of creating one from
// config.
func WithProfileStore(s profile.Store) Option {
	return func(a *App) { a.stores.profiles = s }
}

// WithMemoryStores injects the three memory surfaces instead of creating
// them from config.
func WithMemoryStores(index memory.Index, queue memory.Queue, interactions memory.InteractionStore) Option {
	return func(a *App) {
		a.stores.index = index
		a.stores.queue = queue
		a.stores.interactions = interactions
	}
}

// WithAuthStore injects a user store for the admin surface.
func WithAuthStore(s auth.Store) Option {
	return func(a *App) { a.stores.users = s }
}

// WithMetrics injects a metrics instance (tests use a manual reader).
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New wires all subsystems. The registry comes from main, already loaded
// with the providers the config names.
func New(ctx context.Context, cfg *config.Config, reg *registry.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:    cfg,
		reg:    reg,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStores(ctx); err != nil {
		return nil, fmt.Errorf("app: init stores: %w", err)
	}
	if err := a.initGuardrail(ctx); err != nil {
		return nil, fmt.Errorf("app: init guardrail: %w", err)
	}
	a.initContext(ctx)
	if err := a.initActions(ctx); err != nil {
		return nil, fmt.Errorf("app: init actions: %w", err)
	}
	if err := a.initGeneration(ctx); err != nil {
		return nil, fmt.Errorf("app: init generation: %w", err)
	}
	a.initPipeline()
	if err := a.initVoice(ctx); err != nil {
		return nil, fmt.Errorf("app: init voice: %w", err)
	}
	if err := a.initServer(ctx); err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}
	if err := a.initScheduler(); err != nil {
		return nil, fmt.Errorf("app: init scheduler: %w", err)
	}
	a.initPackWatchers()

	return a, nil
}

// initGuardrail builds the safety engine from the rule packs on disk plus
// the stored learned patterns.
func (a *App) initGuardrail(ctx context.Context) error {
	rules, err := a.loadRulePacks()
	if err != nil {
		return err
	}

	embedder := a.reg.Embedder()
	var exemplars []guardrail.Exemplar
	if a.stores.guard != nil {
		exemplars, err = a.stores.guard.ListExemplars(ctx)
		if err != nil {
			a.logger.Warn("loading jailbreak exemplars failed", "error", err)
		}
	}
	semantic := guardrail.NewSemanticDetector(embedder, exemplars)

	engineOpts := []guardrail.EngineOption{
		guardrail.WithSemanticDetector(semantic),
		guardrail.WithEngineLogger(a.logger.With("component", "guardrail")),
	}
	if a.stores.guard != nil {
		engineOpts = append(engineOpts, guardrail.WithEventSink(a.stores.guard))
	}
	a.guard = guardrail.NewEngine(rules, engineOpts...)

	if a.stores.guard != nil {
		a.learner = guardrail.NewLearner(
			a.stores.guard, embedder, a.guard, semantic, nil,
			a.logger.With("component", "guardrail-learner"))
	}
	return nil
}

// initContext builds the per-turn context suppliers: identity, spatial,
// sentiment inputs, memory search, and the session window assembler.
func (a *App) initContext(ctx context.Context) {
	a.identity = profile.NewResolver(a.stores.profiles, a.logger.With("component", "identity"))
	a.spatial = spatial.New(a.satelliteAreas(ctx),
		spatial.WithLogger(a.logger.With("component", "spatial")))

	embedder := a.reg.Embedder()
	a.searcher = memory.NewSearcher(a.stores.index, embedder)
	a.consumer = memory.NewConsumer(a.stores.queue, a.stores.index, embedder)

	contextTokens := a.cfg.Generation.ContextDefault
	if contextTokens == 0 {
		contextTokens = 8192
	}
	summarizer := assembler.NewLLMSummarizer(a.reg.Chat(types.RoleFast))
	asmOpts := []assembler.Option{
		assembler.WithLogger(a.logger.With("component", "assembler")),
	}
	if a.stores.checkpoints != nil {
		asmOpts = append(asmOpts, assembler.WithCheckpointStore(a.stores.checkpoints))
	}
	a.assembler = assembler.New(contextTokens, summarizer, asmOpts...)

	a.instant = instant.New(
		instant.WithSessionRecall(assemblerRecall{a.assembler}),
	)
}

// satelliteAreas merges the static config map with the satellites the
// store has seen announce before. Config entries win.
func (a *App) satelliteAreas(ctx context.Context) map[string]string {
	areas := make(map[string]string, len(a.cfg.Satellites.Areas))
	for id, area := range a.cfg.Satellites.Areas {
		areas[id] = area
	}
	if a.stores.actions == nil {
		return areas
	}
	sats, err := a.stores.actions.ListSatellites(ctx)
	if err != nil {
		a.logger.Warn("listing known satellites failed", "error", err)
		return areas
	}
	for _, sat := range sats {
		if _, ok := areas[sat.ID]; !ok && sat.Area != "" {
			areas[sat.ID] = sat.Area
		}
	}
	return areas
}

// initActions builds the direct-action layer: the pattern registry, the
// integration host contributing device tools, and the dispatcher.
func (a *App) initActions(ctx context.Context) error {
	a.actions = action.NewRegistry()
	if a.stores.actions != nil {
		if err := action.LoadRegistry(ctx, a.stores.actions, a.actions); err != nil {
			return err
		}
	}

	a.host = integration.NewHost(
		integration.WithHostLogger(a.logger.With("component", "integration")))
	a.closers = append(a.closers, closer{"integration host", a.host.Close})

	for _, srv := range a.cfg.Integrations.Servers {
		err := a.host.RegisterServer(ctx, integration.ServerConfig{
			Name:      srv.Name,
			Transport: srv.Transport,
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
		})
		if err != nil {
			return fmt.Errorf("register integration %q: %w", srv.Name, err)
		}
		a.logger.Info("integration registered", "name", srv.Name, "transport", srv.Transport)
	}

	if err := a.host.RegisterBuiltin(integration.MemoryRecallTool(a.searcher)); err != nil {
		return err
	}
	if n, err := a.host.ContributeActions(a.actions); err != nil {
		a.logger.Warn("contributing integration actions failed", "error", err)
	} else if n > 0 {
		a.logger.Info("integration actions contributed", "count", n)
	}
	return nil
}

// initGeneration builds the filler pool and the generation orchestrator.
func (a *App) initGeneration(ctx context.Context) error {
	pool := orchestrator.NewFillerPool()
	if a.stores.orch != nil {
		if err := orchestrator.LoadFillers(ctx, a.stores.orch, pool); err != nil {
			a.logger.Warn("loading fillers failed, using builtin pool", "error", err)
		}
	}

	a.orch = orchestrator.New(a.reg.Chat(types.RoleStandard),
		orchestrator.WithRepairProvider(a.reg.Chat(types.RoleFast)),
		orchestrator.WithRoleChooser(a.reg.Chat),
		orchestrator.WithFillerPool(pool),
		orchestrator.WithLogger(a.logger.With("component", "orchestrator")),
	)
	return nil
}

// initPipeline assembles the turn driver over everything built so far.
func (a *App) initPipeline() {
	dispatcherOpts := []action.DispatcherOption{
		action.WithParentalStore(a.stores.profiles),
		action.WithLogger(a.logger.With("component", "dispatcher")),
	}
	if a.stores.actions != nil {
		dispatcherOpts = append(dispatcherOpts, action.WithHitRecorder(a.stores.actions))
	}
	dispatcher := action.NewDispatcher(a.actions, dispatcherOpts...)

	a.driver = pipeline.New(pipeline.Deps{
		Guard:        a.guard,
		Learner:      a.learner,
		Identity:     a.identity,
		Profiles:     a.stores.profiles,
		Sentiment:    sentiment.New(),
		Spatial:      a.spatial,
		Memories:     a.searcher,
		Assembler:    a.assembler,
		Instant:      a.instant,
		Actions:      a.actions,
		Dispatcher:   dispatcher,
		Orchestrator: a.orch,
		Interactions: a.stores.interactions,
		Queue:        a.stores.queue,
	},
		pipeline.WithLogger(a.logger.With("component", "pipeline")),
		pipeline.WithMetrics(a.metrics),
	)
}

// initVoice builds the TTS bridge, the transcript corrector, and the
// satellite gateway.
func (a *App) initVoice(ctx context.Context) error {
	if a.cfg.Providers.TTS.Provider != "" {
		voice := types.VoiceProfile{
			ID:       a.cfg.Providers.TTS.Voice,
			Provider: a.cfg.Providers.TTS.Provider,
		}
		a.bridge = ttsbridge.New(a.reg.Synthesizer(), voice,
			ttsbridge.WithLogger(a.logger.With("component", "ttsbridge")))
	}

	a.vocab = a.loadVocabulary(ctx)
	a.corrector = transcript.NewPipeline(
		transcript.WithPhoneticMatcher(phonetic.New()),
	)

	transcriber := a.reg.Transcriber()
	gatewayOpts := []satellite.Option{
		satellite.WithLogger(a.logger.With("component", "satellite")),
	}
	if payload := a.satelliteConfigPayload(); payload != nil {
		gatewayOpts = append(gatewayOpts, satellite.WithConfigPayload(payload))
	}
	if store := a.stores.actions; store != nil {
		logger := a.logger
		gatewayOpts = append(gatewayOpts, satellite.WithAnnounceHook(func(id, area string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := store.UpsertSatellite(ctx, id, area); err != nil {
				logger.Warn("recording satellite announce failed",
					"satellite_id", id, "error", err)
			}
		}))
	}
	var voicer satellite.Voicer
	if a.bridge != nil {
		voicer = a.bridge
	}
	a.gateway = satellite.New(
		&correctingPipeline{driver: a.driver, corrector: a.corrector, vocab: func() []string { return a.vocab }},
		voicer,
		transcriber,
		gatewayOpts...,
	)
	a.gateway.SetFillers(ctx, satelliteFillers(a.orch.Fillers().Fillers()))
	return nil
}

// satelliteConfigPayload is the CONFIG frame body pushed to satellites
// after announce.
func (a *App) satelliteConfigPayload() json.RawMessage {
	payload, err := json.Marshal(struct {
		TTSSampleRate int      `json:"tts_sample_rate"`
		Keywords      []string `json:"keywords,omitempty"`
	}{
		TTSSampleRate: 22050,
		Keywords:      a.vocab,
	})
	if err != nil {
		return nil
	}
	return payload
}

// initServer builds the HTTP surface.
func (a *App) initServer(ctx context.Context) error {
	var authSvc *auth.Service
	if a.cfg.Auth.JWTSecret != "" {
		svc, err := auth.NewService(a.stores.users, auth.Config{
			Secret:        a.cfg.Auth.JWTSecret,
			TokenDuration: a.cfg.Auth.JWTExpiry.Std(),
		})
		if err != nil {
			return err
		}
		authSvc = svc
	}

	initial := a.roleModels()
	overrides := make(map[types.Role]string)
	if a.stores.models != nil {
		persisted, err := a.stores.models.LoadModelConfig(ctx)
		if err != nil {
			a.logger.Warn("loading persisted model config failed", "error", err)
		}
		for role, model := range persisted {
			if model != "" && initial[role] != model {
				initial[role] = model
				overrides[role] = model
			}
		}
	}
	a.models = server.NewModelSettings(initial)
	a.models.OnChange(a.applyModels)
	if len(overrides) > 0 {
		// Persisted admin changes supersede the config file's models.
		a.applyModels(overrides)
	}

	checkers := []health.Checker{
		{Name: "providers", Check: a.reg.Health},
	}
	if a.stores.mem != nil {
		pool := a.stores.mem.Pool()
		checkers = append(checkers, health.Checker{
			Name:  "postgres",
			Check: func(ctx context.Context) error { return pool.Ping(ctx) },
		})
	}

	deps := server.Deps{
		Pipeline:   a.driver,
		Gateway:    a.gateway,
		Auth:       authSvc,
		Profiles:   a.stores.profiles,
		Actions:    a.actions,
		Embedder:   a.reg.Embedder(),
		Models:     a.models,
		Health:     health.New(checkers...),
		Metrics:    promhttp.Handler(),
		Middleware: observe.Middleware(a.metrics),
	}
	if a.bridge != nil {
		deps.Synth = a.bridge
	}
	if a.stores.guard != nil {
		deps.GuardEvents = a.stores.guard
	}
	if a.stores.actions != nil {
		deps.Patterns = a.stores.actions
	}

	srv := server.New(deps, server.WithLogger(a.logger.With("component", "server")))

	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// roleModels is the initial role→model map from the primary backend.
func (a *App) roleModels() map[types.Role]string {
	out := make(map[types.Role]string, 3)
	if len(a.cfg.Providers.LLM) == 0 {
		return out
	}
	models := a.cfg.Providers.LLM[0].Models
	if models.Fast != "" {
		out[types.RoleFast] = models.Fast
	}
	if models.Standard != "" {
		out[types.RoleStandard] = models.Standard
	}
	if models.Thinking != "" {
		out[types.RoleThinking] = models.Thinking
	}
	return out
}

// applyModels rebuilds chat providers on the primary backend after an
// admin or config-reload model change.
func (a *App) applyModels(models map[types.Role]string) {
	if len(a.cfg.Providers.LLM) == 0 {
		return
	}
	primary := a.cfg.Providers.LLM[0]
	for role, model := range models {
		p, err := config.NewChatProvider(primary, model)
		if err != nil {
			a.logger.Error("rebuilding chat provider failed",
				"role", role, "model", model, "error", err)
			continue
		}
		if err := a.reg.ReplaceChat(role, primary.Name, p); err != nil {
			a.logger.Error("swapping chat provider failed", "role", role, "error", err)
			continue
		}
		a.logger.Info("model changed", "role", role, "model", model)
	}

	if a.stores.models != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.stores.models.SaveModelConfig(ctx, models); err != nil {
			a.logger.Warn("persisting model config failed", "error", err)
		}
	}
}

// initScheduler registers the cron jobs unless disabled.
func (a *App) initScheduler() error {
	if a.cfg.Scheduler.Disabled {
		return nil
	}

	jobs := scheduler.Jobs{Rapport: a.stores.profiles}
	if a.learner != nil {
		jobs.Learner = a.learner
	}
	if a.stores.actions != nil {
		jobs.Patterns = a.stores.actions
	}
	if a.stores.mem != nil {
		store := a.stores.mem
		logger := a.logger.With("component", "scheduler")
		jobs.Rollup = func(ctx context.Context) error {
			st, err := store.Stats(ctx)
			if err != nil {
				return err
			}
			logger.Info("memory rollup",
				"records", st.Records,
				"queue_depth", st.QueueDepth,
				"interactions", st.Interactions)
			return store.RecordMetrics(ctx, st)
		}
		jobs.BackupMark = func(ctx context.Context) error {
			return store.MarkBackup(ctx, "nightly")
		}
	}

	opts := []scheduler.Option{
		scheduler.WithLogger(a.logger.With("component", "scheduler")),
	}
	if days := a.cfg.Scheduler.PatternStaleDays; days > 0 {
		opts = append(opts, scheduler.WithStaleAfter(time.Duration(days)*24*time.Hour))
	}

	sched, err := scheduler.New(jobs, opts...)
	if err != nil {
		return err
	}
	a.sched = sched
	return nil
}

// Run serves until ctx is cancelled or the HTTP listener fails.
func (a *App) Run(ctx context.Context) error {
	a.reg.Start(ctx)
	a.consumer.Start(ctx)
	a.closers = append(a.closers, closer{"memory consumer", func() error {
		a.consumer.Stop()
		return nil
	}})

	if a.sched != nil {
		a.sched.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	a.logger.Info("serving", "addr", a.httpSrv.Addr)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: http server: %w", err)
	}
}

// Shutdown tears everything down in order. It respects the context
// deadline: when ctx expires, remaining closers are skipped.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		if a.httpSrv != nil {
			if err := a.httpSrv.Shutdown(ctx); err != nil {
				a.logger.Warn("http shutdown error", "error", err)
			}
		}
		if a.sched != nil {
			a.sched.Stop()
		}
		if a.packWatcher != nil {
			a.packWatcher.Stop()
		}
		if a.fillerWatcher != nil {
			a.fillerWatcher.Stop()
		}

		for i, c := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded",
					"remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := c.fn(); err != nil {
				a.logger.Warn("closer failed", "closer", c.name, "error", err)
			}
		}
		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}

// Pipeline exposes the turn driver (the Discord bridge processes turns
// through it).
func (a *App) Pipeline() *pipeline.Driver { return a.driver }

// packsDir resolves the guardrail rule pack directory.
func (a *App) packsDir() string {
	if a.cfg.Guardrail.PacksDir != "" {
		return a.cfg.Guardrail.PacksDir
	}
	return filepath.Join(a.cfg.Server.DataDir, "guardrail")
}

// fillersDir is the filler pack directory under the data dir.
func (a *App) fillersDir() string {
	return filepath.Join(a.cfg.Server.DataDir, "fillers")
}
