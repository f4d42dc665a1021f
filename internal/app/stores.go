package app

import (
	"context"

	"github.com/atlas-assistant/cortex/internal/action"
	"github.com/atlas-assistant/cortex/internal/assembler"
	"github.com/atlas-assistant/cortex/internal/auth"
	"github.com/atlas-assistant/cortex/internal/guardrail"
	"github.com/atlas-assistant/cortex/internal/orchestrator"
	"github.com/atlas-assistant/cortex/internal/profile"
	"github.com/atlas-assistant/cortex/internal/registry"
	"github.com/atlas-assistant/cortex/pkg/memory"
	memorymock "github.com/atlas-assistant/cortex/pkg/memory/mock"
	pgstore "github.com/atlas-assistant/cortex/pkg/memory/postgres"
)

// stores holds every persistence surface. With a PostgreSQL DSN all of
// them share the central pool; without one the optional stores stay nil
// and their features degrade (nothing survives a restart).
type stores struct {
	mem *pgstore.Store

	index        memory.Index
	queue        memory.Queue
	interactions memory.InteractionStore

	profiles profile.Store
	users    auth.Store

	// Postgres-only surfaces. Nil in database-free mode.
	guard       *guardrail.PostgresStore
	actions     *action.PostgresStore
	orch        *orchestrator.PostgresStore
	checkpoints *assembler.PostgresStore
	models      *registry.PostgresStore
}

// initStores connects the configured persistence, falling back to the
// in-memory implementations when no DSN is set. Injected stores
// (functional options) win over both.
func (a *App) initStores(ctx context.Context) error {
	dsn := a.cfg.Memory.PostgresDSN
	if dsn == "" {
		a.logger.Warn("no postgres_dsn configured, running all stores in memory")
		a.initMemoryStores()
		return nil
	}

	dims := a.cfg.Memory.EmbeddingDimensions
	if dims == 0 {
		dims = a.reg.Embedder().Dimensions()
	}

	store, err := pgstore.NewStore(ctx, dsn, dims)
	if err != nil {
		return err
	}
	a.stores.mem = store
	a.closers = append(a.closers, closer{"postgres pool", func() error {
		store.Close()
		return nil
	}})

	pool := store.Pool()
	if a.stores.index == nil {
		a.stores.index = store.Index()
	}
	if a.stores.queue == nil {
		a.stores.queue = store.Queue()
	}
	if a.stores.interactions == nil {
		a.stores.interactions = store.Interactions()
	}

	if a.stores.profiles == nil {
		ps := profile.NewPostgresStore(pool)
		if err := ps.Migrate(ctx); err != nil {
			return err
		}
		a.stores.profiles = ps
	}
	if a.stores.users == nil {
		us := auth.NewPostgresStore(pool)
		if err := us.Migrate(ctx); err != nil {
			return err
		}
		a.stores.users = us
	}

	a.stores.guard = guardrail.NewPostgresStore(pool)
	if err := a.stores.guard.Migrate(ctx); err != nil {
		return err
	}
	a.stores.actions = action.NewPostgresStore(pool)
	if err := a.stores.actions.Migrate(ctx); err != nil {
		return err
	}
	a.stores.orch = orchestrator.NewPostgresStore(pool)
	if err := a.stores.orch.Migrate(ctx); err != nil {
		return err
	}
	a.stores.checkpoints = assembler.NewPostgresStore(pool)
	if err := a.stores.checkpoints.Migrate(ctx); err != nil {
		return err
	}
	a.stores.models = registry.NewPostgresStore(pool)
	if err := a.stores.models.Migrate(ctx); err != nil {
		return err
	}
	return nil
}

// initMemoryStores fills the unset surfaces with in-memory versions.
func (a *App) initMemoryStores() {
	if a.stores.index == nil {
		a.stores.index = memorymock.NewIndex()
	}
	if a.stores.queue == nil {
		a.stores.queue = memorymock.NewQueue()
	}
	if a.stores.interactions == nil {
		a.stores.interactions = memorymock.NewInteractionStore()
	}
	if a.stores.profiles == nil {
		a.stores.profiles = profile.NewMemStore()
	}
	if a.stores.users == nil {
		a.stores.users = auth.NewMemStore()
	}
}
