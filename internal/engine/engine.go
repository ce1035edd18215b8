// Package engine wires components C1-C9 into the control surface described
// in spec.md §6.3: Execute(work_plan, options) -> run_result, plus the
// namespace-listing query used by front ends to discover what operators are
// available (SPEC_FULL.md §D.1).
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxlogica/voxengine/internal/ast"
	"github.com/voxlogica/voxengine/internal/config"
	"github.com/voxlogica/voxengine/internal/goals"
	"github.com/voxlogica/voxengine/internal/plan"
	"github.com/voxlogica/voxengine/internal/reducer"
	"github.com/voxlogica/voxengine/internal/registry"
	"github.com/voxlogica/voxengine/internal/scheduler"
	"github.com/voxlogica/voxengine/internal/store"
)

// Options configures one Execute call (spec.md §6.3).
type Options struct {
	// Concurrency bounds simultaneous primitive invocations. Zero means use
	// the engine's configured default.
	Concurrency int
	// NoCache routes this run through a discarded in-memory store instead of
	// the engine's persistent one, so results are neither read from nor
	// written to cross-run memoization (spec.md §6.3).
	NoCache bool
}

// Engine owns the long-lived persistent store, primitive registry, and
// configuration, and runs programs against them.
type Engine struct {
	cfg      *config.Config
	store    *store.Store
	registry *registry.Registry
	logger   *slog.Logger

	heartbeatStop chan struct{}
	heartbeatDone chan struct{}
}

// Open builds an Engine from cfg: opens the persistent store, reclaims
// crashed session claims (spec.md §4.2, SPEC_FULL.md §D.3), and registers
// the configured primitive namespaces.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(ctx, store.Options{
		Path:        cfg.Store.Path,
		WriteQueue:  cfg.Store.WriteQueue,
		BusyTimeout: cfg.Store.BusyTimeout.Duration,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: opening store: %w", err)
	}

	reclaimed, err := st.CleanupStale(ctx, time.Now(), cfg.Engine.ClaimStaleAfter.Duration)
	if err != nil {
		logger.Warn("engine: crash-recovery cleanup failed", "err", err)
	} else if reclaimed > 0 {
		logger.Info("engine: reclaimed stale claims from crashed sessions", "count", reclaimed)
	}

	reg := registry.New()
	reg.Register(registry.NewDefaultNamespace())
	reg.Register(registry.NewImgNamespace())

	for name, ns := range cfg.Namespaces {
		switch ns.Kind {
		case "dynamic":
			if !cfg.Docker.Enabled {
				logger.Warn("engine: dynamic namespace configured but docker is disabled, skipping", "namespace", name)
				continue
			}
			dockerNS, err := registry.NewDockerNamespace(ctx, cfg.Docker.Image, cfg.Docker.MountRoot, cfg.Docker.Timeout.Duration)
			if err != nil {
				logger.Warn("engine: failed to register dynamic namespace", "namespace", name, "err", err)
				continue
			}
			reg.Register(dockerNS)
		case "static":
			logger.Warn("engine: static namespace loading from disk is not implemented, skipping", "namespace", name, "path", ns.Path)
		}
	}

	heartbeatInterval := cfg.Engine.SessionHeartbeatInterval.Duration
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}

	e := &Engine{
		cfg:           cfg,
		store:         st,
		registry:      reg,
		logger:        logger,
		heartbeatStop: make(chan struct{}),
		heartbeatDone: make(chan struct{}),
	}
	go e.heartbeatLoop(heartbeatInterval)

	return e, nil
}

// heartbeatLoop refreshes this session's session_state row for as long as
// the engine is open, so other cohorts' CleanupStale sweeps do not treat its
// claims as belonging to a dead session (spec.md §4.2, SPEC_FULL.md §D.3).
// Claims started longer ago than the stale threshold are still reclaimed
// regardless of the heartbeat.
func (e *Engine) heartbeatLoop(interval time.Duration) {
	defer close(e.heartbeatDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.heartbeatStop:
			return
		case <-ticker.C:
			if err := e.store.Heartbeat(context.Background()); err != nil {
				e.logger.Warn("engine: session heartbeat failed", "err", err)
			}
		}
	}
}

// Close stops the heartbeat ticker and releases the engine's persistent
// resources.
func (e *Engine) Close() error {
	close(e.heartbeatStop)
	<-e.heartbeatDone
	return e.store.Close()
}

// Describe lists every registered namespace's operators (spec.md §6.3,
// SPEC_FULL.md §D.1), for front ends that want to show available primitives.
func (e *Engine) Describe() map[string][]registry.OperatorInfo {
	return e.registry.Describe()
}

// Serializers builds a save-goal serializer registry from the configured
// suffix table. Only the "nifti" serializer name is mapped; suffixes
// configured with any other name fall back to the textual dump at save time.
// Each call returns a new registry, and Execute builds its own, so
// serializers registered on a returned registry are not used by Execute.
func (e *Engine) Serializers() *goals.SerializerRegistry {
	sr := goals.NewSerializerRegistry()
	for suffix, name := range e.cfg.Serializers {
		switch name {
		case "nifti":
			sr.Register(suffix, registry.NiftiSerializer)
		}
	}
	return sr
}

// Execute reduces prog and runs it to completion, then drives its goals'
// side effects through sink, returning the scheduler's RunResult.
func (e *Engine) Execute(ctx context.Context, prog ast.Program, sink goals.Sink, opts Options) (*scheduler.RunResult, error) {
	activeStore := e.store
	if opts.NoCache || e.cfg.Engine.NoCache {
		scratch, err := store.Open(ctx, store.Options{Path: ":memory:", BusyTimeout: e.cfg.Store.BusyTimeout.Duration, Logger: e.logger})
		if err != nil {
			return nil, fmt.Errorf("engine: opening no-cache store: %w", err)
		}
		defer scratch.Close()
		activeStore = scratch
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = e.cfg.Engine.Concurrency
	}

	wp := plan.New()
	r := reducer.New(e.registry)
	if _, err := r.Reduce(prog, plan.Empty(), wp); err != nil {
		return nil, fmt.Errorf("engine: reducing program: %w", err)
	}

	sched := scheduler.New(wp, activeStore, e.registry, r.ReduceExpr, e.logger, concurrency)
	result, err := sched.Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: scheduling: %w", err)
	}

	runner := goals.NewRunner(sink, e.Serializers())
	runner.Run(result)

	return result, nil
}
