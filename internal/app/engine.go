// Package app assembles the progression engine from configuration for the binaries.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/progression/internal/achievement"
	"example.com/progression/internal/api"
	"example.com/progression/internal/config"
	"example.com/progression/internal/domain"
	"example.com/progression/internal/formula"
	"example.com/progression/internal/persistence/memory"
	persistence "example.com/progression/internal/persistence/postgres"
	"example.com/progression/internal/progression"
	"example.com/progression/internal/reconcile"
	"example.com/progression/internal/records"
	"example.com/progression/internal/streak"
	"example.com/progression/internal/tracking"
)

// Backend is everything the engine needs from a store.
type Backend interface {
	domain.UnitOfWork
	domain.HabitDirectory
	domain.ReconciliationStore
	domain.Registry
	records.History
}

// Engine is the fully wired set of progression services.
type Engine struct {
	Location     *time.Location
	Backend      Backend
	Pool         *pgxpool.Pool
	Ledger       *progression.Ledger
	Tracking     *tracking.Service
	Streaks      *streak.Tracker
	Achievements *achievement.Engine
	Records      *records.Detector
	Reconciler   *reconcile.Job
}

// Build connects the configured store and wires the services over it. The
// returned close func releases the store.
func Build(ctx context.Context, cfg config.Config, logger *log.Logger) (*Engine, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}

	var (
		backend Backend
		pool    *pgxpool.Pool
		closer  = func() {}
	)
	switch cfg.Store {
	case config.StoreMemory:
		backend = memory.NewStore()
	default:
		pool, err = pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		backend = persistence.NewStore(pool).WithClaimTTL(cfg.SummaryClaimTTL)
		closer = pool.Close
	}

	engine, err := Wire(backend, loc, cfg, logger)
	if err != nil {
		closer()
		return nil, nil, err
	}
	engine.Pool = pool
	return engine, closer, nil
}

// Wire builds the services over an already open backend.
func Wire(backend Backend, loc *time.Location, cfg config.Config, logger *log.Logger) (*Engine, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[progression] ", log.LstdFlags|log.Lshortfile)
	}
	rules := formula.DefaultRules()
	ledger := progression.NewLedger(backend, rules)
	engine := achievement.NewEngine(backend, achievement.DefaultCatalog())

	// Workout logging always judges records against the store inside the
	// account's unit of work. The cache only fronts read-only record queries.
	authoritative := records.NewDetector(backend)
	queries := authoritative
	var trackOpts []tracking.Option
	if cfg.PRCacheSize > 0 {
		cache, err := records.NewCachedHistory(backend, cfg.PRCacheSize, cfg.PRCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("personal record cache: %w", err)
		}
		queries = records.NewDetector(cache)
		trackOpts = append(trackOpts, tracking.WithRecordObserver(cache))
	}

	return &Engine{
		Location:     loc,
		Backend:      backend,
		Ledger:       ledger,
		Tracking:     tracking.NewService(backend, ledger, engine, authoritative, loc, trackOpts...),
		Streaks:      streak.NewTracker(backend, backend, ledger, engine, loc),
		Achievements: engine,
		Records:      queries,
		Reconciler: reconcile.NewJob(backend, loc,
			reconcile.WithWorkers(cfg.ReconcileWorkers),
			reconcile.WithLogger(logger),
		),
	}, nil
}

// APIDependencies exposes the engine to the HTTP handler.
func (e *Engine) APIDependencies() api.Dependencies {
	return api.Dependencies{
		Ledger:       e.Ledger,
		Tracking:     e.Tracking,
		Streaks:      e.Streaks,
		Achievements: e.Achievements,
		Records:      e.Records,
		Reconciler:   e.Reconciler,
		Registry:     e.Backend,
		Habits:       e.Backend,
	}
}
