// Package scheduler drives the two background refresh loops. Each loop is
// an independent periodic job; a failing cycle is logged and the next one
// runs after the same fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/ninebot-ops/vmboard/internal/environment"
	"github.com/ninebot-ops/vmboard/internal/inventory"
	"github.com/ninebot-ops/vmboard/internal/metrics"
	"github.com/ninebot-ops/vmboard/internal/store"
)

// Scheduler owns the inventory and metrics refresh jobs.
type Scheduler struct {
	scheduler  gocron.Scheduler
	logger     *zap.Logger
	store      *store.Store
	inventory  *inventory.Fetcher
	metrics    *metrics.Fetcher
	classifier *environment.Classifier
	ctx        context.Context
}

// New creates the scheduler with both jobs registered. Jobs run once
// immediately on Start and then at their fixed interval. Singleton mode
// keeps a slow cycle from overlapping itself.
func New(
	logger *zap.Logger,
	st *store.Store,
	invFetcher *inventory.Fetcher,
	metFetcher *metrics.Fetcher,
	classifier *environment.Classifier,
	inventoryInterval time.Duration,
	metricsInterval time.Duration,
	ctx context.Context,
) (*Scheduler, error) {
	gs, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	s := &Scheduler{
		scheduler:  gs,
		logger:     logger,
		store:      st,
		inventory:  invFetcher,
		metrics:    metFetcher,
		classifier: classifier,
		ctx:        ctx,
	}

	_, err = gs.NewJob(
		gocron.DurationJob(inventoryInterval),
		gocron.NewTask(s.runInventoryCycle),
		gocron.WithName("inventory-refresh"),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register inventory job: %w", err)
	}

	_, err = gs.NewJob(
		gocron.DurationJob(metricsInterval),
		gocron.NewTask(s.runMetricsCycle),
		gocron.WithName("metrics-refresh"),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics job: %w", err)
	}

	return s, nil
}

// Start launches both background loops.
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Shutdown stops the loops and waits for a running cycle to finish.
func (s *Scheduler) Shutdown() error {
	return s.scheduler.Shutdown()
}

// runInventoryCycle fetches the whole inventory once and fans out one store
// write per environment. A fetch failure aborts the cycle and leaves every
// environment's previous snapshot untouched.
func (s *Scheduler) runInventoryCycle() {
	start := time.Now()
	snap, err := s.inventory.FetchAll(s.ctx)
	if err != nil {
		s.logger.Error("Inventory refresh failed", zap.Error(err))
		return
	}

	parts := inventory.Partition(snap, s.classifier)
	for env, part := range parts {
		if err := s.store.SaveSnapshot(s.ctx, env, part); err != nil {
			s.logger.Error("Failed to store snapshot",
				zap.String("environment", env),
				zap.Error(err))
			continue
		}
	}

	s.logger.Info("Inventory refreshed for all environments",
		zap.Int("services", len(snap.Services)),
		zap.Duration("took", time.Since(start)))
}

// runMetricsCycle refreshes metrics once per environment, pulling each
// environment's current member addresses from the cache so metrics always
// target the most recently stored inventory. Per-environment failures are
// contained.
func (s *Scheduler) runMetricsCycle() {
	for _, env := range s.classifier.Environments() {
		ips, err := s.store.MemberIPs(s.ctx, env)
		if err != nil {
			s.logger.Error("Failed to read member addresses",
				zap.String("environment", env),
				zap.Error(err))
			continue
		}
		if len(ips) == 0 {
			continue
		}

		set := s.metrics.FetchBulk(s.ctx, ips)
		if err := s.store.SaveMetrics(s.ctx, env, set); err != nil {
			s.logger.Error("Failed to store metrics",
				zap.String("environment", env),
				zap.Error(err))
			continue
		}
		s.logger.Info("Metrics refreshed",
			zap.String("environment", env),
			zap.Int("vms", len(ips)))
	}
}
