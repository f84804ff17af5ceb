package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/configs"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/internal/database"
	"golang.org/x/sync/errgroup"
)

type SchedulerOptions struct {
	Interval       time.Duration
	AuctionTimeout time.Duration
	Concurrency    int
	BatchSize      int
}

func SchedulerOptionsFromConfig(cfg *configs.Config) SchedulerOptions {
	return SchedulerOptions{
		Interval:       cfg.Scheduler.Interval,
		AuctionTimeout: cfg.Scheduler.AuctionTimeout,
		Concurrency:    cfg.Scheduler.Concurrency,
		BatchSize:      cfg.Scheduler.BatchSize,
	}
}

// Scheduler periodically closes auctions whose end time has passed.
type Scheduler struct {
	engine *Engine
	db     database.Service
	opts   SchedulerOptions
}

// SweepResult counts what a single sweep did.
type SweepResult struct {
	Finalized int
	Skipped   int
	Failed    int
}

func NewScheduler(e *Engine, opts SchedulerOptions) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.AuctionTimeout <= 0 {
		opts.AuctionTimeout = 15 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	return &Scheduler{engine: e, db: e.db, opts: opts}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	log.Info("Auction scheduler started", "interval", s.opts.Interval)
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			log.Error("Auction sweep failed", "err", err)
		}
		select {
		case <-ctx.Done():
			log.Info("Auction scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// Sweep finalizes every auction that has ended. A failure on one auction is
// logged and does not stop the others.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	ids, err := s.db.GetEndedAuctionIds(ctx, s.engine.clock.Now(), s.opts.BatchSize)
	if err != nil {
		return SweepResult{}, err
	}
	if len(ids) == 0 {
		return SweepResult{}, nil
	}

	var finalized, skipped, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			actx, cancel := context.WithTimeout(ctx, s.opts.AuctionTimeout)
			defer cancel()

			done, err := s.engine.Finalize(actx, id)
			switch {
			case err != nil:
				failed.Add(1)
				log.Error("Error finalizing auction", "auction", id, "err", err)
			case done:
				finalized.Add(1)
				log.Info("Auction finalized", "auction", id)
			default:
				skipped.Add(1)
				log.Debug("Auction already closed", "auction", id)
			}
			return nil
		})
	}
	_ = g.Wait()

	result := SweepResult{
		Finalized: int(finalized.Load()),
		Skipped:   int(skipped.Load()),
		Failed:    int(failed.Load()),
	}
	log.Debug("Auction sweep done", "finalized", result.Finalized, "skipped", result.Skipped, "failed", result.Failed)
	return result, nil
}
