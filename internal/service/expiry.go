package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/trollstown/coinstore/internal/model"
	"github.com/trollstown/coinstore/internal/repository"
)

// Sweeper periodically deletes expired, inactive ownership records and clears
// pointers referencing expired records. It is advisory housekeeping: read
// paths evaluate expiry lazily and stay correct even if the sweeper never
// runs.
type Sweeper struct {
	ents     repository.EntitlementRepository
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time
}

// NewSweeper constructs the expiry sweeper.
func NewSweeper(ents repository.EntitlementRepository, interval time.Duration, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Sweeper{ents: ents, interval: interval, log: log, now: time.Now}
}

// Sweep runs one housekeeping pass.
func (s *Sweeper) Sweep(ctx context.Context) (model.SweepResult, error) {
	return s.ents.SweepExpired(ctx, s.now().UTC())
}

// Run loops until the context is cancelled. Errors are logged, never fatal.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			res, err := s.Sweep(ctx)
			if err != nil {
				s.log.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			if res.DeletedRecords > 0 || res.ClearedPointers > 0 {
				s.log.Info("expiry sweep",
					zap.Int64("deleted", res.DeletedRecords),
					zap.Int64("cleared_pointers", res.ClearedPointers),
				)
			}
		}
	}
}
