package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/doncapon/yemisshop-sub004/internal/finalization"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
)

const (
	defaultSweepLookback = 72 * time.Hour
	defaultSweepBatch    = 100
)

type finalizationSweeper interface {
	Sweep(ctx context.Context, since time.Time, limit int) (finalization.SweepResult, error)
}

// FinalizationSweepJobParams configure the finalization sweep.
type FinalizationSweepJobParams struct {
	Logger    *logger.Logger
	Sweeper   finalizationSweeper
	Lookback  time.Duration
	BatchSize int
}

// NewFinalizationSweepJob builds the job that re-finalizes PAID intents whose
// post-commit effects never recorded their markers.
func NewFinalizationSweepJob(params FinalizationSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("finalization sweeper required")
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultSweepLookback
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &finalizationSweepJob{
		logg:     params.Logger,
		sweeper:  params.Sweeper,
		lookback: lookback,
		batch:    batch,
		now:      time.Now,
	}, nil
}

type finalizationSweepJob struct {
	logg     *logger.Logger
	sweeper  finalizationSweeper
	lookback time.Duration
	batch    int
	now      func() time.Time
}

func (j *finalizationSweepJob) Name() string { return "finalization-sweep" }

func (j *finalizationSweepJob) Run(ctx context.Context) error {
	since := j.now().UTC().Add(-j.lookback)
	res, err := j.sweeper.Sweep(ctx, since, j.batch)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"since":     since,
		"scanned":   res.Scanned,
		"finalized": res.Finalized,
		"failed":    res.Failed,
	})
	if err != nil {
		j.logg.Warn(logCtx, "finalization sweep left failures")
		return fmt.Errorf("finalization sweep: %w", err)
	}
	j.logg.Info(logCtx, "finalization sweep complete")
	return nil
}
