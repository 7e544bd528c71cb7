package cron

import (
	"context"
	"fmt"

	"github.com/doncapon/yemisshop-sub004/pkg/logger"
)

const defaultIntentTTLBatch = 500

type intentExpirer interface {
	ExpireStale(ctx context.Context, limit int) (int64, error)
}

// IntentTTLJobParams configure the payment intent expiry job.
type IntentTTLJobParams struct {
	Logger    *logger.Logger
	Payments  intentExpirer
	BatchSize int
}

// NewIntentTTLJob builds the job that cancels PENDING intents past their TTL.
func NewIntentTTLJob(params IntentTTLJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultIntentTTLBatch
	}
	return &intentTTLJob{
		logg:     params.Logger,
		payments: params.Payments,
		batch:    batch,
	}, nil
}

type intentTTLJob struct {
	logg     *logger.Logger
	payments intentExpirer
	batch    int
}

func (j *intentTTLJob) Name() string { return "payment-intent-ttl" }

// Run drains expired intents batch by batch until a short batch comes back.
func (j *intentTTLJob) Run(ctx context.Context) error {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		canceled, err := j.payments.ExpireStale(ctx, j.batch)
		if err != nil {
			return fmt.Errorf("expire stale intents: %w", err)
		}
		total += canceled
		if canceled < int64(j.batch) {
			break
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"batch_size": j.batch,
		"canceled":   total,
	})
	j.logg.Info(logCtx, "payment intent expiry complete")
	return nil
}
