package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/doncapon/yemisshop-sub004/pkg/logger"
)

const (
	outboxRetentionDays     = 30
	deadLetterRetentionDays = 90
	outboxMinAttempts       = 5
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

type deadLetterRetentionRepo interface {
	DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

// OutboxRetentionJobParams configure the outbox cleanup job. DeadLetters is
// optional; without it dead letters are kept forever.
type OutboxRetentionJobParams struct {
	Logger              *logger.Logger
	DB                  txRunner
	Repository          outboxRetentionRepo
	DeadLetters         deadLetterRetentionRepo
	RetentionDays       int
	DeadLetterRetention int
	MinAttempts         int
}

// NewOutboxRetentionJob builds the job that prunes delivered outbox rows and
// aged dead letters in one transaction.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	return &outboxRetentionJob{
		logg:        params.Logger,
		db:          params.DB,
		repo:        params.Repository,
		dlq:         params.DeadLetters,
		retention:   positiveOr(params.RetentionDays, outboxRetentionDays),
		dlqDays:     positiveOr(params.DeadLetterRetention, deadLetterRetentionDays),
		minAttempts: positiveOr(params.MinAttempts, outboxMinAttempts),
		now:         time.Now,
	}, nil
}

type outboxRetentionJob struct {
	logg        *logger.Logger
	db          txRunner
	repo        outboxRetentionRepo
	dlq         deadLetterRetentionRepo
	retention   int
	dlqDays     int
	minAttempts int
	now         func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := daysBefore(now, j.retention)
	dlqCutoff := daysBefore(now, j.dlqDays)

	var published, deadLetters int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		if published, err = j.repo.DeletePublishedBefore(ctx, tx, cutoff, j.minAttempts); err != nil {
			return fmt.Errorf("published rows: %w", err)
		}
		if j.dlq == nil {
			return nil
		}
		if deadLetters, err = j.dlq.DeleteFailedBefore(ctx, tx, dlqCutoff); err != nil {
			return fmt.Errorf("dead letters: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":               cutoff,
		"min_attempts":         j.minAttempts,
		"rows_deleted":         published,
		"dead_letter_cutoff":   dlqCutoff,
		"dead_letters_deleted": deadLetters,
	}), "outbox retention cleanup complete")
	return nil
}

func daysBefore(t time.Time, days int) time.Time {
	return t.AddDate(0, 0, -days)
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
