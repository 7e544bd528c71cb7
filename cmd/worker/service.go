package main

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/doncapon/yemisshop-sub004/pkg/logger"
)

type runner interface {
	Run(ctx context.Context) error
}

type pinger func(context.Context) error

// ServiceParams wires the worker loops and the dependencies checked before
// they start.
type ServiceParams struct {
	Logger       *logger.Logger
	Finalization runner
	Analytics    runner
	Readiness    map[string]pinger
}

// Service runs the finalization consumer next to the analytics consumer.
// Either loop failing stops the other.
type Service struct {
	logg         *logger.Logger
	finalization runner
	analytics    runner
	readiness    map[string]pinger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Finalization == nil {
		return nil, errors.New("finalization consumer is required")
	}
	return &Service{
		logg:         params.Logger,
		finalization: params.Finalization,
		analytics:    params.Analytics,
		readiness:    params.Readiness,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for name, fn := range s.readiness {
		if err := pingDependency(ctx, s.logg, name, fn); err != nil {
			return err
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn pinger) error {
	if fn == nil {
		return nil
	}
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.runLoop(groupCtx, "finalization", s.finalization)
	})
	if s.analytics != nil {
		group.Go(func() error {
			return s.runLoop(groupCtx, "analytics", s.analytics)
		})
	} else {
		s.logg.Warn(ctx, "analytics consumer disabled")
	}

	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		s.logg.Info(ctx, "worker context canceled")
	}
	return err
}

func (s *Service) runLoop(ctx context.Context, name string, r runner) error {
	logCtx := s.logg.WithField(ctx, "consumer", name)
	s.logg.Info(logCtx, "consumer starting")
	err := r.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logg.Error(logCtx, "consumer stopped unexpectedly", err)
		return fmt.Errorf("%s consumer: %w", name, err)
	}
	return err
}
