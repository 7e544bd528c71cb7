package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doncapon/yemisshop-sub004/pkg/redis"
)

// IdempotencyGuard drops webhook redeliveries that were already handled.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &IdempotencyGuard{
		store: store,
		ttl:   ttl,
		scope: scope,
	}, nil
}

// CheckAndMark claims key and reports whether it was already claimed.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("idempotency key is required")
	}
	set, err := g.store.SetNX(ctx, g.store.IdempotencyKey(g.scope, key), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

// Release frees key so a redelivery is processed again.
func (g *IdempotencyGuard) Release(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("idempotency key is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, key))
}
