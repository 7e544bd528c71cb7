package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/doncapon/yemisshop-sub004/pkg/redis"
)

// Claim is the result of trying to take an event for processing.
type Claim int

const (
	// ClaimAcquired means this consumer owns the event until Complete or Release.
	ClaimAcquired Claim = iota
	// ClaimInFlight means another delivery holds an unexpired lease.
	ClaimInFlight
	// ClaimDone means the event was already handled.
	ClaimDone
)

func (c Claim) String() string {
	switch c {
	case ClaimAcquired:
		return "acquired"
	case ClaimInFlight:
		return "in_flight"
	case ClaimDone:
		return "done"
	}
	return "unknown"
}

const (
	stateProcessing = "processing"
	stateDone       = "done"
	defaultLease    = 5 * time.Minute
)

// Manager de-duplicates outbox deliveries per consumer. A claim first takes a
// short processing lease; Complete converts it into a long-lived done marker.
// A consumer that dies mid-event loses nothing: the lease expires and the
// redelivery claims the event again.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	lease time.Duration
}

// NewManager keeps done markers for ttl (0 keeps them forever) and processing
// leases for lease (defaults to five minutes).
func NewManager(store redis.IdempotencyStore, ttl, lease time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if lease <= 0 {
		lease = defaultLease
	}
	if ttl > 0 && lease > ttl {
		return nil, fmt.Errorf("lease %s exceeds ttl %s", lease, ttl)
	}
	return &Manager{store: store, ttl: ttl, lease: lease}, nil
}

func (m *Manager) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (Claim, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return ClaimInFlight, err
	}
	acquired, err := m.store.SetNX(ctx, key, stateProcessing, m.lease)
	if err != nil {
		return ClaimInFlight, fmt.Errorf("claim %s: %w", key, err)
	}
	if acquired {
		return ClaimAcquired, nil
	}
	state, err := m.store.Get(ctx, key)
	switch {
	case errors.Is(err, goredis.Nil):
		// lease lapsed between SETNX and GET; the redelivery will claim it
		return ClaimInFlight, nil
	case err != nil:
		return ClaimInFlight, fmt.Errorf("read claim %s: %w", key, err)
	case state == stateDone:
		return ClaimDone, nil
	}
	return ClaimInFlight, nil
}

// Complete marks the event handled for the configured ttl.
func (m *Manager) Complete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, key, stateDone, m.ttl)
}

// Release drops the lease so the next delivery can retry immediately.
func (m *Manager) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) key(consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey("evt:"+consumer, eventID.String()), nil
}
