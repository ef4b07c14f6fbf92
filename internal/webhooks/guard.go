package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/palette-backend/pkg/redis"
)

// ReplicateScope namespaces provider webhook deliveries in the idempotency keyspace.
const ReplicateScope = "replicate-webhook"

// DeliveryGuard claims a webhook id so concurrent redeliveries skip the work.
// The database transitions stay authoritative; the guard only sheds load.
type DeliveryGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewDeliveryGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*DeliveryGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &DeliveryGuard{
		store: store,
		ttl:   ttl,
		scope: scope,
	}, nil
}

// Claim reports whether this caller owns the delivery. A false result means a
// previous delivery with the same id already claimed it.
func (g *DeliveryGuard) Claim(ctx context.Context, deliveryID string) (bool, error) {
	if g == nil {
		return true, nil
	}
	if deliveryID == "" {
		return false, errors.New("delivery id is required")
	}
	set, err := g.store.SetNX(ctx, g.store.IdempotencyKey(g.scope, deliveryID), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return set, nil
}

// Release drops a claim after failed processing so the provider's retry runs.
func (g *DeliveryGuard) Release(ctx context.Context, deliveryID string) error {
	if g == nil {
		return nil
	}
	if deliveryID == "" {
		return errors.New("delivery id is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, deliveryID))
}
