package redisx

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Idempotency maps caller-supplied external ids onto order ids so a retried create
// returns the order made by the first attempt.
type Idempotency struct {
	RDB redis.Cmdable
}

// Claim binds externalID to orderID unless it is already bound. It returns the bound
// order id and whether this call made the binding.
func (i Idempotency) Claim(ctx context.Context, externalID, orderID string) (string, bool, error) {
	key := fmt.Sprintf(KeyIdemOrderCreate, externalID)
	ok, err := i.RDB.SetNX(ctx, key, orderID, TTLIdempotency).Result()
	if err != nil {
		return "", false, fmt.Errorf("claim %s: %w", externalID, err)
	}
	if ok {
		return orderID, true, nil
	}
	existing, err := i.RDB.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; try once more
		return i.Claim(ctx, externalID, orderID)
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup %s: %w", externalID, err)
	}
	return existing, false, nil
}

// Release drops a claim whose order could not be created.
func (i Idempotency) Release(ctx context.Context, externalID string) error {
	return i.RDB.Del(ctx, fmt.Sprintf(KeyIdemOrderCreate, externalID)).Err()
}
