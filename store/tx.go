package store

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// DefaultTxRetries is the retry bound used when a store is configured
// with a non-positive retry count.
const DefaultTxRetries = 5

// RunTx executes fn inside an optimistic transaction on key.
//
// The key is watched before fn runs; fn should read current state
// through tx, decide, and buffer its writes with tx.TxPipelined so the
// whole read-decide-write cycle commits atomically. If the key does
// not exist at watch time, missing is returned without running fn. If
// a conflicting writer commits first, the commit fails and the entire
// cycle reruns from the watch, up to maxRetries times; exceeding the
// bound returns ErrConcurrencyExhausted. Every other error from fn or
// the client propagates unmodified.
func RunTx(ctx context.Context, client *redis.Client, key string, maxRetries int, missing error, fn func(tx *redis.Tx) error) error {
	if maxRetries <= 0 {
		maxRetries = DefaultTxRetries
	}

	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return missing
		}
		return fn(tx)
	}

	for i := 0; i < maxRetries; i++ {
		err := client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			// Lost the race to a conflicting writer. Go again.
			continue
		}
		return err
	}

	return ErrConcurrencyExhausted
}
