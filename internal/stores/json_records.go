package stores

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

// mutateError carries a caller error out of an update callback unchanged.
type mutateError struct{ err error }

func (e *mutateError) Error() string { return e.err.Error() }
func (e *mutateError) Unwrap() error { return e.err }

func loadJSON[T any](ctx context.Context, c getter, key string, notFound error) (*T, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound
		}
		return nil, err
	}

	// Numbers in free-form properties decode as json.Number, not float64.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var record T
	if err := dec.Decode(&record); err != nil {
		return nil, err
	}
	return &record, nil
}

// updateJSON runs a WATCH/MULTI read-modify-write of a JSON record.
func updateJSON[T any](
	ctx context.Context,
	client redis.UniversalClient,
	key string,
	notFound, unavailable error,
	mutate func(*T) error,
) (*T, error) {
	for i := 0; i < maxRetries; i++ {
		var updated *T

		err := client.Watch(ctx, func(tx *redis.Tx) error {
			record, err := loadJSON[T](ctx, tx, key, notFound)
			if err != nil {
				return err
			}
			if err := mutate(record); err != nil {
				return &mutateError{err: err}
			}

			encoded, err := json.Marshal(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				return nil
			})
			if err != nil {
				return err
			}

			updated = record
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			var mutateErr *mutateError
			if errors.As(err, &mutateErr) {
				return nil, mutateErr.err
			}
			return nil, classify(err, unavailable, notFound)
		}
		return updated, nil
	}

	return nil, ErrContention
}
