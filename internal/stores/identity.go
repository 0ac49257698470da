package stores

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

var (
	ErrIdentityTaken            = errors.New("identity already registered")
	ErrIdentityNotFound         = errors.New("identity not found")
	ErrIdentityInvalid          = errors.New("identity requires username, email and user id")
	ErrIdentityRedisUnavailable = errors.New("identity redis unavailable")
)

// IdentityIndex maps normalized usernames and emails to admin user IDs.
//
// Both namespaces are consulted on register so that a username can never
// shadow another admin's email during Resolve.
type IdentityIndex struct {
	redis  redis.UniversalClient
	prefix string
}

func NewIdentityIndex(redisClient redis.UniversalClient, prefix string) *IdentityIndex {
	if prefix == "" {
		prefix = "ga"
	}
	return &IdentityIndex{redis: redisClient, prefix: prefix}
}

func (x *IdentityIndex) usernameKey(normalized string) string {
	return joinKey(x.prefix, "ix", "name", normalized)
}

func (x *IdentityIndex) emailKey(normalized string) string {
	return joinKey(x.prefix, "ix", "email", normalized)
}

// Register claims username and email for userID. It fails with
// ErrIdentityTaken when either value is already claimed in either namespace.
func (x *IdentityIndex) Register(ctx context.Context, username, email, userID string) error {
	u, e := Normalize(username), Normalize(email)
	if u == "" || e == "" || userID == "" {
		return ErrIdentityInvalid
	}

	uKey, eKey := x.usernameKey(u), x.emailKey(e)
	watched := dedupe(uKey, eKey, x.emailKey(u), x.usernameKey(e))

	for i := 0; i < maxRetries; i++ {
		err := x.redis.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, watched...).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return ErrIdentityTaken
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, uKey, userID, 0)
				pipe.Set(ctx, eKey, userID, 0)
				return nil
			})
			return err
		}, watched...)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return classify(err, ErrIdentityRedisUnavailable, ErrIdentityTaken)
		}
		return nil
	}

	return ErrContention
}

// Resolve returns the user ID claimed by identifier, checking the username
// namespace before the email namespace.
func (x *IdentityIndex) Resolve(ctx context.Context, identifier string) (string, error) {
	n := Normalize(identifier)
	if n == "" {
		return "", ErrIdentityNotFound
	}

	for _, key := range []string{x.usernameKey(n), x.emailKey(n)} {
		id, err := x.redis.Get(ctx, key).Result()
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, redis.Nil) {
			return "", classify(err, ErrIdentityRedisUnavailable)
		}
	}

	return "", ErrIdentityNotFound
}

// Release removes the username and email claims that are still owned by userID.
func (x *IdentityIndex) Release(ctx context.Context, username, email, userID string) error {
	keys := dedupe(x.usernameKey(Normalize(username)), x.emailKey(Normalize(email)))

	for i := 0; i < maxRetries; i++ {
		err := x.redis.Watch(ctx, func(tx *redis.Tx) error {
			owned := make([]string, 0, len(keys))
			for _, key := range keys {
				id, err := tx.Get(ctx, key).Result()
				if errors.Is(err, redis.Nil) {
					continue
				}
				if err != nil {
					return err
				}
				if id == userID {
					owned = append(owned, key)
				}
			}
			if len(owned) == 0 {
				return nil
			}

			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, owned...)
				return nil
			})
			return err
		}, keys...)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return classify(err, ErrIdentityRedisUnavailable)
		}
		return nil
	}

	return ErrContention
}

func dedupe(keys ...string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
