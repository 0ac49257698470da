package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrActivationNotFound         = errors.New("activation token not found")
	ErrActivationRedisUnavailable = errors.New("activation redis unavailable")
)

// consumeActivationLua returns and deletes KEYS[1] in one step so that an
// activation token is redeemable at most once.
var consumeActivationLua = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  return false
end
redis.call('DEL', KEYS[1])
return v
`)

// ActivationStore keeps outstanding activation tokens. Each token maps to the
// admin user it activates and expires after its TTL.
type ActivationStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewActivationStore(redisClient redis.UniversalClient, prefix string) *ActivationStore {
	if prefix == "" {
		prefix = "ga"
	}
	return &ActivationStore{redis: redisClient, prefix: prefix}
}

func (s *ActivationStore) key(token string) string {
	return joinKey(s.prefix, "act", token)
}

func (s *ActivationStore) Save(ctx context.Context, token, userID string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(token), userID, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrActivationRedisUnavailable, err)
	}
	return nil
}

// Consume redeems token and returns the user ID it was issued for.
func (s *ActivationStore) Consume(ctx context.Context, token string) (string, error) {
	userID, err := consumeActivationLua.Run(ctx, s.redis, []string{s.key(token)}).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrActivationNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrActivationRedisUnavailable, err)
	}
	return userID, nil
}
