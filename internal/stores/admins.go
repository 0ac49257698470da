package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var (
	ErrAdminNotFound         = errors.New("admin record not found")
	ErrAdminExists           = errors.New("admin record already exists")
	ErrAdminRedisUnavailable = errors.New("admin redis unavailable")
)

// AdminRecord is the persisted profile of an admin user. Credentials live
// in CredentialStore and organization membership in OrganizationStore.
type AdminRecord struct {
	ID         string         `json:"id"`
	Username   string         `json:"username"`
	Email      string         `json:"email"`
	Name       string         `json:"name,omitempty"`
	State      uint8          `json:"state"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  int64          `json:"createdAt"`
	UpdatedAt  int64          `json:"updatedAt"`
}

type AdminStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewAdminStore(redisClient redis.UniversalClient, prefix string) *AdminStore {
	if prefix == "" {
		prefix = "ga"
	}
	return &AdminStore{redis: redisClient, prefix: prefix}
}

func (s *AdminStore) key(id string) string {
	return joinKey(s.prefix, "u", id)
}

func (s *AdminStore) Create(ctx context.Context, record *AdminRecord) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return err
	}

	ok, err := s.redis.SetNX(ctx, s.key(record.ID), encoded, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAdminRedisUnavailable, err)
	}
	if !ok {
		return ErrAdminExists
	}
	return nil
}

func (s *AdminStore) Get(ctx context.Context, id string) (*AdminRecord, error) {
	record, err := s.load(ctx, s.redis, s.key(id))
	if err != nil {
		return nil, classify(err, ErrAdminRedisUnavailable, ErrAdminNotFound)
	}
	return record, nil
}

// Update applies mutate to the stored record under optimistic concurrency
// and returns the written result. An error from mutate aborts without writing.
func (s *AdminStore) Update(ctx context.Context, id string, mutate func(*AdminRecord) error) (*AdminRecord, error) {
	return updateJSON(ctx, s.redis, s.key(id), ErrAdminNotFound, ErrAdminRedisUnavailable, mutate)
}

func (s *AdminStore) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAdminRedisUnavailable, err)
	}
	return nil
}

func (s *AdminStore) load(ctx context.Context, c getter, key string) (*AdminRecord, error) {
	return loadJSON[AdminRecord](ctx, c, key, ErrAdminNotFound)
}
