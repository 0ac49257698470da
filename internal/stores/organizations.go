package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"
)

var (
	ErrOrganizationNotFound         = errors.New("organization not found")
	ErrOrganizationExists           = errors.New("organization name already taken")
	ErrOrganizationRedisUnavailable = errors.New("organization redis unavailable")
)

type OrganizationRecord struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Properties   map[string]any    `json:"properties,omitempty"`
	Applications map[string]string `json:"applications,omitempty"`
	CreatedAt    int64             `json:"createdAt"`
	UpdatedAt    int64             `json:"updatedAt"`
}

// OrganizationStore persists organizations, a case-insensitive name index and
// the two-way admin membership sets.
type OrganizationStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewOrganizationStore(redisClient redis.UniversalClient, prefix string) *OrganizationStore {
	if prefix == "" {
		prefix = "ga"
	}
	return &OrganizationStore{redis: redisClient, prefix: prefix}
}

func (s *OrganizationStore) key(id string) string {
	return joinKey(s.prefix, "o", id)
}

func (s *OrganizationStore) nameKey(name string) string {
	return joinKey(s.prefix, "ix", "org", Normalize(name))
}

func (s *OrganizationStore) membersKey(orgID string) string {
	return joinKey(s.prefix, "om", orgID)
}

func (s *OrganizationStore) userOrgsKey(userID string) string {
	return joinKey(s.prefix, "uo", userID)
}

// Create stores record, claims its name and, when ownerID is set, makes the
// owner the first member. All writes happen in one transaction.
func (s *OrganizationStore) Create(ctx context.Context, record *OrganizationRecord, ownerID string) error {
	if Normalize(record.Name) == "" || record.ID == "" {
		return errors.New("organization requires id and name")
	}

	encoded, err := json.Marshal(record)
	if err != nil {
		return err
	}
	nameKey := s.nameKey(record.Name)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, nameKey).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return ErrOrganizationExists
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, s.key(record.ID), encoded, 0)
				pipe.Set(ctx, nameKey, record.ID, 0)
				if ownerID != "" {
					pipe.SAdd(ctx, s.membersKey(record.ID), ownerID)
					pipe.SAdd(ctx, s.userOrgsKey(ownerID), record.ID)
				}
				return nil
			})
			return err
		}, nameKey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return classify(err, ErrOrganizationRedisUnavailable, ErrOrganizationExists)
		}
		return nil
	}

	return ErrContention
}

func (s *OrganizationStore) Get(ctx context.Context, id string) (*OrganizationRecord, error) {
	record, err := loadJSON[OrganizationRecord](ctx, s.redis, s.key(id), ErrOrganizationNotFound)
	if err != nil {
		return nil, classify(err, ErrOrganizationRedisUnavailable, ErrOrganizationNotFound)
	}
	return record, nil
}

// Lookup returns the ID of the organization called name, ignoring case.
func (s *OrganizationStore) Lookup(ctx context.Context, name string) (string, error) {
	id, err := s.redis.Get(ctx, s.nameKey(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrOrganizationNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrOrganizationRedisUnavailable, err)
	}
	return id, nil
}

func (s *OrganizationStore) Update(ctx context.Context, id string, mutate func(*OrganizationRecord) error) (*OrganizationRecord, error) {
	return updateJSON(ctx, s.redis, s.key(id), ErrOrganizationNotFound, ErrOrganizationRedisUnavailable, mutate)
}

// AddMember links userID and orgID in both directions. Adding an existing
// member is a no-op.
func (s *OrganizationStore) AddMember(ctx context.Context, orgID, userID string) error {
	n, err := s.redis.Exists(ctx, s.key(orgID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOrganizationRedisUnavailable, err)
	}
	if n == 0 {
		return ErrOrganizationNotFound
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, s.membersKey(orgID), userID)
		pipe.SAdd(ctx, s.userOrgsKey(userID), orgID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOrganizationRedisUnavailable, err)
	}
	return nil
}

func (s *OrganizationStore) RemoveMember(ctx context.Context, orgID, userID string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, s.membersKey(orgID), userID)
		pipe.SRem(ctx, s.userOrgsKey(userID), orgID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOrganizationRedisUnavailable, err)
	}
	return nil
}

// Members returns the admin IDs of orgID in sorted order.
func (s *OrganizationStore) Members(ctx context.Context, orgID string) ([]string, error) {
	return s.sortedMembers(ctx, s.membersKey(orgID))
}

// ForUser returns the organization IDs userID belongs to in sorted order.
func (s *OrganizationStore) ForUser(ctx context.Context, userID string) ([]string, error) {
	return s.sortedMembers(ctx, s.userOrgsKey(userID))
}

func (s *OrganizationStore) sortedMembers(ctx context.Context, key string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOrganizationRedisUnavailable, err)
	}
	slices.Sort(ids)
	return ids, nil
}
