package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	resetRecordVersionV1 = 1
)

// ResetTokenState is the lifecycle state of a stored reset token. Expiry is
// evaluated lazily against ExpiresAt and is not stored.
type ResetTokenState uint8

const (
	ResetTokenIssued ResetTokenState = iota + 1
	ResetTokenConsumed
)

var (
	ErrResetNotFound         = errors.New("reset token not found")
	ErrResetExpired          = errors.New("reset token expired")
	ErrResetConsumed         = errors.New("reset token already consumed")
	ErrResetRedisUnavailable = errors.New("reset redis unavailable")
)

type ResetTokenRecord struct {
	UserID     string
	SecretHash [32]byte
	CreatedAt  int64
	ExpiresAt  int64
	State      ResetTokenState
}

// evaluate decides whether the presented secret may redeem r at now.
// A wrong secret and a wrong owner are indistinguishable from a missing token.
func (r *ResetTokenRecord) evaluate(providedHash [32]byte, expectedUserID string, now time.Time) error {
	if subtle.ConstantTimeCompare(r.SecretHash[:], providedHash[:]) != 1 {
		return ErrResetNotFound
	}
	if expectedUserID != "" && r.UserID != expectedUserID {
		return ErrResetNotFound
	}
	if r.State == ResetTokenConsumed {
		return ErrResetConsumed
	}
	if now.UnixMilli() >= r.ExpiresAt {
		return ErrResetExpired
	}
	return nil
}

// ResetTokenStore persists password reset tokens keyed by reset ID.
//
// Records outlive their expiry by the retention window so that a late
// redemption reports ErrResetExpired and a replay reports ErrResetConsumed
// instead of ErrResetNotFound.
type ResetTokenStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

func NewResetTokenStore(redisClient redis.UniversalClient, prefix string, retention time.Duration) *ResetTokenStore {
	if prefix == "" {
		prefix = "ga"
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &ResetTokenStore{
		redis:     redisClient,
		prefix:    prefix,
		retention: retention,
	}
}

func (s *ResetTokenStore) key(resetID string) string {
	return joinKey(s.prefix, "rt", resetID)
}

func (s *ResetTokenStore) userKey(userID string) string {
	return joinKey(s.prefix, "rtu", userID)
}

// Save stores record under resetID and indexes it under its owner.
func (s *ResetTokenStore) Save(ctx context.Context, resetID string, record *ResetTokenRecord, ttl time.Duration) error {
	encoded, err := encodeResetTokenRecord(record)
	if err != nil {
		return err
	}

	keep := ttl + s.retention
	userKey := s.userKey(record.UserID)
	// The index must outlive every record it lists, so its TTL only grows:
	// NX sets it on a fresh set, GT extends an existing one. EXPIRE takes
	// whole seconds, hence the round-up.
	indexKeep := (keep + time.Second - 1).Truncate(time.Second)

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(resetID), encoded, keep)
		pipe.SAdd(ctx, userKey, resetID)
		pipe.ExpireNX(ctx, userKey, indexKeep)
		pipe.ExpireGT(ctx, userKey, indexKeep)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}
	return nil
}

// Peek evaluates the token without changing its state.
func (s *ResetTokenStore) Peek(ctx context.Context, resetID string, providedHash [32]byte, expectedUserID string, now time.Time) (*ResetTokenRecord, error) {
	record, err := s.load(ctx, s.redis, s.key(resetID))
	if err != nil {
		return nil, classify(err, ErrResetRedisUnavailable, ErrResetNotFound)
	}
	if err := record.evaluate(providedHash, expectedUserID, now); err != nil {
		return nil, err
	}
	return record, nil
}

// Consume atomically validates the token and moves it to ResetTokenConsumed.
// Of any number of concurrent callers presenting the same token, at most one succeeds.
func (s *ResetTokenStore) Consume(ctx context.Context, resetID string, providedHash [32]byte, expectedUserID string, now time.Time) (*ResetTokenRecord, error) {
	key := s.key(resetID)

	for i := 0; i < maxRetries; i++ {
		var matched *ResetTokenRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			record, err := s.load(ctx, tx, key)
			if err != nil {
				return err
			}
			if err := record.evaluate(providedHash, expectedUserID, now); err != nil {
				return err
			}

			record.State = ResetTokenConsumed
			if err := s.rewrite(ctx, tx, key, record); err != nil {
				return err
			}

			matched = record
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, classify(err, ErrResetRedisUnavailable, ErrResetNotFound, ErrResetExpired, ErrResetConsumed)
		}

		return matched, nil
	}

	return nil, ErrContention
}

// RevokeAll consumes every outstanding token owned by userID and reports how
// many were still issued.
func (s *ResetTokenStore) RevokeAll(ctx context.Context, userID string) (int, error) {
	userKey := s.userKey(userID)
	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}

	revoked := 0
	for _, id := range ids {
		ok, err := s.revoke(ctx, s.key(id))
		if errors.Is(err, ErrResetNotFound) {
			s.redis.SRem(ctx, userKey, id)
			continue
		}
		if err != nil {
			return revoked, err
		}
		if ok {
			revoked++
		}
	}
	return revoked, nil
}

func (s *ResetTokenStore) revoke(ctx context.Context, key string) (bool, error) {
	for i := 0; i < maxRetries; i++ {
		changed := false

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			record, err := s.load(ctx, tx, key)
			if err != nil {
				return err
			}
			if record.State == ResetTokenConsumed {
				return nil
			}
			record.State = ResetTokenConsumed
			if err := s.rewrite(ctx, tx, key, record); err != nil {
				return err
			}
			changed = true
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, classify(err, ErrResetRedisUnavailable, ErrResetNotFound)
		}
		return changed, nil
	}
	return false, ErrContention
}

// rewrite replaces the record while preserving the key's remaining lifetime.
func (s *ResetTokenStore) rewrite(ctx context.Context, tx *redis.Tx, key string, record *ResetTokenRecord) error {
	ttl, err := tx.PTTL(ctx, key).Result()
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = s.retention
	}

	encoded, err := encodeResetTokenRecord(record)
	if err != nil {
		return err
	}

	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, encoded, ttl)
		return nil
	})
	return err
}

func (s *ResetTokenStore) load(ctx context.Context, c getter, key string) (*ResetTokenRecord, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrResetNotFound
		}
		return nil, err
	}
	return decodeResetTokenRecord(data)
}

func encodeResetTokenRecord(record *ResetTokenRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(resetRecordVersionV1)
	buf.WriteByte(byte(record.State))

	if err := binary.Write(&buf, binary.BigEndian, record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := writeString(&buf, record.UserID); err != nil {
		return nil, err
	}
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeResetTokenRecord(data []byte) (*ResetTokenRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != resetRecordVersionV1 {
		return nil, errors.New("invalid reset record version")
	}

	state, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &ResetTokenRecord{State: ResetTokenState(state)}
	if record.State != ResetTokenIssued && record.State != ResetTokenConsumed {
		return nil, errors.New("invalid reset record state")
	}

	if err := binary.Read(reader, binary.BigEndian, &record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if record.UserID, err = readString(reader); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
