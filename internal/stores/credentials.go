package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	credentialRecordVersionV1 = 1
)

var (
	ErrCredentialNotFound         = errors.New("credential not found")
	ErrCredentialMismatch         = errors.New("credential mismatch")
	ErrCredentialReused           = errors.New("credential reused within history window")
	ErrCredentialHasher           = errors.New("credential hasher failure")
	ErrCredentialRedisUnavailable = errors.New("credential redis unavailable")
)

// PasswordHasher is the subset of password.Argon2 the credential store needs.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password string, encodedHash string) (bool, error)
}

// CredentialRecord is the persisted password state of one admin user.
// History holds retired hashes, newest first.
type CredentialRecord struct {
	Hash            string
	History         []string
	PasswordChanged int64
}

// PasswordChangedTime returns PasswordChanged as a UTC time.
func (r *CredentialRecord) PasswordChangedTime() time.Time {
	return time.UnixMilli(r.PasswordChanged).UTC()
}

// CredentialStore owns password hashes, reuse history and the
// passwordChanged timestamp. The three always change in one transaction.
type CredentialStore struct {
	redis  redis.UniversalClient
	prefix string
	hasher PasswordHasher
}

func NewCredentialStore(redisClient redis.UniversalClient, prefix string, hasher PasswordHasher) *CredentialStore {
	if prefix == "" {
		prefix = "ga"
	}
	return &CredentialStore{
		redis:  redisClient,
		prefix: prefix,
		hasher: hasher,
	}
}

func (s *CredentialStore) key(userID string) string {
	return joinKey(s.prefix, "c", userID)
}

// Get returns the credential record for userID.
func (s *CredentialStore) Get(ctx context.Context, userID string) (*CredentialRecord, error) {
	record, err := s.load(ctx, s.redis, s.key(userID))
	if err != nil {
		return nil, classify(err, ErrCredentialRedisUnavailable, ErrCredentialNotFound)
	}
	return record, nil
}

// Verify reports whether plaintext matches the current hash. It never mutates.
func (s *CredentialStore) Verify(ctx context.Context, userID, plaintext string) (*CredentialRecord, bool, error) {
	record, err := s.Get(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	ok, err := s.hasher.Verify(plaintext, record.Hash)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrCredentialHasher, err)
	}
	return record, ok, nil
}

// Set installs plaintext as the current password. An absent record is
// created; an existing one is rotated subject to the reuse window of
// historySize.
func (s *CredentialStore) Set(ctx context.Context, userID, plaintext string, historySize int, now time.Time) (*CredentialRecord, error) {
	return s.rotate(ctx, userID, nil, plaintext, historySize, now)
}

// Change is Set guarded by proof of the current password. The old-password
// and reuse checks both run before any write.
func (s *CredentialStore) Change(ctx context.Context, userID, oldPlaintext, newPlaintext string, historySize int, now time.Time) (*CredentialRecord, error) {
	return s.rotate(ctx, userID, &oldPlaintext, newPlaintext, historySize, now)
}

// Rehash swaps the current hash for newHash while the stored hash is still
// expectedHash. History and PasswordChanged are left alone, so the swap is
// invisible to reuse checks and token freshness. It reports whether the
// record was rewritten; a concurrent password change wins.
func (s *CredentialStore) Rehash(ctx context.Context, userID, expectedHash, newHash string) (bool, error) {
	key := s.key(userID)

	for i := 0; i < maxRetries; i++ {
		swapped := false

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			current, err := s.load(ctx, tx, key)
			if err != nil {
				return err
			}
			if current.Hash != expectedHash {
				return nil
			}

			current.Hash = newHash
			encoded, err := encodeCredentialRecord(current)
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

			swapped = true
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, classify(err, ErrCredentialRedisUnavailable, ErrCredentialNotFound)
		}
		return swapped, nil
	}

	return false, ErrContention
}

// Delete removes the credential record. Used to unwind a failed admin creation.
func (s *CredentialStore) Delete(ctx context.Context, userID string) error {
	if err := s.redis.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCredentialRedisUnavailable, err)
	}
	return nil
}

func (s *CredentialStore) rotate(
	ctx context.Context,
	userID string,
	oldPlaintext *string,
	plaintext string,
	historySize int,
	now time.Time,
) (*CredentialRecord, error) {
	if historySize < 0 {
		historySize = 0
	}

	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCredentialHasher, err)
	}

	key := s.key(userID)

	for i := 0; i < maxRetries; i++ {
		var updated *CredentialRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			current, err := s.load(ctx, tx, key)
			if err != nil && !errors.Is(err, ErrCredentialNotFound) {
				return err
			}

			if oldPlaintext != nil {
				if current == nil {
					return ErrCredentialNotFound
				}
				ok, err := s.hasher.Verify(*oldPlaintext, current.Hash)
				if err != nil {
					return fmt.Errorf("%w: %w", ErrCredentialHasher, err)
				}
				if !ok {
					return ErrCredentialMismatch
				}
			}

			reused, err := s.matchesAny(plaintext, reuseWindow(current, historySize))
			if err != nil {
				return err
			}
			if reused {
				return ErrCredentialReused
			}

			next := advance(current, hash, historySize, now)
			encoded, err := encodeCredentialRecord(next)
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

			updated = next
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, classify(err, ErrCredentialRedisUnavailable,
				ErrCredentialNotFound, ErrCredentialMismatch, ErrCredentialReused, ErrCredentialHasher)
		}

		return updated, nil
	}

	return nil, ErrContention
}

func (s *CredentialStore) matchesAny(plaintext string, hashes []string) (bool, error) {
	for _, h := range hashes {
		ok, err := s.hasher.Verify(plaintext, h)
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrCredentialHasher, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (s *CredentialStore) load(ctx context.Context, c getter, key string) (*CredentialRecord, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	return decodeCredentialRecord(data)
}

func encodeCredentialRecord(record *CredentialRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(credentialRecordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, record.PasswordChanged); err != nil {
		return nil, err
	}
	if err := writeString(&buf, record.Hash); err != nil {
		return nil, err
	}
	if len(record.History) > 255 {
		return nil, errors.New("credential history too long")
	}
	buf.WriteByte(byte(len(record.History)))
	for _, h := range record.History {
		if err := writeString(&buf, h); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func decodeCredentialRecord(data []byte) (*CredentialRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != credentialRecordVersionV1 {
		return nil, errors.New("invalid credential record version")
	}

	record := &CredentialRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.PasswordChanged); err != nil {
		return nil, err
	}
	if record.Hash, err = readString(reader); err != nil {
		return nil, err
	}

	count, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if count > 0 {
		record.History = make([]string, 0, count)
	}
	for i := 0; i < int(count); i++ {
		h, err := readString(reader)
		if err != nil {
			return nil, err
		}
		record.History = append(record.History, h)
	}

	return record, nil
}
