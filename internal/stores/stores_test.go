package stores

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

// saltedHasher mimics argon2 salting: equal plaintexts never produce equal hashes.
type saltedHasher struct {
	hashCalls   atomic.Int64
	verifyCalls atomic.Int64
}

func (h *saltedHasher) Hash(password string) (string, error) {
	h.hashCalls.Add(1)
	if password == "" {
		return "", errors.New("empty password")
	}
	salt := make([]byte, 8)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	return "fake$" + hex.EncodeToString(salt) + "$" + password, nil
}

func (h *saltedHasher) Verify(password, encoded string) (bool, error) {
	h.verifyCalls.Add(1)
	parts := strings.SplitN(encoded, "$", 3)
	if len(parts) != 3 || parts[0] != "fake" {
		return false, errors.New("malformed fake hash")
	}
	return parts[2] == password, nil
}
