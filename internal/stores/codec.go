package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/redis/go-redis/v9"
)

// maxRetries bounds optimistic WATCH/MULTI attempts before a store reports contention.
const maxRetries = 4

// ErrContention is returned when a WATCH transaction keeps losing to concurrent writers.
var ErrContention = errors.New("store contention")

// Normalize is the canonical form used for every identity and name lookup.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// getter is satisfied by both redis.UniversalClient and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func joinKey(prefix string, parts ...string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 65535 {
		return errors.New("record string field too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}

// classify passes store sentinels through untouched and wraps anything else
// (network, decode) in unavailable.
func classify(err, unavailable error, known ...error) error {
	for _, k := range known {
		if errors.Is(err, k) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", unavailable, err)
}
