package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// TokenID identifies a stored single-use token record.
type TokenID [16]byte

const (
	secretSize   = 32
	tokenRawSize = len(TokenID{}) + secretSize
)

// Secret is the random half of a bearer token. Only its SHA-256 digest is persisted.
type Secret [secretSize]byte

// ErrMalformedToken is returned when a presented bearer token cannot be decoded.
var ErrMalformedToken = errors.New("malformed token")

func NewTokenID() (TokenID, error) {
	var id TokenID
	_, err := rand.Read(id[:])
	return id, err
}

func (id TokenID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

func NewSecret() (Secret, error) {
	var secret Secret
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashSecret(secret Secret) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeToken renders base64url(id ‖ secret) without padding.
func EncodeToken(id TokenID, secret Secret) string {
	var raw [tokenRawSize]byte
	copy(raw[:len(id)], id[:])
	copy(raw[len(id):], secret[:])
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

// DecodeToken splits a bearer token produced by EncodeToken.
func DecodeToken(token string) (TokenID, Secret, error) {
	var (
		id     TokenID
		secret Secret
	)

	if len(token) != base64.RawURLEncoding.EncodedLen(tokenRawSize) {
		return id, secret, ErrMalformedToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != tokenRawSize {
		return id, secret, ErrMalformedToken
	}

	copy(id[:], raw[:len(id)])
	copy(secret[:], raw[len(id):])
	return id, secret, nil
}

// NewBearerToken mints a fresh id and secret and returns the encoded token
// alongside the id and the secret digest to persist.
func NewBearerToken() (token string, id TokenID, digest [32]byte, err error) {
	id, err = NewTokenID()
	if err != nil {
		return "", id, digest, err
	}
	secret, err := NewSecret()
	if err != nil {
		return "", id, digest, err
	}
	return EncodeToken(id, secret), id, HashSecret(secret), nil
}
