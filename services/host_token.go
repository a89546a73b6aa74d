package services

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/hkdf"
)

const hostScope = "host"

// HostClaims is the capability granted by a successful PIN verification:
// host access to exactly one room until ExpiresAt.
type HostClaims struct {
	RoomID string `json:"roomId"`
	Scope  string `json:"scope"`
	jwt.RegisteredClaims
}

// HostTokenIssuer signs and checks room-scoped host tokens.
type HostTokenIssuer struct {
	key   []byte
	ttl   time.Duration
	clock clockwork.Clock
}

func NewHostTokenIssuer(secret string, ttl time.Duration, clock clockwork.Clock) (*HostTokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("host token secret is empty")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	// Changing the label invalidates every outstanding token.
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("revealroom host token v1"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive host token key: %w", err)
	}

	return &HostTokenIssuer{key: key, ttl: ttl, clock: clock}, nil
}

// Issue returns a signed token for roomID and its expiry.
func (i *HostTokenIssuer) Issue(roomID string) (string, time.Time, error) {
	now := i.clock.Now()
	expiresAt := now.Add(i.ttl)

	claims := HostClaims{
		RoomID: roomID,
		Scope:  hostScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   roomID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign host token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses raw and checks signature, expiry and scope. The room match is
// left to the caller.
func (i *HostTokenIssuer) Verify(raw string) (*HostClaims, error) {
	claims := &HostClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return i.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.clock.Now))
	if err != nil || !token.Valid {
		return nil, Forbidden("Host token is invalid or expired")
	}
	if claims.Scope != hostScope || claims.RoomID == "" {
		return nil, Forbidden("Host token is invalid or expired")
	}
	return claims, nil
}

// Authorize verifies raw and checks it grants host access to roomID.
func (i *HostTokenIssuer) Authorize(raw, roomID string) (*HostClaims, error) {
	if raw == "" {
		return nil, Unauthorized("Host token required")
	}
	claims, err := i.Verify(raw)
	if err != nil {
		return nil, err
	}
	if claims.RoomID != roomID {
		return nil, Forbidden("Host token does not grant access to this room")
	}
	return claims, nil
}
