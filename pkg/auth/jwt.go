package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

const (
	issuer  = "agentpay"
	keyInfo = "agentpay/jwt/hs256"
	keySize = 32
)

// ErrNoSecret is returned when a signer is built without a secret.
var ErrNoSecret = errors.New("auth: signing secret is empty")

// Claims are the JWT claims expected by the agentpay API. The subject is
// the caller identity (an account address or an engine identity).
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// Signer issues and validates HS256 bearer tokens. The MAC key is derived
// from the configured secret with HKDF so the raw secret never keys a token.
type Signer struct {
	key   []byte
	clock func() time.Time
}

// NewSigner derives the signing key from secret.
func NewSigner(secret string) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrNoSecret
	}
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("auth: derive key: %w", err)
	}
	return &Signer{key: key, clock: time.Now}, nil
}

// WithClock overrides the time source used for issuing and validating.
func (s *Signer) WithClock(clock func() time.Time) *Signer {
	s.clock = clock
	return s
}

// Issue signs a token for subject valid for ttl.
func (s *Signer) Issue(subject string, ttl time.Duration, roles ...string) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("auth: subject is required")
	}
	now := s.clock()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Validate parses and validates a token string.
func (s *Signer) Validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(t *jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock),
	)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token subject is required")
	}
	return claims, nil
}

// Principal converts validated claims into the request principal.
func (c *Claims) Principal() Principal {
	return Principal{ID: c.Subject, Roles: c.Roles}
}
