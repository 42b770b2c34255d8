package federation

import (
	"errors"
	"fmt"
	"time"

	"github.com/andrebq/doorman/ledger"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type (
	// StateSigner issues the opaque state value sent to providers. It is
	// a short lived HS256 token bound to the provider that issued it.
	StateSigner struct {
		secret []byte
		ttl    time.Duration
	}

	stateClaims struct {
		Provider ledger.Provider `json:"provider"`
		jwt.RegisteredClaims
	}
)

var (
	ErrInvalidState = errors.New("invalid oauth state")
)

func NewStateSigner(secret string, ttl time.Duration) (*StateSigner, error) {
	if len(secret) == 0 {
		return nil, errors.New("federation: a session secret is required to sign oauth state")
	}
	return &StateSigner{secret: []byte(secret), ttl: ttl}, nil
}

func (s *StateSigner) Issue(p ledger.Provider) (string, error) {
	now := time.Now()
	claims := stateClaims{
		Provider: p,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("unable to sign oauth state, cause %w", err)
	}
	return signed, nil
}

// Verify checks that state was issued by this signer for provider p and is
// still valid.
func (s *StateSigner) Verify(state string, p ledger.Provider) error {
	token, err := jwt.ParseWithClaims(state, &stateClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	claims, ok := token.Claims.(*stateClaims)
	if !ok || !token.Valid {
		return ErrInvalidState
	}
	if claims.Provider != p {
		return fmt.Errorf("%w: issued for %v, used by %v", ErrInvalidState, claims.Provider, p)
	}
	return nil
}
