// Package pass issues and verifies the short-lived signed credential a
// client exchanges for direct access once its queue entry is ALLOWED.
// Passes are stateless: verification needs only the shared signing secret.
package pass

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultTTL = 5 * time.Minute

// ErrInvalidPass covers every verification failure: expired, malformed,
// bad signature. Callers treat all of them as "no valid pass".
var ErrInvalidPass = errors.New("invalid pass credential")

type signerOptions struct {
	ttl time.Duration
	now func() time.Time
}

func defaultSignerOptions() *signerOptions {
	return &signerOptions{
		ttl: DefaultTTL,
		now: time.Now,
	}
}

type SignerOption interface {
	apply(options *signerOptions)
}

type SignerOptionFunc func(options *signerOptions)

func (f SignerOptionFunc) apply(options *signerOptions) {
	f(options)
}

func WithTTL(ttl time.Duration) SignerOption {
	return SignerOptionFunc(func(options *signerOptions) {
		options.ttl = ttl
	})
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) SignerOption {
	return SignerOptionFunc(func(options *signerOptions) {
		options.now = now
	})
}

type Signer struct {
	secret  []byte
	options *signerOptions
}

func NewSigner(secret []byte, opts ...SignerOption) *Signer {
	options := defaultSignerOptions()
	for _, o := range opts {
		o.apply(options)
	}
	return &Signer{
		secret:  secret,
		options: options,
	}
}

// Issue signs a pass scoped to a single queue token. Issuing is a one-way,
// re-issuable operation with no server-side state.
func (s *Signer) Issue(token string) (string, error) {
	now := s.options.now()
	claims := jwt.RegisteredClaims{
		Subject:   token,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.options.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign pass: %w", err)
	}
	return signed, nil
}

func (s *Signer) Verify(signed string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(signed, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.options.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPass, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidPass
	}
	return claims, nil
}
