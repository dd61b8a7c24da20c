package jwt

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates tokens against exactly one RSA public key.
type Verifier struct {
	key    *rsa.PublicKey
	parser *jwt.Parser
}

// NewVerifier creates a verifier for the given key material.
func NewVerifier(publicKey string, opts ...VerifierOption) (*Verifier, error) {
	key, err := ParsePublicKey(publicKey)
	if err != nil {
		return nil, err
	}

	o := &verifierOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return &Verifier{key: key, parser: jwt.NewParser(o.parserOptions()...)}, nil
}

// Verify checks signature, expiry, not-before and issuer and returns the
// decoded claims. The token type is not checked here.
func (v *Verifier) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		return nil, mapParseError(err)
	}
	return claims, nil
}

// PublicKey returns the key the verifier is bound to.
func (v *Verifier) PublicKey() *rsa.PublicKey {
	return v.key
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrTokenExpired, err)
	default:
		return fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
}

type verifierOptions struct {
	issuer string
	leeway time.Duration
}

func (o *verifierOptions) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{AlgRS256}),
		jwt.WithExpirationRequired(),
	}
	if o.issuer != "" {
		opts = append(opts, jwt.WithIssuer(o.issuer))
	}
	if o.leeway > 0 {
		opts = append(opts, jwt.WithLeeway(o.leeway))
	}
	return opts
}

// VerifierOption configures verifiers built by NewVerifier or a VerifierFactory.
type VerifierOption func(*verifierOptions)

// WithIssuer requires the iss claim to equal issuer.
func WithIssuer(issuer string) VerifierOption {
	return func(o *verifierOptions) {
		o.issuer = issuer
	}
}

// WithLeeway tolerates clock skew on exp and nbf.
func WithLeeway(leeway time.Duration) VerifierOption {
	return func(o *verifierOptions) {
		o.leeway = leeway
	}
}

// VerifierFactory builds verifiers and caches them by normalized key
// material for the lifetime of the process.
type VerifierFactory struct {
	opts      []VerifierOption
	verifiers sync.Map // normalized key -> *Verifier
}

// NewVerifierFactory creates a factory whose verifiers share opts.
func NewVerifierFactory(opts ...VerifierOption) *VerifierFactory {
	return &VerifierFactory{opts: opts}
}

// Get returns the cached verifier for publicKey, building it on first use.
// Concurrent first calls for the same key all receive the same instance.
func (f *VerifierFactory) Get(publicKey string) (*Verifier, error) {
	cacheKey := NormalizeKey(publicKey)
	if cacheKey == "" {
		return nil, NewKeyError(0, "no public key available", ErrKeyMaterialAbsent)
	}
	if v, ok := f.verifiers.Load(cacheKey); ok {
		return v.(*Verifier), nil
	}

	v, err := NewVerifier(publicKey, f.opts...)
	if err != nil {
		return nil, err
	}
	actual, _ := f.verifiers.LoadOrStore(cacheKey, v)
	return actual.(*Verifier), nil
}

// Len returns the number of cached verifiers.
func (f *VerifierFactory) Len() int {
	n := 0
	f.verifiers.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
