package jwt

import (
	"crypto/rsa"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Signer signs tokens with one RSA key pair. Its key id is generated when
// the signer is built and stays fixed for the signer's lifetime.
type Signer struct {
	key   *rsa.PrivateKey
	keyID string
}

// NewSigner creates a signer for the given private key material.
func NewSigner(privateKey string) (*Signer, error) {
	key, err := ParsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	return &Signer{key: key, keyID: uuid.NewString()}, nil
}

// KeyID returns the kid placed in the header of every signed token.
func (s *Signer) KeyID() string {
	return s.keyID
}

// PublicKey returns the public half of the signing key.
func (s *Signer) PublicKey() *rsa.PublicKey {
	return &s.key.PublicKey
}

// Sign returns the compact RS256 serialization of claims.
func (s *Signer) Sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// SignerFactory builds signers and caches them by normalized private key.
type SignerFactory struct {
	signers sync.Map // normalized key -> *Signer
}

// NewSignerFactory creates an empty signer factory.
func NewSignerFactory() *SignerFactory {
	return &SignerFactory{}
}

// Get returns the cached signer for privateKey, building it on first use.
func (f *SignerFactory) Get(privateKey string) (*Signer, error) {
	cacheKey := NormalizeKey(privateKey)
	if cacheKey == "" {
		return nil, NewKeyError(0, "no private key available", ErrKeyMaterialAbsent)
	}
	if s, ok := f.signers.Load(cacheKey); ok {
		return s.(*Signer), nil
	}

	s, err := NewSigner(privateKey)
	if err != nil {
		return nil, err
	}
	actual, _ := f.signers.LoadOrStore(cacheKey, s)
	return actual.(*Signer), nil
}
