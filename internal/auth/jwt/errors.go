package jwt

import (
	"errors"
	"fmt"
)

// AlgRS256 is the only signing algorithm issued and accepted.
const AlgRS256 = "RS256"

// Sentinel errors for token and key operations.
var (
	// ErrMalformedToken indicates that the token is structurally invalid.
	ErrMalformedToken = errors.New("token is malformed")

	// ErrTokenExpired indicates that the token has expired.
	ErrTokenExpired = errors.New("token has expired")

	// ErrTokenInvalid indicates a failed signature, issuer or not-before check.
	ErrTokenInvalid = errors.New("token is invalid")

	// ErrKeyMaterialAbsent indicates that no key material was supplied.
	ErrKeyMaterialAbsent = errors.New("key material is absent")

	// ErrInvalidKey indicates that key material could not be decoded as an RSA key.
	ErrInvalidKey = errors.New("key material is invalid")
)

// KeyError describes a key that could not be used, optionally tied to a
// key version.
type KeyError struct {
	Version int
	Message string
	Err     error
}

// Error implements the error interface.
func (e *KeyError) Error() string {
	prefix := "jwt key error"
	if e.Version > 0 {
		prefix = fmt.Sprintf("jwt key error (version=%d)", e.Version)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the underlying error.
func (e *KeyError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a KeyError or matches the wrapped error.
func (e *KeyError) Is(target error) bool {
	_, ok := target.(*KeyError)
	return ok
}

// NewKeyError creates a new KeyError.
func NewKeyError(version int, message string, err error) *KeyError {
	return &KeyError{
		Version: version,
		Message: message,
		Err:     err,
	}
}
