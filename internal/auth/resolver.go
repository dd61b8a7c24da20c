package auth

import (
	"context"
	"errors"

	"github.com/vyrodovalexey/keygate/internal/auth/jwt"
	"github.com/vyrodovalexey/keygate/internal/observability"
	"github.com/vyrodovalexey/keygate/internal/secrets"
)

// VersionedKeys resolves public keys by version. keys.Cache satisfies it.
type VersionedKeys interface {
	Resolve(ctx context.Context, version int) (string, error)
	Get(version int) (string, bool)
}

// CurrentBundle returns the current credential bundle. secrets.Cache
// satisfies it.
type CurrentBundle interface {
	GetCurrent(ctx context.Context) secrets.Bundle
}

// VerifierResolver picks the verifier for the request carried by ctx.
type VerifierResolver func(ctx context.Context) (*jwt.Verifier, error)

type keyVersionKey struct{}

// ContextWithKeyVersion binds a resolved key version to ctx.
func ContextWithKeyVersion(ctx context.Context, version int) context.Context {
	return context.WithValue(ctx, keyVersionKey{}, version)
}

// KeyVersionFromContext returns the key version bound to ctx.
func KeyVersionFromContext(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(keyVersionKey{}).(int)
	return v, ok && v > 0
}

// KeyResolver verifies tokens against the key of the version they name,
// falling back to the current key when that version cannot be resolved.
type KeyResolver struct {
	keys      VersionedKeys
	current   CurrentBundle
	verifiers *jwt.VerifierFactory
	strict    bool
	logger    observability.Logger
}

// ResolverOption configures a KeyResolver.
type ResolverOption func(*KeyResolver)

// WithStrictVersion rejects tokens whose named version cannot be resolved
// instead of verifying them against the current key.
func WithStrictVersion(strict bool) ResolverOption {
	return func(r *KeyResolver) {
		r.strict = strict
	}
}

// WithResolverLogger sets the logger.
func WithResolverLogger(logger observability.Logger) ResolverOption {
	return func(r *KeyResolver) {
		r.logger = logger
	}
}

// NewKeyResolver creates a resolver.
func NewKeyResolver(
	keys VersionedKeys,
	current CurrentBundle,
	verifiers *jwt.VerifierFactory,
	opts ...ResolverOption,
) *KeyResolver {
	r := &KeyResolver{
		keys:      keys,
		current:   current,
		verifiers: verifiers,
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Bind resolves the key of version and, on success, returns ctx with the
// version bound. An unresolvable version leaves ctx unbound unless the
// resolver is strict, in which case it fails with KindKeyFetchFailure.
func (r *KeyResolver) Bind(ctx context.Context, version int) (context.Context, error) {
	if version <= 0 {
		return ctx, nil
	}
	if _, err := r.keys.Resolve(ctx, version); err != nil {
		if r.strict {
			return ctx, NewError(KindKeyFetchFailure, err)
		}
		r.logger.WithContext(ctx).Warn("key version unresolved, verifying with current key",
			observability.Int("version", version),
			observability.Error(err),
		)
		return ctx, nil
	}
	return ContextWithKeyVersion(ctx, version), nil
}

// Verifier returns the verifier for the version bound to ctx, or for the
// current public key when none is bound. It has the VerifierResolver shape.
func (r *KeyResolver) Verifier(ctx context.Context) (*jwt.Verifier, error) {
	if version, ok := KeyVersionFromContext(ctx); ok {
		if key, ok := r.keys.Get(version); ok {
			v, err := r.verifiers.Get(key)
			if err == nil {
				return v, nil
			}
			r.logger.WithContext(ctx).Warn("cached key unusable, verifying with current key",
				observability.Int("version", version),
				observability.Error(err),
			)
		}
	}

	bundle := r.current.GetCurrent(ctx)
	v, err := r.verifiers.Get(bundle.PublicKey)
	if err != nil {
		// An unusable current key rejects the token; it is not a server fault
		// once the service is running.
		return nil, NewError(KindTokenInvalid, err)
	}
	return v, nil
}

// Verify reads the version named by token, binds it, and verifies the token
// with the matching verifier. The returned context carries the binding.
// Token type is not checked.
func (r *KeyResolver) Verify(ctx context.Context, token string) (context.Context, *jwt.Claims, error) {
	version, err := jwt.PeekVersion(token)
	if err != nil {
		return ctx, nil, NewError(KindMalformedToken, err)
	}

	ctx, err = r.Bind(ctx, version)
	if err != nil {
		return ctx, nil, err
	}

	return r.verifyWith(ctx, token, r.Verifier)
}

func (r *KeyResolver) verifyWith(
	ctx context.Context,
	token string,
	resolve VerifierResolver,
) (context.Context, *jwt.Claims, error) {
	verifier, err := resolve(ctx)
	if err != nil {
		return ctx, nil, err
	}

	claims, err := verifier.Verify(token)
	if err != nil {
		kind := KindTokenInvalid
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			kind = KindTokenExpired
		case errors.Is(err, jwt.ErrMalformedToken):
			kind = KindMalformedToken
		}
		return ctx, nil, NewError(kind, err)
	}
	return ctx, claims, nil
}
