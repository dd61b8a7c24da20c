package jwt

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// BuildKeySet converts version to public key entries into a JWK set. Each
// key carries kid = version, alg = RS256 and use = sig, ordered by version.
func BuildKeySet(keys map[int]string) (jwk.Set, error) {
	versions := make([]int, 0, len(keys))
	for v := range keys {
		versions = append(versions, v)
	}
	sort.Ints(versions)

	set := jwk.NewSet()
	for _, v := range versions {
		pub, err := ParsePublicKey(keys[v])
		if err != nil {
			return nil, NewKeyError(v, "failed to parse cached public key", err)
		}

		key, err := jwk.FromRaw(pub)
		if err != nil {
			return nil, NewKeyError(v, "failed to build jwk", err)
		}
		if err := setKeyFields(key, v); err != nil {
			return nil, NewKeyError(v, "failed to set jwk fields", err)
		}
		if err := set.AddKey(key); err != nil {
			return nil, fmt.Errorf("add jwk for version %d: %w", v, err)
		}
	}
	return set, nil
}

func setKeyFields(key jwk.Key, version int) error {
	if err := key.Set(jwk.KeyIDKey, strconv.Itoa(version)); err != nil {
		return err
	}
	if err := key.Set(jwk.AlgorithmKey, AlgRS256); err != nil {
		return err
	}
	return key.Set(jwk.KeyUsageKey, jwk.ForSignature)
}
