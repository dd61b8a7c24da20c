package jwt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_Sign(t *testing.T) {
	t.Parallel()

	kp, _ := keyPairs(t)
	s, err := NewSigner(kp.privatePEM)
	require.NoError(t, err)
	assert.NotEmpty(t, s.KeyID())
	assert.True(t, kp.key.PublicKey.Equal(s.PublicKey()))

	token, err := s.Sign(testClaims(TokenTypeAccess, 4, time.Now().Add(time.Hour)))
	require.NoError(t, err)

	parsed, _, err := jwt.NewParser().ParseUnverified(token, &Claims{})
	require.NoError(t, err)
	assert.Equal(t, AlgRS256, parsed.Header["alg"])
	assert.Equal(t, s.KeyID(), parsed.Header["kid"])

	version, err := PeekVersion(token)
	require.NoError(t, err)
	assert.Equal(t, 4, version)
}

func TestSigner_InvalidKey(t *testing.T) {
	t.Parallel()

	_, err := NewSigner("")
	assert.ErrorIs(t, err, ErrKeyMaterialAbsent)

	kp, _ := keyPairs(t)
	_, err = NewSigner(kp.publicPEM)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestSignerFactory_StableKeyID(t *testing.T) {
	t.Parallel()

	kp, other := keyPairs(t)
	f := NewSignerFactory()

	first, err := f.Get(kp.privatePEM)
	require.NoError(t, err)
	second, err := f.Get(kp.privatePEM)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, first.KeyID(), second.KeyID())

	rotated, err := f.Get(other.privatePEM)
	require.NoError(t, err)
	assert.NotEqual(t, first.KeyID(), rotated.KeyID())

	_, err = f.Get("  ")
	assert.ErrorIs(t, err, ErrKeyMaterialAbsent)
}

func TestBuildKeySet(t *testing.T) {
	t.Parallel()

	kp, other := keyPairs(t)

	set, err := BuildKeySet(map[int]string{3: other.publicPEM, 2: kp.publicPEM})
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())

	raw, err := json.Marshal(set)
	require.NoError(t, err)

	var doc struct {
		Keys []struct {
			Kid string `json:"kid"`
			Alg string `json:"alg"`
			Use string `json:"use"`
			Kty string `json:"kty"`
		} `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Len(t, doc.Keys, 2)
	assert.Equal(t, "2", doc.Keys[0].Kid)
	assert.Equal(t, "3", doc.Keys[1].Kid)
	for _, k := range doc.Keys {
		assert.Equal(t, AlgRS256, k.Alg)
		assert.Equal(t, "sig", k.Use)
		assert.Equal(t, "RSA", k.Kty)
	}

	_, err = BuildKeySet(map[int]string{5: "Zm9v"})
	var keyErr *KeyError
	require.ErrorAs(t, err, &keyErr)
	assert.Equal(t, 5, keyErr.Version)

	empty, err := BuildKeySet(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
}
