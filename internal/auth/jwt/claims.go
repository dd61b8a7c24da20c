package jwt

import (
	"encoding/json"

	"github.com/golang-jwt/jwt/v5"
)

// Token types carried in the token_type claim.
const (
	TokenTypeAccess  = "ACCESS"
	TokenTypeRefresh = "REFRESH"
)

// Claims are the claims of tokens issued and accepted by the service.
type Claims struct {
	TokenType     string `json:"token_type"`
	RSAKeyVersion int    `json:"rsa_key_version,omitempty"`
	Scope         string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// UnmarshalJSON decodes the claims, reading rsa_key_version the same lenient
// way as PeekVersion.
func (c *Claims) UnmarshalJSON(data []byte) error {
	type plain Claims
	aux := struct {
		*plain
		RSAKeyVersion json.RawMessage `json:"rsa_key_version"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.RSAKeyVersion = parseVersion(aux.RSAKeyVersion)
	return nil
}

// IsAccess reports whether the claims belong to an access token.
func (c *Claims) IsAccess() bool {
	return c.TokenType == TokenTypeAccess
}

// IsRefresh reports whether the claims belong to a refresh token.
func (c *Claims) IsRefresh() bool {
	return c.TokenType == TokenTypeRefresh
}
