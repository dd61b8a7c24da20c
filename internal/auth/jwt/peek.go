package jwt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PeekVersion reads the rsa_key_version claim from the token payload without
// verifying the signature. It returns 0 when the claim is absent or is not a
// non-negative integer. A token with fewer than two segments, or whose
// payload is not base64url JSON, yields ErrMalformedToken.
func PeekVersion(token string) (int, error) {
	parts := strings.Split(token, ".")
	if len(parts) < 2 || parts[1] == "" {
		return 0, fmt.Errorf("%w: expected at least two segments", ErrMalformedToken)
	}

	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return 0, fmt.Errorf("%w: payload is not base64url", ErrMalformedToken)
	}

	var claims struct {
		Version json.RawMessage `json:"rsa_key_version"`
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(&claims); err != nil {
		return 0, fmt.Errorf("%w: payload is not a JSON object", ErrMalformedToken)
	}

	return parseVersion(claims.Version), nil
}

// parseVersion accepts a JSON number or numeric string. Anything else reads
// as no version, so the token is checked against the current key.
func parseVersion(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0
		}
		n = json.Number(strings.TrimSpace(s))
	}

	v, err := strconv.Atoi(n.String())
	if err != nil || v < 0 {
		return 0
	}
	return v
}
