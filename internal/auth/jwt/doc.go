// Package jwt provides RS256 token verification and signing bound to
// individual RSA keys.
//
// Verifiers and signers are expensive to build, so the factories cache them
// by a normalized encoding of the key material:
//
//	verifiers := jwt.NewVerifierFactory(jwt.WithIssuer("keygate"))
//	v, err := verifiers.Get(publicKeyPEM)
//	if err != nil {
//	    // key material absent or not an RSA key
//	}
//	claims, err := v.Verify(token)
//
// PeekVersion reads the rsa_key_version claim before any verification so
// callers can pick the key a token was signed with.
package jwt
