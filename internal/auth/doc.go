// Package auth authenticates requests with bearer tokens signed by rotating
// RSA keys and issues those tokens.
//
// A token names the key version it was signed with in its rsa_key_version
// claim. The Gate reads that claim before verification, resolves the key of
// that version through KeyResolver, binds the version to the request
// context and verifies the token with the verifier built for exactly that
// key. When the version cannot be resolved the current key is used, unless
// the resolver is strict.
//
// All failures are classified by ErrorKind and rendered by WriteError.
package auth
