package auth

import (
	"context"
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// DirectoryAuthenticator checks a username and password against an
// external directory. A nil error means the credentials were accepted.
type DirectoryAuthenticator interface {
	Authenticate(ctx context.Context, username, password string) error
}

// bcryptPrefixes identify a password secret stored as a bcrypt hash.
var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

// CheckCredentials reports whether username and password match the
// expected username and password secret. The secret may be plain text or a
// bcrypt hash. An empty expected username never matches.
func CheckCredentials(expectedUsername, passwordSecret, username, password string) bool {
	if expectedUsername == "" || passwordSecret == "" {
		return false
	}

	userOK := subtle.ConstantTimeCompare([]byte(expectedUsername), []byte(username)) == 1
	var passOK bool
	if isBcryptHash(passwordSecret) {
		passOK = bcrypt.CompareHashAndPassword([]byte(passwordSecret), []byte(password)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(passwordSecret), []byte(password)) == 1
	}
	return userOK && passOK
}

func isBcryptHash(secret string) bool {
	for _, prefix := range bcryptPrefixes {
		if strings.HasPrefix(secret, prefix) {
			return true
		}
	}
	return false
}
