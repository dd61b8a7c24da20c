package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/vyrodovalexey/keygate/internal/auth/jwt"
)

// ErrorKind classifies authentication failures. Every kind maps to exactly
// one HTTP status, response code and message.
type ErrorKind int

// Authentication error kinds.
const (
	KindUnknown ErrorKind = iota
	KindMalformedToken
	KindTokenInvalid
	KindTokenExpired
	KindWrongTokenType
	KindKeyFetchFailure
	KindKeyMaterialAbsent
	KindWrongCredentials
)

// Response codes written in the code field of error bodies.
const (
	CodeWrongCredentials = "40101"
	CodeTokenExpired     = "40103"
	CodeInvalidToken     = "40104"
	CodeInternal         = "5000"
)

const (
	messageInvalidToken     = "Invalid or missing token."
	messageTokenExpired     = "Token has expired"
	messageWrongCredentials = "Invalid username or password"
	messageInternal         = "Internal server error"
)

// String returns the kind as a metrics label.
func (k ErrorKind) String() string {
	switch k {
	case KindMalformedToken:
		return "malformed_token"
	case KindTokenInvalid:
		return "token_invalid"
	case KindTokenExpired:
		return "token_expired"
	case KindWrongTokenType:
		return "wrong_token_type"
	case KindKeyFetchFailure:
		return "key_fetch_failure"
	case KindKeyMaterialAbsent:
		return "key_material_absent"
	case KindWrongCredentials:
		return "wrong_credentials"
	default:
		return "unknown"
	}
}

// Status returns the HTTP status for the kind.
func (k ErrorKind) Status() int {
	switch k {
	case KindKeyMaterialAbsent, KindUnknown:
		return http.StatusInternalServerError
	default:
		return http.StatusUnauthorized
	}
}

// Code returns the response code for the kind.
func (k ErrorKind) Code() string {
	switch k {
	case KindTokenExpired:
		return CodeTokenExpired
	case KindWrongCredentials:
		return CodeWrongCredentials
	case KindKeyMaterialAbsent, KindUnknown:
		return CodeInternal
	default:
		return CodeInvalidToken
	}
}

// Message returns the client-facing message for the kind.
func (k ErrorKind) Message() string {
	switch k {
	case KindTokenExpired:
		return messageTokenExpired
	case KindWrongCredentials:
		return messageWrongCredentials
	case KindKeyMaterialAbsent, KindUnknown:
		return messageInternal
	default:
		return messageInvalidToken
	}
}

// Error is an authentication failure of a given kind.
type Error struct {
	Kind ErrorKind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("auth %s", e.Kind)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// ErrWrongCredentials indicates that a username and password did not match.
var ErrWrongCredentials = errors.New("invalid username or password")

// KindOf classifies err. Errors that carry no kind are classified by the
// sentinel they wrap.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind
	}

	switch {
	case errors.Is(err, jwt.ErrMalformedToken):
		return KindMalformedToken
	case errors.Is(err, jwt.ErrTokenExpired):
		return KindTokenExpired
	case errors.Is(err, jwt.ErrTokenInvalid):
		return KindTokenInvalid
	case errors.Is(err, jwt.ErrKeyMaterialAbsent), errors.Is(err, jwt.ErrInvalidKey):
		return KindKeyMaterialAbsent
	case errors.Is(err, ErrWrongCredentials):
		return KindWrongCredentials
	default:
		return KindUnknown
	}
}

// errorBody is the JSON body of every failed response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteError writes the status and JSON body for err.
func WriteError(w http.ResponseWriter, err error) {
	kind := KindOf(err)

	w.Header().Set("Content-Type", "application/json")
	if kind.Status() == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	w.WriteHeader(kind.Status())
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: kind.Message(),
		Code:  kind.Code(),
	})
}
