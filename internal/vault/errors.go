package vault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	vaultapi "github.com/hashicorp/vault/api"
)

var (
	ErrVaultDisabled        = errors.New("vault: integration disabled")
	ErrClientClosed         = errors.New("vault: client closed")
	ErrNotAuthenticated     = errors.New("vault: client not authenticated")
	ErrAuthenticationFailed = errors.New("vault: authentication failed")
	// ErrSecretNotFound covers a missing secret, a missing version and a
	// missing data key alike.
	ErrSecretNotFound   = errors.New("vault: secret not found")
	ErrInvalidConfig    = errors.New("vault: invalid configuration")
	ErrConnectionFailed = errors.New("vault: connection failed")
	ErrPermissionDenied = errors.New("vault: permission denied")
)

// VaultError ties a failed operation to its secret path and, when Vault
// answered, the HTTP status it answered with.
//
//nolint:revive // vault.VaultError is clearer than vault.Error at call sites
type VaultError struct {
	Op   string
	Path string
	Err  error
	Code int
}

func (e *VaultError) Error() string {
	where := e.Op
	if e.Path != "" {
		where += " on path " + e.Path
	}
	return "vault " + where + ": " + e.Err.Error()
}

func (e *VaultError) Unwrap() error { return e.Err }

// NewVaultError wraps err for op on path.
func NewVaultError(op, path string, err error) *VaultError {
	return &VaultError{Op: op, Path: path, Err: err}
}

// NewVaultErrorWithCode wraps err together with the response status.
func NewVaultErrorWithCode(op, path string, err error, code int) *VaultError {
	e := NewVaultError(op, path, err)
	e.Code = code
	return e
}

// ConfigurationError names the invalid field of a Config. It always matches
// ErrInvalidConfig.
type ConfigurationError struct {
	Field   string
	Message string
	Cause   error
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("vault configuration")
	if e.Field != "" {
		b.WriteString(" field ")
		b.WriteString(e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() error {
	if e.Cause == nil {
		return ErrInvalidConfig
	}
	return e.Cause
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrInvalidConfig }

func NewConfigurationError(field, message string) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: message}
}

func NewConfigurationErrorWithCause(field, message string, cause error) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: message, Cause: cause}
}

// IsRetryable reports transport failures, 5xx answers and 429 answers.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectionFailed) {
		return true
	}
	code := statusOf(err)
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// IsAuthError reports a failed login or a 401/403 answer.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotAuthenticated) || errors.Is(err, ErrAuthenticationFailed) {
		return true
	}
	code := statusOf(err)
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

func statusOf(err error) int {
	var ve *VaultError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return 0
}

// classify turns a vault/api error into a *VaultError. A response error keeps
// its status code. A context or network failure means Vault never answered
// and is marked ErrConnectionFailed.
func classify(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var ve *VaultError
	if errors.As(err, &ve) {
		return err
	}

	var resp *vaultapi.ResponseError
	if errors.As(err, &resp) {
		wrapped := err
		switch resp.StatusCode {
		case http.StatusNotFound:
			wrapped = fmt.Errorf("%w: %w", ErrSecretNotFound, err)
		case http.StatusForbidden:
			wrapped = fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
		return NewVaultErrorWithCode(op, path, wrapped, resp.StatusCode)
	}

	if unreachable(err) {
		return NewVaultError(op, path, fmt.Errorf("%w: %w", ErrConnectionFailed, err))
	}
	return NewVaultError(op, path, err)
}

func unreachable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeout interface{ Timeout() bool }
	return errors.As(err, &timeout) || strings.Contains(err.Error(), "connection refused")
}
