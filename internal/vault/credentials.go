package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vyrodovalexey/keygate/internal/observability"
	"github.com/vyrodovalexey/keygate/internal/retry"
)

// Data keys of the key bundle secret.
const (
	KeyPrivateKey = "PRIVATE_KEY"
	KeyPublicKey  = "PUBLIC_KEY"
	KeyUsername   = "WATERMARK_USERNAME"
	KeyPassword   = "WATERMARK_PASSWORD" //nolint:gosec // G101: a data key name
)

// Credentials is one version of the key bundle secret.
type Credentials struct {
	PrivateKey     string
	PublicKey      string
	Version        int
	Username       string
	PasswordSecret string
}

// GetCurrentCredentials reads the latest version of the key bundle.
func (c *vaultClient) GetCurrentCredentials(ctx context.Context) (*Credentials, error) {
	data, version, err := c.readBundle(ctx, "read_current", 0)
	if err != nil {
		return nil, err
	}

	creds := &Credentials{
		PrivateKey:     stringValue(data, KeyPrivateKey),
		PublicKey:      stringValue(data, KeyPublicKey),
		Version:        version,
		Username:       stringValue(data, KeyUsername),
		PasswordSecret: stringValue(data, KeyPassword),
	}

	c.logger.Debug("read current key bundle",
		observability.Int("version", creds.Version),
	)
	return creds, nil
}

// GetKeyForVersion reads the public key of one historical bundle version.
func (c *vaultClient) GetKeyForVersion(ctx context.Context, version int) (string, error) {
	if version <= 0 {
		return "", NewVaultError("read_version", c.dataPath(), fmt.Errorf("%w: invalid version %d", ErrSecretNotFound, version))
	}

	data, _, err := c.readBundle(ctx, "read_version", version)
	if err != nil {
		return "", err
	}

	key := stringValue(data, KeyPublicKey)
	if key == "" {
		return "", NewVaultError("read_version", c.dataPath(), fmt.Errorf("%w: %s missing", ErrSecretNotFound, KeyPublicKey))
	}
	return key, nil
}

// readBundle performs a KV v2 read through the breaker and the retry loop.
// A version of zero reads the latest version.
func (c *vaultClient) readBundle(ctx context.Context, op string, version int) (map[string]interface{}, int, error) {
	if err := c.checkOpen(); err != nil {
		return nil, 0, err
	}

	path := c.dataPath()
	ctx, span := tracer.Start(ctx, "vault."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("vault.path", path),
		attribute.Int("vault.version", version),
	)

	var query map[string][]string
	if version > 0 {
		query = map[string][]string{"version": {strconv.Itoa(version)}}
	}

	start := time.Now()
	var secret *vaultapi.Secret
	err := c.breaker.Execute(func() error {
		return retry.Do(ctx, c.retry, func() error {
			callCtx, cancel := context.WithTimeout(ctx, c.config.GetCommandTimeout())
			defer cancel()

			s, err := c.api.Logical().ReadWithDataWithContext(callCtx, path, query)
			if err != nil {
				return classify(op, path, err)
			}
			secret = s
			return nil
		}, &retry.Options{
			ShouldRetry: IsRetryable,
			OnRetry: func(attempt int, err error, backoff time.Duration) {
				c.logger.Debug("retrying vault read",
					observability.String("operation", op),
					observability.Int("attempt", attempt),
					observability.Duration("backoff", backoff),
					observability.Error(err),
				)
			},
		})
	})
	duration := time.Since(start)

	if err != nil {
		c.metrics.RecordVaultRequest(op, "error", duration)
		span.RecordError(err)
		span.SetStatus(codes.Error, "vault read failed")
		return nil, 0, err
	}

	data, current, err := parseKV2(secret)
	if err != nil {
		c.metrics.RecordVaultRequest(op, "not_found", duration)
		return nil, 0, NewVaultError(op, path, err)
	}

	c.metrics.RecordVaultRequest(op, "success", duration)
	return data, current, nil
}

func (c *vaultClient) dataPath() string {
	mount := strings.Trim(c.config.GetMount(), "/")
	return mount + "/data/" + strings.Trim(c.config.Path, "/")
}

// parseKV2 unwraps the data and metadata.version of a KV v2 read.
func parseKV2(secret *vaultapi.Secret) (map[string]interface{}, int, error) {
	if secret == nil || secret.Data == nil {
		return nil, 0, ErrSecretNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok || len(data) == 0 {
		// Deleted or destroyed versions come back with "data": null.
		return nil, 0, ErrSecretNotFound
	}

	version := 0
	if metadata, ok := secret.Data["metadata"].(map[string]interface{}); ok {
		version = intValue(metadata["version"])
	}

	return data, version, nil
}

func stringValue(data map[string]interface{}, key string) string {
	s, _ := data[key].(string)
	return s
}

func intValue(v interface{}) int {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0
		}
		return int(i)
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}
