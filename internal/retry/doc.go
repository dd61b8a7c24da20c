// Package retry provides bounded exponential backoff with jitter.
//
// Secret-store calls on the request path use small budgets: a couple of
// retries with millisecond backoffs, always bounded by the caller's context.
//
//	err := retry.Do(ctx, cfg, func() error {
//	    return client.Read(ctx)
//	}, &retry.Options{ShouldRetry: vault.IsRetryable})
package retry
