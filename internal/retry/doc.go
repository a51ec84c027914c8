// Package retry repeats an operation with exponential backoff and jitter.
//
// It is used for calls to external secret stores that may not be reachable
// yet when the provisioner starts, such as Vault or the Kubernetes API
// server during pod startup.
//
// # Usage
//
//	cfg := &retry.Config{MaxRetries: 3, InitialBackoff: 500 * time.Millisecond}
//	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
//	    return fetchSecret(ctx)
//	}, &retry.Options{ShouldRetry: isTransient})
package retry
