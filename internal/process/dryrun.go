package process

import (
	"context"

	"github.com/vyrodovalexey/dynamic-certs/internal/observability"
)

// DryRunRunner logs every invocation and reports success without running it.
type DryRunRunner struct {
	logger observability.Logger
}

// NewDryRunRunner creates a DryRunRunner.
func NewDryRunRunner(logger observability.Logger) *DryRunRunner {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &DryRunRunner{logger: logger}
}

// Run implements Runner.
func (r *DryRunRunner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewRunnerError(inv, err)
	}

	fields := []observability.Field{observability.String("command", inv.String())}
	if keys := inv.EnvKeys(); len(keys) > 0 {
		fields = append(fields, observability.Strings("env", keys))
	}
	r.logger.WithContext(ctx).Info("dry run: skipping command", fields...)

	return &Result{}, nil
}
