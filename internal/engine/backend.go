// Package engine drives the external certificate engines. A Backend runs the
// complete sequence for one identity set: CA, node certificate, client
// certificates and, where supported, interchange exports.
package engine

import (
	"context"
	"time"

	"github.com/vyrodovalexey/dynamic-certs/internal/artifacts"
	"github.com/vyrodovalexey/dynamic-certs/internal/config"
	"github.com/vyrodovalexey/dynamic-certs/internal/identity"
	"github.com/vyrodovalexey/dynamic-certs/internal/observability"
	"github.com/vyrodovalexey/dynamic-certs/internal/process"
)

// Backend names.
const (
	BackendOpenSSL   = "openssl"
	BackendCockroach = "cockroach"
)

// Backend generates the full artifact set for an identity set.
type Backend interface {
	// Name returns the backend name.
	Name() string

	// Layout returns the artifact layout the backend produces.
	Layout() artifacts.Layout

	// Generate runs every step in order and stops at the first error.
	Generate(ctx context.Context, set identity.IdentitySet) error
}

// Step identifies one generation step.
type Step struct {
	// Name is the step kind, e.g. "sign-client-cert".
	Name string

	// Subject is "ca", "node" or "client.<username>".
	Subject string
}

// Tracker is notified around every step.
type Tracker interface {
	// StepStarted may return a derived context for the step.
	StepStarted(ctx context.Context, step Step) context.Context
	StepFinished(ctx context.Context, step Step, duration time.Duration, err error)
}

type noopTracker struct{}

func (noopTracker) StepStarted(ctx context.Context, _ Step) context.Context { return ctx }

func (noopTracker) StepFinished(context.Context, Step, time.Duration, error) {}

// Option configures a backend.
type Option func(*base)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(b *base) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithTracker sets the step tracker.
func WithTracker(tracker Tracker) Option {
	return func(b *base) {
		if tracker != nil {
			b.tracker = tracker
		}
	}
}

// WithDryRun skips the in-process filesystem side effects (permission
// changes and serial reset). Use it together with a process.DryRunRunner.
func WithDryRun(dryRun bool) Option {
	return func(b *base) {
		b.dryRun = dryRun
	}
}

// base holds what both backends share.
type base struct {
	paths   artifacts.Paths
	runner  process.Runner
	logger  observability.Logger
	tracker Tracker
	dryRun  bool
}

func newBase(paths artifacts.Paths, runner process.Runner, opts []Option) base {
	b := base{
		paths:   paths,
		runner:  runner,
		logger:  observability.NopLogger(),
		tracker: noopTracker{},
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// step runs fn as one tracked step.
func (b *base) step(ctx context.Context, name, subject string, fn func(ctx context.Context) error) error {
	s := Step{Name: name, Subject: subject}
	stepCtx := b.tracker.StepStarted(ctx, s)

	logger := b.logger.WithContext(stepCtx).With(
		observability.String("step", name),
		observability.String("subject", subject),
	)
	logger.Debug("step started")

	start := time.Now()
	err := fn(stepCtx)
	duration := time.Since(start)

	b.tracker.StepFinished(stepCtx, s, duration, err)

	if err != nil {
		logger.Error("step failed", observability.Duration("duration", duration), observability.Error(err))
		return err
	}
	logger.Info("step completed", observability.Duration("duration", duration))
	return nil
}

// run executes one invocation.
func (b *base) run(ctx context.Context, inv process.Invocation) error {
	_, err := b.runner.Run(ctx, inv)
	return err
}

// restrictKey applies the private key mode unless in dry-run mode.
func (b *base) restrictKey(path string) error {
	if b.dryRun {
		return nil
	}
	return artifacts.RestrictKey(path)
}

// restrictBundle applies the bundle mode unless in dry-run mode.
func (b *base) restrictBundle(path string) error {
	if b.dryRun {
		return nil
	}
	return artifacts.RestrictBundle(path)
}

// prepareOverwrite makes a previously restricted file writable again.
func (b *base) prepareOverwrite(paths ...string) error {
	if b.dryRun {
		return nil
	}
	for _, p := range paths {
		if err := artifacts.PrepareOverwrite(p); err != nil {
			return err
		}
	}
	return nil
}

func clientSubject(username string) string {
	return artifacts.ClientBaseName(username)
}

// New returns the backend selected by cfg.UseOpenSSL. The PKCS#12 password
// is only used by the OpenSSL backend.
func New(
	cfg *config.Config,
	paths artifacts.Paths,
	runner process.Runner,
	pkcs12Password string,
	opts ...Option,
) (Backend, error) {
	if cfg.UseOpenSSL {
		b, err := NewOpenSSLBackend(OpenSSLConfigFrom(cfg, pkcs12Password), paths, runner, opts...)
		if err != nil {
			return nil, err
		}
		return b, nil
	}

	b, err := NewCockroachBackend(CockroachConfigFrom(cfg), paths, runner, opts...)
	if err != nil {
		return nil, err
	}
	return b, nil
}
