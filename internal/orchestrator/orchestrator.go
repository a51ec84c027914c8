// Package orchestrator runs one certificate provisioning pass: it derives
// the identity set from the configuration, prepares the output roots,
// drives the selected engine backend and verifies what was produced.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vyrodovalexey/dynamic-certs/internal/artifacts"
	"github.com/vyrodovalexey/dynamic-certs/internal/config"
	"github.com/vyrodovalexey/dynamic-certs/internal/engine"
	"github.com/vyrodovalexey/dynamic-certs/internal/identity"
	"github.com/vyrodovalexey/dynamic-certs/internal/observability"
	"github.com/vyrodovalexey/dynamic-certs/internal/process"
	"github.com/vyrodovalexey/dynamic-certs/internal/verify"
)

// StepVerifyArtifacts is the name of the verification step.
const StepVerifyArtifacts = "verify-artifacts"

// ErrPanic is wrapped by the error of a run that panicked.
var ErrPanic = errors.New("provisioning panicked")

// StepResult is the outcome of one backend or verification step.
type StepResult struct {
	Name     string
	Subject  string
	Duration time.Duration
	Err      error
}

// RunResult is the outcome of a provisioning run.
type RunResult struct {
	RunID    string
	Backend  string
	Success  bool
	Err      error
	Duration time.Duration
	Steps    []StepResult
}

// Orchestrator runs provisioning passes for one configuration.
type Orchestrator struct {
	config         *config.Config
	runner         process.Runner
	pkcs12Password string
	logger         observability.Logger
	metrics        *observability.Metrics
	tracer         *observability.Tracer
	dryRun         bool
	newRunID       func() string
}

// Option is a functional option for configuring the orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the run metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer *observability.Tracer) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithPKCS12Password sets the password of exported PKCS#12 bundles.
func WithPKCS12Password(password string) Option {
	return func(o *Orchestrator) {
		o.pkcs12Password = password
	}
}

// WithDryRun skips directory creation, in-process file changes and
// verification. Pair it with a process.DryRunRunner.
func WithDryRun(dryRun bool) Option {
	return func(o *Orchestrator) {
		o.dryRun = dryRun
	}
}

// WithRunIDGenerator overrides the run ID source.
func WithRunIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newRunID = fn
		}
	}
}

// New creates an Orchestrator. The configuration is validated.
func New(cfg *config.Config, runner process.Runner, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, config.NewConfigurationError("", "configuration is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("process runner is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		config:   cfg,
		runner:   runner,
		logger:   observability.NopLogger(),
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.tracer == nil {
		tracer, err := observability.NewTracer(observability.TracerConfig{ServiceName: "dynamic-certs"})
		if err != nil {
			return nil, err
		}
		o.tracer = tracer
	}

	return o, nil
}

// Run performs one provisioning pass. The first error aborts the run and
// is reported in the result.
func (o *Orchestrator) Run(ctx context.Context) *RunResult {
	backendName := o.config.Backend()
	result := &RunResult{
		RunID:   o.newRunID(),
		Backend: backendName,
	}

	ctx = observability.ContextWithRunID(ctx, result.RunID)
	ctx, span := o.tracer.StartSpan(ctx, "provision",
		attribute.String("run.id", result.RunID),
		attribute.String("backend", backendName),
		attribute.Bool("dry_run", o.dryRun),
	)
	logger := o.logger.WithContext(ctx)

	logger.Info("certificate provisioning started",
		observability.String("backend", backendName),
		observability.Bool("dry_run", o.dryRun),
		observability.String("internal_dir", o.config.Directories.Internal),
		observability.String("external_dir", o.config.Directories.External),
	)

	start := time.Now()
	tracker := &runTracker{tracer: o.tracer, metrics: o.metrics}
	err := o.safeRun(ctx, logger, tracker)

	result.Duration = time.Since(start)
	result.Steps = tracker.steps
	result.Err = err
	result.Success = err == nil

	observability.EndSpan(span, err)
	if o.metrics != nil {
		o.metrics.RecordRun(backendName, result.Duration, err)
	}

	if err != nil {
		logFailure(logger, err)
		logger.Error("certificate provisioning failed",
			observability.Duration("duration", result.Duration),
			observability.Int("steps", len(result.Steps)),
		)
		return result
	}

	logger.Info("certificate provisioning completed",
		observability.Duration("duration", result.Duration),
		observability.Int("steps", len(result.Steps)),
	)
	return result
}

// safeRun turns a panic in any step into an ErrPanic error.
func (o *Orchestrator) safeRun(ctx context.Context, logger observability.Logger, tracker *runTracker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic recovered",
				observability.String("panic", fmt.Sprint(r)),
				observability.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	return o.run(ctx, logger, tracker)
}

func (o *Orchestrator) run(ctx context.Context, logger observability.Logger, tracker *runTracker) error {
	set := identity.Build(o.config.NodeAlternativeNames, o.config.ClientUsername)
	logger.Info("identity set resolved",
		observability.String("sans", set.Node.SubjectAltNames.Join(",")),
		observability.Strings("clients", set.Usernames()),
	)

	paths := artifacts.New(o.config.Directories.Internal, o.config.Directories.External)

	backend, err := engine.New(o.config, paths, o.runner, o.pkcs12Password,
		engine.WithLogger(o.logger),
		engine.WithTracker(tracker),
		engine.WithDryRun(o.dryRun),
	)
	if err != nil {
		return err
	}

	if !o.dryRun {
		if err := paths.EnsureDirs(); err != nil {
			return err
		}
	}

	if err := backend.Generate(ctx, set); err != nil {
		return err
	}

	if o.dryRun || !o.config.VerifyArtifacts {
		logger.Debug("artifact verification skipped")
		return nil
	}

	verifier := verify.New(paths, o.verifyOptions(backend.Layout()), o.logger)
	step := engine.Step{Name: StepVerifyArtifacts, Subject: "all"}
	stepCtx := tracker.StepStarted(ctx, step)
	start := time.Now()
	err = verifier.Verify(stepCtx, set)
	tracker.StepFinished(stepCtx, step, time.Since(start), err)
	return err
}

func (o *Orchestrator) verifyOptions(layout artifacts.Layout) verify.Options {
	if layout == artifacts.LayoutCockroach {
		return verify.Options{Layout: layout, PKCS8: true}
	}
	return verify.Options{
		Layout:         layout,
		PKCS8:          o.config.Export.PKCS8,
		PKCS12:         o.config.Export.PKCS12,
		PKCS12Password: o.pkcs12Password,
	}
}

// logFailure logs err with the details of its concrete kind.
func logFailure(logger observability.Logger, err error) {
	var (
		cfgErr    *config.ConfigurationError
		cmdErr    *process.CommandFailureError
		runnerErr *process.RunnerError
		verifyErr *verify.VerificationError
	)

	switch {
	case errors.As(err, &cfgErr):
		logger.Error("configuration error",
			observability.String("field", cfgErr.Field),
			observability.Error(err),
		)
	case errors.As(err, &cmdErr):
		logger.Error("command failed",
			observability.String("command", cmdErr.Command),
			observability.Int("exit_code", cmdErr.ExitCode),
			observability.String("stderr", cmdErr.Stderr),
		)
	case errors.As(err, &runnerErr):
		logger.Error("command could not be run",
			observability.String("command", runnerErr.Command),
			observability.Error(runnerErr.Cause),
		)
	case errors.As(err, &verifyErr):
		logger.Error("artifact verification failed",
			observability.String("path", verifyErr.Path),
			observability.String("check", verifyErr.Check),
			observability.Error(err),
		)
	default:
		logger.Error("unexpected error", observability.Error(err))
	}
}

// runTracker records steps as spans, metrics and step results.
type runTracker struct {
	tracer  *observability.Tracer
	metrics *observability.Metrics
	steps   []StepResult
}

func (t *runTracker) StepStarted(ctx context.Context, step engine.Step) context.Context {
	ctx, _ = t.tracer.StartSpan(ctx, step.Name,
		attribute.String("step.name", step.Name),
		attribute.String("step.subject", step.Subject),
	)
	return ctx
}

func (t *runTracker) StepFinished(ctx context.Context, step engine.Step, duration time.Duration, err error) {
	observability.EndSpan(observability.SpanFromContext(ctx), err)
	if t.metrics != nil {
		t.metrics.RecordStep(step.Name, duration, err)
	}
	t.steps = append(t.steps, StepResult{
		Name:     step.Name,
		Subject:  step.Subject,
		Duration: duration,
		Err:      err,
	})
}

var _ engine.Tracker = (*runTracker)(nil)
