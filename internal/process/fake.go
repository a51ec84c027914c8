package process

import (
	"context"
	"sync"
)

// Failure scripts a failing invocation on a Recorder.
type Failure struct {
	// Match selects the invocation to fail.
	Match func(Invocation) bool

	// ExitCode is reported through a *CommandFailureError when Err is nil.
	ExitCode int
	Stderr   string

	// Err, when set, is wrapped in a *RunnerError instead.
	Err error

	index   int
	byIndex bool
}

func (f Failure) matches(index int, inv Invocation) bool {
	if f.byIndex {
		return index == f.index
	}
	return f.Match != nil && f.Match(inv)
}

// Recorder is a Runner that records invocations instead of executing them.
// It is meant for tests of the backends and the orchestrator.
type Recorder struct {
	// Hook runs for every successful invocation, e.g. to create the files
	// the real engine would have written. Its error is returned as is.
	Hook func(Invocation) error

	mu          sync.Mutex
	failures    []Failure
	invocations []Invocation
}

// NewRecorder creates a Recorder that succeeds on every invocation.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// FailWhen scripts a failure.
func (r *Recorder) FailWhen(f Failure) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, f)
	return r
}

// FailAt fails the n-th invocation (zero-based) with exitCode.
func (r *Recorder) FailAt(n, exitCode int, stderr string) *Recorder {
	return r.FailWhen(Failure{
		ExitCode: exitCode,
		Stderr:   stderr,
		index:    n,
		byIndex:  true,
	})
}

// Run implements Runner.
func (r *Recorder) Run(ctx context.Context, inv Invocation) (*Result, error) {
	r.mu.Lock()
	index := len(r.invocations)
	r.invocations = append(r.invocations, inv)
	failures := append([]Failure(nil), r.failures...)
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, NewRunnerError(inv, err)
	}

	for _, f := range failures {
		if !f.matches(index, inv) {
			continue
		}
		if f.Err != nil {
			return nil, NewRunnerError(inv, f.Err)
		}
		return &Result{ExitCode: f.ExitCode, Stderr: f.Stderr},
			NewCommandFailureError(inv, f.ExitCode, f.Stderr)
	}

	if r.Hook != nil {
		if err := r.Hook(inv); err != nil {
			return nil, err
		}
	}
	return &Result{}, nil
}

// Invocations returns the recorded invocations in order.
func (r *Recorder) Invocations() []Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Invocation(nil), r.invocations...)
}

// Commands returns the argv of every recorded invocation.
func (r *Recorder) Commands() [][]string {
	invs := r.Invocations()
	cmds := make([][]string, len(invs))
	for i, inv := range invs {
		cmds[i] = inv.Argv()
	}
	return cmds
}

// Reset forgets recorded invocations and scripted failures.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invocations = nil
	r.failures = nil
}
