package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/dynamic-certs/internal/artifacts"
	"github.com/vyrodovalexey/dynamic-certs/internal/process"
)

// stepLog is a Tracker recording finished steps.
type stepLog struct {
	mu    sync.Mutex
	steps []string
	errs  []error
}

func (l *stepLog) StepStarted(ctx context.Context, _ Step) context.Context { return ctx }

func (l *stepLog) StepFinished(_ context.Context, step Step, _ time.Duration, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps = append(l.steps, step.Name+"/"+step.Subject)
	l.errs = append(l.errs, err)
}

func (l *stepLog) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.steps...)
}

// testPaths creates an internal and external root under a temp dir.
func testPaths(t *testing.T) artifacts.Paths {
	t.Helper()
	root := t.TempDir()
	p := artifacts.New(filepath.Join(root, "internal"), filepath.Join(root, "certs"))
	require.NoError(t, p.EnsureDirs())
	return p
}

func touch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("generated"), 0o644)
}

// opensslHook creates the file named by -out, as openssl would.
func opensslHook(inv process.Invocation) error {
	args := inv.Args()
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "-out" {
			return touch(args[i+1])
		}
	}
	return nil
}

// cockroachHook creates the files `cockroach cert` would write.
func cockroachHook(inv process.Invocation) error {
	args := inv.Args()
	var certsDir, caKey string
	var positional []string
	for i := 2; i < len(args); i++ {
		switch args[i] {
		case "--certs-dir":
			certsDir = args[i+1]
			i++
		case "--ca-key":
			caKey = args[i+1]
			i++
		case "--lifetime":
			i++
		default:
			if !strings.HasPrefix(args[i], "--") {
				positional = append(positional, args[i])
			}
		}
	}

	var files []string
	switch args[1] {
	case "create-ca":
		files = []string{caKey, filepath.Join(certsDir, "ca.crt")}
	case "create-client":
		base := filepath.Join(certsDir, "client."+strings.ToLower(positional[0]))
		files = []string{base + ".key", base + ".crt", base + ".key.pk8"}
	case "create-node":
		files = []string{filepath.Join(certsDir, "node.key"), filepath.Join(certsDir, "node.crt")}
	}
	for _, f := range files {
		if err := touch(f); err != nil {
			return err
		}
	}
	return nil
}

func requireMode(t *testing.T, path string, want os.FileMode) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, want, info.Mode().Perm(), path)
}
