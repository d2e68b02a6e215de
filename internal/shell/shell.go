package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/shell"
	"mvdan.cc/sh/v3/syntax"
)

// killTimeout is how long a canceled command gets between interrupt and
// kill.
const killTimeout = 2 * time.Second

// Runner executes build commands with a POSIX shell interpreter, so build
// commands behave the same on every platform and in minimal images without
// /bin/sh.
type Runner struct {
	workingDir string
	env        []string
}

// NewRunner creates a runner for the given working directory. env is passed
// to every command as is.
func NewRunner(workingDir string, env []string) *Runner {
	return &Runner{
		workingDir: workingDir,
		env:        env,
	}
}

// Run executes command, streaming its output to stdout and stderr. A
// non-zero exit status is returned as an error; use ExitCode to read it.
func (r *Runner) Run(ctx context.Context, command string, stdout, stderr io.Writer) error {
	prog, err := syntax.NewParser().Parse(strings.NewReader(command), "")
	if err != nil {
		return fmt.Errorf("parse error: %w", err)
	}

	runner, err := interp.New(
		interp.Dir(r.workingDir),
		interp.Env(expand.ListEnviron(r.env...)),
		interp.StdIO(nil, stdout, stderr),
		interp.OpenHandler(openHandler),
		interp.ExecHandler(interp.DefaultExecHandler(killTimeout)),
	)
	if err != nil {
		return fmt.Errorf("runner creation error: %w", err)
	}

	return runner.Run(ctx, prog)
}

// Fields splits a run command into arguments the way a shell would,
// expanding $VAR references from env. Command substitution is rejected.
func Fields(command string, env []string) ([]string, error) {
	lookup := make(map[string]string, len(env))
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			lookup[k] = v
		}
	}
	fields, err := shell.Fields(command, func(name string) string {
		return lookup[name]
	})
	if err != nil {
		return nil, fmt.Errorf("split %q: %w", command, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("split %q: empty command", command)
	}
	return fields, nil
}

// openHandler handles file operations.
func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		return devNull{}, nil
	}
	return interp.DefaultOpenHandler()(ctx, path, flag, perm)
}

// devNull implements a /dev/null device.
type devNull struct{}

func (devNull) Read(p []byte) (int, error)  { return 0, io.EOF }
func (devNull) Write(p []byte) (int, error) { return len(p), nil }
func (devNull) Close() error                { return nil }

// IsInterrupt checks if an error is due to interruption.
func IsInterrupt(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(err.Error(), "interrupt") ||
		strings.Contains(err.Error(), "canceled")
}

// ExitCode extracts the exit code from an error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if status, ok := interp.IsExitStatus(err); ok {
		return int(status)
	}
	return 1
}

// Tail is an io.Writer keeping only the last Max bytes written. It is used
// to attach truncated output to build errors.
type Tail struct {
	Max int

	mu        sync.Mutex
	buf       []byte
	truncated bool
}

func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.Max; t.Max > 0 && over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
		t.truncated = true
	}
	return len(p), nil
}

// String returns the retained output, marked when earlier output was
// dropped.
func (t *Tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := strings.TrimRight(string(t.buf), "\n")
	if t.truncated {
		return "..." + out
	}
	return out
}
