package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a supervised process.
type State int

const (
	NotStarted State = iota
	Starting
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func allowed(from, to State) bool {
	switch from {
	case NotStarted:
		return to == Starting
	case Starting:
		// Stopping: shutdown inside the startup window.
		return to == Running || to == Stopping || to == Stopped
	case Running:
		return to == Stopping || to == Stopped
	case Stopping:
		return to == Stopped
	}
	return false
}

// pipeDrain bounds how long Wait keeps copying output after the child exits,
// in case a grandchild still holds the pipes open.
const pipeDrain = 2 * time.Second

// Spec describes how to launch a process.
type Spec struct {
	Argv   []string
	Dir    string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// Handle tracks one launched process.
type Handle struct {
	RunID uuid.UUID
	Argv  []string

	cmd  *exec.Cmd
	done chan struct{}

	mu        sync.Mutex
	state     State
	startedAt time.Time
	exitCode  int
	err       error
}

// Start launches spec. On error the process never ran and the returned
// handle is nil.
func Start(spec Spec) (*Handle, error) {
	if len(spec.Argv) == 0 {
		return nil, errors.New("empty command")
	}

	h := &Handle{
		RunID: uuid.New(),
		Argv:  spec.Argv,
		done:  make(chan struct{}),
	}
	if err := h.transition(NotStarted, Starting); err != nil {
		return nil, err
	}

	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	cmd.WaitDelay = pipeDrain
	setProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	h.cmd = cmd

	h.mu.Lock()
	h.startedAt = time.Now()
	h.mu.Unlock()

	go h.wait()
	return h, nil
}

func (h *Handle) wait() {
	err := h.cmd.Wait()

	h.mu.Lock()
	h.exitCode = h.cmd.ProcessState.ExitCode()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		h.err = err
	}
	// Starting, Running and Stopping may all end here.
	h.state = Stopped
	h.mu.Unlock()

	close(h.done)
}

func (h *Handle) transition(from, to State) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != from {
		return fmt.Errorf("invalid transition: expected %s, got %s", from, h.state)
	}
	if !allowed(from, to) {
		return fmt.Errorf("disallowed transition: %s -> %s", from, to)
	}
	h.state = to
	return nil
}

// PID returns the operating system process id.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// StartedAt returns when the process was launched.
func (h *Handle) StartedAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startedAt
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitCode returns the exit status once Done is closed. It is -1 when the
// process was killed by a signal.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Err returns a wait failure other than a non-zero exit, such as a stuck
// output pipe.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// MarkRunning promotes a process that survived its startup window. It
// reports false if the process already left the Starting state.
func (h *Handle) MarkRunning() bool {
	return h.transition(Starting, Running) == nil
}

// Stop asks the process group to exit with sig and kills it after grace or
// when ctx ends, whichever comes first. It returns once the process has
// been reaped. Stopping an exited process is a no-op.
func (h *Handle) Stop(ctx context.Context, sig os.Signal, grace time.Duration) error {
	h.mu.Lock()
	switch h.state {
	case Starting, Running:
		h.state = Stopping
	case Stopping:
		h.mu.Unlock()
		<-h.done
		return nil
	default:
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	var errs []error
	if err := signalGroup(h.cmd.Process, sig); err != nil {
		errs = append(errs, fmt.Errorf("signal %v: %w", sig, err))
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-h.done:
	case <-timer.C:
		errs = append(errs, h.kill())
	case <-ctx.Done():
		errs = append(errs, h.kill())
	}

	// Children that ignored the signal must not outlive the leader.
	_ = killGroup(h.cmd.Process)
	return errors.Join(errs...)
}

func (h *Handle) kill() error {
	err := killGroup(h.cmd.Process)
	<-h.done
	if err != nil {
		return fmt.Errorf("kill: %w", err)
	}
	return nil
}

// Killed reports whether the process ended by signal rather than exiting.
func (h *Handle) Killed() bool {
	select {
	case <-h.done:
	default:
		return false
	}
	return h.ExitCode() == -1
}

// ParseSignal maps a signal name such as "SIGTERM" to an os.Signal.
func ParseSignal(name string) (os.Signal, error) {
	sig, ok := signals[strings.ToUpper(name)]
	if !ok {
		return nil, fmt.Errorf("unsupported signal %q", name)
	}
	return sig, nil
}
