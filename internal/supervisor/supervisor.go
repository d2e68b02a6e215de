package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/billie-coop/reload/internal/artifact"
	"github.com/billie-coop/reload/internal/config"
	"github.com/billie-coop/reload/internal/csync"
	"github.com/billie-coop/reload/internal/events"
	"github.com/billie-coop/reload/internal/logging"
	"github.com/billie-coop/reload/internal/process"
	"github.com/billie-coop/reload/internal/shell"
	"github.com/billie-coop/reload/internal/watcher"
)

const (
	// historySize bounds the build results kept for History.
	historySize = 20
	// outputTail bounds the build output attached to a BuildError.
	outputTail = 4 * 1024
)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the operator logger. Child output is relayed through it
// too.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// WithBroker publishes lifecycle events to b.
func WithBroker(b *events.Broker) Option {
	return func(s *Supervisor) {
		s.broker = b
	}
}

// Supervisor rebuilds and restarts a program when its sources change.
type Supervisor struct {
	cfg    *config.Config
	logger *slog.Logger
	broker *events.Broker

	runner  *shell.Runner
	store   *artifact.Store
	env     []string
	stopSig os.Signal

	// trigger has capacity one so that changes seen during a build
	// collapse into a single follow-up rebuild.
	trigger chan struct{}
	pendMu  sync.Mutex
	pending map[string]struct{}

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	stopMu   sync.Mutex
	stopCtx  context.Context
	done     chan struct{}

	status  *csync.Value[Status]
	history *csync.Ring[BuildResult]

	// Owned by the loop goroutine.
	current *run
	exited  <-chan struct{}
}

// run is one launched generation of the program.
type run struct {
	handle   *process.Handle
	artifact artifact.Artifact
	stdout   *logging.LineWriter
	stderr   *logging.LineWriter
}

func (r *run) flush() {
	r.stdout.Flush()
	r.stderr.Flush()
}

// New creates a supervisor for cfg. cfg must already be validated.
func New(cfg *config.Config, opts ...Option) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sig, err := process.ParseSignal(cfg.Run.StopSignal)
	if err != nil {
		return nil, &ConfigError{Field: "run.stop_signal", Reason: err.Error()}
	}

	s := &Supervisor{
		cfg:     cfg,
		logger:  slog.Default(),
		stopSig: sig,
		trigger: make(chan struct{}, 1),
		pending: make(map[string]struct{}),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		status:  csync.NewValue(Status{State: process.NotStarted}),
		history: csync.NewRing[BuildResult](historySize),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.broker == nil {
		s.broker = events.NewBroker()
	}

	s.env = cfg.Environ()
	s.runner = shell.NewRunner(cfg.Root, s.env)
	s.store = artifact.NewStore(cfg.ArtifactDir())
	return s, nil
}

// Events returns the broker lifecycle events are published on.
func (s *Supervisor) Events() *events.Broker {
	return s.broker
}

// Status returns a snapshot of the supervisor state.
func (s *Supervisor) Status() Status {
	return s.status.Load()
}

// History returns the most recent build results, oldest first.
func (s *Supervisor) History() []BuildResult {
	return s.history.ToSlice()
}

// Trigger requests a rebuild as if a source file had changed.
func (s *Supervisor) Trigger() {
	s.requestRebuild(nil)
}

// Start checks the watch globs, performs the initial build and launch, and
// runs the control loop until Shutdown is called or ctx ends. It returns
// nil on a clean shutdown, a *ConfigError when the globs match nothing, and
// a *WatchError when change detection fails for good.
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("supervisor already started")
	}
	defer close(s.done)

	select {
	case <-s.stopCh:
		return nil
	default:
	}

	log := logging.Component(s.logger, "main")
	m, err := watcher.NewMatcher(s.cfg.Build.Include, s.cfg.Build.Exclude)
	if err != nil {
		return &ConfigError{Field: "build.include", Reason: err.Error()}
	}
	files, err := m.Scan(s.cfg.Root)
	if err != nil {
		return &ConfigError{Field: "root", Reason: err.Error()}
	}
	if len(files) == 0 {
		return &ConfigError{
			Field:  "build.include",
			Reason: fmt.Sprintf("globs %v match no files under %s", s.cfg.Build.Include, s.cfg.Root),
		}
	}
	log.Info("watching", "root", s.cfg.Root, "files", len(files))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fw := watcher.NewWatcher(s.cfg.Build.Delay, s.onChange)
	defer fw.Stop()

	watchErr := make(chan error, 1)
	go func() {
		watchErr <- watcher.Watch(ctx, s.cfg.Root, m, fw, watcher.Options{
			Poll:         s.cfg.Build.Poll,
			PollInterval: s.cfg.Build.PollInterval,
			Logger:       logging.Component(s.logger, "watch"),
		})
	}()

	s.requestRebuild(nil)

	var result error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-s.stopCh:
			break loop
		case err := <-watchErr:
			watchErr = nil
			if err != nil {
				log.Error("change detection failed", "error", err)
				result = fmt.Errorf("watch %s: %w", s.cfg.Root, err)
				break loop
			}
		case <-s.trigger:
			s.rebuild(ctx)
		case <-s.exited:
			s.handleExit()
		}
	}

	s.teardown()
	cancel()
	if watchErr != nil {
		<-watchErr
	}
	s.publish(events.SupervisorStoppedEvent, nil)
	log.Info("stopped")
	return result
}

// Shutdown stops the loop and the supervised process and returns once the
// process has been reaped. ctx bounds the grace period. Calling it again,
// or before Start, returns nil.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.stopMu.Lock()
		s.stopCtx = ctx
		s.stopMu.Unlock()
		close(s.stopCh)
	})
	if !s.started.Load() {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) onChange(paths []string) {
	if len(paths) == 0 {
		return
	}
	logging.Component(s.logger, "watch").Info("change detected", "files", summarize(paths))
	s.publish(events.ChangesDetectedEvent, events.ChangesPayload{Paths: paths})
	s.requestRebuild(paths)
}

func (s *Supervisor) requestRebuild(paths []string) {
	s.pendMu.Lock()
	for _, p := range paths {
		s.pending[p] = struct{}{}
	}
	s.pendMu.Unlock()

	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Supervisor) takePending() []string {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	paths := make([]string, 0, len(s.pending))
	for p := range s.pending {
		paths = append(paths, p)
	}
	clear(s.pending)
	sort.Strings(paths)
	return paths
}

// rebuild runs the build command and, if it succeeds, swaps processes.
func (s *Supervisor) rebuild(ctx context.Context) {
	log := logging.Component(s.logger, "build")
	changed := s.takePending()

	// A shutdown request aborts the build.
	bctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-bctx.Done():
		}
	}()

	result := BuildResult{ID: uuid.New(), Started: time.Now(), Changed: changed}
	s.status.Update(func(st Status) Status {
		st.Building = true
		return st
	})
	s.publish(events.BuildStartedEvent, events.BuildPayload{ID: result.ID.String(), Changed: changed})
	log.Info("building", "cmd", s.cfg.Build.Cmd)

	tail := &shell.Tail{Max: outputTail}
	stdout := logging.NewLineWriter(log, "stdout")
	stderr := logging.NewLineWriter(log, "stderr")
	err := s.runner.Run(bctx, s.cfg.Build.Cmd, io.MultiWriter(stdout, tail), io.MultiWriter(stderr, tail))
	stdout.Flush()
	stderr.Flush()
	result.Duration = time.Since(result.Started)

	if err != nil && (bctx.Err() != nil || shell.IsInterrupt(err)) {
		s.status.Update(func(st Status) Status {
			st.Building = false
			return st
		})
		log.Info("build canceled")
		return
	}

	if err != nil {
		berr := &BuildError{
			Command:  s.cfg.Build.Cmd,
			ExitCode: shell.ExitCode(err),
			Output:   tail.String(),
		}
		result.ExitCode = berr.ExitCode
		result.Err = berr
		s.record(result)
		log.Error("build failed", "error", berr, "output", berr.Output)
		s.publish(events.BuildFailedEvent, events.BuildPayload{
			ID:       result.ID.String(),
			Changed:  changed,
			Duration: result.Duration,
			ExitCode: berr.ExitCode,
			Output:   berr.Output,
			Err:      berr.Error(),
		})
		return
	}

	s.record(result)
	log.Info("build succeeded", "duration", result.Duration.Round(time.Millisecond))
	s.publish(events.BuildSucceededEvent, events.BuildPayload{
		ID:       result.ID.String(),
		Changed:  changed,
		Duration: result.Duration,
	})

	// Shutdown owns the running process from here.
	select {
	case <-s.stopCh:
		return
	default:
	}
	s.swap(ctx)
}

func (s *Supervisor) record(result BuildResult) {
	s.history.Append(result)
	s.status.Update(func(st Status) Status {
		st.Building = false
		st.Builds++
		st.LastBuild = &result
		return st
	})
}

// swap replaces the running process with one started from the fresh build.
// Nothing is stopped unless the new artifact is runnable.
func (s *Supervisor) swap(ctx context.Context) {
	log := logging.Component(s.logger, "run")

	art, err := s.store.Promote(s.cfg.BinPath())
	if err != nil {
		s.launchFailed(&LaunchError{Command: s.cfg.Build.Bin, Reason: "artifact not runnable", Err: err})
		return
	}
	argv, err := s.argv(art)
	if err != nil {
		s.launchFailed(&LaunchError{Command: s.cfg.Run.Cmd, Reason: "invalid run command", Err: err})
		return
	}

	s.stopCurrent(ctx)

	if err := s.store.Prune(); err != nil {
		log.Warn("failed to remove stale artifacts", "error", err)
	}

	s.launch(ctx, argv, art)
}

func (s *Supervisor) argv(art artifact.Artifact) ([]string, error) {
	fields, err := shell.Fields(s.cfg.Run.Cmd, s.runEnv(art))
	if err != nil {
		return nil, err
	}
	return append(fields, s.cfg.Run.Args...), nil
}

func (s *Supervisor) runEnv(art artifact.Artifact) []string {
	env := make([]string, 0, len(s.env)+1)
	env = append(env, s.env...)
	return append(env, config.ArtifactEnv+"="+art.Path)
}

// launch starts argv and waits out the startup window.
func (s *Supervisor) launch(ctx context.Context, argv []string, art artifact.Artifact) {
	log := logging.Component(s.logger, "run")

	r := &run{
		artifact: art,
		stdout:   logging.NewLineWriter(log, "stdout"),
		stderr:   logging.NewLineWriter(log, "stderr"),
	}
	h, err := process.Start(process.Spec{
		Argv:   argv,
		Dir:    s.cfg.Root,
		Env:    s.runEnv(art),
		Stdout: r.stdout,
		Stderr: r.stderr,
	})
	if err != nil {
		s.launchFailed(&LaunchError{Command: strings.Join(argv, " "), Reason: "start failed", Err: err})
		return
	}
	r.handle = h
	s.current = r

	log.Info("started", "pid", h.PID(), "run_id", h.RunID)
	s.setProcessStatus(r)
	s.publish(events.ProcessStartedEvent, s.processPayload(r))

	timer := time.NewTimer(s.cfg.Run.Startup)
	defer timer.Stop()

	select {
	case <-h.Done():
		r.flush()
		s.setProcessStatus(r)
		s.launchFailed(&LaunchError{
			Command: strings.Join(argv, " "),
			Reason:  fmt.Sprintf("exited during startup with code %d", h.ExitCode()),
			Err:     h.Err(),
		})
		return
	case <-timer.C:
	case <-s.stopCh:
		// teardown stops it
		s.exited = h.Done()
		return
	case <-ctx.Done():
		s.exited = h.Done()
		return
	}

	if !h.MarkRunning() {
		// Exited right at the end of the window; handleExit reports it.
		s.exited = h.Done()
		return
	}
	s.exited = h.Done()
	s.setProcessStatus(r)
	s.publish(events.ProcessRunningEvent, s.processPayload(r))
}

func (s *Supervisor) launchFailed(err *LaunchError) {
	logging.Component(s.logger, "run").Error("launch failed", "error", err)
	s.publish(events.LaunchFailedEvent, events.ProcessPayload{
		State: s.Status().State.String(),
		Err:   err.Error(),
	})
}

// handleExit reports a process that exited on its own. It is not restarted
// until the next change.
func (s *Supervisor) handleExit() {
	s.exited = nil
	r := s.current
	if r == nil {
		return
	}
	r.flush()
	h := r.handle

	attrs := []any{"pid", h.PID(), "code", h.ExitCode()}
	if err := h.Err(); err != nil {
		attrs = append(attrs, "error", err)
	}
	log := logging.Component(s.logger, "run")
	if h.ExitCode() == 0 {
		log.Info("process exited", attrs...)
	} else {
		log.Warn("process exited", attrs...)
	}
	s.setProcessStatus(r)
	s.publish(events.ProcessStoppedEvent, s.processPayload(r))
}

// stopCurrent stops and reaps the running process, if any.
func (s *Supervisor) stopCurrent(ctx context.Context) {
	r := s.current
	if r == nil {
		return
	}
	s.exited = nil
	h := r.handle
	if h.State() == process.Stopped {
		return
	}

	log := logging.Component(s.logger, "run")
	log.Info("stopping", "pid", h.PID(), "signal", s.cfg.Run.StopSignal, "grace", s.cfg.Run.Grace)
	s.setProcessStatus(r)

	if err := h.Stop(ctx, s.stopSig, s.cfg.Run.Grace); err != nil {
		log.Warn("stop did not complete cleanly", "pid", h.PID(), "error", err)
	}
	r.flush()
	if h.Killed() {
		log.Info("stopped", "pid", h.PID())
	} else {
		log.Info("stopped", "pid", h.PID(), "code", h.ExitCode())
	}
	s.setProcessStatus(r)
	s.publish(events.ProcessStoppedEvent, s.processPayload(r))
}

// teardown stops the process on the way out of the loop.
func (s *Supervisor) teardown() {
	ctx := context.Background()
	s.stopMu.Lock()
	if s.stopCtx != nil {
		ctx = s.stopCtx
	}
	s.stopMu.Unlock()
	s.stopCurrent(ctx)

	if s.cfg.Misc.CleanOnExit {
		if err := os.RemoveAll(s.cfg.TmpPath()); err != nil {
			logging.Component(s.logger, "main").Warn("failed to clean tmp dir", "path", s.cfg.TmpPath(), "error", err)
		}
	}
}

func (s *Supervisor) setProcessStatus(r *run) {
	h := r.handle
	s.status.Update(func(st Status) Status {
		st.State = h.State()
		st.PID = h.PID()
		st.StartedAt = h.StartedAt()
		st.RunID = h.RunID
		st.Artifact = r.artifact.Path
		if st.State == process.Stopped {
			st.LastExit = h.ExitCode()
		}
		return st
	})
}

func (s *Supervisor) processPayload(r *run) events.ProcessPayload {
	h := r.handle
	p := events.ProcessPayload{
		RunID:    h.RunID.String(),
		PID:      h.PID(),
		Artifact: r.artifact.Path,
		State:    h.State().String(),
	}
	if p.State == process.Stopped.String() {
		p.ExitCode = h.ExitCode()
	}
	return p
}

func (s *Supervisor) publish(t events.EventType, payload any) {
	s.broker.Publish(events.Event{Type: t, Time: time.Now(), Payload: payload})
}

// summarize shortens a change list for the log.
func summarize(paths []string) string {
	const show = 3
	if len(paths) <= show {
		return strings.Join(paths, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(paths[:show], ", "), len(paths)-show)
}
