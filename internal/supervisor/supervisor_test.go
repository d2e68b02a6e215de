//go:build !windows

package supervisor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/billie-coop/reload/internal/config"
	"github.com/billie-coop/reload/internal/events"
	"github.com/billie-coop/reload/internal/logging"
	"github.com/billie-coop/reload/internal/process"
)

const copyApp = "mkdir -p tmp && cp app.sh tmp/main && chmod +x tmp/main"

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// recorder collects every published event.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) count(t events.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type harness struct {
	sup  *Supervisor
	root string
	rec  *recorder
	logs *syncBuffer
	errc chan error
}

func newProject(t *testing.T, app string) (*config.Config, string) {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"main.go": "package main\n",
		"app.sh":  "#!/bin/sh\n" + app + "\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.DefaultConfig()
	cfg.Root = root
	cfg.Build.Cmd = copyApp
	cfg.Build.Delay = 50 * time.Millisecond
	cfg.Build.Poll = true
	cfg.Build.PollInterval = 20 * time.Millisecond
	cfg.Run.Grace = 2 * time.Second
	cfg.Run.Startup = 100 * time.Millisecond
	cfg.Log.Color = false
	return cfg, root
}

func start(t *testing.T, cfg *config.Config, wrap ...func(slog.Handler) slog.Handler) *harness {
	t.Helper()
	logs := &syncBuffer{}
	broker := events.NewBrokerWithBuffer(512)
	rec := &recorder{}
	ch := broker.Subscribe()
	go func() {
		for ev := range ch {
			rec.mu.Lock()
			rec.events = append(rec.events, ev)
			rec.mu.Unlock()
		}
	}()

	var handler slog.Handler = logging.NewTextHandler(logs, slog.LevelDebug, false, false)
	for _, w := range wrap {
		handler = w(handler)
	}
	sup, err := New(cfg, WithLogger(slog.New(handler)), WithBroker(broker))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	h := &harness{sup: sup, root: cfg.Root, rec: rec, logs: logs, errc: make(chan error, 1)}
	go func() {
		h.errc <- sup.Start(context.Background())
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
		broker.Clear()
	})
	return h
}

func waitFor(t *testing.T, what string, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out after %v waiting for %s", timeout, what)
}

func (h *harness) waitRunning(t *testing.T, notPID int) Status {
	t.Helper()
	var st Status
	waitFor(t, "a running process", 10*time.Second, func() bool {
		st = h.sup.Status()
		return st.State == process.Running && st.PID != notPID
	})
	return st
}

func TestSupervisor_InitialBuildAndLaunch(t *testing.T) {
	cfg, _ := newProject(t, "exec sleep 30")
	h := start(t, cfg)

	st := h.waitRunning(t, 0)
	if st.Builds != 1 || st.LastBuild == nil || !st.LastBuild.OK() {
		t.Errorf("status after first build = %+v", st)
	}
	if !strings.HasPrefix(st.Artifact, cfg.ArtifactDir()) {
		t.Errorf("artifact %q not under %q", st.Artifact, cfg.ArtifactDir())
	}
	if _, err := os.Stat(cfg.BinPath()); !os.IsNotExist(err) {
		t.Errorf("build output left at %s", cfg.BinPath())
	}
}

func TestSupervisor_BuildErrorScenario(t *testing.T) {
	cfg, _ := newProject(t, "exec sleep 30")
	cfg.Build.Cmd = "echo compile error >&2; exit 1"
	h := start(t, cfg)

	waitFor(t, "a failed build", 10*time.Second, func() bool {
		return h.rec.count(events.BuildFailedEvent) == 1
	})

	hist := h.sup.History()
	if len(hist) != 1 {
		t.Fatalf("History() has %d entries, want 1", len(hist))
	}
	var berr *BuildError
	if !errors.As(hist[0].Err, &berr) {
		t.Fatalf("build error = %v, want *BuildError", hist[0].Err)
	}
	if berr.ExitCode != 1 || !strings.Contains(berr.Output, "compile error") {
		t.Errorf("BuildError = %+v", berr)
	}
	if st := h.sup.Status(); st.State != process.NotStarted || st.PID != 0 {
		t.Errorf("process launched after a failed build: %+v", st)
	}
	if h.rec.count(events.ProcessStartedEvent) != 0 {
		t.Error("process started event after a failed build")
	}
}

func TestSupervisor_BuildFailureKeepsProcess(t *testing.T) {
	cfg, root := newProject(t, "exec sleep 30")
	cfg.Build.Cmd = "test ! -f fail || exit 1; " + copyApp
	h := start(t, cfg)

	before := h.waitRunning(t, 0)

	if err := os.WriteFile(filepath.Join(root, "fail"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	h.sup.Trigger()
	waitFor(t, "a failed build", 10*time.Second, func() bool {
		return h.rec.count(events.BuildFailedEvent) == 1
	})

	after := h.sup.Status()
	if after.PID != before.PID || after.State != process.Running {
		t.Errorf("process changed after failed build: before %+v, after %+v", before, after)
	}
	if h.rec.count(events.ProcessStoppedEvent) != 0 {
		t.Error("old process was stopped by a failed build")
	}
}

func TestSupervisor_SwapDoesNotOverlap(t *testing.T) {
	cfg, root := newProject(t, `echo "start $$" >> lifecycle.log
trap 'echo "stop $$" >> lifecycle.log; exit 0' TERM
while true; do sleep 0.05; done`)
	h := start(t, cfg)

	st := h.waitRunning(t, 0)
	for i := 0; i < 2; i++ {
		h.sup.Trigger()
		st = h.waitRunning(t, st.PID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.sup.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "lifecycle.log"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 6 {
		t.Fatalf("lifecycle = %q, want 3 start/stop pairs", lines)
	}
	for i := 0; i < len(lines); i += 2 {
		start, stop := strings.Fields(lines[i]), strings.Fields(lines[i+1])
		if start[0] != "start" || stop[0] != "stop" || start[1] != stop[1] {
			t.Errorf("generation %d overlapped: %q then %q", i/2, lines[i], lines[i+1])
		}
	}

	entries, err := os.ReadDir(cfg.ArtifactDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("artifact dir holds %d entries after swaps, want 1", len(entries))
	}
}

func TestSupervisor_ImmediateExitIsNotRestarted(t *testing.T) {
	cfg, _ := newProject(t, "exit 1")
	h := start(t, cfg)

	waitFor(t, "a launch failure", 10*time.Second, func() bool {
		return h.rec.count(events.LaunchFailedEvent) == 1
	})
	time.Sleep(500 * time.Millisecond)

	if st := h.sup.Status(); st.State != process.Stopped || st.LastExit != 1 {
		t.Errorf("status = %+v, want stopped with exit 1", st)
	}
	if n := h.rec.count(events.ProcessStartedEvent); n != 1 {
		t.Errorf("process started %d times, want 1", n)
	}
	if n := h.rec.count(events.LaunchFailedEvent); n != 1 {
		t.Errorf("launch failure reported %d times, want 1", n)
	}
	if n := strings.Count(h.logs.String(), "launch failed"); n != 1 {
		t.Errorf("launch failure logged %d times, want 1", n)
	}
	if n := h.rec.count(events.BuildStartedEvent); n != 1 {
		t.Errorf("%d builds ran, want 1", n)
	}
}

func TestSupervisor_LateExitReportedOnce(t *testing.T) {
	cfg, _ := newProject(t, "sleep 0.3; exit 4")
	h := start(t, cfg)

	waitFor(t, "the process to exit", 10*time.Second, func() bool {
		return h.rec.count(events.ProcessStoppedEvent) == 1
	})
	time.Sleep(300 * time.Millisecond)

	if n := h.rec.count(events.ProcessStartedEvent); n != 1 {
		t.Errorf("process started %d times, want 1", n)
	}
	if n := h.rec.count(events.LaunchFailedEvent); n != 0 {
		t.Errorf("late exit reported as launch failure")
	}
	if st := h.sup.Status(); st.State != process.Stopped || st.LastExit != 4 {
		t.Errorf("status = %+v, want stopped with exit 4", st)
	}
}

func TestSupervisor_MissingArtifact(t *testing.T) {
	cfg, _ := newProject(t, "exec sleep 30")
	cfg.Build.Cmd = "true"
	h := start(t, cfg)

	waitFor(t, "a launch failure", 10*time.Second, func() bool {
		return h.rec.count(events.LaunchFailedEvent) == 1
	})
	if st := h.sup.Status(); st.State != process.NotStarted {
		t.Errorf("State = %v, want not_started", st.State)
	}
}

func TestSupervisor_DebouncedChangesRebuildOnce(t *testing.T) {
	cfg, root := newProject(t, "exec sleep 30")
	cfg.Build.Delay = 400 * time.Millisecond
	h := start(t, cfg)

	h.waitRunning(t, 0)
	// Let the poller take its baseline.
	time.Sleep(100 * time.Millisecond)

	src := filepath.Join(root, "main.go")
	if err := os.WriteFile(src, []byte("package main\n\n// one\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(src, []byte("package main\n\n// one two\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "a rebuild", 10*time.Second, func() bool {
		return h.rec.count(events.BuildStartedEvent) == 2
	})
	time.Sleep(800 * time.Millisecond)

	if n := h.rec.count(events.BuildStartedEvent); n != 2 {
		t.Errorf("%d builds ran, want initial plus one", n)
	}
	hist := h.sup.History()
	if got := hist[len(hist)-1].Changed; len(got) != 1 || got[0] != "main.go" {
		t.Errorf("changed = %v, want [main.go]", got)
	}
}

func TestSupervisor_ShutdownIsIdempotent(t *testing.T) {
	cfg, _ := newProject(t, "exec sleep 30")
	cfg.Misc.CleanOnExit = true
	h := start(t, cfg)
	st := h.waitRunning(t, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.sup.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	after := h.sup.Status()
	if after.State != process.Stopped || after.PID != st.PID {
		t.Errorf("status after shutdown = %+v", after)
	}
	if err := h.sup.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
	if again := h.sup.Status(); again.State != after.State || again.PID != after.PID {
		t.Errorf("second Shutdown() changed state: %+v", again)
	}

	select {
	case err := <-h.errc:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after Shutdown")
	}
	if _, err := os.Stat(cfg.TmpPath()); !os.IsNotExist(err) {
		t.Errorf("tmp dir survived clean_on_exit: %v", err)
	}
	if h.rec.count(events.SupervisorStoppedEvent) != 1 {
		t.Error("missing supervisor stopped event")
	}
}

func TestSupervisor_ShutdownBeforeStart(t *testing.T) {
	cfg, _ := newProject(t, "exec sleep 30")
	sup, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := sup.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if err := sup.Start(context.Background()); err != nil {
		t.Errorf("Start() after Shutdown error = %v", err)
	}
}

func TestSupervisor_NoMatchingFiles(t *testing.T) {
	cfg, _ := newProject(t, "exec sleep 30")
	cfg.Build.Include = []string{"**/*.rs"}
	sup, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	err = sup.Start(context.Background())
	var cerr *ConfigError
	if !errors.As(err, &cerr) || cerr.Field != "build.include" {
		t.Fatalf("Start() error = %v, want ConfigError on build.include", err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		field  string
	}{
		{"empty_build", func(c *config.Config) { c.Build.Cmd = "" }, "build.cmd"},
		{"empty_run", func(c *config.Config) { c.Run.Cmd = " " }, "run.cmd"},
		{"bad_signal", func(c *config.Config) { c.Run.StopSignal = "SIGWHAT" }, "run.stop_signal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _ := newProject(t, "true")
			tt.mutate(cfg)
			_, err := New(cfg)
			var cerr *ConfigError
			if !errors.As(err, &cerr) || cerr.Field != tt.field {
				t.Errorf("New() error = %v, want ConfigError on %s", err, tt.field)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	if got := summarize([]string{"a.go"}); got != "a.go" {
		t.Errorf("summarize() = %q", got)
	}
	if got := summarize([]string{"a.go", "b.go", "c.go", "d.go", "e.go"}); got != "a.go, b.go, c.go and 2 more" {
		t.Errorf("summarize() = %q", got)
	}
}

func TestSupervisor_ChangesDuringBuildQueueOneFollowUp(t *testing.T) {
	cfg, _ := newProject(t, "exec sleep 30")
	cfg.Build.Cmd = copyApp + " && sleep 0.6"
	h := start(t, cfg)

	waitFor(t, "the initial build", 10*time.Second, func() bool {
		return h.rec.count(events.BuildStartedEvent) == 1
	})
	for i := 0; i < 5; i++ {
		h.sup.Trigger()
		time.Sleep(20 * time.Millisecond)
	}

	waitFor(t, "the follow-up build", 10*time.Second, func() bool {
		return h.rec.count(events.BuildSucceededEvent) == 2
	})
	h.waitRunning(t, 0)
	time.Sleep(time.Second)

	if n := h.rec.count(events.BuildStartedEvent); n != 2 {
		t.Errorf("%d builds ran, want the in-flight one plus one follow-up", n)
	}
	if n := h.rec.count(events.ProcessStartedEvent); n != 2 {
		t.Errorf("%d launches, want 2", n)
	}
}

func TestSupervisor_NotifyDetectsNewDirectories(t *testing.T) {
	cfg, root := newProject(t, "exec sleep 30")
	cfg.Build.Poll = false
	cfg.Build.Delay = 300 * time.Millisecond
	h := start(t, cfg)

	h.waitRunning(t, 0)

	if err := os.MkdirAll(filepath.Join(root, "pkg"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "pkg", "a.go"), []byte("package pkg\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n\n// edit\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "a rebuild", 10*time.Second, func() bool {
		return h.rec.count(events.BuildSucceededEvent) == 2
	})
	hist := h.sup.History()
	if got := hist[len(hist)-1].Changed; len(got) != 2 || got[0] != "main.go" || got[1] != "pkg/a.go" {
		t.Errorf("changed = %v, want [main.go pkg/a.go]", got)
	}

	// Build output lives under the excluded tmp dir.
	if err := os.WriteFile(filepath.Join(root, "tmp", "gen.go"), []byte("package tmp\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(800 * time.Millisecond)
	if n := h.rec.count(events.BuildStartedEvent); n != 2 {
		t.Errorf("%d builds ran, want 2", n)
	}
}

// hookHandler calls hook for every record before passing it on.
type hookHandler struct {
	slog.Handler
	hook func(slog.Record)
}

func (h hookHandler) Handle(ctx context.Context, r slog.Record) error {
	h.hook(r)
	return h.Handler.Handle(ctx, r)
}

func (h hookHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return hookHandler{Handler: h.Handler.WithAttrs(attrs), hook: h.hook}
}

func (h hookHandler) WithGroup(name string) slog.Handler {
	return hookHandler{Handler: h.Handler.WithGroup(name), hook: h.hook}
}

func TestSupervisor_ShutdownAfterBuildSkipsSwap(t *testing.T) {
	cfg, _ := newProject(t, "exec sleep 30")

	var (
		armed atomic.Bool
		sup   atomic.Pointer[Supervisor]
	)
	// Request shutdown in the gap between a finished build and the swap.
	hook := func(r slog.Record) {
		if r.Message != "build succeeded" || !armed.CompareAndSwap(true, false) {
			return
		}
		s := sup.Load()
		s.stopOnce.Do(func() { close(s.stopCh) })
	}
	h := start(t, cfg, func(next slog.Handler) slog.Handler {
		return hookHandler{Handler: next, hook: hook}
	})
	sup.Store(h.sup)

	first := h.waitRunning(t, 0)
	armed.Store(true)
	h.sup.Trigger()

	select {
	case err := <-h.errc:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Start() did not return after shutdown")
	}

	waitFor(t, "the stopped event", 5*time.Second, func() bool {
		return h.rec.count(events.SupervisorStoppedEvent) == 1
	})
	if n := h.rec.count(events.BuildSucceededEvent); n != 2 {
		t.Fatalf("%d builds succeeded, want 2", n)
	}
	if n := h.rec.count(events.ProcessStartedEvent); n != 1 {
		t.Errorf("%d launches, want only the first", n)
	}
	if st := h.sup.Status(); st.PID != first.PID || st.State != process.Stopped {
		t.Errorf("status = %+v, want pid %d stopped", st, first.PID)
	}
}
