package daemon

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gabe/swarm/internal/agent"
	"github.com/gabe/swarm/internal/config"
	"github.com/gabe/swarm/internal/control"
	"github.com/gabe/swarm/internal/notify"
	"github.com/gabe/swarm/internal/oracle"
	"github.com/gabe/swarm/internal/registry"
	"github.com/gabe/swarm/internal/storage"
	"github.com/gabe/swarm/internal/throttle"
)

func TestPIDFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "swarm-daemon-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	pidFile := filepath.Join(tmpDir, "daemon.pid")

	if err := WritePID(pidFile, 12345); err != nil {
		t.Fatalf("failed to write PID: %v", err)
	}

	pid, err := ReadPID(pidFile)
	if err != nil {
		t.Fatalf("failed to read PID: %v", err)
	}
	if pid != 12345 {
		t.Errorf("expected PID 12345, got %d", pid)
	}

	if err := RemovePID(pidFile); err != nil {
		t.Fatalf("failed to remove PID: %v", err)
	}

	_, err = ReadPID(pidFile)
	if err == nil {
		t.Error("expected error reading removed PID file")
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !IsProcessRunning(os.Getpid()) {
		t.Error("current process should be running")
	}

	// Using a very high PID that's unlikely to exist
	if IsProcessRunning(999999999) {
		t.Error("non-existent process should not be running")
	}
}

func TestCheckExistingDaemon(t *testing.T) {
	tmpDir := t.TempDir()
	pidFile := filepath.Join(tmpDir, "daemon.pid")

	running, pid, err := CheckExistingDaemon(pidFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if running || pid != 0 {
		t.Errorf("expected not running with no PID file, got %v %d", running, pid)
	}

	if err := WritePID(pidFile, os.Getpid()); err != nil {
		t.Fatalf("failed to write PID: %v", err)
	}
	running, pid, err = CheckExistingDaemon(pidFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !running || pid != os.Getpid() {
		t.Errorf("expected running as %d, got %v %d", os.Getpid(), running, pid)
	}

	// Stale PID is removed
	if err := WritePID(pidFile, 999999999); err != nil {
		t.Fatalf("failed to write PID: %v", err)
	}
	running, _, err = CheckExistingDaemon(pidFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if running {
		t.Error("expected daemon not running with stale PID")
	}
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Error("expected stale PID file to be removed")
	}
}

func TestPIDFileRejectsGarbage(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "daemon.pid")

	if err := WritePID(pidFile, 0); !errors.Is(err, ErrInvalidPID) {
		t.Errorf("expected ErrInvalidPID for pid 0, got %v", err)
	}

	if err := os.WriteFile(pidFile, []byte("not-a-pid"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadPID(pidFile); !errors.Is(err, ErrInvalidPID) {
		t.Errorf("expected ErrInvalidPID, got %v", err)
	}

	running, _, err := CheckExistingDaemon(pidFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if running {
		t.Error("expected daemon not running with a corrupt PID file")
	}
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Error("expected corrupt PID file to be removed")
	}
	if err := RemovePID(pidFile); err != nil {
		t.Errorf("expected removing a missing PID file to succeed, got %v", err)
	}
}

func TestDaemonNew(t *testing.T) {
	d := New("/test/swarm", config.DefaultConfig(), log.New(io.Discard, "", 0))

	if d.pidFile != "/test/swarm/.swarm/daemon.pid" {
		t.Errorf("unexpected pidFile: %s", d.pidFile)
	}
	if d.stateFile != "/test/swarm/.swarm/daemon.state" {
		t.Errorf("unexpected stateFile: %s", d.stateFile)
	}
	if d.State() != StateIdle {
		t.Errorf("expected state Idle, got %s", d.State())
	}
}

func TestDaemonStatus(t *testing.T) {
	d := New(t.TempDir(), config.DefaultConfig(), log.New(io.Discard, "", 0))

	state, pid, err := d.Status()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != StateIdle || pid != 0 {
		t.Errorf("expected idle with PID 0, got %s %d", state, pid)
	}
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (r *recordingNotifier) Notify(n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return nil
}

func (r *recordingNotifier) Close() error { return nil }

func (r *recordingNotifier) count(typ notify.NotificationType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.got {
		if got.Type == typ {
			n++
		}
	}
	return n
}

type nopRunner struct{}

func (nopRunner) Execute(ctx context.Context, command string) string { return "" }
func (nopRunner) ErrorCount() int                                    { return 0 }

func testConfig(agents int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Operation.Target = "10.0.0.1"
	cfg.Operation.Agents = agents
	cfg.Oracle.Model = "test"
	cfg.API.Enabled = false
	cfg.Notifications.Terminal = false
	cfg.Notifications.SummaryInterval = ""
	cfg.Agent.DelayMin = "1ms"
	cfg.Agent.DelayMax = "1ms"
	cfg.Daemon.SyncInterval = "5ms"
	cfg.Daemon.PatrolInterval = "10ms"
	cfg.Daemon.BroadcastInterval = "10ms"
	return cfg
}

func newTestDaemon(root string, cfg *config.Config, o oracle.Oracle, n notify.Notifier) *Daemon {
	idle := throttle.SamplerFunc(func(ctx context.Context) (throttle.Resources, error) {
		return throttle.Resources{}, nil
	})
	return New(root, cfg, log.New(io.Discard, "", 0),
		WithOracle(o),
		WithSandbox(nopRunner{}),
		WithSampler(idle),
		WithNotifier(n),
	)
}

func TestRunCompletesOperation(t *testing.T) {
	root := t.TempDir()
	rec := &recordingNotifier{}
	o := oracle.Func(func(ctx context.Context, req oracle.Request) (string, error) {
		return "<write>Critical: RCE in /upload</write><END!>", nil
	})
	d := newTestDaemon(root, testConfig(2), o, rec)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	state, err := registry.New(registry.DefaultPath(StateDir(root))).Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Agents) != 2 {
		t.Fatalf("expected 2 agents in registry, got %d", len(state.Agents))
	}
	for _, a := range state.Agents {
		if a.Status != agent.StatusCompleted {
			t.Errorf("expected %s completed, got %s", a.ID, a.Status)
		}
	}
	if state.Severity["Critical"] != 2 {
		t.Errorf("expected 2 critical findings, got %v", state.Severity)
	}

	reports, _ := filepath.Glob(filepath.Join(StateDir(root), "reports", "10.0.0.1_*.html"))
	if len(reports) != 1 {
		t.Errorf("expected one report, got %v", reports)
	}

	if n := rec.count(notify.NotificationTypeFinding); n != 2 {
		t.Errorf("expected 2 finding notifications, got %d", n)
	}
	if n := rec.count(notify.NotificationTypeComplete); n != 1 {
		t.Errorf("expected 1 completion notification, got %d", n)
	}

	store, err := storage.Open(filepath.Join(StateDir(root), "swarm.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	findings, _ := store.ListFindings(storage.FindingFilter{})
	if len(findings) != 2 {
		t.Errorf("expected 2 persisted findings, got %d", len(findings))
	}

	if _, err := os.Stat(filepath.Join(StateDir(root), "daemon.pid")); !os.IsNotExist(err) {
		t.Error("expected PID file to be removed")
	}
	if data, _ := os.ReadFile(filepath.Join(StateDir(root), "daemon.state")); string(data) != string(StateIdle) {
		t.Errorf("expected idle state file, got %q", data)
	}
}

func blockingOracle() oracle.Oracle {
	return oracle.Func(func(ctx context.Context, req oracle.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
}

func waitRunning(t *testing.T, d *Daemon) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for d.State() != StateRunning {
		if time.Now().After(deadline) {
			t.Fatal("daemon never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunStopsOnControlCommand(t *testing.T) {
	root := t.TempDir()
	d := newTestDaemon(root, testConfig(2), blockingOracle(), &recordingNotifier{})

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(context.Background()) }()
	waitRunning(t, d)

	ch, err := control.NewChannel(filepath.Join(StateDir(root), "control"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ch.Send(control.Command{Action: control.ActionStop}); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop after control command")
	}

	state, _ := registry.New(registry.DefaultPath(StateDir(root))).Load()
	for _, a := range state.Agents {
		if a.Status != agent.StatusStopped {
			t.Errorf("expected %s stopped, got %s", a.ID, a.Status)
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	d := newTestDaemon(t.TempDir(), testConfig(1), blockingOracle(), &recordingNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()
	waitRunning(t, d)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop after cancel")
	}
}

func TestRunRequiresTarget(t *testing.T) {
	cfg := testConfig(1)
	cfg.Operation.Target = " "
	d := newTestDaemon(t.TempDir(), cfg, blockingOracle(), &recordingNotifier{})
	if err := d.Run(context.Background()); !errors.Is(err, ErrNoTarget) {
		t.Errorf("expected ErrNoTarget, got %v", err)
	}
}

func TestRunRefusesSecondDaemon(t *testing.T) {
	root := t.TempDir()
	os.MkdirAll(StateDir(root), 0755)
	WritePID(filepath.Join(StateDir(root), "daemon.pid"), os.Getpid())

	d := newTestDaemon(root, testConfig(1), blockingOracle(), &recordingNotifier{})
	if err := d.Run(context.Background()); err == nil {
		t.Error("expected an error while another daemon holds the PID file")
	}
}

func TestSafeName(t *testing.T) {
	if got := safeName("https://example.com/a b"); got != "https___example.com_a_b" {
		t.Errorf("unexpected name %q", got)
	}
}
