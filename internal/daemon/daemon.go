// Package daemon runs one operation in the background: it builds the shared
// services, starts the agent pool and serves the registry, API and control
// channel until the pool finishes or a signal arrives.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gabe/swarm/internal/agent"
	"github.com/gabe/swarm/internal/api"
	"github.com/gabe/swarm/internal/config"
	"github.com/gabe/swarm/internal/control"
	"github.com/gabe/swarm/internal/feed"
	"github.com/gabe/swarm/internal/manager"
	"github.com/gabe/swarm/internal/notify"
	"github.com/gabe/swarm/internal/oracle"
	"github.com/gabe/swarm/internal/patrol"
	"github.com/gabe/swarm/internal/registry"
	"github.com/gabe/swarm/internal/report"
	"github.com/gabe/swarm/internal/sandbox"
	"github.com/gabe/swarm/internal/severity"
	"github.com/gabe/swarm/internal/throttle"
)

// ErrNoTarget is returned when the operation has nothing to work on
var ErrNoTarget = errors.New("no target configured")

// State represents the daemon's operational state
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// overrides replace collaborators that talk to the outside world
type overrides struct {
	oracle  oracle.Oracle
	sandbox sandbox.Runner
	sampler throttle.Sampler
}

// Option configures a Daemon
type Option func(*Daemon)

// WithOracle replaces the OpenRouter client
func WithOracle(o oracle.Oracle) Option {
	return func(d *Daemon) {
		d.overrides.oracle = o
	}
}

// WithSandbox replaces the shell executor
func WithSandbox(r sandbox.Runner) Option {
	return func(d *Daemon) {
		d.overrides.sandbox = r
	}
}

// WithSampler replaces the host resource sampler
func WithSampler(s throttle.Sampler) Option {
	return func(d *Daemon) {
		d.overrides.sampler = s
	}
}

// WithNotifier adds a notification backend
func WithNotifier(n notify.Notifier) Option {
	return func(d *Daemon) {
		d.notifiers = append(d.notifiers, n)
	}
}

// Daemon manages one swarm operation
type Daemon struct {
	pidFile   string
	stateFile string
	stateDir  string
	cfg       *config.Config
	logger    *log.Logger
	overrides overrides
	notifiers []notify.Notifier

	mu       sync.RWMutex
	state    State
	cancel   context.CancelFunc
	mgr      *manager.Manager
	registry *registry.Registry
	patrol   *patrol.Patrol
	notify   *notify.Manager
}

// StateDir returns the state directory under a project root
func StateDir(root string) string {
	return filepath.Join(root, ".swarm")
}

const controlDirName = "control"

// ControlDir returns the directory of the control channel under a project root
func ControlDir(root string) string {
	return filepath.Join(StateDir(root), controlDirName)
}

// New creates a new daemon instance
func New(root string, cfg *config.Config, logger *log.Logger, opts ...Option) *Daemon {
	stateDir := StateDir(root)
	d := &Daemon{
		pidFile:   filepath.Join(stateDir, "daemon.pid"),
		stateFile: filepath.Join(stateDir, "daemon.state"),
		stateDir:  stateDir,
		cfg:       cfg,
		logger:    logger,
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start runs the operation until it finishes or SIGINT/SIGTERM arrives
func (d *Daemon) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}

// Stop cancels a running operation
func (d *Daemon) Stop() error {
	d.mu.RLock()
	cancel := d.cancel
	d.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Status returns the current daemon status
func (d *Daemon) Status() (State, int, error) {
	running, pid, err := CheckExistingDaemon(d.pidFile)
	if err != nil {
		return "", 0, err
	}
	if !running {
		return StateIdle, 0, nil
	}
	return StateRunning, pid, nil
}

// State returns the in-process state
func (d *Daemon) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *Daemon) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
	if err := os.WriteFile(d.stateFile, []byte(s), 0644); err != nil {
		d.logger.Printf("Failed to write state file: %v\n", err)
	}
}

// Run executes the configured operation until it finishes or ctx is done
func (d *Daemon) Run(ctx context.Context) error {
	op := d.cfg.Operation
	if strings.TrimSpace(op.Target) == "" {
		return ErrNoTarget
	}

	if err := os.MkdirAll(d.stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create .swarm directory: %w", err)
	}

	running, pid, err := CheckExistingDaemon(d.pidFile)
	if err != nil {
		return err
	}
	if running {
		return fmt.Errorf("daemon already running (PID %d)", pid)
	}
	if err := WritePID(d.pidFile, os.Getpid()); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer RemovePID(d.pidFile)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	hub := feed.NewHub(0)
	defer hub.Close()

	rt, err := buildRuntime(d.cfg, d.stateDir, hub, d.logger, d.overrides)
	if err != nil {
		return err
	}
	defer rt.close()

	mgr := manager.New(rt.svc, manager.WithAgentDefaults(rt.defaults))
	if _, err := mgr.CreateAgents(op.Agents, manager.Assignment{
		Target:            op.Target,
		Category:          op.Category,
		Model:             d.cfg.Oracle.Model,
		CustomInstruction: op.CustomInstruction,
		Stealth:           op.Stealth,
		Aggressive:        op.Aggressive,
	}); err != nil {
		return fmt.Errorf("failed to create agents: %w", err)
	}

	notifier := d.buildNotifier()
	defer notifier.Close()

	p := patrol.New(mgr,
		patrol.WithInterval(config.Duration(d.cfg.Daemon.PatrolInterval, time.Minute)),
		patrol.WithStuckTimeout(config.Duration(d.cfg.Daemon.StuckTimeout, 10*time.Minute)),
		patrol.WithOnStuck(func(s patrol.AgentStatus) {
			d.logger.Printf("Patrol: agent %s stuck: %s\n", s.AgentID, s.Message)
			rt.svc.Bus.Alert("daemon", "warning", fmt.Sprintf("Agent %s appears stuck: %s", s.AgentID, s.Message))
			hub.Publish(feed.Event{Type: feed.EventAlert, AgentID: s.AgentID, Payload: s.Message})
			notifier.NotifyAgentStuck(s.AgentID, s.Message)
		}),
		patrol.WithOnDead(func(s patrol.AgentStatus) {
			d.logger.Printf("Patrol: agent %s dead: %s\n", s.AgentID, s.Message)
			hub.Publish(feed.Event{Type: feed.EventAlert, AgentID: s.AgentID, Payload: s.Message})
		}),
	)

	d.mu.Lock()
	d.mgr = mgr
	d.registry = registry.New(registry.DefaultPath(d.stateDir))
	d.patrol = p
	d.notify = notifier
	d.mu.Unlock()

	channel, err := control.NewChannel(filepath.Join(d.stateDir, controlDirName))
	if err != nil {
		return err
	}
	commands, err := channel.Watch(ctx)
	if err != nil {
		return err
	}
	events := hub.Subscribe("daemon")

	var wg sync.WaitGroup
	if d.cfg.API.Enabled {
		srv := api.New(mgr, hub, "Operation "+op.Target, d.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx, d.cfg.API.Addr); err != nil {
				d.logger.Printf("API stopped: %v\n", err)
			}
		}()
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		hub.Broadcast(ctx, config.Duration(d.cfg.Daemon.BroadcastInterval, 2*time.Second), func() any {
			return mgr.GetAllAgents()
		})
	}()

	done := make(chan map[string]error, 1)
	go func() {
		done <- mgr.StartOperation(ctx)
	}()

	d.setState(StateRunning)
	d.logger.Printf("Swarm daemon started: %d agent(s) on %s\n", op.Agents, op.Target)
	d.sync()

	syncTicker := time.NewTicker(config.Duration(d.cfg.Daemon.SyncInterval, 2*time.Second))
	defer syncTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Println("Shutting down, stopping agents...")
			results := <-done
			d.finish(op.Target, results)
			wg.Wait()
			return nil
		case results := <-done:
			d.drain(events)
			d.finish(op.Target, results)
			cancel()
			wg.Wait()
			return nil
		case cmd, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			d.handleCommand(cmd)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			d.handleEvent(ev)
		case <-syncTicker.C:
			d.sync()
		}
	}
}

// buildNotifier assembles the configured notification backends
func (d *Daemon) buildNotifier() *notify.Manager {
	notifiers := []notify.Notifier{notify.NewLogNotifier(d.logger)}
	if d.cfg.Notifications.Terminal {
		notifiers = append(notifiers, notify.NewTerminalNotifier())
	}
	if d.cfg.Notifications.SummaryInterval != "" {
		summary := notify.NewSummaryReporter(
			filepath.Join(d.stateDir, "notifications.log"),
			config.Duration(d.cfg.Notifications.SummaryInterval, time.Hour),
		)
		summary.Start()
		notifiers = append(notifiers, summary)
	}
	notifiers = append(notifiers, d.notifiers...)
	return notify.NewManager(notifiers...)
}

// handleCommand applies one control command
func (d *Daemon) handleCommand(cmd control.Command) {
	target := cmd.AgentID
	if target == "" {
		target = "all agents"
	}
	d.logger.Printf("Control: %s %s (seq %d)\n", cmd.Action, target, cmd.Seq)

	if err := control.Apply(d.mgr, cmd); err != nil {
		d.logger.Printf("Control: %s failed: %v\n", cmd.Action, err)
		return
	}
	d.sync()
}

// handleEvent reacts to the change feed
func (d *Daemon) handleEvent(ev feed.Event) {
	switch ev.Type {
	case feed.EventFinding:
		f, ok := ev.Payload.(agent.Finding)
		if !ok {
			return
		}
		min := severity.Level(d.cfg.Notifications.MinSeverity)
		if severity.Rank(f.Severity) <= severity.Rank(min) {
			d.notify.NotifyFinding(f)
		}
	case feed.EventStatus:
		snap, ok := ev.Payload.(agent.Snapshot)
		if ok && snap.Status == agent.StatusError {
			d.notify.NotifyAgentError(snap.ID, snap.LastExecute)
		}
	}
}

// drain handles events already queued when the pool finished
func (d *Daemon) drain(events <-chan feed.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.handleEvent(ev)
		default:
			return
		}
	}
}

// sync writes the current pool state to the registry
func (d *Daemon) sync() {
	health := make(map[string]registry.Health)
	for _, s := range d.patrol.Status() {
		health[s.AgentID] = s.Health
	}
	records := registry.Records(d.mgr.GetAllAgents())
	for i := range records {
		records[i].Health = health[records[i].ID]
	}

	counts := make(map[string]int)
	for l, n := range d.mgr.GetSeveritySummary() {
		counts[string(l)] = n
	}

	if err := d.registry.Sync(d.cfg.Operation.Target, os.Getpid(), records, counts); err != nil {
		d.logger.Printf("Failed to sync registry: %v\n", err)
	}
}

// finish records the end of the operation
func (d *Daemon) finish(target string, results map[string]error) {
	failed := 0
	for _, err := range results {
		if err != nil {
			failed++
		}
	}

	d.sync()
	if path, err := d.writeReport(target); err != nil {
		d.logger.Printf("Failed to write report: %v\n", err)
	} else {
		d.logger.Printf("Report written to %s\n", path)
	}
	d.notify.NotifyOperationComplete(target, len(results), failed, d.mgr.GetSeveritySummary())
	d.setState(StateIdle)
	d.logger.Printf("Operation on %s finished: %d agent(s), %d failed\n", target, len(results), failed)
}

// writeReport saves an HTML report under .swarm/reports
func (d *Daemon) writeReport(target string) (string, error) {
	dir := filepath.Join(d.stateDir, "reports")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s.%s", safeName(target), time.Now().Format("20060102_150405"), report.FormatHTML.Extension())
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := report.Render(f, d.mgr.Report("Operation "+target), report.FormatHTML); err != nil {
		return "", err
	}
	return path, nil
}

// safeName keeps letters, digits, dots and dashes
func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}
