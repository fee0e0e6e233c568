// Package manager owns the pool of workers for one operation
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/gabe/swarm/internal/agent"
	"github.com/gabe/swarm/internal/coord"
	"github.com/gabe/swarm/internal/knowledge"
	"github.com/gabe/swarm/internal/ratelimit"
	"github.com/gabe/swarm/internal/report"
	"github.com/gabe/swarm/internal/severity"
	"github.com/gabe/swarm/internal/throttle"
	"github.com/google/uuid"
)

// MaxAgents caps the size of the pool
const MaxAgents = 10

var (
	// ErrAgentNotFound is returned for an unknown agent id
	ErrAgentNotFound = errors.New("agent not found")

	// ErrTooManyAgents is returned when a create would exceed MaxAgents
	ErrTooManyAgents = errors.New("too many agents")
)

// Services are the collaborators shared by every worker in the pool
type Services = agent.Services

// Assignment is what a batch of new agents works on
type Assignment struct {
	Target            string
	Category          string
	Model             string
	CustomInstruction string
	Stealth           bool
	Aggressive        bool
}

// Manager creates, runs and controls workers
type Manager struct {
	svc      Services
	defaults agent.Config
	logger   *log.Logger

	mu      sync.RWMutex
	workers map[string]*agent.Worker
	order   []string
	started map[string]bool
	number  int
}

// Option configures a Manager
type Option func(*Manager)

// WithAgentDefaults sets the tuning every new worker starts from.
// Identity and assignment fields are overwritten per agent.
func WithAgentDefaults(cfg agent.Config) Option {
	return func(m *Manager) {
		m.defaults = cfg
	}
}

// New creates a manager over shared services
func New(svc Services, opts ...Option) *Manager {
	m := &Manager{
		svc:     svc,
		logger:  svc.Logger,
		workers: make(map[string]*agent.Worker),
		started: make(map[string]bool),
	}
	if m.logger == nil {
		m.logger = log.New(io.Discard, "", 0)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// newAgentID returns agent-<8 hex chars>
func newAgentID() string {
	return "agent-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// CreateAgents adds n idle workers sharing one assignment and returns their ids
func (m *Manager) CreateAgents(n int, a Assignment) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("agent count must be positive, got %d", n)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.workers)+n > MaxAgents {
		return nil, fmt.Errorf("%w: %d existing + %d requested exceeds %d", ErrTooManyAgents, len(m.workers), n, MaxAgents)
	}

	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := newAgentID()
		for m.workers[id] != nil {
			id = newAgentID()
		}
		m.number++

		cfg := m.defaults
		cfg.ID = id
		cfg.Number = m.number
		cfg.Target = a.Target
		cfg.Category = a.Category
		cfg.Model = a.Model
		cfg.CustomInstruction = a.CustomInstruction
		cfg.Stealth = a.Stealth
		cfg.Aggressive = a.Aggressive

		// Register up front so early broadcasts reach the mailbox
		m.svc.Bus.RegisterAgent(id, coord.Capability{
			Specializations: agent.Specializations(a.Category),
			Status:          string(agent.StatusIdle),
			Target:          a.Target,
		})

		m.workers[id] = agent.New(cfg, m.svc)
		m.order = append(m.order, id)
		ids = append(ids, id)
	}

	m.logger.Printf("Manager: created %d agent(s) for %q\n", n, a.Target)
	return ids, nil
}

// StartOperation runs every worker not yet started and waits for all of
// them. One worker's failure never cancels the others.
func (m *Manager) StartOperation(ctx context.Context) map[string]error {
	m.mu.Lock()
	var toStart []*agent.Worker
	for _, id := range m.order {
		if !m.started[id] {
			m.started[id] = true
			toStart = append(toStart, m.workers[id])
		}
	}
	m.mu.Unlock()

	m.logger.Printf("Manager: starting operation with %d agent(s)\n", len(toStart))

	var (
		wg      sync.WaitGroup
		resMu   sync.Mutex
		results = make(map[string]error, len(toStart))
	)
	for _, w := range toStart {
		wg.Add(1)
		go func(w *agent.Worker) {
			defer wg.Done()
			err := w.Start(ctx)
			if err != nil {
				m.logger.Printf("Manager: agent %s ended with error: %v\n", w.ID(), err)
			}
			resMu.Lock()
			results[w.ID()] = err
			resMu.Unlock()
		}(w)
	}
	wg.Wait()

	failed := 0
	for _, err := range results {
		if err != nil {
			failed++
		}
	}
	m.logger.Printf("Manager: operation finished, %d agent(s), %d failed\n", len(results), failed)
	return results
}

// Worker returns the worker behind id
func (m *Manager) Worker(id string) (*agent.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return w, nil
}

// workersSnapshot returns the workers in creation order
func (m *Manager) workersSnapshot() []*agent.Worker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*agent.Worker, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.workers[id])
	}
	return out
}

// GetStatus returns one agent's snapshot
func (m *Manager) GetStatus(id string) (agent.Snapshot, error) {
	w, err := m.Worker(id)
	if err != nil {
		return agent.Snapshot{}, err
	}
	return w.Snapshot(), nil
}

// GetAllAgents returns every agent's snapshot ordered by agent number
func (m *Manager) GetAllAgents() []agent.Snapshot {
	workers := m.workersSnapshot()
	out := make([]agent.Snapshot, 0, len(workers))
	for _, w := range workers {
		out = append(out, w.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// Pause pauses one agent
func (m *Manager) Pause(id string) error {
	w, err := m.Worker(id)
	if err != nil {
		return err
	}
	w.Pause()
	m.logger.Printf("Manager: paused %s\n", id)
	return nil
}

// Resume resumes one agent
func (m *Manager) Resume(id string) error {
	w, err := m.Worker(id)
	if err != nil {
		return err
	}
	w.Resume()
	m.logger.Printf("Manager: resumed %s\n", id)
	return nil
}

// Stop stops one agent
func (m *Manager) Stop(id string) error {
	w, err := m.Worker(id)
	if err != nil {
		return err
	}
	w.Stop()
	m.logger.Printf("Manager: stopped %s\n", id)
	return nil
}

// PauseAll pauses every agent
func (m *Manager) PauseAll() {
	for _, w := range m.workersSnapshot() {
		w.Pause()
	}
}

// ResumeAll resumes every agent
func (m *Manager) ResumeAll() {
	for _, w := range m.workersSnapshot() {
		w.Resume()
	}
}

// StopAll stops every agent
func (m *Manager) StopAll() {
	for _, w := range m.workersSnapshot() {
		w.Stop()
	}
}

// DeleteAgent stops an agent and removes it from the pool and shared services
func (m *Manager) DeleteAgent(id string) error {
	m.mu.Lock()
	w, ok := m.workers[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	delete(m.workers, id)
	delete(m.started, id)
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	w.Stop()
	m.svc.Bus.UnregisterAgent(id)
	m.svc.Throttler.UnregisterAgent(id)
	m.logger.Printf("Manager: deleted %s\n", id)
	return nil
}

// GetFindings returns findings from one agent, or from all when id is empty,
// oldest first
func (m *Manager) GetFindings(id string) ([]agent.Finding, error) {
	if id != "" {
		w, err := m.Worker(id)
		if err != nil {
			return nil, err
		}
		return w.Findings(), nil
	}

	var out []agent.Finding
	for _, w := range m.workersSnapshot() {
		out = append(out, w.Findings()...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// GetSeveritySummary counts findings across the pool per severity
func (m *Manager) GetSeveritySummary() severity.Summary {
	s := severity.NewSummary()
	for _, w := range m.workersSnapshot() {
		for _, f := range w.Findings() {
			s.Add(f.Severity)
		}
	}
	return s
}

// TargetSummary returns what the team knows about target
func (m *Manager) TargetSummary(target string) knowledge.Summary {
	return m.svc.Knowledge.TargetSummary(target)
}

// Knowledge returns what the team knows about every target
func (m *Manager) Knowledge() []knowledge.Summary {
	targets := m.svc.Knowledge.Targets()
	out := make([]knowledge.Summary, 0, len(targets))
	for _, t := range targets {
		out = append(out, m.svc.Knowledge.TargetSummary(t))
	}
	return out
}

// Report assembles the operation report
func (m *Manager) Report(title string) report.Report {
	findings, _ := m.GetFindings("")
	return report.Build(title, m.GetAllAgents(), findings, m.Knowledge())
}

// RateStatus returns the limiter's view of model
func (m *Manager) RateStatus(model string) ratelimit.Status {
	return m.svc.Limiter.Status(model)
}

// Stats are the operation-wide counters
type Stats struct {
	Agents          int             `json:"agents"`
	Tasks           coord.TaskStats `json:"tasks"`
	Knowledge       knowledge.Stats `json:"knowledge"`
	MailboxDropped  map[string]int  `json:"mailbox_dropped"`
	RecorderDropped int64           `json:"recorder_dropped"`
	RecorderFailed  int64           `json:"recorder_failed"`
}

// recorderCounters is implemented by recorders that track lost writes
type recorderCounters interface {
	Dropped() int64
	Failed() int64
}

// Stats collects counters from the shared services
func (m *Manager) Stats() Stats {
	st := Stats{
		Tasks:          m.svc.Bus.Stats(),
		Knowledge:      m.svc.Knowledge.Stats(),
		MailboxDropped: make(map[string]int),
	}
	for _, w := range m.workersSnapshot() {
		st.Agents++
		if n := m.svc.Bus.Dropped(w.ID()); n > 0 {
			st.MailboxDropped[w.ID()] = n
		}
	}
	if rc, ok := m.svc.Recorder.(recorderCounters); ok {
		st.RecorderDropped = rc.Dropped()
		st.RecorderFailed = rc.Failed()
	}
	return st
}

// ResourceView is the current resource reading and each agent's throttle state
type ResourceView struct {
	Resources  throttle.Resources             `json:"resources"`
	Pressure   float64                        `json:"pressure"`
	Level      throttle.Level                 `json:"throttle_level"`
	Thresholds throttle.Thresholds            `json:"thresholds"`
	Agents     map[string]throttle.AgentState `json:"agents"`
}

// Resources samples system pressure. The reading does not move any agent's
// throttle level.
func (m *Manager) Resources(ctx context.Context) (ResourceView, error) {
	res, err := m.svc.Throttler.Sample(ctx)
	if err != nil {
		return ResourceView{}, fmt.Errorf("failed to sample resources: %w", err)
	}
	th := m.svc.Throttler.Thresholds()
	return ResourceView{
		Resources:  res,
		Pressure:   res.Pressure(),
		Level:      th.LevelFor(res.Pressure()),
		Thresholds: th,
		Agents:     m.svc.Throttler.Agents(),
	}, nil
}

// Count returns the number of agents in the pool
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.workers)
}
