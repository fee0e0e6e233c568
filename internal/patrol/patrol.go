// Package patrol provides background health monitoring for agents.
// It runs continuously to detect stuck or dead agents.
package patrol

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gabe/swarm/internal/agent"
	"github.com/gabe/swarm/internal/registry"
)

// ErrAgentNotFound is returned when an agent cannot be found
var ErrAgentNotFound = errors.New("agent not found")

// AgentStatus represents the health status of an agent
type AgentStatus struct {
	AgentID      string
	Number       int
	Health       registry.Health
	Status       agent.Status
	LastSeen     time.Time
	LastActivity time.Time
	Message      string
}

// AgentLister lists the agents to watch
type AgentLister interface {
	GetAllAgents() []agent.Snapshot
}

// Patrol manages background health monitoring
type Patrol struct {
	agents       AgentLister
	interval     time.Duration // Default 2 minutes
	stuckTimeout time.Duration // Default 10 minutes
	onStuck      func(status AgentStatus)
	onDead       func(status AgentStatus)
	now          func() time.Time
	mu           sync.RWMutex
	agentStatus  map[string]*AgentStatus
}

// Option functions for configuration
type Option func(*Patrol)

// WithInterval sets the patrol check interval
func WithInterval(d time.Duration) Option {
	return func(p *Patrol) {
		p.interval = d
	}
}

// WithStuckTimeout sets how long a running agent may go without activity
func WithStuckTimeout(d time.Duration) Option {
	return func(p *Patrol) {
		p.stuckTimeout = d
	}
}

// WithOnStuck sets the callback for when an agent is detected as stuck
func WithOnStuck(fn func(AgentStatus)) Option {
	return func(p *Patrol) {
		p.onStuck = fn
	}
}

// WithOnDead sets the callback for when an agent is detected as dead
func WithOnDead(fn func(AgentStatus)) Option {
	return func(p *Patrol) {
		p.onDead = fn
	}
}

// WithClock sets the time source (useful for testing)
func WithClock(now func() time.Time) Option {
	return func(p *Patrol) {
		p.now = now
	}
}

// New creates a new patrol instance
func New(agents AgentLister, opts ...Option) *Patrol {
	p := &Patrol{
		agents:       agents,
		interval:     2 * time.Minute,
		stuckTimeout: 10 * time.Minute,
		now:          time.Now,
		agentStatus:  make(map[string]*AgentStatus),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Start begins the patrol loop
func (p *Patrol) Start(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Do an initial check immediately
	p.checkAll()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.checkAll()
		}
	}
}

// evaluate updates the stored status from a snapshot and reports the
// previous health (must hold lock)
func (p *Patrol) evaluate(s agent.Snapshot, now time.Time) (*AgentStatus, registry.Health) {
	status, exists := p.agentStatus[s.ID]
	if !exists {
		status = &AgentStatus{AgentID: s.ID, Health: registry.HealthOK}
		p.agentStatus[s.ID] = status
	}
	previous := status.Health

	status.Number = s.Number
	status.Status = s.Status
	status.LastActivity = s.LastActivity
	status.LastSeen = now

	switch {
	case s.Status == agent.StatusError:
		// Errored workers never come back
		status.Health = registry.HealthDead
		status.Message = s.LastExecute
	case s.Status == agent.StatusRunning && now.Sub(s.LastActivity) > p.stuckTimeout:
		idle := now.Sub(s.LastActivity).Round(time.Second)
		status.Health = registry.HealthStuck
		status.Message = "no activity for " + idle.String()
	default:
		status.Health = registry.HealthOK
		status.Message = ""
	}
	return status, previous
}

// checkAll checks every agent and fires callbacks on transitions
func (p *Patrol) checkAll() {
	snaps := p.agents.GetAllAgents()
	now := p.now()

	seen := make(map[string]bool, len(snaps))
	for _, s := range snaps {
		seen[s.ID] = true

		p.mu.Lock()
		status, previous := p.evaluate(s, now)
		current := *status
		p.mu.Unlock()

		if current.Health == previous {
			continue
		}
		switch current.Health {
		case registry.HealthDead:
			if p.onDead != nil {
				p.onDead(current)
			}
		case registry.HealthStuck:
			if p.onStuck != nil {
				p.onStuck(current)
			}
		}
	}

	// Forget deleted agents
	p.mu.Lock()
	for id := range p.agentStatus {
		if !seen[id] {
			delete(p.agentStatus, id)
		}
	}
	p.mu.Unlock()
}

// Check checks a single agent without firing callbacks
func (p *Patrol) Check(agentID string) (*AgentStatus, error) {
	for _, s := range p.agents.GetAllAgents() {
		if s.ID != agentID {
			continue
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		status, _ := p.evaluate(s, p.now())
		statusCopy := *status
		return &statusCopy, nil
	}
	return nil, ErrAgentNotFound
}

// Status returns all agent statuses
func (p *Patrol) Status() []*AgentStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	statuses := make([]*AgentStatus, 0, len(p.agentStatus))
	for _, s := range p.agentStatus {
		// Make a copy to avoid race conditions
		statusCopy := *s
		statuses = append(statuses, &statusCopy)
	}
	return statuses
}
