// Package registry shares the daemon's view of the operation with other
// processes through a locked JSON file.
package registry

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/gabe/swarm/internal/agent"
)

var (
	// ErrAgentNotFound is returned when an agent is not in the registry
	ErrAgentNotFound = errors.New("agent not found in registry")
)

// Health is the patrol's verdict on an agent
type Health string

const (
	HealthOK    Health = "ok"
	HealthStuck Health = "stuck"
	HealthDead  Health = "dead"
)

// AgentRecord is one agent as other processes see it
type AgentRecord struct {
	agent.Snapshot
	Health Health `json:"health"`
}

// State is the whole shared view
type State struct {
	Operation string         `json:"operation"`
	PID       int            `json:"pid,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
	Agents    []AgentRecord  `json:"agents"`
	Severity  map[string]int `json:"severity_summary"`
}

// Agent returns the record for id
func (s *State) Agent(id string) (AgentRecord, error) {
	for _, a := range s.Agents {
		if a.ID == id {
			return a, nil
		}
	}
	return AgentRecord{}, ErrAgentNotFound
}

// Registry manages the state file shared across processes
type Registry struct {
	filepath string
	mu       sync.RWMutex
}

// New creates a new registry at the specified file path
func New(path string) *Registry {
	return &Registry{
		filepath: path,
	}
}

// DefaultPath returns the default registry path for a swarm directory
func DefaultPath(swarmDir string) string {
	return filepath.Join(swarmDir, "agents.json")
}

// Path returns the registry file path
func (r *Registry) Path() string {
	return r.filepath
}

// load reads the state from disk (must hold lock)
func (r *Registry) load() (*State, error) {
	state := &State{Severity: make(map[string]int)}

	content, err := os.ReadFile(r.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil // Empty registry
		}
		return nil, err
	}

	if len(content) == 0 {
		return state, nil
	}

	if err := json.Unmarshal(content, state); err != nil {
		return nil, err
	}
	if state.Severity == nil {
		state.Severity = make(map[string]int)
	}
	return state, nil
}

// save writes the state to disk (must hold lock)
func (r *Registry) save(state *State) error {
	dir := filepath.Dir(r.filepath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	content, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	// Write atomically via temp file
	tmpFile := r.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, content, 0644); err != nil {
		return err
	}

	return os.Rename(tmpFile, r.filepath)
}

// withFileLock executes a function with an exclusive file lock
func (r *Registry) withFileLock(fn func() error) error {
	dir := filepath.Dir(r.filepath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	lockFile := r.filepath + ".lock"
	f, err := os.OpenFile(lockFile, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return err
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	return fn()
}

// Sync replaces the stored agents and severity counts. A record with no
// health keeps the verdict already on file, or ok for a new agent.
func (r *Registry) Sync(operation string, pid int, agents []AgentRecord, severity map[string]int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.withFileLock(func() error {
		old, err := r.load()
		if err != nil {
			return err
		}
		health := make(map[string]Health, len(old.Agents))
		for _, a := range old.Agents {
			health[a.ID] = a.Health
		}

		state := &State{
			Operation: operation,
			PID:       pid,
			UpdatedAt: time.Now(),
			Severity:  make(map[string]int, len(severity)),
		}
		for k, v := range severity {
			state.Severity[k] = v
		}
		for _, a := range agents {
			if a.Health == "" {
				a.Health = health[a.ID]
			}
			if a.Health == "" {
				a.Health = HealthOK
			}
			state.Agents = append(state.Agents, a)
		}
		sort.Slice(state.Agents, func(i, j int) bool { return state.Agents[i].Number < state.Agents[j].Number })

		return r.save(state)
	})
}

// Records wraps snapshots with no health verdict
func Records(snaps []agent.Snapshot) []AgentRecord {
	out := make([]AgentRecord, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, AgentRecord{Snapshot: s})
	}
	return out
}

// SetHealth records the patrol's verdict for one agent
func (r *Registry) SetHealth(id string, h Health) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.withFileLock(func() error {
		state, err := r.load()
		if err != nil {
			return err
		}
		for i := range state.Agents {
			if state.Agents[i].ID == id {
				state.Agents[i].Health = h
				return r.save(state)
			}
		}
		return ErrAgentNotFound
	})
}

// Load returns the stored state
func (r *Registry) Load() (*State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result *State
	err := r.withFileLock(func() error {
		state, err := r.load()
		if err != nil {
			return err
		}
		result = state
		return nil
	})
	return result, err
}

// Get retrieves an agent by ID
func (r *Registry) Get(id string) (AgentRecord, error) {
	state, err := r.Load()
	if err != nil {
		return AgentRecord{}, err
	}
	return state.Agent(id)
}

// Clear removes all state
func (r *Registry) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.withFileLock(func() error {
		return r.save(&State{Severity: make(map[string]int)})
	})
}
