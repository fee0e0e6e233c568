package coord

import (
	"io"
	"log"
	"sort"
	"sync"
	"time"
)

// TaskState is the lifecycle state of a task claim
type TaskState string

const (
	TaskAvailable TaskState = "available"
	TaskClaimed   TaskState = "claimed"
	TaskCompleted TaskState = "completed"
)

// TaskClaim records who owns a task fingerprint
type TaskClaim struct {
	ID          string    `json:"id"`
	ClaimedBy   string    `json:"claimed_by"`
	State       TaskState `json:"state"`
	Result      string    `json:"result,omitempty"`
	ClaimedAt   time.Time `json:"claimed_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// TaskStats counts claims by state
type TaskStats struct {
	Claimed   int `json:"claimed"`
	Completed int `json:"completed"`
}

// Tasks is the exclusive-claim registry. One mutex covers the whole table.
type Tasks struct {
	mu        sync.Mutex
	claims    map[string]*TaskClaim
	rerun     func(TaskClaim) bool
	retention int
	logger    *log.Logger
	now       func() time.Time
}

// TaskOption configures a Tasks registry
type TaskOption func(*Tasks)

// WithRerunPolicy lets completed tasks become available again when fn returns true
func WithRerunPolicy(fn func(TaskClaim) bool) TaskOption {
	return func(t *Tasks) {
		t.rerun = fn
	}
}

// RerunAfter is a rerun policy that frees completed tasks once d has passed
// since completion
func RerunAfter(d time.Duration, now func() time.Time) func(TaskClaim) bool {
	return func(c TaskClaim) bool {
		return !c.CompletedAt.IsZero() && now().Sub(c.CompletedAt) >= d
	}
}

// WithRetention caps the table; the oldest completed claims are evicted first
func WithRetention(max int) TaskOption {
	return func(t *Tasks) {
		t.retention = max
	}
}

// WithTaskLogger sets the logger used for claim anomalies
func WithTaskLogger(logger *log.Logger) TaskOption {
	return func(t *Tasks) {
		t.logger = logger
	}
}

// NewTasks creates an empty claim registry
func NewTasks(opts ...TaskOption) *Tasks {
	t := &Tasks{
		claims: make(map[string]*TaskClaim),
		logger: log.New(io.Discard, "", 0),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// availableLocked reports availability; caller holds t.mu
func (t *Tasks) availableLocked(id string) bool {
	c, ok := t.claims[id]
	if !ok || c.State == TaskAvailable {
		return true
	}
	if c.State == TaskCompleted && t.rerun != nil {
		return t.rerun(*c)
	}
	return false
}

// IsTaskAvailable reports whether id could be claimed right now
func (t *Tasks) IsTaskAvailable(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.availableLocked(id)
}

// ClaimTask atomically claims id for agentID. Only one caller wins.
func (t *Tasks) ClaimTask(agentID, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.availableLocked(id) {
		return false
	}

	t.claims[id] = &TaskClaim{
		ID:        id,
		ClaimedBy: agentID,
		State:     TaskClaimed,
		ClaimedAt: t.now(),
	}
	t.evictLocked()
	return true
}

// CompleteTask marks a claim completed. Calls from anyone but the owner are ignored.
func (t *Tasks) CompleteTask(agentID, id, result string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.claims[id]
	if !ok || c.State != TaskClaimed {
		t.logger.Printf("Tasks: %s tried to complete unclaimed task %s\n", agentID, id)
		return
	}
	if c.ClaimedBy != agentID {
		t.logger.Printf("Tasks: %s tried to complete task %s owned by %s\n", agentID, id, c.ClaimedBy)
		return
	}

	c.State = TaskCompleted
	c.Result = result
	c.CompletedAt = t.now()
}

// Get returns a copy of the claim for id
func (t *Tasks) Get(id string) (TaskClaim, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.claims[id]
	if !ok {
		return TaskClaim{}, false
	}
	return *c, true
}

// Stats counts claims by state
func (t *Tasks) Stats() TaskStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var st TaskStats
	for _, c := range t.claims {
		switch c.State {
		case TaskClaimed:
			st.Claimed++
		case TaskCompleted:
			st.Completed++
		}
	}
	return st
}

// evictLocked drops the oldest completed claims while over retention; caller holds t.mu
func (t *Tasks) evictLocked() {
	if t.retention <= 0 || len(t.claims) <= t.retention {
		return
	}

	var done []*TaskClaim
	for _, c := range t.claims {
		if c.State == TaskCompleted {
			done = append(done, c)
		}
	}
	sort.Slice(done, func(i, j int) bool {
		return done[i].CompletedAt.Before(done[j].CompletedAt)
	})

	for _, c := range done {
		if len(t.claims) <= t.retention {
			return
		}
		delete(t.claims, c.ID)
	}
}
