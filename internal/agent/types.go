package agent

import (
	"io"
	"log"
	"time"

	"github.com/gabe/swarm/internal/coord"
	"github.com/gabe/swarm/internal/feed"
	"github.com/gabe/swarm/internal/knowledge"
	"github.com/gabe/swarm/internal/oracle"
	"github.com/gabe/swarm/internal/ratelimit"
	"github.com/gabe/swarm/internal/safety"
	"github.com/gabe/swarm/internal/sandbox"
	"github.com/gabe/swarm/internal/severity"
	"github.com/gabe/swarm/internal/throttle"
)

// Status is a worker lifecycle state
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusStopped   Status = "stopped"
)

// IsTerminal reports whether the worker can no longer run
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusStopped
}

// Config is a worker's assignment and tuning
type Config struct {
	ID                string
	Number            int
	Target            string
	Category          string
	Model             string
	CustomInstruction string
	Stealth           bool
	Aggressive        bool

	MaxIterations     int           // oracle calls before completing
	DelayMin          time.Duration // base inter-iteration delay range
	DelayMax          time.Duration
	DelayFloor        time.Duration
	ThrottleBaseDelay time.Duration // 0 picks 1s, or 1.5s in stealth
	ErrorBackoff      time.Duration
	OracleTimeout     time.Duration
	ExecTimeout       time.Duration
	EstimatedTokens   int

	HistoryLimit     int // executions kept
	InstructionLimit int // instructions kept
	ContextExchanges int // user/assistant pairs sent as context
}

// withDefaults fills zero fields
func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 50
	}
	if c.DelayMin <= 0 && c.DelayMax <= 0 {
		c.DelayMin, c.DelayMax = time.Second, 3*time.Second
	}
	if c.DelayFloor <= 0 {
		c.DelayFloor = 500 * time.Millisecond
	}
	if c.ThrottleBaseDelay <= 0 {
		c.ThrottleBaseDelay = time.Second
		if c.Stealth {
			c.ThrottleBaseDelay = 1500 * time.Millisecond
		}
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 3 * time.Second
	}
	if c.OracleTimeout <= 0 {
		c.OracleTimeout = oracle.DefaultTimeout + 10*time.Second
	}
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = sandbox.DefaultTimeout
	}
	if c.EstimatedTokens <= 0 {
		c.EstimatedTokens = 2000
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 100
	}
	if c.InstructionLimit <= 0 {
		c.InstructionLimit = 100
	}
	if c.ContextExchanges <= 0 {
		c.ContextExchanges = 10
	}
	return c
}

// Recorder persists what a worker does. Implementations must not block.
type Recorder interface {
	LogEvent(eventType, message string, metadata map[string]any)
	SaveFinding(f Finding)
	SaveExecution(agentID string, e Execution)
	SaveConversation(agentID, role, content string, iteration int)
}

// NopRecorder discards everything
type NopRecorder struct{}

func (NopRecorder) LogEvent(string, string, map[string]any)      {}
func (NopRecorder) SaveFinding(Finding)                          {}
func (NopRecorder) SaveExecution(string, Execution)              {}
func (NopRecorder) SaveConversation(string, string, string, int) {}

// Services are the shared collaborators every worker in a pool uses
type Services struct {
	Bus       *coord.Bus
	Knowledge *knowledge.Base
	Throttler *throttle.Throttler
	Limiter   *ratelimit.Limiter
	Oracle    oracle.Oracle
	Sandbox   sandbox.Runner
	Safety    *safety.Checker
	Recorder  Recorder
	Publisher feed.Publisher
	Severity  severity.Policy
	Logger    *log.Logger
}

// withDefaults fills optional collaborators
func (s Services) withDefaults() Services {
	if s.Recorder == nil {
		s.Recorder = NopRecorder{}
	}
	if s.Publisher == nil {
		s.Publisher = feed.Nop{}
	}
	if s.Severity == nil {
		s.Severity = severity.Default
	}
	if s.Safety == nil {
		s.Safety = safety.New(nil, nil)
	}
	if s.Logger == nil {
		s.Logger = log.New(io.Discard, "", 0)
	}
	return s
}

// Finding is a classified <write> block
type Finding struct {
	AgentID     string         `json:"agent_id" yaml:"agent_id"`
	AgentNumber int            `json:"agent_number" yaml:"agent_number"`
	Target      string         `json:"target" yaml:"target"`
	Category    string         `json:"category" yaml:"category"`
	Content     string         `json:"content" yaml:"content"`
	Severity    severity.Level `json:"severity" yaml:"severity"`
	Timestamp   time.Time      `json:"timestamp" yaml:"timestamp"`
}

// Execution is one sandboxed command and its output
type Execution struct {
	Command   string        `json:"command"`
	Result    string        `json:"result"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// InstructionType classifies an oracle response
type InstructionType string

const (
	InstructionCommand  InstructionType = "command"
	InstructionDecision InstructionType = "decision"
	InstructionAnalysis InstructionType = "analysis"
)

// Instruction is one oracle response as shown in the instruction feed
type Instruction struct {
	ID           int             `json:"id"`
	Summary      string          `json:"instruction"`
	FullResponse string          `json:"full_response"`
	Type         InstructionType `json:"instruction_type"`
	Model        string          `json:"model_name"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Snapshot is a point-in-time view of a worker
type Snapshot struct {
	ID              string    `json:"id"`
	Number          int       `json:"agent_number"`
	Status          Status    `json:"status"`
	Target          string    `json:"target"`
	Category        string    `json:"category"`
	Model           string    `json:"model"`
	Stealth         bool      `json:"stealth_mode"`
	Aggressive      bool      `json:"aggressive_mode"`
	Specializations []string  `json:"specializations"`
	ElapsedSeconds  float64   `json:"elapsed_time"`
	LastCommand     string    `json:"last_command"`
	LastExecute     string    `json:"last_execute"`
	Iteration       int       `json:"iteration"`
	ExecutionCount  int       `json:"execution_count"`
	FindingsCount   int       `json:"findings_count"`
	Progress        int       `json:"progress"`
	ThrottleLevel   string    `json:"throttle_level"`
	StartedAt       time.Time `json:"started_at"`
	LastActivity    time.Time `json:"last_activity"`
}
