// Package throttle turns system resource pressure into per-agent delays and
// forced pauses. Levels move with hysteresis so a reading hovering around a
// band edge does not flip the level on every sample.
package throttle

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

// Level is a discretized resource pressure band
type Level int

const (
	LevelNone Level = iota
	LevelLight
	LevelModerate
	LevelHeavy
)

// String returns the upper-case band name
func (l Level) String() string {
	switch l {
	case LevelNone:
		return "NONE"
	case LevelLight:
		return "LIGHT"
	case LevelModerate:
		return "MODERATE"
	case LevelHeavy:
		return "HEAVY"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(l))
	}
}

// MarshalText lets levels serialize by name
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Multiplier scales an agent's base delay for the level
func (l Level) Multiplier() float64 {
	switch l {
	case LevelLight:
		return 1.5
	case LevelModerate:
		return 2.5
	case LevelHeavy:
		return 4
	default:
		return 1
	}
}

// Thresholds are the lower bounds, in percent, of the Light, Moderate and Heavy bands
type Thresholds struct {
	Light    float64 `json:"light"`
	Moderate float64 `json:"moderate"`
	Heavy    float64 `json:"heavy"`
}

// DefaultThresholds are 60/75/90
var DefaultThresholds = Thresholds{Light: 60, Moderate: 75, Heavy: 90}

// LevelFor maps a pressure percentage to its band
func (t Thresholds) LevelFor(pressure float64) Level {
	switch {
	case pressure >= t.Heavy:
		return LevelHeavy
	case pressure >= t.Moderate:
		return LevelModerate
	case pressure >= t.Light:
		return LevelLight
	default:
		return LevelNone
	}
}

// Decision is the outcome of one throttle check
type Decision struct {
	Level          Level         `json:"throttle_level"`
	Delay          time.Duration `json:"delay"`
	ShouldPause    bool          `json:"should_pause"`
	PauseRemaining time.Duration `json:"pause_remaining"`
	Reason         string        `json:"reason"`
	Resources      Resources     `json:"resources"`
}

// AgentState is a read-only view of one agent's throttle state
type AgentState struct {
	Level       Level     `json:"throttle_level"`
	PausedUntil time.Time `json:"paused_until,omitempty"`
	Resources   Resources `json:"resources"`
}

// agentState is the per-agent throttle state
type agentState struct {
	baseDelay   time.Duration
	level       Level
	upStreak    int
	upMin       Level
	downStreak  int
	downMax     Level
	pausedUntil time.Time
	last        Resources
}

// Throttler holds throttle state for every registered agent
type Throttler struct {
	mu               sync.Mutex
	agents           map[string]*agentState
	sampler          Sampler
	thresholds       Thresholds
	escalateAfter    int
	deescalateAfter  int
	pauseDuration    time.Duration
	maxPause         time.Duration
	defaultBaseDelay time.Duration
	logger           *log.Logger
	now              func() time.Time
}

// Option configures a Throttler
type Option func(*Throttler)

// WithThresholds overrides DefaultThresholds
func WithThresholds(t Thresholds) Option {
	return func(th *Throttler) {
		th.thresholds = t
	}
}

// WithHysteresis sets how many consecutive samples move the level up or down
func WithHysteresis(escalate, deescalate int) Option {
	return func(th *Throttler) {
		if escalate > 0 {
			th.escalateAfter = escalate
		}
		if deescalate > 0 {
			th.deescalateAfter = deescalate
		}
	}
}

// WithPause sets how long a Heavy level pauses and the cap on a single pause step
func WithPause(duration, max time.Duration) Option {
	return func(th *Throttler) {
		th.pauseDuration = duration
		th.maxPause = max
	}
}

// WithDefaultBaseDelay sets the base delay for agents checked before registering
func WithDefaultBaseDelay(d time.Duration) Option {
	return func(th *Throttler) {
		th.defaultBaseDelay = d
	}
}

// WithLogger sets the logger for level changes and sampler failures
func WithLogger(logger *log.Logger) Option {
	return func(th *Throttler) {
		th.logger = logger
	}
}

// WithClock replaces time.Now (useful for testing)
func WithClock(now func() time.Time) Option {
	return func(th *Throttler) {
		th.now = now
	}
}

// New creates a throttler reading from sampler. Wrap the sampler in a
// CachedSampler so all agents share one reading per tick.
func New(sampler Sampler, opts ...Option) *Throttler {
	t := &Throttler{
		agents:           make(map[string]*agentState),
		sampler:          sampler,
		thresholds:       DefaultThresholds,
		escalateAfter:    2,
		deescalateAfter:  1,
		pauseDuration:    30 * time.Second,
		maxPause:         30 * time.Second,
		defaultBaseDelay: time.Second,
		logger:           log.New(io.Discard, "", 0),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RegisterAgent sets an agent's base delay, resetting its throttle state
func (t *Throttler) RegisterAgent(agentID string, baseDelay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.agents[agentID] = &agentState{baseDelay: baseDelay}
}

// UnregisterAgent drops an agent's state
func (t *Throttler) UnregisterAgent(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.agents, agentID)
}

// Level returns an agent's current level
func (t *Throttler) Level(agentID string) Level {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.agents[agentID]; ok {
		return s.level
	}
	return LevelNone
}

// Agents returns a copy of every registered agent's state
func (t *Throttler) Agents() map[string]AgentState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]AgentState, len(t.agents))
	for id, s := range t.agents {
		out[id] = AgentState{Level: s.level, PausedUntil: s.pausedUntil, Resources: s.last}
	}
	return out
}

// Sample reads current pressure without counting toward any agent's level
func (t *Throttler) Sample(ctx context.Context) (Resources, error) {
	return t.sampler.Sample(ctx)
}

// Thresholds returns the configured bands
func (t *Throttler) Thresholds() Thresholds {
	return t.thresholds
}

// CheckAndThrottle samples pressure and decides how agentID should proceed.
// It never sleeps; callers wait out Delay or PauseRemaining themselves.
func (t *Throttler) CheckAndThrottle(ctx context.Context, agentID string) Decision {
	res, err := t.sampler.Sample(ctx)
	if err != nil {
		t.logger.Printf("Throttle: sampler failed, assuming no pressure: %v\n", err)
		res = Resources{SampledAt: t.now()}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.agents[agentID]
	if !ok {
		s = &agentState{baseDelay: t.defaultBaseDelay}
		t.agents[agentID] = s
	}
	// A reading already applied to this agent does not count toward a streak
	fresh := res.SampledAt.IsZero() || !res.SampledAt.Equal(s.last.SampledAt)
	s.last = res

	prev := s.level
	if fresh {
		t.step(s, t.thresholds.LevelFor(res.Pressure()))
	}
	if s.level != prev {
		t.logger.Printf("Throttle: %s %s -> %s (cpu %.1f%%, mem %.1f%%)\n",
			agentID, prev, s.level, res.CPUPercent, res.MemoryPercent)
	}

	now := t.now()
	d := Decision{
		Level:     s.level,
		Delay:     time.Duration(float64(s.baseDelay) * s.level.Multiplier()),
		Resources: res,
		Reason:    t.reason(s.level, res),
	}

	if s.level == LevelHeavy {
		if !now.Before(s.pausedUntil) {
			s.pausedUntil = now.Add(t.pauseDuration)
		}
		remaining := s.pausedUntil.Sub(now)
		if remaining > t.maxPause {
			remaining = t.maxPause
		}
		d.ShouldPause = remaining > 0
		d.PauseRemaining = remaining
	} else {
		s.pausedUntil = time.Time{}
	}
	return d
}

// step applies one sample to the hysteresis state machine
func (t *Throttler) step(s *agentState, target Level) {
	switch {
	case target > s.level:
		s.downStreak = 0
		if s.upStreak == 0 || target < s.upMin {
			s.upMin = target
		}
		s.upStreak++
		if s.upStreak >= t.escalateAfter {
			s.level = s.upMin
			s.upStreak = 0
		}
	case target < s.level:
		s.upStreak = 0
		if s.downStreak == 0 || target > s.downMax {
			s.downMax = target
		}
		s.downStreak++
		if s.downStreak >= t.deescalateAfter {
			s.level = s.downMax
			s.downStreak = 0
		}
	default:
		s.upStreak = 0
		s.downStreak = 0
	}
}

func (t *Throttler) reason(l Level, r Resources) string {
	if l == LevelNone {
		return "resources nominal"
	}
	return fmt.Sprintf("%s pressure: cpu %.1f%%, memory %.1f%%", l, r.CPUPercent, r.MemoryPercent)
}
