// Package ratelimit tracks per-model call budgets for the decision oracle.
// The limiter never sleeps: it tells callers how long to wait and lets them
// do the waiting so a stop request can interrupt it.
package ratelimit

import (
	"sort"
	"sync"
	"time"
)

// usage is one reserved or recorded request inside the rolling window
type usage struct {
	at      time.Time
	tokens  int
	settled bool
}

// budget is the per-model state
type budget struct {
	window                []usage
	currentDelay          time.Duration
	errorCount            int
	consecutiveRateLimits int
	cooldownUntil         time.Time
	lastRequest           time.Time
	totalRequests         int
	totalTokens           int
	totalErrors           int
}

// Status is a read-only snapshot of a model's budget
type Status struct {
	Model                 string        `json:"model"`
	CurrentDelay          time.Duration `json:"current_delay"`
	CooldownUntil         time.Time     `json:"cooldown_until"`
	CooldownRemaining     time.Duration `json:"cooldown_remaining"`
	RequestsInWindow      int           `json:"requests_in_window"`
	TokensInWindow        int           `json:"tokens_in_window"`
	ErrorCount            int           `json:"error_count"`
	ConsecutiveRateLimits int           `json:"consecutive_rate_limits"`
	TotalRequests         int           `json:"total_requests"`
	TotalTokens           int           `json:"total_tokens"`
	TotalErrors           int           `json:"total_errors"`
}

// Limiter holds budgets for every model seen
type Limiter struct {
	mu                sync.Mutex
	budgets           map[string]*budget
	window            time.Duration
	requestsPerWindow int
	tokensPerWindow   int
	baseCooldown      time.Duration
	maxCooldown       time.Duration
	minDelay          time.Duration
	maxDelay          time.Duration
	now               func() time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithWindow sets the length of the rolling window
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		l.window = d
	}
}

// WithRequestsPerWindow caps requests inside one window
func WithRequestsPerWindow(n int) Option {
	return func(l *Limiter) {
		l.requestsPerWindow = n
	}
}

// WithTokensPerWindow caps tokens inside one window; zero disables the token cap
func WithTokensPerWindow(n int) Option {
	return func(l *Limiter) {
		l.tokensPerWindow = n
	}
}

// WithBaseCooldown sets the first backoff step after a rate-limit error
func WithBaseCooldown(d time.Duration) Option {
	return func(l *Limiter) {
		l.baseCooldown = d
	}
}

// WithMaxCooldown caps the exponential backoff
func WithMaxCooldown(d time.Duration) Option {
	return func(l *Limiter) {
		l.maxCooldown = d
	}
}

// WithDelayBounds sets the range current_delay moves within
func WithDelayBounds(min, max time.Duration) Option {
	return func(l *Limiter) {
		l.minDelay = min
		l.maxDelay = max
	}
}

// WithClock replaces time.Now (useful for testing)
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter with a one minute window of 20 requests and 100k tokens
func New(opts ...Option) *Limiter {
	l := &Limiter{
		budgets:           make(map[string]*budget),
		window:            time.Minute,
		requestsPerWindow: 20,
		tokensPerWindow:   100000,
		baseCooldown:      5 * time.Second,
		maxCooldown:       300 * time.Second,
		minDelay:          0,
		maxDelay:          30 * time.Second,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// budgetLocked returns the model's budget, creating it; caller holds l.mu
func (l *Limiter) budgetLocked(model string) *budget {
	b, ok := l.budgets[model]
	if !ok {
		b = &budget{currentDelay: l.minDelay}
		l.budgets[model] = b
	}
	return b
}

// pruneLocked drops usage older than the window; caller holds l.mu
func (l *Limiter) pruneLocked(b *budget, now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(b.window) && !b.window[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		b.window = append(b.window[:0], b.window[i:]...)
	}
}

func tokensIn(b *budget) int {
	n := 0
	for _, u := range b.window {
		n += u.tokens
	}
	return n
}

// Acquire returns how long the caller must wait before calling model.
// A zero result reserves a slot in the window for estimatedTokens.
func (l *Limiter) Acquire(model string, estimatedTokens int) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.budgetLocked(model)
	l.pruneLocked(b, now)

	var wait time.Duration

	if now.Before(b.cooldownUntil) {
		wait = b.cooldownUntil.Sub(now)
	}

	if l.requestsPerWindow > 0 && len(b.window) >= l.requestsPerWindow {
		idx := len(b.window) - l.requestsPerWindow
		wait = maxDuration(wait, b.window[idx].at.Add(l.window).Sub(now))
	}

	if l.tokensPerWindow > 0 && len(b.window) > 0 {
		used := tokensIn(b)
		if used+estimatedTokens > l.tokensPerWindow {
			// Wait until enough old usage ages out to make room
			excess := used + estimatedTokens - l.tokensPerWindow
			freed, fits := 0, false
			for _, u := range b.window {
				freed += u.tokens
				if freed >= excess {
					wait = maxDuration(wait, u.at.Add(l.window).Sub(now))
					fits = true
					break
				}
			}
			if !fits {
				// Too large to fit beside anything: wait for the window to drain
				last := b.window[len(b.window)-1]
				wait = maxDuration(wait, last.at.Add(l.window).Sub(now))
			}
		}
	}

	if b.currentDelay > 0 && !b.lastRequest.IsZero() {
		wait = maxDuration(wait, b.lastRequest.Add(b.currentDelay).Sub(now))
	}

	if wait > 0 {
		return wait
	}

	b.window = append(b.window, usage{at: now, tokens: estimatedTokens})
	b.lastRequest = now
	return 0
}

// RecordRequest settles the oldest reservation with the real token count and
// adjusts the adaptive delay. Failures widen current_delay, successes narrow it.
func (l *Limiter) RecordRequest(model string, tokensUsed int, success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.budgetLocked(model)
	l.pruneLocked(b, now)

	if !settleLocked(b, tokensUsed) {
		b.window = append(b.window, usage{at: now, tokens: tokensUsed, settled: true})
	}

	b.totalRequests++
	b.totalTokens += tokensUsed

	if success {
		if b.errorCount > 0 {
			b.errorCount--
		}
		b.consecutiveRateLimits = 0
	} else {
		b.errorCount++
		b.totalErrors++
	}
	b.currentDelay = l.delayFor(b.errorCount)
}

// settleLocked fills the oldest pending reservation with the real token
// count, reporting false when none is pending; caller holds l.mu
func settleLocked(b *budget, tokens int) bool {
	for i := range b.window {
		if !b.window[i].settled {
			b.window[i].tokens = tokens
			b.window[i].settled = true
			return true
		}
	}
	return false
}

// delayFor maps an error count to a spacing delay within the configured bounds
func (l *Limiter) delayFor(errors int) time.Duration {
	if errors <= 0 {
		return l.minDelay
	}
	step := l.baseCooldown / 5
	if step <= 0 {
		step = time.Second
	}
	d := l.minDelay + time.Duration(errors)*step
	if d > l.maxDelay {
		d = l.maxDelay
	}
	return d
}

// HandleRateLimitError applies exponential backoff for model and returns the
// cooldown every caller must now observe. The shared deadline only moves
// forward, so concurrent callers never shorten each other's cooldown. The
// rejected call's reservation is settled with no tokens.
func (l *Limiter) HandleRateLimitError(model string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.budgetLocked(model)
	l.pruneLocked(b, now)
	settleLocked(b, 0)

	b.consecutiveRateLimits++
	b.totalErrors++

	cooldown := l.maxCooldown
	if shift := b.consecutiveRateLimits - 1; shift < 32 {
		if c := l.baseCooldown << uint(shift); c > 0 && c < l.maxCooldown {
			cooldown = c
		}
	}

	until := now.Add(cooldown)
	if until.After(b.cooldownUntil) {
		b.cooldownUntil = until
	}
	return b.cooldownUntil.Sub(now)
}

// Status returns a snapshot of model's budget
func (l *Limiter) Status(model string) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st := Status{Model: model}

	b, ok := l.budgets[model]
	if !ok {
		st.CurrentDelay = l.minDelay
		return st
	}

	// Count without pruning so a status read never mutates state
	cutoff := now.Add(-l.window)
	for _, u := range b.window {
		if u.at.After(cutoff) {
			st.RequestsInWindow++
			st.TokensInWindow += u.tokens
		}
	}

	st.CurrentDelay = b.currentDelay
	st.CooldownUntil = b.cooldownUntil
	if now.Before(b.cooldownUntil) {
		st.CooldownRemaining = b.cooldownUntil.Sub(now)
	}
	st.ErrorCount = b.errorCount
	st.ConsecutiveRateLimits = b.consecutiveRateLimits
	st.TotalRequests = b.totalRequests
	st.TotalTokens = b.totalTokens
	st.TotalErrors = b.totalErrors
	return st
}

// Models lists every model with a budget
func (l *Limiter) Models() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	models := make([]string, 0, len(l.budgets))
	for m := range l.budgets {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
