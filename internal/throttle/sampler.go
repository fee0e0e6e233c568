package throttle

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Resources is one system pressure sample
type Resources struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	SampledAt     time.Time `json:"sampled_at"`
}

// Pressure is the dominant resource percentage
func (r Resources) Pressure() float64 {
	if r.CPUPercent > r.MemoryPercent {
		return r.CPUPercent
	}
	return r.MemoryPercent
}

// Sampler reads current system resource pressure
type Sampler interface {
	Sample(ctx context.Context) (Resources, error)
}

// SamplerFunc adapts a function to Sampler
type SamplerFunc func(ctx context.Context) (Resources, error)

func (f SamplerFunc) Sample(ctx context.Context) (Resources, error) {
	return f(ctx)
}

// SystemSampler reads host CPU and memory usage
type SystemSampler struct{}

// Sample returns CPU usage since the previous call and current memory usage
func (SystemSampler) Sample(ctx context.Context) (Resources, error) {
	cpus, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Resources{}, err
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Resources{}, err
	}

	r := Resources{MemoryPercent: vm.UsedPercent, SampledAt: time.Now()}
	if len(cpus) > 0 {
		r.CPUPercent = cpus[0]
	}
	return r, nil
}

// CachedSampler shares one underlying sample across every caller within a tick
type CachedSampler struct {
	inner Sampler
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	last    Resources
	lastErr error
	at      time.Time
	samples int
}

// NewCachedSampler wraps inner so it is sampled at most once per ttl
func NewCachedSampler(inner Sampler, ttl time.Duration) *CachedSampler {
	return &CachedSampler{inner: inner, ttl: ttl, now: time.Now}
}

// Sample returns the cached sample, refreshing it when the tick has passed
func (c *CachedSampler) Sample(ctx context.Context) (Resources, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.samples > 0 && now.Sub(c.at) < c.ttl {
		return c.last, c.lastErr
	}

	c.last, c.lastErr = c.inner.Sample(ctx)
	if c.lastErr == nil && c.last.SampledAt.IsZero() {
		c.last.SampledAt = now
	}
	c.at = now
	c.samples++
	return c.last, c.lastErr
}

// Samples returns how many times the underlying sampler was read
func (c *CachedSampler) Samples() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.samples
}
