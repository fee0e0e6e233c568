package daemon

import (
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gabe/swarm/internal/agent"
	"github.com/gabe/swarm/internal/config"
	"github.com/gabe/swarm/internal/coord"
	"github.com/gabe/swarm/internal/feed"
	"github.com/gabe/swarm/internal/knowledge"
	"github.com/gabe/swarm/internal/oracle"
	"github.com/gabe/swarm/internal/ratelimit"
	"github.com/gabe/swarm/internal/safety"
	"github.com/gabe/swarm/internal/sandbox"
	"github.com/gabe/swarm/internal/storage"
	"github.com/gabe/swarm/internal/throttle"
)

// runtime is everything the daemon builds from config for one operation
type runtime struct {
	svc      agent.Services
	defaults agent.Config
	store    *storage.Store
	recorder *storage.Recorder
	mirror   *storage.StreamMirror
}

// close releases storage in dependency order
func (r *runtime) close() {
	if r.svc.Bus != nil {
		r.svc.Bus.Close()
	}
	if r.recorder != nil {
		r.recorder.Close()
	}
	if r.mirror != nil {
		r.mirror.Close()
	}
	if r.store != nil {
		r.store.Close()
	}
}

// buildRuntime wires the shared services from config. Overrides replace the
// oracle, sandbox and sampler when set.
func buildRuntime(cfg *config.Config, stateDir string, hub *feed.Hub, logger *log.Logger, o overrides) (*runtime, error) {
	rt := &runtime{}

	store, err := storage.Open(filepath.Join(stateDir, cfg.Storage.Database))
	if err != nil {
		return nil, err
	}
	rt.store = store

	events, err := storage.NewEventLog(filepath.Join(stateDir, cfg.Storage.EventsDir))
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.recorder = storage.NewRecorder(store, events, logger, cfg.Storage.QueueSize)

	if cfg.Storage.RedisURL != "" {
		rdb, err := storage.NewRedisClient(cfg.Storage.RedisURL)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("failed to configure redis mirror: %w", err)
		}
		rt.mirror = storage.NewStreamMirror(rdb, cfg.Storage.RedisStream, cfg.Storage.StreamMax, logger)
	}

	taskOpts := []coord.TaskOption{
		coord.WithTaskLogger(logger),
		coord.WithRetention(cfg.Agent.TaskRetention),
	}
	if d := config.Duration(cfg.Agent.RerunAfter, 0); d > 0 {
		taskOpts = append(taskOpts, coord.WithRerunPolicy(coord.RerunAfter(d, time.Now)))
	}

	busOpts := []coord.BusOption{
		coord.WithTasks(coord.NewTasks(taskOpts...)),
		coord.WithMailboxCap(cfg.Agent.MailboxCap),
		coord.WithObserver(func(m coord.Message) {
			hub.Publish(feed.Event{Type: feed.EventMessage, AgentID: m.From, Payload: m})
		}),
	}
	if rt.mirror != nil {
		busOpts = append(busOpts, coord.WithObserver(rt.mirror.Observe))
	}

	sampler := o.sampler
	if sampler == nil {
		sampler = throttle.SystemSampler{}
	}
	throttler := throttle.New(
		throttle.NewCachedSampler(sampler, config.Duration(cfg.Throttle.SampleInterval, 2*time.Second)),
		throttle.WithThresholds(throttle.Thresholds{
			Light:    cfg.Throttle.Light,
			Moderate: cfg.Throttle.Moderate,
			Heavy:    cfg.Throttle.Heavy,
		}),
		throttle.WithHysteresis(cfg.Throttle.EscalateAfter, cfg.Throttle.DeescalateAfter),
		throttle.WithPause(config.Duration(cfg.Throttle.Pause, 30*time.Second), config.Duration(cfg.Throttle.Pause, 30*time.Second)),
		throttle.WithLogger(logger),
	)

	limiter := ratelimit.New(
		ratelimit.WithWindow(config.Duration(cfg.RateLimit.Window, time.Minute)),
		ratelimit.WithRequestsPerWindow(cfg.RateLimit.RequestsPerWindow),
		ratelimit.WithTokensPerWindow(cfg.RateLimit.TokensPerWindow),
		ratelimit.WithBaseCooldown(config.Duration(cfg.RateLimit.BaseCooldown, 5*time.Second)),
		ratelimit.WithMaxCooldown(config.Duration(cfg.RateLimit.MaxCooldown, 5*time.Minute)),
	)

	oracleTimeout := config.Duration(cfg.Oracle.Timeout, oracle.DefaultTimeout)
	orc := o.oracle
	if orc == nil {
		orOpts := []oracle.OpenRouterOption{
			oracle.WithHTTPClient(&http.Client{Timeout: oracleTimeout}),
			oracle.WithSampling(cfg.Oracle.Temperature, cfg.Oracle.MaxTokens),
		}
		if cfg.Oracle.Endpoint != "" {
			orOpts = append(orOpts, oracle.WithEndpoint(cfg.Oracle.Endpoint))
		}
		orc = oracle.NewOpenRouter(cfg.APIKey(), orOpts...)
	}

	execTimeout := config.Duration(cfg.Sandbox.Timeout, sandbox.DefaultTimeout)
	runner := o.sandbox
	if runner == nil {
		sbOpts := []sandbox.Option{sandbox.WithTimeout(execTimeout)}
		if cfg.Sandbox.WorkDir != "" {
			sbOpts = append(sbOpts, sandbox.WithDir(cfg.Sandbox.WorkDir))
		}
		runner = sandbox.New(sbOpts...)
	}

	rt.svc = agent.Services{
		Bus:       coord.NewBus(logger, busOpts...),
		Knowledge: knowledge.New(),
		Throttler: throttler,
		Limiter:   limiter,
		Oracle:    orc,
		Sandbox:   runner,
		Safety:    safety.New(cfg.Safety.ExtraTools, cfg.Safety.CommandBlacklist),
		Recorder:  rt.recorder,
		Publisher: hub,
		Logger:    logger,
	}

	rt.defaults = agent.Config{
		MaxIterations:    cfg.Agent.MaxIterations,
		DelayMin:         config.Duration(cfg.Agent.DelayMin, time.Second),
		DelayMax:         config.Duration(cfg.Agent.DelayMax, 3*time.Second),
		ErrorBackoff:     config.Duration(cfg.Agent.ErrorBackoff, 3*time.Second),
		OracleTimeout:    oracleTimeout + 10*time.Second,
		ExecTimeout:      execTimeout,
		EstimatedTokens:  cfg.Agent.EstimatedTokens,
		HistoryLimit:     cfg.Agent.HistoryLimit,
		ContextExchanges: cfg.Agent.ContextExchanges,
	}
	return rt, nil
}
