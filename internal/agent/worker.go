// Package agent runs the autonomous assessment loop. Each Worker consults
// the oracle, claims and executes the commands it proposes, and shares what
// it learns through the bus and the knowledge base.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gabe/swarm/internal/coord"
	"github.com/gabe/swarm/internal/feed"
	"github.com/gabe/swarm/internal/oracle"
	"github.com/gabe/swarm/internal/severity"
	"github.com/gabe/swarm/internal/throttle"
)

// maxTeamDiscoveries bounds the discoveries remembered from teammates
const maxTeamDiscoveries = 20

// Worker is one autonomous agent
type Worker struct {
	cfg          Config
	svc          Services
	specs        []string
	systemPrompt string
	rnd          func() float64

	mu              sync.RWMutex
	status          Status
	paused          bool
	resumeCh        chan struct{}
	started         bool
	looping         bool
	stopRequested   bool
	cancel          context.CancelFunc
	iteration       int
	lastExecute     string
	lastCommand     string
	startedAt       time.Time
	endedAt         time.Time
	lastActivity    time.Time
	throttleLevel   throttle.Level
	executions      []Execution
	executionCount  int
	instructions    []Instruction
	instructionSeq  int
	exchanges       []oracle.Message
	findings        []Finding
	teamDiscoveries []string
}

// Option configures a Worker
type Option func(*Worker)

// WithRand replaces the jitter source; rnd must return values in [0, 1)
func WithRand(rnd func() float64) Option {
	return func(w *Worker) {
		w.rnd = rnd
	}
}

// New creates an idle worker. Services must carry Bus, Knowledge, Throttler,
// Limiter, Oracle and Sandbox; the rest have defaults.
func New(cfg Config, svc Services, opts ...Option) *Worker {
	cfg = cfg.withDefaults()
	svc = svc.withDefaults()
	w := &Worker{
		cfg:         cfg,
		svc:         svc,
		specs:       Specializations(cfg.Category),
		rnd:         rand.Float64,
		status:      StatusIdle,
		resumeCh:    make(chan struct{}),
		lastExecute: "Not started",
	}
	for _, opt := range opts {
		opt(w)
	}
	w.systemPrompt = BuildSystemPrompt(cfg, svc.Safety.ToolsByCategory())
	return w
}

// Specializations derives what an agent is good at from its target category
func Specializations(category string) []string {
	switch category {
	case "domain":
		return []string{"network_recon", "osint", "subdomain_enum"}
	case "ip":
		return []string{"network_recon", "port_scanning", "service_enum"}
	case "url":
		return []string{"web_scanning", "vuln_scanning", "directory_enum"}
	case "file":
		return []string{"static_analysis", "code_review"}
	default:
		return []string{"general"}
	}
}

// ID returns the agent id
func (w *Worker) ID() string {
	return w.cfg.ID
}

// Config returns the worker's effective configuration
func (w *Worker) Config() Config {
	return w.cfg
}

// Start runs the loop until completion, a fatal error, or Stop. Without a
// target the worker registers and stays idle in standby.
func (w *Worker) Start(parent context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrAlreadyStarted
	}
	w.started = true
	w.looping = w.cfg.Target != ""
	if w.stopRequested {
		w.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(parent)
	w.cancel = cancel
	now := time.Now()
	w.startedAt = now
	w.lastActivity = now
	if !w.paused && w.looping {
		w.status = StatusRunning
	}
	w.mu.Unlock()
	defer cancel()

	w.initialize()
	w.svc.Recorder.LogEvent("agent", fmt.Sprintf("Agent %s started", w.cfg.ID), map[string]any{
		"agent_number": w.cfg.Number,
		"target":       w.cfg.Target,
	})

	if w.cfg.Target == "" {
		w.setLast("Agent ready, awaiting target assignment")
		w.svc.Logger.Printf("Agent %s: no target, running in standby\n", w.cfg.ID)
		w.publishStatus()
		return nil
	}

	w.setLast(fmt.Sprintf("Starting security analysis of %s...", w.cfg.Target))
	w.publishStatus()
	return w.run(ctx)
}

// initialize registers with the shared services
func (w *Worker) initialize() {
	w.svc.Throttler.RegisterAgent(w.cfg.ID, w.cfg.ThrottleBaseDelay)

	tools := w.svc.Safety.ToolsByCategory()
	cats := make([]string, 0, len(tools))
	for cat := range tools {
		cats = append(cats, cat)
	}
	sort.Strings(cats)

	w.svc.Bus.RegisterAgent(w.cfg.ID, coord.Capability{
		Specializations: w.specs,
		Status:          string(w.Status()),
		Target:          w.cfg.Target,
		ToolsAvailable:  cats,
	})
	if err := w.svc.Bus.SetMessageHandler(w.cfg.ID, w.handleMessage); err != nil {
		w.svc.Logger.Printf("Agent %s: failed to set message handler: %v\n", w.cfg.ID, err)
	}
}

// run is the main loop
func (w *Worker) run(ctx context.Context) error {
	for {
		if err := w.waitIfPaused(ctx); err != nil {
			return w.exitCanceled()
		}
		if w.Iteration() >= w.cfg.MaxIterations {
			w.finish(StatusCompleted, "Reached maximum iterations")
			w.svc.Logger.Printf("Agent %s: reached max iterations\n", w.cfg.ID)
			w.svc.Recorder.LogEvent("agent", fmt.Sprintf("Agent %s reached max iterations", w.cfg.ID), nil)
			return nil
		}

		d := w.svc.Throttler.CheckAndThrottle(ctx, w.cfg.ID)
		w.setThrottle(d.Level)
		if d.ShouldPause {
			w.setLast("Auto-paused: " + d.Reason)
			w.svc.Logger.Printf("Agent %s: auto-throttled for %s\n", w.cfg.ID, d.PauseRemaining)
			w.svc.Recorder.LogEvent("throttle", fmt.Sprintf("Agent %s auto-throttled", w.cfg.ID), map[string]any{
				"throttle_level":  d.Level.String(),
				"pause_remaining": d.PauseRemaining.Seconds(),
				"cpu_percent":     d.Resources.CPUPercent,
				"memory_percent":  d.Resources.MemoryPercent,
			})
			w.publishStatus()
			if sleep(ctx, d.PauseRemaining) != nil {
				return w.exitCanceled()
			}
			continue
		}
		if d.Level >= throttle.LevelModerate {
			w.setLast("Throttling: " + d.Reason)
			if sleep(ctx, d.Delay) != nil {
				return w.exitCanceled()
			}
		}

		n := w.nextIteration()
		w.setLast(fmt.Sprintf("Iteration %d: Analyzing target...", n))
		w.publishStatus()
		userPrompt := w.buildUserPrompt(n)

		if err := w.acquire(ctx); err != nil {
			return w.exitCanceled()
		}

		req := oracle.Request{
			Model:        w.cfg.Model,
			SystemPrompt: w.systemPrompt,
			UserPrompt:   userPrompt,
			Context:      w.contextWindow(),
		}
		octx, cancel := context.WithTimeout(ctx, w.cfg.OracleTimeout)
		resp, err := w.svc.Oracle.Generate(octx, req)
		cancel()
		if ctx.Err() != nil {
			return w.exitCanceled()
		}
		if err != nil {
			if fatal := w.handleOracleError(ctx, err); fatal != nil {
				return fatal
			}
			continue
		}

		if w.handleResponse(ctx, n, userPrompt, resp) {
			return nil
		}
		if ctx.Err() != nil {
			return w.exitCanceled()
		}

		if sleep(ctx, w.interIterationDelay(ctx)) != nil {
			return w.exitCanceled()
		}
	}
}

// waitIfPaused blocks while the worker is paused
func (w *Worker) waitIfPaused(ctx context.Context) error {
	for {
		w.mu.RLock()
		paused, ch := w.paused, w.resumeCh
		w.mu.RUnlock()

		if err := ctx.Err(); err != nil {
			return err
		}
		if !paused {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// acquire waits until the rate limiter grants a slot
func (w *Worker) acquire(ctx context.Context) error {
	for {
		wait := w.svc.Limiter.Acquire(w.cfg.Model, w.cfg.EstimatedTokens)
		if wait <= 0 {
			return nil
		}
		w.setLast(fmt.Sprintf("Rate limit delay: %.1fs", wait.Seconds()))
		w.svc.Recorder.LogEvent("rate_limit", fmt.Sprintf("Agent %s rate limit delay", w.cfg.ID), map[string]any{
			"model":     w.cfg.Model,
			"wait_time": wait.Seconds(),
		})
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// handleOracleError applies the error policy. A non-nil result ends the loop.
func (w *Worker) handleOracleError(ctx context.Context, err error) error {
	msg := err.Error()
	switch oracle.Classify(err) {
	case oracle.KindRateLimit:
		cooldown := w.svc.Limiter.HandleRateLimitError(w.cfg.Model)
		w.setLast(fmt.Sprintf("Rate limit hit, cooling down %s", cooldown.Round(time.Second)))
		w.svc.Logger.Printf("Agent %s: rate limited, cooling down %s\n", w.cfg.ID, cooldown)
		w.svc.Recorder.LogEvent("rate_limit", fmt.Sprintf("Agent %s rate limit error", w.cfg.ID), map[string]any{
			"model":            w.cfg.Model,
			"cooldown_seconds": cooldown.Seconds(),
		})
		w.publishStatus()
		sleep(ctx, cooldown)
		return nil

	case oracle.KindAuth:
		w.svc.Limiter.RecordRequest(w.cfg.Model, 0, false)
		w.finish(StatusError, "Auth Error: "+truncate(msg, 60))
		w.svc.Logger.Printf("Agent %s: stopping on auth error: %v\n", w.cfg.ID, err)
		w.svc.Recorder.LogEvent("error", fmt.Sprintf("Agent %s stopping due to auth error: %s", w.cfg.ID, msg), map[string]any{
			"model": w.cfg.Model,
		})
		return fmt.Errorf("%w: %v", ErrFatal, err)

	default:
		w.svc.Limiter.RecordRequest(w.cfg.Model, 0, false)
		w.setLast("Error: " + truncate(msg, 80))
		w.svc.Logger.Printf("Agent %s: iteration error: %v\n", w.cfg.ID, err)
		w.svc.Recorder.LogEvent("error", fmt.Sprintf("Agent %s iteration error: %s", w.cfg.ID, msg), map[string]any{
			"model": w.cfg.Model,
		})
		w.publishStatus()
		sleep(ctx, w.cfg.ErrorBackoff)
		return nil
	}
}

// handleResponse processes a successful oracle response and reports whether
// the worker completed
func (w *Worker) handleResponse(ctx context.Context, iteration int, userPrompt, resp string) bool {
	w.svc.Limiter.RecordRequest(w.cfg.Model, len(resp)/4, true)
	w.svc.Recorder.SaveConversation(w.cfg.ID, "user", userPrompt, iteration)
	w.svc.Recorder.SaveConversation(w.cfg.ID, "assistant", resp, iteration)

	w.setLast("AI: " + strings.ReplaceAll(truncate(resp, 100), "\n", " ") + "...")
	w.recordInstruction(resp)
	w.appendExchange(userPrompt, resp)

	if findings := ParseFindings(resp); len(findings) > 0 {
		w.saveFindings(findings)
	}

	if strings.Contains(resp, EndSentinel) {
		w.finish(StatusCompleted, "Mission completed successfully")
		w.svc.Logger.Printf("Agent %s: mission completed\n", w.cfg.ID)
		w.svc.Recorder.LogEvent("agent", fmt.Sprintf("Agent %s completed mission", w.cfg.ID), nil)
		return true
	}

	if cmds := ParseCommands(resp, w.cfg.Number); len(cmds) > 0 {
		w.executeCommands(ctx, cmds)
		w.publishStatus()
	}
	w.updateCapability(0)
	return false
}

// executeCommands claims, vets and runs each command
func (w *Worker) executeCommands(ctx context.Context, cmds []string) {
	w.updateCapability(len(cmds))

	for _, cmd := range cmds {
		if ctx.Err() != nil {
			return
		}
		taskID := coord.Fingerprint(w.cfg.Target, cmd)

		if !w.svc.Bus.IsTaskAvailable(taskID) {
			w.setLast("Skipped (already done by team): " + truncate(cmd, 50))
			w.svc.Recorder.LogEvent("coordination", fmt.Sprintf("Agent %s skipped duplicate task", w.cfg.ID), map[string]any{
				"command": truncate(cmd, 100),
				"task_id": taskID,
			})
			continue
		}
		if !w.svc.Bus.ClaimTask(w.cfg.ID, taskID) {
			w.setLast("Task claimed by another agent: " + truncate(cmd, 50))
			continue
		}

		if w.svc.Safety.IsDangerous(cmd) {
			w.block(taskID, cmd, "BLOCKED: Dangerous command detected",
				fmt.Sprintf("Agent %s blocked dangerous command: %s", w.cfg.ID, cmd))
			continue
		}
		if !w.svc.Safety.IsAllowed(cmd) {
			tool := coord.PrimaryTool(cmd)
			w.block(taskID, cmd, fmt.Sprintf("BLOCKED: Tool '%s' not in allowed list", tool),
				fmt.Sprintf("Agent %s blocked unauthorized tool: %s", w.cfg.ID, tool))
			continue
		}

		w.mu.Lock()
		w.lastExecute = cmd
		w.lastCommand = cmd
		w.lastActivity = time.Now()
		w.mu.Unlock()
		w.svc.Logger.Printf("Agent %s: executing %s\n", w.cfg.ID, cmd)
		w.svc.Recorder.LogEvent("command", fmt.Sprintf("Agent %s executing: %s", w.cfg.ID, cmd), nil)

		ectx, cancel := context.WithTimeout(ctx, w.cfg.ExecTimeout)
		start := time.Now()
		result := w.svc.Sandbox.Execute(ectx, cmd)
		cancel()

		exec := Execution{Command: cmd, Result: result, Duration: time.Since(start), Timestamp: start}
		w.appendExecution(exec)
		w.svc.Recorder.SaveExecution(w.cfg.ID, exec)

		w.shareObservations(ParseObservations(cmd, result, w.cfg.Target))

		summary, _ := json.Marshal(map[string]any{"command": cmd, "result_length": len(result)})
		w.svc.Bus.CompleteTask(w.cfg.ID, taskID, string(summary))
		w.svc.Recorder.LogEvent("command", fmt.Sprintf("Agent %s completed: %s", w.cfg.ID, cmd), map[string]any{
			"result_length": len(result),
			"exec_time":     exec.Duration.Seconds(),
		})
	}
}

// block completes a claimed task without running it so nobody retries it
func (w *Worker) block(taskID, cmd, note, event string) {
	w.setLast(note)
	w.svc.Logger.Printf("Agent %s: %s: %s\n", w.cfg.ID, note, cmd)
	w.svc.Recorder.LogEvent("security_violation", event, map[string]any{"command": cmd})
	w.svc.Bus.CompleteTask(w.cfg.ID, taskID, `{"blocked": true}`)
}

// shareObservations stores facts and broadcasts the ones nobody had yet
func (w *Worker) shareObservations(obs []Observation) {
	kb := w.svc.Knowledge
	for _, o := range obs {
		var added bool
		switch o.Kind {
		case coord.DiscoveryPort:
			added = kb.AddPort(w.cfg.Target, o.Port, o.Service, w.cfg.ID)
		case coord.DiscoveryDirectory:
			added = kb.AddDirectory(w.cfg.Target, o.Path, o.Status, w.cfg.ID)
		case coord.DiscoverySubdomain:
			added = kb.AddSubdomain(w.cfg.Target, o.Subdomain, w.cfg.ID)
		}
		if !added {
			continue
		}

		d := coord.Discovery{Kind: o.Kind, Target: w.cfg.Target, Key: o.Key(), Detail: o.Detail()}
		w.svc.Bus.ShareDiscovery(w.cfg.ID, d)
		w.svc.Publisher.Publish(feed.Event{Type: feed.EventDiscovery, AgentID: w.cfg.ID, Payload: d})
	}
}

// saveFindings classifies, stores and shares each finding
func (w *Worker) saveFindings(texts []string) {
	for _, text := range texts {
		level := w.svc.Severity(text)
		f := Finding{
			AgentID:     w.cfg.ID,
			AgentNumber: w.cfg.Number,
			Target:      w.cfg.Target,
			Category:    w.cfg.Category,
			Content:     text,
			Severity:    level,
			Timestamp:   time.Now(),
		}

		w.mu.Lock()
		w.findings = append(w.findings, f)
		w.lastActivity = f.Timestamp
		w.mu.Unlock()

		w.svc.Recorder.SaveFinding(f)
		w.svc.Bus.ShareFinding(w.cfg.ID, coord.Finding{Target: w.cfg.Target, Severity: string(level), Content: text})
		if severity.IsSevere(level) {
			w.svc.Knowledge.AddVulnerability(w.cfg.Target, "discovered", text, string(level), w.cfg.ID)
		}
		w.svc.Publisher.Publish(feed.Event{Type: feed.EventFinding, AgentID: w.cfg.ID, Payload: f})
		w.svc.Logger.Printf("Agent %s: [%s] finding: %s\n", w.cfg.ID, level, truncate(text, 100))
		w.svc.Recorder.LogEvent("finding", fmt.Sprintf("Agent %s finding: %s...", w.cfg.ID, truncate(text, 100)), map[string]any{
			"severity": string(level),
		})
	}
}

// updateCapability refreshes what the bus advertises for this agent
func (w *Worker) updateCapability(load int) {
	w.mu.RLock()
	status, findings := w.status, len(w.findings)
	w.mu.RUnlock()

	err := w.svc.Bus.UpdateCapabilities(w.cfg.ID, func(c *coord.Capability) {
		c.Status = string(status)
		c.CurrentLoad = load
		c.FindingsCount = findings
	})
	if err != nil {
		w.svc.Logger.Printf("Agent %s: failed to update capabilities: %v\n", w.cfg.ID, err)
	}
}

// interIterationDelay combines mode, throttle and rate delays. Recent sandbox
// failures stretch the mode delay.
func (w *Worker) interIterationDelay(ctx context.Context) time.Duration {
	d := w.svc.Throttler.CheckAndThrottle(ctx, w.cfg.ID)
	w.setThrottle(d.Level)
	rate := w.svc.Limiter.Status(w.cfg.Model).CurrentDelay
	base := baseDelay(w.cfg.DelayMin, w.cfg.DelayMax, w.cfg.Stealth, w.rnd)
	if failures := w.svc.Sandbox.ErrorCount(); failures > 0 {
		base = failureDelay(base, w.cfg.DelayMax, failures)
	}
	return finalDelay(base, d.Delay, rate, w.rnd, w.cfg.DelayFloor)
}

// handleMessage is the bus push handler
func (w *Worker) handleMessage(msg coord.Message) {
	switch c := msg.Content.(type) {
	case coord.Discovery:
		w.mu.Lock()
		w.teamDiscoveries = append(w.teamDiscoveries, fmt.Sprintf("[%s] %s", msg.From, msg.Summary()))
		if len(w.teamDiscoveries) > maxTeamDiscoveries {
			w.teamDiscoveries = w.teamDiscoveries[len(w.teamDiscoveries)-maxTeamDiscoveries:]
		}
		w.mu.Unlock()

	case coord.Finding:
		w.svc.Recorder.LogEvent("collaboration",
			fmt.Sprintf("Received finding from %s: %s", msg.From, truncate(c.Content, 100)), nil)

	case coord.RequestHelp:
		status := w.Status()
		if status != StatusRunning && status != StatusIdle {
			return
		}
		if (coord.Capability{Specializations: w.specs}).Overlaps(c.Specializations) {
			w.svc.Bus.OfferHelp(w.cfg.ID, msg.From, msg.ID, w.specs)
		}

	case coord.Alert:
		w.svc.Logger.Printf("Agent %s: alert from %s: %s\n", w.cfg.ID, msg.From, c.Text)
		w.svc.Recorder.LogEvent("alert", fmt.Sprintf("ALERT from %s: %s", msg.From, c.Text), map[string]any{
			"level": c.Level,
		})
	}
}

// buildUserPrompt drains up to five unread messages and renders the prompt
func (w *Worker) buildUserPrompt(iteration int) string {
	msgs := w.svc.Bus.GetMessages(w.cfg.ID, true, promptMessages)
	if len(msgs) > 0 {
		ids := make([]string, len(msgs))
		for i, m := range msgs {
			ids[i] = m.ID
		}
		w.svc.Bus.ClearMessages(w.cfg.ID, ids...)
	}

	in := promptInput{
		Iteration: iteration,
		Messages:  msgs,
		Knowledge: w.svc.Knowledge.TargetSummary(w.cfg.Target),
	}

	w.mu.RLock()
	if n := len(w.teamDiscoveries); n > 0 {
		in.Discoveries = append([]string(nil), w.teamDiscoveries[max(0, n-promptDiscoveries):]...)
	}
	if n := len(w.executions); n > 0 {
		last := w.executions[n-1]
		in.Last = &last
	}
	w.mu.RUnlock()

	return buildUserPrompt(in)
}

// Pause stops the loop at its next iteration boundary
func (w *Worker) Pause() {
	w.mu.Lock()
	if w.status.IsTerminal() || w.paused {
		w.mu.Unlock()
		return
	}
	w.paused = true
	w.status = StatusPaused
	w.lastExecute = "Agent paused"
	w.mu.Unlock()
	w.publishStatus()
}

// Resume lets a paused loop continue
func (w *Worker) Resume() {
	w.mu.Lock()
	if !w.paused {
		w.mu.Unlock()
		return
	}
	w.paused = false
	close(w.resumeCh)
	w.resumeCh = make(chan struct{})
	if w.status == StatusPaused {
		// Only a worker inside its loop is running; standby stays idle
		w.status = StatusIdle
		if w.looping {
			w.status = StatusRunning
		}
		w.lastExecute = "Agent resumed"
	}
	w.mu.Unlock()
	w.publishStatus()
}

// Stop cancels the loop, interrupting any sleep or in-flight call
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopRequested = true
	if !w.status.IsTerminal() {
		w.status = StatusStopped
		w.lastExecute = "Agent stopped"
		w.endedAt = time.Now()
	}
	cancel := w.cancel
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.publishStatus()
}

// exitCanceled records a loop exit caused by cancellation
func (w *Worker) exitCanceled() error {
	w.finish(StatusStopped, "Agent stopped")
	return nil
}

// finish moves to a terminal state unless one was already reached
func (w *Worker) finish(status Status, note string) {
	w.mu.Lock()
	if w.status.IsTerminal() {
		w.mu.Unlock()
		return
	}
	w.status = status
	w.lastExecute = note
	w.endedAt = time.Now()
	w.mu.Unlock()

	w.updateCapability(0)
	w.publishStatus()
}

func (w *Worker) setLast(note string) {
	w.mu.Lock()
	w.lastExecute = note
	w.lastActivity = time.Now()
	w.mu.Unlock()
}

func (w *Worker) setThrottle(l throttle.Level) {
	w.mu.Lock()
	w.throttleLevel = l
	w.mu.Unlock()
}

func (w *Worker) nextIteration() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.iteration++
	return w.iteration
}

func (w *Worker) appendExecution(e Execution) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.executions = append(w.executions, e)
	if len(w.executions) > w.cfg.HistoryLimit {
		w.executions = w.executions[len(w.executions)-w.cfg.HistoryLimit:]
	}
	w.executionCount++
	w.lastActivity = time.Now()
}

func (w *Worker) appendExchange(user, assistant string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.exchanges = append(w.exchanges,
		oracle.Message{Role: "user", Content: user},
		oracle.Message{Role: "assistant", Content: assistant})
	if limit := 2 * w.cfg.ContextExchanges; len(w.exchanges) > limit {
		w.exchanges = w.exchanges[len(w.exchanges)-limit:]
	}
}

func (w *Worker) contextWindow() []oracle.Message {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]oracle.Message(nil), w.exchanges...)
}

// recordInstruction stores the response in the instruction history and feeds it out
func (w *Worker) recordInstruction(resp string) {
	kind := InstructionAnalysis
	switch {
	case strings.Contains(resp, "RUN "):
		kind = InstructionCommand
	case strings.Contains(resp, "<write>") || strings.Contains(strings.ToLower(resp), "finding"):
		kind = InstructionDecision
	}
	summary := resp
	if len(resp) > 500 {
		summary = truncate(resp, 500) + "..."
	}

	w.mu.Lock()
	w.instructionSeq++
	in := Instruction{
		ID:           w.instructionSeq,
		Summary:      summary,
		FullResponse: resp,
		Type:         kind,
		Model:        w.cfg.Model,
		Timestamp:    time.Now(),
	}
	w.instructions = append(w.instructions, in)
	if len(w.instructions) > w.cfg.InstructionLimit {
		w.instructions = w.instructions[len(w.instructions)-w.cfg.InstructionLimit:]
	}
	w.mu.Unlock()

	w.svc.Publisher.Publish(feed.Event{Type: feed.EventInstruction, AgentID: w.cfg.ID, Payload: in})
}

func (w *Worker) publishStatus() {
	w.svc.Publisher.Publish(feed.Event{Type: feed.EventStatus, AgentID: w.cfg.ID, Payload: w.Snapshot()})
}

// Status returns the lifecycle state
func (w *Worker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// Iteration returns how many iterations have started
func (w *Worker) Iteration() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.iteration
}

// Snapshot returns the worker's current status
func (w *Worker) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s := Snapshot{
		ID:              w.cfg.ID,
		Number:          w.cfg.Number,
		Status:          w.status,
		Target:          w.cfg.Target,
		Category:        w.cfg.Category,
		Model:           w.cfg.Model,
		Stealth:         w.cfg.Stealth,
		Aggressive:      w.cfg.Aggressive,
		Specializations: append([]string(nil), w.specs...),
		LastCommand:     w.lastCommand,
		LastExecute:     w.lastExecute,
		Iteration:       w.iteration,
		ExecutionCount:  w.executionCount,
		FindingsCount:   len(w.findings),
		ThrottleLevel:   w.throttleLevel.String(),
		StartedAt:       w.startedAt,
		LastActivity:    w.lastActivity,
	}

	if !w.startedAt.IsZero() {
		end := time.Now()
		if !w.endedAt.IsZero() {
			end = w.endedAt
		}
		s.ElapsedSeconds = end.Sub(w.startedAt).Seconds()
	}

	s.Progress = min(100, w.executionCount*100/w.cfg.MaxIterations)
	if w.status == StatusCompleted {
		s.Progress = 100
	}
	return s
}

// Findings returns a copy of this worker's findings
func (w *Worker) Findings() []Finding {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]Finding(nil), w.findings...)
}

// Instructions returns a copy of the retained instruction history
func (w *Worker) Instructions() []Instruction {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]Instruction(nil), w.instructions...)
}

// Executions returns a copy of the retained execution history
func (w *Worker) Executions() []Execution {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]Execution(nil), w.executions...)
}
