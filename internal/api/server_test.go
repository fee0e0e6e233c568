package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gabe/swarm/internal/agent"
	"github.com/gabe/swarm/internal/coord"
	"github.com/gabe/swarm/internal/feed"
	"github.com/gabe/swarm/internal/knowledge"
	"github.com/gabe/swarm/internal/manager"
	"github.com/gabe/swarm/internal/oracle"
	"github.com/gabe/swarm/internal/ratelimit"
	"github.com/gabe/swarm/internal/throttle"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type nopRunner struct{}

func (nopRunner) Execute(ctx context.Context, command string) string { return "" }
func (nopRunner) ErrorCount() int                                    { return 0 }

func newTestServer(t *testing.T, hub *feed.Hub) (*Server, *manager.Manager) {
	t.Helper()
	discard := log.New(io.Discard, "", 0)
	svc := manager.Services{
		Bus:       coord.NewBus(discard),
		Knowledge: knowledge.New(),
		Throttler: throttle.New(throttle.SamplerFunc(func(ctx context.Context) (throttle.Resources, error) {
			return throttle.Resources{}, nil
		})),
		Limiter: ratelimit.New(),
		Oracle: oracle.Func(func(ctx context.Context, req oracle.Request) (string, error) {
			return "<write>High: exposed admin panel</write><write>Low: banner</write><END!>", nil
		}),
		Sandbox: nopRunner{},
		Logger:  discard,
	}
	if hub != nil {
		svc.Publisher = hub
	}
	mgr := manager.New(svc, manager.WithAgentDefaults(agent.Config{
		MaxIterations:     3,
		DelayMin:          time.Millisecond,
		DelayMax:          time.Millisecond,
		DelayFloor:        time.Millisecond,
		ThrottleBaseDelay: time.Millisecond,
	}))
	gin.SetMode(gin.TestMode)
	return New(mgr, hub, "Operation test", discard), mgr
}

func do(s *Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(s, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestAgentRoutes(t *testing.T) {
	s, mgr := newTestServer(t, nil)
	ids, err := mgr.CreateAgents(2, manager.Assignment{Target: "10.0.0.1", Category: "ip", Model: "test"})
	if err != nil {
		t.Fatal(err)
	}

	rec := do(s, http.MethodGet, "/api/v1/agents")
	var agents []agent.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &agents); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(agents) != 2 || agents[0].Number != 1 {
		t.Errorf("unexpected agents %+v", agents)
	}

	rec = do(s, http.MethodGet, "/api/v1/agents/"+ids[0])
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec := do(s, http.MethodGet, "/api/v1/agents/agent-missing"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	rec = do(s, http.MethodPost, "/api/v1/agents/"+ids[0]+"/pause")
	var snap agent.Snapshot
	json.Unmarshal(rec.Body.Bytes(), &snap)
	if rec.Code != http.StatusOK || snap.Status != agent.StatusPaused {
		t.Errorf("expected paused, got %d %s", rec.Code, snap.Status)
	}
	rec = do(s, http.MethodPost, "/api/v1/agents/"+ids[0]+"/resume")
	json.Unmarshal(rec.Body.Bytes(), &snap)
	if snap.Status != agent.StatusIdle {
		t.Errorf("expected idle after resume before start, got %s", snap.Status)
	}
	rec = do(s, http.MethodPost, "/api/v1/agents/"+ids[0]+"/stop")
	json.Unmarshal(rec.Body.Bytes(), &snap)
	if snap.Status != agent.StatusStopped {
		t.Errorf("expected stopped, got %s", snap.Status)
	}

	if rec := do(s, http.MethodDelete, "/api/v1/agents/"+ids[1]); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if mgr.Count() != 1 {
		t.Errorf("expected 1 agent left, got %d", mgr.Count())
	}
	if rec := do(s, http.MethodDelete, "/api/v1/agents/"+ids[1]); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestFindingsAndReport(t *testing.T) {
	s, mgr := newTestServer(t, nil)
	ids, _ := mgr.CreateAgents(1, manager.Assignment{Target: "10.0.0.1", Category: "ip", Model: "test"})
	mgr.StartOperation(context.Background())

	rec := do(s, http.MethodGet, "/api/v1/findings")
	var findings []agent.Finding
	json.Unmarshal(rec.Body.Bytes(), &findings)
	if len(findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(findings))
	}

	rec = do(s, http.MethodGet, "/api/v1/findings?severity=High&agent="+ids[0])
	findings = nil
	json.Unmarshal(rec.Body.Bytes(), &findings)
	if len(findings) != 1 || findings[0].Content != "High: exposed admin panel" {
		t.Errorf("expected the high finding only, got %+v", findings)
	}

	rec = do(s, http.MethodGet, "/api/v1/findings/summary")
	if !strings.Contains(rec.Body.String(), `"total":2`) {
		t.Errorf("unexpected summary %s", rec.Body.String())
	}

	rec = do(s, http.MethodGet, "/api/v1/knowledge/10.0.0.1")
	var summary knowledge.Summary
	json.Unmarshal(rec.Body.Bytes(), &summary)
	if len(summary.Vulnerabilities) != 1 {
		t.Errorf("expected 1 vulnerability, got %+v", summary)
	}

	rec = do(s, http.MethodGet, "/api/v1/ratelimit/test")
	if !strings.Contains(rec.Body.String(), "1") || rec.Code != http.StatusOK {
		t.Errorf("unexpected rate status %d %s", rec.Code, rec.Body.String())
	}

	rec = do(s, http.MethodGet, "/api/v1/report?format=json")
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected json content type, got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), `"title": "Operation test"`) {
		t.Errorf("unexpected report %s", rec.Body.String())
	}
	rec = do(s, http.MethodGet, "/api/v1/report")
	if !strings.Contains(rec.Body.String(), "<h1>Operation test</h1>") {
		t.Error("expected html report by default")
	}
	if rec := do(s, http.MethodGet, "/api/v1/report?format=pdf"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown format, got %d", rec.Code)
	}
}

func TestWebSocketStreamsFeed(t *testing.T) {
	hub := feed.NewHub(10)
	s, mgr := newTestServer(t, hub)
	mgr.CreateAgents(1, manager.Assignment{Target: "10.0.0.1"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.pump(ctx)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "initial_state" {
		t.Errorf("expected initial_state, got %s", msg.Type)
	}

	deadline := time.Now().Add(time.Second)
	for hub.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hub.Publish(feed.Event{Type: feed.EventAlert, AgentID: "agent-x", Payload: "disk full"})

	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "alert" || msg.AgentID != "agent-x" || msg.Payload != "disk full" {
		t.Errorf("unexpected message %+v", msg)
	}
}

func TestStats(t *testing.T) {
	s, mgr := newTestServer(t, nil)
	if _, err := mgr.CreateAgents(2, manager.Assignment{Target: "10.0.0.1", Category: "ip", Model: "test"}); err != nil {
		t.Fatal(err)
	}

	rec := do(s, http.MethodGet, "/api/v1/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var st manager.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if st.Agents != 2 {
		t.Errorf("expected 2 agents, got %d", st.Agents)
	}
	if st.Tasks.Claimed != 0 || st.Knowledge.Targets != 0 {
		t.Errorf("expected empty counters, got %+v", st)
	}
	if !strings.Contains(rec.Body.String(), `"recorder_dropped":0`) {
		t.Errorf("expected recorder counters in %s", rec.Body.String())
	}
}

func TestResources(t *testing.T) {
	discard := log.New(io.Discard, "", 0)
	th := throttle.New(throttle.SamplerFunc(func(ctx context.Context) (throttle.Resources, error) {
		return throttle.Resources{CPUPercent: 80, MemoryPercent: 40, SampledAt: time.Now()}, nil
	}))
	mgr := manager.New(manager.Services{
		Bus:       coord.NewBus(discard),
		Knowledge: knowledge.New(),
		Throttler: th,
		Limiter:   ratelimit.New(),
		Oracle: oracle.Func(func(ctx context.Context, req oracle.Request) (string, error) {
			return "<END!>", nil
		}),
		Sandbox: nopRunner{},
		Logger:  discard,
	})
	gin.SetMode(gin.TestMode)
	s := New(mgr, nil, "Operation test", discard)

	th.RegisterAgent("agent-x", time.Second)
	th.CheckAndThrottle(context.Background(), "agent-x")

	type view struct {
		Resources struct {
			CPUPercent float64 `json:"cpu_percent"`
		} `json:"resources"`
		Pressure float64 `json:"pressure"`
		Level    string  `json:"throttle_level"`
		Agents   map[string]struct {
			Level string `json:"throttle_level"`
		} `json:"agents"`
	}

	for i := 0; i < 2; i++ {
		rec := do(s, http.MethodGet, "/api/v1/resources")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var v view
		if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
			t.Fatalf("invalid json: %v", err)
		}
		if v.Resources.CPUPercent != 80 || v.Pressure != 80 {
			t.Errorf("expected cpu and pressure of 80, got %+v", v)
		}
		if v.Level != "MODERATE" {
			t.Errorf("expected MODERATE, got %s", v.Level)
		}
		// Reading resources must not advance the agent's hysteresis
		if got := v.Agents["agent-x"].Level; got != "NONE" {
			t.Errorf("expected agent-x to stay NONE, got %q", got)
		}
	}
}

func TestResourcesSamplerFailure(t *testing.T) {
	discard := log.New(io.Discard, "", 0)
	mgr := manager.New(manager.Services{
		Bus:       coord.NewBus(discard),
		Knowledge: knowledge.New(),
		Throttler: throttle.New(throttle.SamplerFunc(func(ctx context.Context) (throttle.Resources, error) {
			return throttle.Resources{}, io.ErrUnexpectedEOF
		})),
		Limiter: ratelimit.New(),
		Oracle: oracle.Func(func(ctx context.Context, req oracle.Request) (string, error) {
			return "<END!>", nil
		}),
		Sandbox: nopRunner{},
		Logger:  discard,
	})
	gin.SetMode(gin.TestMode)
	s := New(mgr, nil, "Operation test", discard)

	if rec := do(s, http.MethodGet, "/api/v1/resources"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}
