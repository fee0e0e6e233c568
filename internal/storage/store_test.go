package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/gabe/swarm/internal/agent"
	"github.com/gabe/swarm/internal/severity"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "swarm.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_FindingsRoundTrip(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	findings := []agent.Finding{
		{AgentID: "agent-a", AgentNumber: 1, Target: "10.0.0.1", Content: "SQL injection", Severity: severity.Critical, Timestamp: base},
		{AgentID: "agent-b", AgentNumber: 2, Target: "10.0.0.1", Content: "weak TLS", Severity: severity.Medium, Timestamp: base.Add(time.Second)},
		{AgentID: "agent-a", AgentNumber: 1, Target: "10.0.0.2", Content: "banner", Severity: severity.Info, Timestamp: base.Add(2 * time.Second)},
	}
	for _, f := range findings {
		if err := store.SaveFinding(f); err != nil {
			t.Fatalf("failed to save finding: %v", err)
		}
	}

	all, err := store.ListFindings(FindingFilter{})
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 findings, got %d", len(all))
	}
	if all[0].Content != "SQL injection" || all[0].Severity != severity.Critical {
		t.Errorf("unexpected first finding %+v", all[0])
	}
	if !all[0].Timestamp.Equal(base) {
		t.Errorf("expected timestamp %s, got %s", base, all[0].Timestamp)
	}

	byAgent, _ := store.ListFindings(FindingFilter{AgentID: "agent-a"})
	if len(byAgent) != 2 {
		t.Errorf("expected 2 findings for agent-a, got %d", len(byAgent))
	}
	bySeverity, _ := store.ListFindings(FindingFilter{Severity: severity.Medium})
	if len(bySeverity) != 1 || bySeverity[0].AgentID != "agent-b" {
		t.Errorf("unexpected severity filter result %+v", bySeverity)
	}
	limited, _ := store.ListFindings(FindingFilter{Target: "10.0.0.1", Limit: 1})
	if len(limited) != 1 {
		t.Errorf("expected limit of 1, got %d", len(limited))
	}
}

func TestStore_SeverityCounts(t *testing.T) {
	store := openTestStore(t)
	for _, l := range []severity.Level{severity.High, severity.High, severity.Low} {
		if err := store.SaveFinding(agent.Finding{AgentID: "a", Target: "t", Content: "x", Severity: l}); err != nil {
			t.Fatal(err)
		}
	}

	counts, err := store.SeverityCounts()
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if counts[severity.High] != 2 || counts[severity.Low] != 1 || counts[severity.Critical] != 0 {
		t.Errorf("unexpected counts %v", counts)
	}
	if counts.Total() != 3 {
		t.Errorf("expected total 3, got %d", counts.Total())
	}
}

func TestStore_ExecutionsAndConversations(t *testing.T) {
	store := openTestStore(t)

	if err := store.SaveExecution("agent-a", agent.Execution{Command: "nmap host", Result: "ok", Duration: 1500 * time.Millisecond}); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveExecution("agent-b", agent.Execution{Command: "whois host", Result: "ok"}); err != nil {
		t.Fatal(err)
	}
	if n, _ := store.ExecutionCount("agent-a"); n != 1 {
		t.Errorf("expected 1 execution for agent-a, got %d", n)
	}
	if n, _ := store.ExecutionCount(""); n != 2 {
		t.Errorf("expected 2 executions total, got %d", n)
	}

	store.SaveConversation("agent-a", "user", "Iteration 1", 1)
	store.SaveConversation("agent-a", "assistant", "RUN nmap host", 1)
	store.SaveConversation("agent-a", "user", "Iteration 2", 2)

	conv, err := store.Conversation("agent-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(conv) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(conv))
	}
	if conv[1][0] != "assistant" || conv[1][1] != "RUN nmap host" {
		t.Errorf("unexpected second message %v", conv[1])
	}
}
