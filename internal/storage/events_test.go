package storage

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gabe/swarm/internal/agent"
	"github.com/gabe/swarm/internal/coord"
	"github.com/gabe/swarm/internal/severity"
	"github.com/redis/go-redis/v9"
)

func TestEventLog_AppendAndRead(t *testing.T) {
	el, err := NewEventLog(filepath.Join(t.TempDir(), "events"))
	if err != nil {
		t.Fatal(err)
	}
	day := time.Date(2026, 3, 4, 10, 0, 0, 0, time.Local)
	el.now = func() time.Time { return day }

	el.Append(Event{Type: "command", Message: "Agent a executing: nmap"})
	el.Append(Event{Type: "finding", Message: "found", Metadata: map[string]any{"severity": "High"}})
	el.Append(Event{Type: "command", Message: "Agent a completed: nmap"})

	if _, err := os.Stat(filepath.Join(el.dir, "agent_system_20260304.log")); err != nil {
		t.Errorf("expected daily file: %v", err)
	}

	all, err := el.Today(EventFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	if all[1].Metadata["severity"] != "High" {
		t.Errorf("expected metadata to round trip, got %v", all[1].Metadata)
	}

	commands, _ := el.Today(EventFilter{Type: "command"})
	if len(commands) != 2 {
		t.Errorf("expected 2 command events, got %d", len(commands))
	}
	last, _ := el.Today(EventFilter{Limit: 1})
	if len(last) != 1 || last[0].Message != "Agent a completed: nmap" {
		t.Errorf("expected the newest event, got %+v", last)
	}

	other, err := el.Read(day.AddDate(0, 0, 1), EventFilter{})
	if err != nil || len(other) != 0 {
		t.Errorf("expected no events for another day, got %d (%v)", len(other), err)
	}
}

func TestRecorder_DrainsOnClose(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "swarm.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	events, _ := NewEventLog(filepath.Join(dir, "events"))

	rec := NewRecorder(store, events, log.New(io.Discard, "", 0), 0)
	for i := 0; i < 20; i++ {
		rec.SaveFinding(agent.Finding{AgentID: "a", Target: "t", Content: "x", Severity: severity.Low})
	}
	rec.SaveExecution("a", agent.Execution{Command: "nmap t"})
	rec.SaveConversation("a", "user", "hi", 1)
	rec.LogEvent("agent", "Agent a started", nil)
	rec.Close()

	findings, _ := store.ListFindings(FindingFilter{})
	if len(findings) != 20 {
		t.Errorf("expected 20 findings after drain, got %d", len(findings))
	}
	if n, _ := store.ExecutionCount("a"); n != 1 {
		t.Errorf("expected 1 execution, got %d", n)
	}
	evs, _ := events.Today(EventFilter{})
	if len(evs) != 1 {
		t.Errorf("expected 1 event, got %d", len(evs))
	}

	// Writes after close are ignored
	rec.SaveFinding(agent.Finding{AgentID: "a", Target: "t", Content: "late"})
	rec.Close()
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	rec := &Recorder{
		logger: log.New(io.Discard, "", 0),
		queue:  make(chan record, 1),
		done:   make(chan struct{}),
	}
	// No writer goroutine, so the second record has nowhere to go
	rec.LogEvent("a", "first", nil)
	rec.LogEvent("a", "second", nil)

	if rec.Dropped() != 1 {
		t.Errorf("expected 1 dropped record, got %d", rec.Dropped())
	}
}

func TestRecorder_WithoutStore(t *testing.T) {
	rec := NewRecorder(nil, nil, nil, 4)
	rec.SaveFinding(agent.Finding{Content: "x"})
	rec.LogEvent("agent", "ignored", nil)
	rec.Close()
	if rec.Failed() != 0 {
		t.Errorf("expected no failures, got %d", rec.Failed())
	}
}

func TestStreamMirror_UnreachableRedisNeverBlocks(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	m := NewStreamMirror(rdb, "", 100, log.New(io.Discard, "", 0))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			m.Observe(coord.Message{ID: "m", From: "a", Type: coord.TypeAlert, Content: coord.Alert{Level: "info", Text: "x"}})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Observe blocked")
	}

	m.Close()
	if m.Mirrored() != 0 {
		t.Errorf("expected nothing mirrored, got %d", m.Mirrored())
	}
	// Observe after close is a no-op
	m.Observe(coord.Message{ID: "late"})
}

func TestNewRedisClientRejectsBadURL(t *testing.T) {
	if _, err := NewRedisClient("not-a-url"); err == nil {
		t.Error("expected an error for an invalid url")
	}
}
