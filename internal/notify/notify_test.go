package notify

import (
	"bytes"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gabe/swarm/internal/agent"
	"github.com/gabe/swarm/internal/severity"
)

type recordingNotifier struct {
	got    []Notification
	err    error
	closed bool
}

func (r *recordingNotifier) Notify(n Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func (r *recordingNotifier) Close() error {
	r.closed = true
	return nil
}

func TestManager_FansOut(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("boom")}
	ok := &recordingNotifier{}
	m := NewManager(failing, ok)

	err := m.NotifyAgentError("agent-1", "Auth Error: bad key")
	if err == nil {
		t.Error("expected the backend error to be reported")
	}
	if len(ok.got) != 1 {
		t.Fatalf("expected the second backend to still be notified, got %d", len(ok.got))
	}
	if ok.got[0].Timestamp.IsZero() {
		t.Error("expected a timestamp to be set")
	}
	if ok.got[0].Message != "Agent agent-1 failed: Auth Error: bad key" {
		t.Errorf("unexpected message %q", ok.got[0].Message)
	}

	m.Close()
	if !failing.closed || !ok.closed {
		t.Error("expected every backend to be closed")
	}
}

func TestNotifyFinding(t *testing.T) {
	r := &recordingNotifier{}
	m := NewManager(r)
	m.NotifyFinding(agent.Finding{
		AgentID:  "agent-1",
		Target:   "10.0.0.1",
		Content:  "Critical: RCE in /upload\nproof follows",
		Severity: severity.Critical,
	})

	n := r.got[0]
	if n.Type != NotificationTypeFinding || n.Title != "Critical finding on 10.0.0.1" {
		t.Errorf("unexpected notification %+v", n)
	}
	if n.Message != "Critical: RCE in /upload" {
		t.Errorf("expected the first line only, got %q", n.Message)
	}
}

func TestNotifyOperationComplete(t *testing.T) {
	r := &recordingNotifier{}
	m := NewManager(r)

	s := severity.NewSummary()
	s.Add(severity.High)
	s.Add(severity.High)
	s.Add(severity.Info)
	m.NotifyOperationComplete("10.0.0.1", 3, 1, s)
	m.NotifyOperationComplete("10.0.0.2", 1, 0, severity.NewSummary())

	if want := "10.0.0.1: 3 agent(s), 1 failed, 2 High, 1 Info"; r.got[0].Message != want {
		t.Errorf("expected %q, got %q", want, r.got[0].Message)
	}
	if !strings.HasSuffix(r.got[1].Message, "no findings") {
		t.Errorf("expected no findings, got %q", r.got[1].Message)
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(log.New(&buf, "", 0))
	n.Notify(Notification{Type: NotificationTypeStuck, Title: "Agent Stuck", Message: "agent-1"})
	if got := buf.String(); got != "Notify: [stuck] Agent Stuck: agent-1\n" {
		t.Errorf("unexpected log line %q", got)
	}
}

func TestTerminalNotifier(t *testing.T) {
	var calls [][]string
	n := &TerminalNotifier{enabled: true, run: func(name string, args ...string) error {
		calls = append(calls, append([]string{name}, args...))
		return nil
	}}
	if err := n.Notify(Notification{Title: `Say "hi"`, Message: "msg"}); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected one command, got %d", len(calls))
	}

	disabled := &TerminalNotifier{run: func(string, ...string) error {
		t.Error("disabled notifier ran a command")
		return nil
	}}
	disabled.Notify(Notification{Title: "x"})
}

func TestEscapeAppleScript(t *testing.T) {
	if got := escapeAppleScript(`a "b" \c`); got != `a \"b\" \\c` {
		t.Errorf("unexpected escape %q", got)
	}
}

func TestSummaryReporter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.log")
	reporter := NewSummaryReporter(path, time.Hour)
	reporter.Start()

	for i := 0; i < 3; i++ {
		reporter.Notify(Notification{Type: NotificationTypeFinding, Title: "High finding", Timestamp: time.Now()})
	}
	reporter.Notify(Notification{Type: NotificationTypeError, Title: "Agent Error", Timestamp: time.Now()})

	// Close writes the final digest
	reporter.Close()
	reporter.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("summary file not written: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "Total notifications: 4") {
		t.Errorf("expected total of 4, got %s", out)
	}
	if !strings.Contains(out, "  error: 1\n  finding: 3\n") {
		t.Errorf("expected sorted type counts, got %s", out)
	}
}
