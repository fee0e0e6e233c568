package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gabe/swarm/internal/agent"
	"github.com/gabe/swarm/internal/knowledge"
	"github.com/gabe/swarm/internal/severity"
	"gopkg.in/yaml.v3"
)

func testReport() Report {
	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	agents := []agent.Snapshot{
		{ID: "agent-aaaa1111", Number: 1, Status: agent.StatusCompleted, Target: "10.0.0.1", Iteration: 7, FindingsCount: 2},
	}
	findings := []agent.Finding{
		{AgentID: "agent-aaaa1111", Target: "10.0.0.1", Content: "Low: banner leak", Severity: severity.Low, Timestamp: t0},
		{AgentID: "agent-aaaa1111", Target: "10.0.0.1", Content: "Critical: <script>alert(1)</script>RCE in /upload\nsecond line", Severity: severity.Critical, Timestamp: t0.Add(time.Minute)},
	}
	targets := []knowledge.Summary{{Target: "10.0.0.1", Ports: []knowledge.Port{{Port: 22, Service: "ssh"}}}}
	return Build("Operation 10.0.0.1", agents, findings, targets)
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"html": FormatHTML,
		"JSON": FormatJSON,
		"yml":  FormatYAML,
		"":     FormatHTML,
	}
	for in, want := range tests {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q): expected %s, got %s (%v)", in, want, got, err)
		}
	}
	if _, err := ParseFormat("pdf"); err == nil {
		t.Error("expected error for pdf")
	}
}

func TestBuildOrdersBySeverity(t *testing.T) {
	r := testReport()
	if r.Findings[0].Severity != severity.Critical {
		t.Errorf("expected critical first, got %s", r.Findings[0].Severity)
	}
	if r.Severity["Critical"] != 1 || r.Severity["Low"] != 1 || r.Severity["High"] != 0 {
		t.Errorf("unexpected severity summary %v", r.Severity)
	}
	if len(r.Agents) != 1 || r.Agents[0].Iterations != 7 {
		t.Errorf("unexpected agents %+v", r.Agents)
	}
}

func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, testReport(), FormatJSON); err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded["title"] != "Operation 10.0.0.1" {
		t.Errorf("unexpected title %v", decoded["title"])
	}
	if _, ok := decoded["severity_summary"]; !ok {
		t.Error("expected severity_summary key")
	}
}

func TestRenderYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, testReport(), FormatYAML); err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid yaml: %v", err)
	}
	findings, ok := decoded["findings"].([]any)
	if !ok || len(findings) != 2 {
		t.Fatalf("expected 2 findings, got %v", decoded["findings"])
	}
}

func TestRenderHTMLSanitizes(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, testReport(), FormatHTML); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	if strings.Contains(out, "<script>") {
		t.Error("expected script tags to be stripped")
	}
	if !strings.Contains(out, "RCE in /upload<br>second line") {
		t.Error("expected sanitized content with line breaks")
	}
	if !strings.Contains(out, `<span class="badge critical">Critical</span>`) {
		t.Error("expected severity badge")
	}
	if !strings.Contains(out, "Port 22 ssh") {
		t.Error("expected knowledge section")
	}
}
