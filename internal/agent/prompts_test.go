package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gabe/swarm/internal/coord"
	"github.com/gabe/swarm/internal/knowledge"
)

func TestBuildSystemPrompt(t *testing.T) {
	cfg := Config{Number: 3, Target: "example.com", Category: "domain", Stealth: true, CustomInstruction: "Focus on mail servers"}
	tools := map[string][]string{
		"osint":         {"whois", "dig"},
		"network_recon": {"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"},
	}
	p := BuildSystemPrompt(cfg, tools)

	for _, want := range []string{
		"agent #3",
		"Target: example.com",
		"Mode: Stealth (evade detection)",
		"### Network Recon",
		"dig, whois",
		"... and more",
		"## Custom Instruction\nFocus on mail servers",
		EndSentinel,
	} {
		if !strings.Contains(p, want) {
			t.Errorf("expected system prompt to contain %q", want)
		}
	}
	if strings.Contains(p, ", k") {
		t.Error("expected tool list to be capped at 10 per category")
	}
}

func TestBuildSystemPromptWithoutCustomInstruction(t *testing.T) {
	p := BuildSystemPrompt(Config{Number: 1, Target: "10.0.0.1"}, nil)
	if strings.Contains(p, "Custom Instruction") {
		t.Error("expected no custom instruction section")
	}
	if !strings.Contains(p, "Mode: Normal") {
		t.Error("expected normal mode")
	}
}

func TestBuildUserPrompt(t *testing.T) {
	in := promptInput{
		Iteration: 4,
		Messages: []coord.Message{
			{From: "agent-b", Type: coord.TypeAlert, Content: coord.Alert{Level: "warning", Text: "WAF detected"}},
		},
		Knowledge: knowledge.Summary{
			Ports: []knowledge.Port{{Port: 22, Service: "ssh"}, {Port: 8080}},
			Vulnerabilities: []knowledge.Vulnerability{
				{Kind: "discovered", Detail: "SQL injection", Severity: "Critical"},
			},
		},
		Discoveries: []string{"[agent-c] port 443 (https)"},
		Last:        &Execution{Command: "nmap host", Result: strings.Repeat("x", 600)},
	}
	p := buildUserPrompt(in)

	for _, want := range []string{
		"Iteration 4:",
		"- [agent-b] (alert): warning: WAF detected",
		"## Known open ports: 2 discovered",
		"- Port 8080: unknown",
		"- [Critical] discovered: SQL injection",
		"- [agent-c] port 443 (https)",
		"## Last command executed:\nnmap host",
		"Result: " + strings.Repeat("x", 500) + "...",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("expected user prompt to contain %q", want)
		}
	}
	if strings.Contains(p, strings.Repeat("x", 501)) {
		t.Error("expected last result truncated to 500 chars")
	}
}

func TestBuildUserPromptMinimal(t *testing.T) {
	p := buildUserPrompt(promptInput{Iteration: 1})
	if strings.Contains(p, "##") {
		t.Errorf("expected no sections, got %q", p)
	}
	if !strings.HasSuffix(p, EndSentinel) {
		t.Errorf("expected prompt to end with the completion hint, got %q", p)
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	s := "héllo"
	if got := truncate(s, 2); got != "h" {
		t.Errorf("expected h, got %q", got)
	}
	if got := truncate(s, 10); got != s {
		t.Errorf("expected untouched string, got %q", got)
	}
}

func fixed(v float64) func() float64 {
	return func() float64 { return v }
}

func TestBaseDelay(t *testing.T) {
	if got := baseDelay(time.Second, 3*time.Second, false, fixed(0.5)); got != 2*time.Second {
		t.Errorf("expected 2s, got %s", got)
	}
	if got := baseDelay(time.Second, 3*time.Second, true, fixed(0)); got != 2*time.Second {
		t.Errorf("expected stealth minimum of 2s, got %s", got)
	}
	if got := baseDelay(time.Second, 3*time.Second, true, fixed(0.5)); got != 5500*time.Millisecond {
		t.Errorf("expected 5.5s, got %s", got)
	}
}

func TestFinalDelay(t *testing.T) {
	// Largest input wins, jitter at midpoint is zero
	if got := finalDelay(time.Second, 4*time.Second, 2*time.Second, fixed(0.5), 500*time.Millisecond); got != 4*time.Second {
		t.Errorf("expected 4s, got %s", got)
	}
	// Maximum negative jitter
	if got := finalDelay(10*time.Second, 0, 0, fixed(0), 0); got != 7*time.Second {
		t.Errorf("expected 7s, got %s", got)
	}
	// Floor applies
	if got := finalDelay(100*time.Millisecond, 0, 0, fixed(0), 500*time.Millisecond); got != 500*time.Millisecond {
		t.Errorf("expected floor of 500ms, got %s", got)
	}
}

func TestFailureDelay(t *testing.T) {
	if got := failureDelay(time.Second, 2*time.Second, 0); got != time.Second {
		t.Errorf("expected base delay without failures, got %s", got)
	}
	if got := failureDelay(time.Second, 2*time.Second, 1); got != 4*time.Second {
		t.Errorf("expected 4s after one failure, got %s", got)
	}
	if got := failureDelay(time.Second, 2*time.Second, 9); got != 64*time.Second {
		t.Errorf("expected the 32x cap, got %s", got)
	}
	if got := failureDelay(time.Second, 30*time.Second, 5); got != 5*time.Minute {
		t.Errorf("expected the 5m cap, got %s", got)
	}
}

func TestSleepInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	if err := sleep(ctx, time.Minute); err == nil {
		t.Error("expected an error when the context is cancelled")
	}
	if time.Since(start) > time.Second {
		t.Error("expected sleep to return promptly on cancel")
	}
}
