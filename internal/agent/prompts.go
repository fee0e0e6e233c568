package agent

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/gabe/swarm/internal/coord"
	"github.com/gabe/swarm/internal/knowledge"
)

// EndSentinel marks a response that completes the worker's mission
const EndSentinel = "<END!>"

// systemPromptTemplate is filled with number, target, category, mode, tools, target and custom section
const systemPromptTemplate = `You are autonomous security assessment agent #%d working as part of a team.

Target: %s
Category: %s
Mode: %s

## Capabilities

### 1. Command Execution
Run a tool with: RUN <command>
Example: RUN nmap -sV -sC %s
When the team lead batches commands, they arrive as JSON keyed by agent number.
Every command must use a tool from the AVAILABLE TOOLS list below.

### 2. Findings
Record a finding with: <write>content</write>
Include a severity: Critical/High/Medium/Low/Info

### 3. Completion
Reply with <END!> once the objectives are met.

%s
## Methodology

1. Reconnaissance: map the attack surface with network_recon tools
2. Enumeration: discover services and content with web_scanning tools
3. Vulnerability discovery: confirm issues with vuln_scanning tools
4. Documentation: record every finding in <write> tags
5. Collaboration: build on what teammates already discovered
%s
## Rules
- ONLY use tools from the AVAILABLE TOOLS list
- Work methodically; do not repeat a command a teammate already ran
- Include a severity classification for every finding
- Signal <END!> only when objectives are fully met
- Never use destructive commands (rm -rf, mkfs, chmod 777 /, etc.)
`

// maxToolsPerCategory caps how many tools each category lists in the prompt
const maxToolsPerCategory = 10

// ModeLabel describes the operating mode for prompts and status
func ModeLabel(stealth, aggressive bool) string {
	switch {
	case stealth:
		return "Stealth (evade detection)"
	case aggressive:
		return "Aggressive (thorough scanning)"
	default:
		return "Normal"
	}
}

// BuildSystemPrompt renders the fixed instructions a worker sends on every call
func BuildSystemPrompt(cfg Config, tools map[string][]string) string {
	var custom string
	if strings.TrimSpace(cfg.CustomInstruction) != "" {
		custom = "\n## Custom Instruction\n" + strings.TrimSpace(cfg.CustomInstruction) + "\n"
	}
	return fmt.Sprintf(systemPromptTemplate,
		cfg.Number, cfg.Target, cfg.Category, ModeLabel(cfg.Stealth, cfg.Aggressive),
		cfg.Target, toolsSection(tools), custom)
}

func toolsSection(tools map[string][]string) string {
	cats := make([]string, 0, len(tools))
	for cat := range tools {
		cats = append(cats, cat)
	}
	sort.Strings(cats)

	var b strings.Builder
	b.WriteString("## AVAILABLE TOOLS BY CATEGORY\n\n")
	for _, cat := range cats {
		list := append([]string(nil), tools[cat]...)
		sort.Strings(list)
		more := ""
		if len(list) > maxToolsPerCategory {
			list = list[:maxToolsPerCategory]
			more = "... and more"
		}
		fmt.Fprintf(&b, "### %s\n%s%s\n\n", categoryTitle(cat), strings.Join(list, ", "), more)
	}
	return b.String()
}

// categoryTitle turns network_recon into Network Recon
func categoryTitle(cat string) string {
	words := strings.Split(cat, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// promptInput is everything the user prompt is built from
type promptInput struct {
	Iteration   int
	Messages    []coord.Message
	Knowledge   knowledge.Summary
	Discoveries []string
	Last        *Execution
}

// Limits on how much of each section reaches the prompt
const (
	promptMessages       = 5
	promptPorts          = 5
	promptVulns          = 3
	promptDiscoveries    = 5
	promptMessageChars   = 150
	promptVulnChars      = 80
	promptLastResultChar = 500
)

// buildUserPrompt renders the per-iteration prompt
func buildUserPrompt(in promptInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Iteration %d:\n\n", in.Iteration)

	if len(in.Messages) > 0 {
		b.WriteString("## Messages from other agents:\n")
		for _, m := range in.Messages {
			fmt.Fprintf(&b, "- [%s] (%s): %s\n", m.From, m.Type, truncate(m.Summary(), promptMessageChars))
		}
		b.WriteString("\n")
	}

	if ports := in.Knowledge.Ports; len(ports) > 0 {
		fmt.Fprintf(&b, "## Known open ports: %d discovered\n", len(ports))
		for _, p := range head(ports, promptPorts) {
			service := p.Service
			if service == "" {
				service = "unknown"
			}
			fmt.Fprintf(&b, "- Port %d: %s\n", p.Port, service)
		}
		b.WriteString("\n")
	}

	if vulns := in.Knowledge.Vulnerabilities; len(vulns) > 0 {
		fmt.Fprintf(&b, "## Known vulnerabilities: %d found\n", len(vulns))
		for _, v := range head(vulns, promptVulns) {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", v.Severity, v.Kind, truncate(v.Detail, promptVulnChars))
		}
		b.WriteString("\n")
	}

	if len(in.Discoveries) > 0 {
		b.WriteString("## Team discoveries:\n")
		for _, d := range in.Discoveries {
			fmt.Fprintf(&b, "- %s\n", d)
		}
		b.WriteString("\n")
	}

	if in.Last != nil {
		fmt.Fprintf(&b, "## Last command executed:\n%s\n", in.Last.Command)
		fmt.Fprintf(&b, "Result: %s...\n\n", truncate(in.Last.Result, promptLastResultChar))
	}

	b.WriteString("What is your next action? Provide commands to execute or signal completion with " + EndSentinel)
	return b.String()
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
