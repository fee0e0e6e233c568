// Package display renders operation state for the terminal
package display

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gabe/swarm/internal/agent"
	"github.com/gabe/swarm/internal/knowledge"
	"github.com/gabe/swarm/internal/registry"
	"github.com/gabe/swarm/internal/severity"
)

// TreeOpts configures tree rendering
type TreeOpts struct {
	ShowFindings bool
	ColorEnabled bool
	MaxFindings  int // per agent, 0 for all
}

// Styles for tree rendering
var (
	treeBranch     = "├─"
	treeLastBranch = "└─"
	treeVertical   = "│ "
	treeEmpty      = "  "

	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	idStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#00D4FF"))
	headerStyle = lipgloss.NewStyle().Bold(true)

	statusStyles = map[agent.Status]lipgloss.Style{
		agent.StatusIdle:      lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
		agent.StatusRunning:   lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E22E")),
		agent.StatusPaused:    lipgloss.NewStyle().Foreground(lipgloss.Color("#E6DB74")),
		agent.StatusCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("#00D4FF")),
		agent.StatusError:     lipgloss.NewStyle().Foreground(lipgloss.Color("#F92672")),
		agent.StatusStopped:   lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
	}

	severityStyles = map[severity.Level]lipgloss.Style{
		severity.Critical: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#B00020")),
		severity.High:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F92672")),
		severity.Medium:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FD971F")),
		severity.Low:      lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E22E")),
		severity.Info:     lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
	}
)

// DefaultTreeOpts returns default tree rendering options
func DefaultTreeOpts() TreeOpts {
	return TreeOpts{
		ShowFindings: true,
		ColorEnabled: true,
		MaxFindings:  5,
	}
}

// StatusStyle returns the style for an agent status
func StatusStyle(s agent.Status) lipgloss.Style {
	if st, ok := statusStyles[s]; ok {
		return st
	}
	return lipgloss.NewStyle()
}

// SeverityStyle returns the style for a severity level
func SeverityStyle(l severity.Level) lipgloss.Style {
	if st, ok := severityStyles[l]; ok {
		return st
	}
	return lipgloss.NewStyle()
}

func render(opts TreeOpts, st lipgloss.Style, s string) string {
	if !opts.ColorEnabled {
		return s
	}
	return st.Render(s)
}

// RenderOperation renders the operation as a tree of agents, each with
// its most severe findings
func RenderOperation(state *registry.State, findings []agent.Finding, opts TreeOpts) string {
	var sb strings.Builder

	title := "Operation"
	if state.Operation != "" {
		title += " " + state.Operation
	}
	sb.WriteString(render(opts, headerStyle, title))
	sb.WriteString("\n")

	if len(state.Agents) == 0 {
		sb.WriteString(treeEmpty)
		sb.WriteString(render(opts, dimStyle, "No agents"))
		sb.WriteString("\n")
		return sb.String()
	}

	byAgent := make(map[string][]agent.Finding)
	for _, f := range findings {
		byAgent[f.AgentID] = append(byAgent[f.AgentID], f)
	}

	for i, a := range state.Agents {
		isLast := i == len(state.Agents)-1
		branch, indent := treeBranch, treeVertical
		if isLast {
			branch, indent = treeLastBranch, treeEmpty
		}

		sb.WriteString(branch)
		sb.WriteString(" ")
		sb.WriteString(renderAgent(a, opts))
		sb.WriteString("\n")

		if !opts.ShowFindings {
			continue
		}
		list := byAgent[a.ID]
		if opts.MaxFindings > 0 && len(list) > opts.MaxFindings {
			list = list[:opts.MaxFindings]
		}
		for j, f := range list {
			sb.WriteString(indent)
			if j == len(list)-1 {
				sb.WriteString(treeLastBranch)
			} else {
				sb.WriteString(treeBranch)
			}
			sb.WriteString(" ")
			sb.WriteString(renderFinding(f, opts))
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// renderAgent renders one agent line
func renderAgent(a registry.AgentRecord, opts TreeOpts) string {
	parts := []string{
		fmt.Sprintf("#%d", a.Number),
		render(opts, idStyle, a.ID),
		render(opts, StatusStyle(a.Status), fmt.Sprintf("(%s)", a.Status)),
		fmt.Sprintf("%d%%", a.Progress),
		fmt.Sprintf("iter %d", a.Iteration),
	}
	if a.FindingsCount > 0 {
		parts = append(parts, fmt.Sprintf("%d finding(s)", a.FindingsCount))
	}
	if a.Health != "" && a.Health != registry.HealthOK {
		parts = append(parts, render(opts, statusStyles[agent.StatusError], strings.ToUpper(string(a.Health))))
	}
	if a.LastExecute != "" {
		parts = append(parts, render(opts, dimStyle, truncate(a.LastExecute, 50)))
	}
	return strings.Join(parts, " ")
}

// renderFinding renders one finding line
func renderFinding(f agent.Finding, opts TreeOpts) string {
	return render(opts, SeverityStyle(f.Severity), fmt.Sprintf("[%s]", f.Severity)) + " " + truncate(firstLine(f.Content), 60)
}

// RenderKnowledge renders what the team knows about one target
func RenderKnowledge(s knowledge.Summary, opts TreeOpts) string {
	var sb strings.Builder
	sb.WriteString(render(opts, headerStyle, s.Target))
	sb.WriteString("\n")

	type section struct {
		title string
		items []string
	}
	var sections []section

	var ports []string
	for _, p := range s.Ports {
		ports = append(ports, fmt.Sprintf("%d %s", p.Port, p.Service))
	}
	sections = append(sections, section{"Ports", ports})

	var dirs []string
	for _, d := range s.Directories {
		dirs = append(dirs, fmt.Sprintf("%s (%d)", d.Path, d.StatusCode))
	}
	sections = append(sections, section{"Directories", dirs})

	var subs []string
	for _, d := range s.Subdomains {
		subs = append(subs, d.Name)
	}
	sections = append(sections, section{"Subdomains", subs})

	var vulns []string
	for _, v := range s.Vulnerabilities {
		vulns = append(vulns, render(opts, SeverityStyle(severity.Level(v.Severity)), fmt.Sprintf("[%s]", v.Severity))+" "+truncate(firstLine(v.Detail), 60))
	}
	sections = append(sections, section{"Vulnerabilities", vulns})

	for i, sec := range sections {
		branch, indent := treeBranch, treeVertical
		if i == len(sections)-1 {
			branch, indent = treeLastBranch, treeEmpty
		}
		sb.WriteString(branch)
		sb.WriteString(" ")
		sb.WriteString(render(opts, headerStyle, fmt.Sprintf("%s (%d)", sec.title, len(sec.items))))
		sb.WriteString("\n")
		for j, item := range sec.items {
			sb.WriteString(indent)
			if j == len(sec.items)-1 {
				sb.WriteString(treeLastBranch)
			} else {
				sb.WriteString(treeBranch)
			}
			sb.WriteString(" ")
			sb.WriteString(item)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
