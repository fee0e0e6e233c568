// Package report renders an operation's results as HTML, JSON or YAML
package report

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/gabe/swarm/internal/agent"
	"github.com/gabe/swarm/internal/knowledge"
	"github.com/gabe/swarm/internal/severity"
	"github.com/microcosm-cc/bluemonday"
	"gopkg.in/yaml.v3"
)

// Format is an output format
type Format string

const (
	FormatHTML Format = "html"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatHTML, FormatJSON, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	case "":
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("unknown report format %q (want html, json or yaml)", s)
	}
}

// Extension is the file extension for f
func (f Format) Extension() string {
	return string(f)
}

// ContentType is the MIME type for f
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatYAML:
		return "application/yaml"
	default:
		return "text/html; charset=utf-8"
	}
}

// AgentSummary is one agent as it appears in a report
type AgentSummary struct {
	ID             string       `json:"id" yaml:"id"`
	Number         int          `json:"agent_number" yaml:"agent_number"`
	Status         agent.Status `json:"status" yaml:"status"`
	Target         string       `json:"target" yaml:"target"`
	Iterations     int          `json:"iterations" yaml:"iterations"`
	ExecutionCount int          `json:"execution_count" yaml:"execution_count"`
	FindingsCount  int          `json:"findings_count" yaml:"findings_count"`
	ElapsedSeconds float64      `json:"elapsed_seconds" yaml:"elapsed_seconds"`
}

// Report is everything an operation produced
type Report struct {
	Title       string              `json:"title" yaml:"title"`
	GeneratedAt time.Time           `json:"generated_at" yaml:"generated_at"`
	Agents      []AgentSummary      `json:"agents" yaml:"agents"`
	Severity    map[string]int      `json:"severity_summary" yaml:"severity_summary"`
	Findings    []agent.Finding     `json:"findings" yaml:"findings"`
	Knowledge   []knowledge.Summary `json:"knowledge,omitempty" yaml:"knowledge,omitempty"`
}

// Build assembles a report. Findings are ordered by severity, then time.
func Build(title string, agents []agent.Snapshot, findings []agent.Finding, targets []knowledge.Summary) Report {
	r := Report{
		Title:       title,
		GeneratedAt: time.Now(),
		Severity:    make(map[string]int, len(severity.Order)),
		Knowledge:   targets,
	}

	for _, a := range agents {
		r.Agents = append(r.Agents, AgentSummary{
			ID:             a.ID,
			Number:         a.Number,
			Status:         a.Status,
			Target:         a.Target,
			Iterations:     a.Iteration,
			ExecutionCount: a.ExecutionCount,
			FindingsCount:  a.FindingsCount,
			ElapsedSeconds: a.ElapsedSeconds,
		})
	}

	summary := severity.NewSummary()
	for _, f := range findings {
		summary.Add(f.Severity)
	}
	for l, n := range summary {
		r.Severity[string(l)] = n
	}

	r.Findings = append([]agent.Finding(nil), findings...)
	sort.SliceStable(r.Findings, func(i, j int) bool {
		ri, rj := severity.Rank(r.Findings[i].Severity), severity.Rank(r.Findings[j].Severity)
		if ri != rj {
			return ri < rj
		}
		return r.Findings[i].Timestamp.Before(r.Findings[j].Timestamp)
	})
	return r
}

// Render writes r to w in format f
func Render(w io.Writer, r Report, f Format) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case FormatHTML:
		return renderHTML(w, r)
	default:
		return fmt.Errorf("unknown report format %q", f)
	}
}

// sanitizer strips markup an oracle response may have put in finding text
var sanitizer = bluemonday.StrictPolicy()

type htmlFinding struct {
	Severity string
	Class    string
	Agent    string
	Target   string
	Time     string
	Content  template.HTML
}

type htmlView struct {
	Report
	Levels   []levelCount
	Findings []htmlFinding
}

type levelCount struct {
	Level string
	Class string
	Count int
}

func renderHTML(w io.Writer, r Report) error {
	v := htmlView{Report: r}
	for _, l := range severity.Order {
		v.Levels = append(v.Levels, levelCount{Level: string(l), Class: strings.ToLower(string(l)), Count: r.Severity[string(l)]})
	}
	for _, f := range r.Findings {
		clean := sanitizer.Sanitize(f.Content)
		v.Findings = append(v.Findings, htmlFinding{
			Severity: string(f.Severity),
			Class:    strings.ToLower(string(f.Severity)),
			Agent:    f.AgentID,
			Target:   f.Target,
			Time:     f.Timestamp.Format("2006-01-02 15:04:05"),
			// StrictPolicy output is escaped text, safe to mark up with breaks
			Content: template.HTML(strings.ReplaceAll(clean, "\n", "<br>")),
		})
	}
	return htmlTemplate.Execute(w, v)
}

var htmlTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 2em; color: #222; }
table { border-collapse: collapse; width: 100%; margin-bottom: 2em; }
th, td { border: 1px solid #ccc; padding: 6px 10px; text-align: left; vertical-align: top; }
th { background: #f3f3f3; }
.critical { color: #fff; background: #b00020; }
.high { color: #fff; background: #e65100; }
.medium { background: #ffd54f; }
.low { background: #aed581; }
.info { background: #e0e0e0; }
.badge { padding: 2px 8px; border-radius: 4px; font-weight: bold; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>Generated {{.GeneratedAt.Format "2006-01-02 15:04:05"}}</p>

<h2>Severity Summary</h2>
<table>
<tr>{{range .Levels}}<th><span class="badge {{.Class}}">{{.Level}}</span></th>{{end}}</tr>
<tr>{{range .Levels}}<td>{{.Count}}</td>{{end}}</tr>
</table>

<h2>Agents</h2>
<table>
<tr><th>#</th><th>ID</th><th>Status</th><th>Target</th><th>Iterations</th><th>Commands</th><th>Findings</th></tr>
{{range .Agents}}<tr><td>{{.Number}}</td><td>{{.ID}}</td><td>{{.Status}}</td><td>{{.Target}}</td><td>{{.Iterations}}</td><td>{{.ExecutionCount}}</td><td>{{.FindingsCount}}</td></tr>
{{end}}</table>

<h2>Findings</h2>
{{if .Findings}}<table>
<tr><th>Severity</th><th>Agent</th><th>Target</th><th>Time</th><th>Detail</th></tr>
{{range .Findings}}<tr><td><span class="badge {{.Class}}">{{.Severity}}</span></td><td>{{.Agent}}</td><td>{{.Target}}</td><td>{{.Time}}</td><td>{{.Content}}</td></tr>
{{end}}</table>{{else}}<p>No findings.</p>{{end}}
{{range .Knowledge}}
<h2>Knowledge: {{.Target}}</h2>
<ul>
{{range .Ports}}<li>Port {{.Port}} {{.Service}}</li>{{end}}
{{range .Directories}}<li>{{.Path}} ({{.StatusCode}})</li>{{end}}
{{range .Subdomains}}<li>{{.Name}}</li>{{end}}
</ul>
{{end}}
</body>
</html>
`))
