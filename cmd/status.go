package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gabe/swarm/internal/agent"
	"github.com/gabe/swarm/internal/config"
	"github.com/gabe/swarm/internal/daemon"
	"github.com/gabe/swarm/internal/display"
	"github.com/gabe/swarm/internal/registry"
	"github.com/gabe/swarm/internal/storage"
	"github.com/spf13/cobra"
)

// Styles for terminal output
var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00D4FF"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EEEEEE"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E22E"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FD971F"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F92672"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EEEEEE"))
)

var (
	flagJSON     bool
	flagWatch    bool
	flagFindings bool
)

type statusOutput struct {
	Daemon    daemonInfo             `json:"daemon"`
	Operation string                 `json:"operation,omitempty"`
	UpdatedAt time.Time              `json:"updated_at,omitempty"`
	Agents    []registry.AgentRecord `json:"agents"`
	Severity  map[string]int         `json:"severity_summary"`
	Activity  []activityEntry        `json:"recent_activity,omitempty"`

	state    *registry.State
	findings []agent.Finding
}

type daemonInfo struct {
	Running bool `json:"running"`
	PID     int  `json:"pid,omitempty"`
}

type activityEntry struct {
	Time    string `json:"time"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show the operation and its agents",
	Long:    `Show the daemon, every agent with its health and findings, and recent activity.`,
	Aliases: []string{"s"},
	Run: func(cmd *cobra.Command, args []string) {
		root, err := getSwarmDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if flagWatch {
			// Watch mode - refresh every 2 seconds
			for {
				clearScreen()
				showStatus(root)
				time.Sleep(2 * time.Second)
			}
		}
		showStatus(root)
	},
}

func showStatus(root string) {
	output := collectStatusData(root, readConfig(root))

	if flagJSON {
		data, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(data))
		return
	}

	printDaemonStatus(output.Daemon)
	fmt.Println()

	opts := display.DefaultTreeOpts()
	opts.ShowFindings = flagFindings
	fmt.Print(display.RenderOperation(output.state, output.findings, opts))
	fmt.Println()

	printSeverity(output.Severity)
	fmt.Println()

	if len(output.Activity) > 0 {
		printRecentActivity(output.Activity)
	}
}

func collectStatusData(root string, cfg *config.Config) statusOutput {
	output := statusOutput{state: &registry.State{Severity: map[string]int{}}}

	d := daemon.New(root, cfg, nil)
	if state, pid, err := d.Status(); err == nil {
		output.Daemon.Running = state == daemon.StateRunning
		output.Daemon.PID = pid
	}

	reg := registry.New(registry.DefaultPath(daemon.StateDir(root)))
	if state, err := reg.Load(); err == nil {
		output.state = state
		output.Operation = state.Operation
		output.UpdatedAt = state.UpdatedAt
		output.Agents = state.Agents
		output.Severity = state.Severity
	}

	if store, err := openStore(root, cfg); err == nil {
		output.findings, _ = store.ListFindings(storage.FindingFilter{Target: output.Operation})
		store.Close()
	}

	if events, err := storage.NewEventLog(eventsDir(root, cfg)); err == nil {
		recent, _ := events.Today(storage.EventFilter{Limit: 5})
		for _, ev := range recent {
			output.Activity = append(output.Activity, activityEntry{
				Time:    formatRelativeTime(ev.Timestamp),
				Type:    ev.Type,
				Message: truncate(ev.Message, 80),
			})
		}
	}

	return output
}

func printDaemonStatus(info daemonInfo) {
	fmt.Println(sectionStyle.Render("Daemon"))
	if info.Running {
		fmt.Printf("  %s %s (PID %d)\n",
			successStyle.Render("●"),
			valueStyle.Render("running"),
			info.PID)
	} else {
		fmt.Printf("  %s %s\n",
			errorStyle.Render("○"),
			mutedStyle.Render("not running"))
	}
}

func printSeverity(counts map[string]int) {
	fmt.Println(sectionStyle.Render("Findings"))
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		fmt.Println(mutedStyle.Render("  No findings"))
		return
	}
	fmt.Printf("  %s\n", formatSeverityCounts(counts))
}

func printRecentActivity(activity []activityEntry) {
	fmt.Println(sectionStyle.Render("Recent Activity"))
	for _, entry := range activity {
		fmt.Printf("  %s  %s %s\n",
			mutedStyle.Render(entry.Time),
			headerStyle.Render(entry.Type),
			valueStyle.Render(entry.Message))
	}
}

func formatRelativeTime(t time.Time) string {
	d := time.Since(t)
	if d < time.Minute {
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return t.Format("Jan 2")
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

func clearScreen() {
	fmt.Print("\033[H\033[2J")
}

func init() {
	statusCmd.Flags().BoolVar(&flagJSON, "json", false, "Output in JSON format")
	statusCmd.Flags().BoolVar(&flagWatch, "watch", false, "Refresh every 2 seconds")
	statusCmd.Flags().BoolVarP(&flagFindings, "findings", "f", true, "Show findings under each agent")
	rootCmd.AddCommand(statusCmd)
}
