package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/gabe/swarm/internal/display"
	"github.com/gabe/swarm/internal/severity"
	"github.com/gabe/swarm/internal/storage"
	"github.com/spf13/cobra"
)

var (
	findingsSeverity string
	findingsAgent    string
	findingsTarget   string
	findingsLimit    int
	findingsJSON     bool
)

var findingsCmd = &cobra.Command{
	Use:     "findings",
	Short:   "List recorded findings",
	Long:    `List findings from the operation database, oldest first.`,
	Aliases: []string{"f"},
	Run: func(cmd *cobra.Command, args []string) {
		root, err := getSwarmDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		filter := storage.FindingFilter{
			AgentID: findingsAgent,
			Target:  findingsTarget,
			Limit:   findingsLimit,
		}
		if findingsSeverity != "" {
			level, err := parseSeverity(findingsSeverity)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			filter.Severity = level
		}

		store, err := openStore(root, readConfig(root))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		findings, err := store.ListFindings(filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if findingsJSON {
			data, _ := json.MarshalIndent(findings, "", "  ")
			fmt.Println(string(data))
			return
		}

		if len(findings) == 0 {
			fmt.Println("No findings.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tSEVERITY\tAGENT\tFINDING")
		for _, f := range findings {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				f.Timestamp.Format("2006-01-02 15:04"),
				display.SeverityStyle(f.Severity).Render(string(f.Severity)),
				f.AgentID,
				truncate(strings.SplitN(f.Content, "\n", 2)[0], 80))
		}
		w.Flush()

		if counts, err := store.SeverityCounts(); err == nil {
			m := make(map[string]int, len(counts))
			for l, n := range counts {
				m[string(l)] = n
			}
			fmt.Printf("\n%s\n", formatSeverityCounts(m))
		}
	},
}

// parseSeverity accepts a level name in any case
func parseSeverity(s string) (severity.Level, error) {
	for _, l := range severity.Order {
		if strings.EqualFold(string(l), s) {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// formatSeverityCounts renders non-zero counts from most to least severe
func formatSeverityCounts(counts map[string]int) string {
	var parts []string
	for _, l := range severity.Order {
		if n := counts[string(l)]; n > 0 {
			parts = append(parts, display.SeverityStyle(l).Render(fmt.Sprintf("%d %s", n, l)))
		}
	}
	if len(parts) == 0 {
		return mutedStyle.Render("no findings")
	}
	return strings.Join(parts, ", ")
}

func init() {
	findingsCmd.Flags().StringVarP(&findingsSeverity, "severity", "s", "", "Only this severity (Critical, High, Medium, Low, Info)")
	findingsCmd.Flags().StringVarP(&findingsAgent, "agent", "a", "", "Only findings from this agent")
	findingsCmd.Flags().StringVar(&findingsTarget, "target", "", "Only findings on this target")
	findingsCmd.Flags().IntVarP(&findingsLimit, "limit", "l", 0, "Maximum number of findings")
	findingsCmd.Flags().BoolVar(&findingsJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(findingsCmd)
}
