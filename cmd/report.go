package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/gabe/swarm/internal/agent"
	"github.com/gabe/swarm/internal/daemon"
	"github.com/gabe/swarm/internal/registry"
	"github.com/gabe/swarm/internal/report"
	"github.com/gabe/swarm/internal/storage"
	"github.com/spf13/cobra"
)

var (
	reportFormat string
	reportOutput string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render the operation report",
	Long: `Render a report from the operation database and the last registry snapshot.

Formats are html (default), json and yaml. Without --output the report is
written to stdout. Reports saved by the daemon when an operation finishes
are listed with 'swarm report list'.`,
	Run: func(cmd *cobra.Command, args []string) {
		root, err := getSwarmDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		format, err := report.ParseFormat(reportFormat)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		r, err := buildReport(root)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		var w io.Writer = os.Stdout
		if reportOutput != "" {
			f, err := os.Create(reportOutput)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			defer f.Close()
			w = f
		}

		if err := report.Render(w, r, format); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if reportOutput != "" {
			fmt.Println(successStyle.Render("✓") + " Wrote " + reportOutput)
		}
	},
}

var reportListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reports saved by the daemon",
	Run: func(cmd *cobra.Command, args []string) {
		root, err := getSwarmDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		paths, _ := filepath.Glob(filepath.Join(daemon.StateDir(root), "reports", "*"))
		if len(paths) == 0 {
			fmt.Println("No reports found.")
			return
		}
		sort.Sort(sort.Reverse(sort.StringSlice(paths)))
		for _, p := range paths {
			info, err := os.Stat(p)
			if err != nil {
				continue
			}
			fmt.Printf("  %s  %s\n", mutedStyle.Render(info.ModTime().Format("2006-01-02 15:04")), p)
		}
	},
}

// buildReport assembles a report from what the daemon left on disk
func buildReport(root string) (report.Report, error) {
	cfg := readConfig(root)

	state, err := registry.New(registry.DefaultPath(daemon.StateDir(root))).Load()
	if err != nil {
		return report.Report{}, fmt.Errorf("failed to read registry: %w", err)
	}

	store, err := openStore(root, cfg)
	if err != nil {
		return report.Report{}, err
	}
	defer store.Close()

	findings, err := store.ListFindings(storage.FindingFilter{Target: state.Operation})
	if err != nil {
		return report.Report{}, err
	}

	snaps := make([]agent.Snapshot, 0, len(state.Agents))
	for _, a := range state.Agents {
		snaps = append(snaps, a.Snapshot)
	}

	title := "Operation"
	if state.Operation != "" {
		title += " " + state.Operation
	}
	return report.Build(title, snaps, findings, nil), nil
}

func init() {
	reportCmd.Flags().StringVarP(&reportFormat, "format", "F", "html", "Output format (html, json, yaml)")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "Write to a file instead of stdout")
	reportCmd.AddCommand(reportListCmd)
	rootCmd.AddCommand(reportCmd)
}
