package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/gabe/swarm/internal/storage"
	"github.com/spf13/cobra"
)

var (
	logsType  string
	logsDay   string
	logsLimit int
	logsSince time.Duration
)

var logsCmd = &cobra.Command{
	Use:     "logs",
	Short:   "View the operation event log",
	Long:    `Display events the daemon recorded: agent lifecycle, commands, findings and alerts.`,
	Aliases: []string{"log"},
	Run: func(cmd *cobra.Command, args []string) {
		root, err := getSwarmDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		day := time.Now()
		if logsDay != "" {
			day, err = time.ParseInLocation("2006-01-02", logsDay, time.Local)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: invalid --day %q (want YYYY-MM-DD)\n", logsDay)
				os.Exit(1)
			}
		}

		events, err := storage.NewEventLog(eventsDir(root, readConfig(root)))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		filter := storage.EventFilter{Type: logsType, Limit: logsLimit}
		if logsSince > 0 {
			filter.Since = time.Now().Add(-logsSince)
		}
		list, err := events.Read(day, filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		showEvents(list)
	},
}

func showEvents(events []storage.Event) {
	if len(events) == 0 {
		fmt.Println(mutedStyle.Render("No events logged."))
		return
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	fmt.Println(sectionStyle.Render("Activity Log"))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, ev := range events {
		fmt.Fprintf(w, "  %s\t%s\t%s\n",
			mutedStyle.Render(ev.Timestamp.Format("Jan 2 15:04:05")),
			headerStyle.Render(ev.Type),
			valueStyle.Render(truncate(ev.Message, 100)))
	}
	w.Flush()
}

func init() {
	logsCmd.Flags().StringVar(&logsType, "type", "", "Only events of this type")
	logsCmd.Flags().StringVar(&logsDay, "day", "", "Day to show (YYYY-MM-DD, default today)")
	logsCmd.Flags().IntVarP(&logsLimit, "limit", "l", 50, "Show the newest N events (0 for all)")
	logsCmd.Flags().DurationVar(&logsSince, "since", 0, "Only events newer than this (e.g. 15m)")
	rootCmd.AddCommand(logsCmd)
}
