package cmd

import (
	"fmt"
	"os"

	"github.com/gabe/swarm/internal/control"
	"github.com/gabe/swarm/internal/daemon"
	"github.com/gabe/swarm/internal/registry"
	"github.com/gabe/swarm/internal/tui"
	"github.com/spf13/cobra"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the TUI dashboard",
	Long:  `Launch the interactive dashboard for watching and steering the agents of a running operation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := getSwarmDir()
		if err != nil {
			return err
		}
		reg := registry.New(registry.DefaultPath(daemon.StateDir(root)))
		channel, err := control.NewChannel(daemon.ControlDir(root))
		if err != nil {
			return err
		}
		if err := tui.Run(reg.Load, channel); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}
