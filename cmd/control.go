package cmd

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/gabe/swarm/internal/config"
	"github.com/gabe/swarm/internal/control"
	"github.com/gabe/swarm/internal/daemon"
	"github.com/gabe/swarm/internal/registry"
	"github.com/spf13/cobra"
)

var errDaemonNotRunning = errors.New("daemon is not running")

// sendControl delivers one command to the running daemon
func sendControl(root string, action control.Action, agentID string) (control.Command, error) {
	d := daemon.New(root, config.DefaultConfig(), log.New(io.Discard, "", 0))
	state, _, err := d.Status()
	if err != nil {
		return control.Command{}, fmt.Errorf("failed to check daemon status: %w", err)
	}
	if state == daemon.StateIdle {
		return control.Command{}, errDaemonNotRunning
	}

	if agentID != "" {
		reg := registry.New(registry.DefaultPath(daemon.StateDir(root)))
		if _, err := reg.Get(agentID); err != nil {
			return control.Command{}, fmt.Errorf("unknown agent %s: %w", agentID, err)
		}
	}

	channel, err := control.NewChannel(daemon.ControlDir(root))
	if err != nil {
		return control.Command{}, err
	}
	return channel.Send(control.Command{Action: action, AgentID: agentID})
}

func controlCommand(action control.Action, use, short, long string, aliases ...string) *cobra.Command {
	args := cobra.MaximumNArgs(1)
	if action == control.ActionDelete {
		args = cobra.ExactArgs(1)
	}
	return &cobra.Command{
		Use:     use,
		Aliases: aliases,
		Short:   short,
		Long:    long,
		Args:    args,
		Run: func(cmd *cobra.Command, args []string) {
			root, err := getSwarmDir()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			agentID := ""
			if len(args) > 0 {
				agentID = args[0]
			}

			sent, err := sendControl(root, action, agentID)
			if errors.Is(err, errDaemonNotRunning) {
				fmt.Println(warningStyle.Render("Daemon is not running"))
				return
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			target := agentID
			if target == "" {
				target = "all agents"
			}
			fmt.Printf("%s %s requested for %s %s\n",
				successStyle.Render("✓"), action, target, mutedStyle.Render(fmt.Sprintf("(seq %d)", sent.Seq)))
		},
	}
}

func init() {
	rootCmd.AddCommand(
		controlCommand(control.ActionPause, "pause [agent-id]", "Pause one agent or all agents",
			`Pause an agent between iterations. Without an agent ID every agent is paused.`, "p"),
		controlCommand(control.ActionResume, "resume [agent-id]", "Resume one agent or all agents",
			`Resume paused agents. Without an agent ID every agent is resumed.`),
		controlCommand(control.ActionStop, "stop [agent-id]", "Stop one agent or all agents",
			`Stop agents for good. Stopped agents keep their findings but never run again.`),
		controlCommand(control.ActionDelete, "delete <agent-id>", "Stop an agent and remove it from the pool",
			`Stop an agent and remove it from the pool, the message bus and the throttler.`, "rm"),
	)
}
