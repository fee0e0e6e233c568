package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"syscall"

	"github.com/gabe/swarm/internal/config"
	"github.com/gabe/swarm/internal/daemon"
	"github.com/spf13/cobra"
)

var debug bool

// Operation flags shared by init and daemon start
var (
	flagTarget      string
	flagAgents      int
	flagCategory    string
	flagModel       string
	flagInstruction string
	flagStealth     bool
	flagAggressive  bool
)

func addOperationFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagTarget, "target", "t", "", "Target host, IP or URL")
	cmd.Flags().IntVarP(&flagAgents, "agents", "n", 0, "Number of agents")
	cmd.Flags().StringVar(&flagCategory, "category", "", "Target category (domain, ip, web, network, api)")
	cmd.Flags().StringVar(&flagModel, "model", "", "Oracle model")
	cmd.Flags().StringVar(&flagInstruction, "instruction", "", "Extra instruction for every agent")
	cmd.Flags().BoolVar(&flagStealth, "stealth", false, "Prefer quiet, slow techniques")
	cmd.Flags().BoolVar(&flagAggressive, "aggressive", false, "Prefer fast, noisy techniques")
}

// applyOperationFlags overrides config with the flags the user actually set
func applyOperationFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("target") {
		cfg.Operation.Target = flagTarget
	}
	if flags.Changed("agents") {
		cfg.Operation.Agents = flagAgents
	}
	if flags.Changed("category") {
		cfg.Operation.Category = flagCategory
	}
	if flags.Changed("model") {
		cfg.Oracle.Model = flagModel
	}
	if flags.Changed("instruction") {
		cfg.Operation.CustomInstruction = flagInstruction
	}
	if flags.Changed("stealth") {
		cfg.Operation.Stealth = flagStealth
	}
	if flags.Changed("aggressive") {
		cfg.Operation.Aggressive = flagAggressive
	}
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the swarm daemon",
	Long:  `Start, stop, and check the status of the swarm daemon process.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start an operation in the foreground",
	Run: func(cmd *cobra.Command, args []string) {
		root, err := getSwarmDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg, err := loadConfig(root)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		applyOperationFlags(cmd, cfg)

		// Always log to daemon.log file for TUI viewing
		logDir := daemon.StateDir(root)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating log directory: %v\n", err)
			os.Exit(1)
		}
		logFile, err := os.OpenFile(filepath.Join(logDir, "daemon.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer logFile.Close()

		var out io.Writer = logFile
		if debug || cfg.Logging.Debug {
			// In debug mode, write to both stdout and log file
			out = io.MultiWriter(os.Stdout, logFile)
		}
		logger := log.New(out, "", log.LstdFlags)

		d := daemon.New(root, cfg, logger)

		fmt.Printf("%s Operation on %s with %d agent(s)\n", successStyle.Render("●"), cfg.Operation.Target, cfg.Operation.Agents)
		if cfg.API.Enabled {
			fmt.Println(mutedStyle.Render("API on http://" + cfg.API.Addr))
		}
		if err := d.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(successStyle.Render("✓") + " Operation finished, report in " + filepath.Join(logDir, "reports"))
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the swarm daemon",
	Run: func(cmd *cobra.Command, args []string) {
		root, err := getSwarmDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		pidFile := filepath.Join(daemon.StateDir(root), "daemon.pid")

		pid, err := daemon.ReadPID(pidFile)
		if os.IsNotExist(err) {
			fmt.Println(mutedStyle.Render("Daemon not running"))
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		process, err := os.FindProcess(pid)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding process: %v\n", err)
			os.Exit(1)
		}

		if err := process.Signal(syscall.SIGTERM); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping daemon: %v\n", err)
			os.Exit(1)
		}

		fmt.Println(successStyle.Render("✓") + " Daemon stop signal sent")
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Run: func(cmd *cobra.Command, args []string) {
		root, err := getSwarmDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		var out io.Writer = io.Discard
		if debug {
			out = os.Stdout
		}
		logger := log.New(out, "", log.LstdFlags)

		d := daemon.New(root, config.DefaultConfig(), logger)

		state, pid, err := d.Status()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if state == daemon.StateIdle {
			fmt.Println("Daemon: not running")
		} else {
			fmt.Printf("Daemon: %s (PID %d)\n", state, pid)
		}
	},
}

func init() {
	daemonCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug output")
	addOperationFlags(daemonStartCmd)
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}
