package cmd

import (
	"fmt"
	"os"

	"github.com/gabe/swarm/internal/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration",
	Long:  `Create .swarm/config.toml in the project directory with default settings.`,
	Run: func(cmd *cobra.Command, args []string) {
		root, err := getSwarmDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		path := configPath(root)

		if _, err := os.Stat(path); err == nil && !initForce {
			fmt.Println(mutedStyle.Render("Config already exists at " + path))
			return
		}

		cfg := config.DefaultConfig()
		applyOperationFlags(cmd, cfg)
		if err := config.Save(path, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Println(successStyle.Render("✓") + " Wrote " + path)
		if cfg.Operation.Target == "" {
			fmt.Println(mutedStyle.Render("Set operation.target or pass --target to 'swarm daemon start'"))
		}
		if os.Getenv(cfg.Oracle.APIKeyEnv) == "" {
			fmt.Println(warningStyle.Render(cfg.Oracle.APIKeyEnv + " is not set"))
		}
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config")
	addOperationFlags(initCmd)
	rootCmd.AddCommand(initCmd)
}
