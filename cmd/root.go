package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabe/swarm/internal/config"
	"github.com/gabe/swarm/internal/daemon"
	"github.com/gabe/swarm/internal/storage"
	"github.com/spf13/cobra"
)

var flagDir string

var rootCmd = &cobra.Command{
	Use:   "swarm",
	Short: "Swarm - autonomous security agent pool",
	Long:  `Run a pool of LLM-driven agents against a target and watch, steer and report on them.`,
}

func Execute() error {
	return rootCmd.Execute()
}

// getSwarmDir returns the project root holding .swarm
func getSwarmDir() (string, error) {
	if flagDir != "" {
		return filepath.Abs(flagDir)
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return dir, nil
}

func configPath(root string) string {
	return filepath.Join(daemon.StateDir(root), "config.toml")
}

// loadConfig reads .swarm/config.toml, writing the defaults on first use
func loadConfig(root string) (*config.Config, error) {
	return config.LoadOrCreate(configPath(root))
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", "", "project directory (default: current directory)")
}

// readConfig loads the config without creating it, falling back to defaults
func readConfig(root string) *config.Config {
	cfg, err := config.Load(configPath(root))
	if err != nil {
		return config.DefaultConfig()
	}
	return cfg
}

// openStore opens the operation database named by the config
func openStore(root string, cfg *config.Config) (*storage.Store, error) {
	path := filepath.Join(daemon.StateDir(root), cfg.Storage.Database)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no operation database at %s: %w", path, err)
	}
	return storage.Open(path)
}

func eventsDir(root string, cfg *config.Config) string {
	return filepath.Join(daemon.StateDir(root), cfg.Storage.EventsDir)
}
