// Package cmd wires the gitfs engine into a cobra CLI.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/moneybenn-online/salt/internal/config"
	"github.com/moneybenn-online/salt/internal/fileserver"
	"github.com/moneybenn-online/salt/internal/vcs"
	_ "github.com/moneybenn-online/salt/internal/vcs/gitcli"
)

var (
	configPath string
	logLevel   string
	saltenv    string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&saltenv, "saltenv", "base", "Environment to operate on")
}

var rootCmd = &cobra.Command{
	Use:          "gitfs",
	Short:        "Git-backed environment fileserver",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(logLevel)); err != nil {
			return fmt.Errorf("bad log level %q: %w", logLevel, err)
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
		return nil
	},
}

// registry holds the CLI's engine instances; commands create and destroy
// through it so teardown is explicit.
var registry = fileserver.NewRegistry()

// loadConfig reads the configuration file, defaulting to
// ~/.gitfs/config.yaml when --config is not given.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		path = filepath.Join(home, ".gitfs", "config.yaml")
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if cfg.CacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		cfg.CacheDir = filepath.Join(home, ".gitfs", "cache")
	}
	return cfg, nil
}

// newEngine builds the engine behind the "cli" registry key. The caller
// must destroy it when done.
func newEngine() (*fileserver.Fileserver, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	provider, err := vcs.Open(cfg.Provider)
	if err != nil {
		return nil, nil, err
	}
	srv, err := registry.Create("cli", cfg, provider, slog.Default())
	if err != nil {
		return nil, nil, err
	}
	return srv, cfg, nil
}

func closeEngine() {
	if err := registry.Destroy("cli"); err != nil {
		slog.Warn("engine shutdown", "error", err)
	}
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
