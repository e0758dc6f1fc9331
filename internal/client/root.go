// Package client is the safeguard command line: account, report queue and
// tracking commands over the same core the daemon runs.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonero-cloud/safeguard/internal/app"
	"github.com/tonero-cloud/safeguard/internal/config"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config

	// appOptions are passed to every app.New call. Tests use it to pin
	// connectivity and the secure store.
	appOptions []app.Option
)

var rootCmd = &cobra.Command{
	Use:   "safeguard",
	Short: "Offline-first safety reporting client",
}

func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the command tree with ctx, so long-running commands
// stop when it is cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/safeguard/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at the configured level instead of warnings only")
}

func initConfig() {
	path, err := ConfigPath()
	if err != nil {
		fmt.Println("Error getting config path:", err)
		os.Exit(1)
	}

	cfg, err = config.Load(path)
	if err != nil {
		fmt.Println("Error loading config:", err)
		os.Exit(1)
	}
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Println("Error reading environment:", err)
		os.Exit(1)
	}
}

// ConfigPath is the --config value, or the per-user default.
func ConfigPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultPath()
}

func GetRootCmd() *cobra.Command {
	return rootCmd
}

func GetConfig() *config.Config {
	return cfg
}

func SaveConfigGlobal() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return config.Save(path, cfg)
}

func logger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = cfg.Level()
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openApp builds the core from the loaded config. The caller closes it.
func openApp(cmd *cobra.Command) (*app.App, error) {
	opts := append([]app.Option{app.WithLogger(logger())}, appOptions...)
	return app.New(cmd.Context(), cfg, opts...)
}

// withApp opens the app, runs fn and closes it, printing any error the way
// every command reports failures.
func withApp(cmd *cobra.Command, what string, fn func(ctx context.Context, a *app.App) error) {
	a, err := openApp(cmd)
	if err != nil {
		fmt.Println("Error opening local store:", err)
		return
	}
	defer func() { _ = a.Close() }()

	if err := fn(cmd.Context(), a); err != nil {
		fmt.Printf("%s failed: %v\n", what, err)
	}
}
