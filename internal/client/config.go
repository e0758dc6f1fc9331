package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonero-cloud/safeguard/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(setServerCmd)

	configInitCmd.Flags().String("server", "", "Backend URL")
	configInitCmd.Flags().String("data-dir", "", "Directory for the local store")
	configInitCmd.Flags().String("kv", "", "Local store backend (sqlite or file)")
	configInitCmd.Flags().String("secure", "", "Token store (keyring, vault or none)")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with defaults and the given overrides",
	Run: func(cmd *cobra.Command, args []string) {
		next := config.Default()
		if v, _ := cmd.Flags().GetString("server"); v != "" {
			next.ServerURL = v
		}
		if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
			next.DataDir = v
		}
		if v, _ := cmd.Flags().GetString("kv"); v != "" {
			next.KVBackend = v
		}
		if v, _ := cmd.Flags().GetString("secure"); v != "" {
			next.SecureBackend = v
		}
		if err := next.Validate(); err != nil {
			fmt.Println("Invalid configuration:", err)
			return
		}

		cfg = next
		if err := SaveConfigGlobal(); err != nil {
			fmt.Println("Error saving config:", err)
			return
		}
		path, _ := ConfigPath()
		fmt.Printf("Configuration written to %s\n", path)
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Run: func(cmd *cobra.Command, args []string) {
		path, err := ConfigPath()
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		fmt.Println(path)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		fmt.Println(string(data))
	},
}

var setServerCmd = &cobra.Command{
	Use:   "set-server <url>",
	Short: "Set the backend URL",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg.ServerURL = args[0]
		if err := cfg.Validate(); err != nil {
			fmt.Println("Invalid server URL:", err)
			return
		}
		if err := SaveConfigGlobal(); err != nil {
			fmt.Println("Error saving config:", err)
			return
		}
		fmt.Printf("Server URL set to %s\n", args[0])
	},
}
