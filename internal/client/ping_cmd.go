package client

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonero-cloud/safeguard/internal/netstate"
)

func init() {
	rootCmd.AddCommand(pingCmd)
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check connection to the backend",
	Run: func(cmd *cobra.Command, args []string) {
		url := cfg.ServerURL
		if url == "" {
			fmt.Println("Server URL not set in config")
			return
		}

		fmt.Printf("Pinging %s...\n", url)
		start := time.Now()
		s := netstate.NewProber(url, netstate.WithLogger(logger())).Check(cmd.Context())
		duration := time.Since(start)

		switch {
		case s.Online():
			fmt.Printf("Pong! Backend is reachable (Latency: %v)\n", duration)
		case !s.IsConnected:
			fmt.Println("No network connection")
		default:
			fmt.Println("Backend is not reachable")
		}
	},
}
