// Package cli implements the callmesh command line client.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "callmesh",
	Short: "Join multi-party calls through a callmesh relay",
	Long: `callmesh is the command-line client for the callmesh signaling relay.
It joins a room, negotiates a WebRTC link with every other participant and
keeps those links alive through ICE restarts, relay fallback and TURN
rotation when the network misbehaves.`,
}

// Execute runs the root command. Called once from main.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}
