package cmd

import (
	"fmt"
	"log"
	"os"

	"MirrorFM/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mirrorfm",
	Short: "MirrorFM mirrors one Spotify account's playback to many listeners.",
	Run: func(cmd *cobra.Command, args []string) {
		log.Println("Starting MirrorFM server...")
		server.Start()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
