package cmd

import (
	"github.com/spf13/cobra"
	"vale/internal/logger"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "vale",
	Short: "Vale - native request broker and device bridge",
	Long: `Vale links a cloud AI backend to a user's physical device over an
intermittent WebSocket connection. It ships the device bridge daemon plus
utilities to issue native requests, push vitals readings and mint device
credentials.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger.SetSilentMode(false)
			logger.SetLevel("debug")
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(bridgeCmd)
	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(vitalsCmd)
	rootCmd.AddCommand(tokenCmd)
}
