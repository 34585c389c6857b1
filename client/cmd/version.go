package cmd

import (
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X .../client/cmd.Version=..."
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the hexagent version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("hexagent %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
