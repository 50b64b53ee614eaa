package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowhost-dev/flowhost/internal/infrastructure/build"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Fprintln(os.Stdout, build.Get().String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
