package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luma/courier/internal/meta"
)

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the courier version",
	Run: func(cmd *cobra.Command, args []string) {
		info := meta.GetInfo()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "courier %s\n", info.Version)
		fmt.Fprintf(out, "  build:    %s\n", info.Build)
		fmt.Fprintf(out, "  built at: %s\n", info.BuildTime)
		fmt.Fprintf(out, "  platform: %s\n", info.Platform)
		fmt.Fprintf(out, "  go:       %s\n", info.GoVersion)
	},
}
