package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/origami/pkg/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit, and build time of origami.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if output == "json" {
			return printJSON(config.GetBuildInfo())
		}
		fmt.Println(config.VersionString())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
