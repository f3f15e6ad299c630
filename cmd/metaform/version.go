package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	metaform "github.com/metaform/metaform-management"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of metaform",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "metaform version %s\n", strings.TrimSpace(metaform.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
