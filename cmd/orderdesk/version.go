package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/labwire/orderdesk"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of orderdesk",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "orderdesk version %s\n", strings.TrimSpace(orderdesk.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
