package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/labwire/orderdesk/internal/presentation/graph"
	"github.com/labwire/orderdesk/pkg/workflow"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the order workflow visualization",
	Long:  `Outputs a Mermaid diagram (graph TD) of the order collection steps and their transitions.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(workflow.Steps(), nil))
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
