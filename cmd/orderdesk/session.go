package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/labwire/orderdesk/internal/cli"
	"github.com/labwire/orderdesk/internal/presentation/graph"
	"github.com/labwire/orderdesk/pkg/workflow"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage stored sessions",
	Long:  `List, inspect, and remove sessions and orders in the configured store.`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List sessions, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(cmd, cli.Offline())
		if err != nil {
			return err
		}
		defer app.Close()

		owner, _ := cmd.Flags().GetString("owner")
		sessions, err := app.Assistant.Sessions(cmd.Context(), owner)
		if err != nil {
			return fmt.Errorf("error listing sessions: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(sessions) == 0 {
			fmt.Fprintln(out, "No sessions found.")
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tOWNER\tSTATUS\tORDER\tLAST ACTIVITY")
		for _, s := range sessions {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.OwnerID, s.Status, s.OrderNumber, s.LastActivityAt.Format(time.RFC3339))
		}
		return tw.Flush()
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Show the draft and status of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(cmd, cli.Offline())
		if err != nil {
			return err
		}
		defer app.Close()

		conv, err := app.Assistant.Session(cmd.Context(), args[0], "")
		if err != nil {
			return fmt.Errorf("error loading session '%s': %w", args[0], err)
		}

		if asGraph, _ := cmd.Flags().GetBool("graph"); asGraph {
			fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(workflow.Steps(), graph.ProgressOverlay(conv.Draft)))
			return nil
		}

		return printJSON(cmd.OutOrStdout(), map[string]any{
			"session": conv.Session,
			"step":    workflow.New().Step(conv.Draft),
			"draft":   conv.Draft,
			"order":   conv.Order,
		})
	},
}

var sessionTranscriptCmd = &cobra.Command{
	Use:   "transcript <session-id>",
	Short: "Print the messages of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(cmd, cli.Offline())
		if err != nil {
			return err
		}
		defer app.Close()

		msgs, err := app.Assistant.Transcript(cmd.Context(), args[0], "")
		if err != nil {
			return fmt.Errorf("error loading transcript '%s': %w", args[0], err)
		}

		out := cmd.OutOrStdout()
		for _, m := range msgs {
			switch {
			case len(m.ToolCalls) > 0:
				for _, c := range m.ToolCalls {
					fmt.Fprintf(out, "[%s] %s %s\n", m.Role, c.Name, c.Arguments)
				}
			default:
				fmt.Fprintf(out, "[%s] %s\n", m.Role, m.Content)
			}
		}
		return nil
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <session-id>...",
	Short: "Remove one or more sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(cmd, cli.Offline())
		if err != nil {
			return err
		}
		defer app.Close()

		out := cmd.OutOrStdout()
		hasError := false
		for _, id := range args {
			if err := app.Assistant.DeleteSession(cmd.Context(), id, ""); err != nil {
				fmt.Fprintf(out, "Error removing '%s': %v\n", id, err)
				hasError = true
				continue
			}
			fmt.Fprintf(out, "Removed session '%s'\n", id)
		}
		if hasError {
			return fmt.Errorf("some sessions could not be removed")
		}
		return nil
	},
}

var orderCmd = &cobra.Command{
	Use:   "order <order-number>",
	Short: "Show a submitted order, or list them with 'order ls'",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(cmd, cli.Offline())
		if err != nil {
			return err
		}
		defer app.Close()

		o, err := app.Assistant.Order(cmd.Context(), args[0], "")
		if err != nil {
			return fmt.Errorf("error loading order '%s': %w", args[0], err)
		}
		return printJSON(cmd.OutOrStdout(), o)
	},
}

var orderLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List submitted orders, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(cmd, cli.Offline())
		if err != nil {
			return err
		}
		defer app.Close()

		owner, _ := cmd.Flags().GetString("owner")
		limit, _ := cmd.Flags().GetInt("limit")
		orders, err := app.Assistant.Orders(cmd.Context(), owner, limit)
		if err != nil {
			return fmt.Errorf("error listing orders: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(orders) == 0 {
			fmt.Fprintln(out, "No orders found.")
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NUMBER\tOWNER\tRESTORATION\tMATERIAL\tPRODUCT\tCONFIRMED")
		for _, o := range orders {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", o.Number, o.OwnerID, o.RestorationType, o.Material, o.ProductCode, o.ConfirmedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	},
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(orderCmd)
	orderCmd.AddCommand(orderLsCmd)
	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionInspectCmd)
	sessionCmd.AddCommand(sessionTranscriptCmd)
	sessionCmd.AddCommand(sessionRmCmd)

	sessionLsCmd.Flags().String("owner", "", "Only list sessions of this owner")
	orderLsCmd.Flags().String("owner", "", "Only list orders of this owner")
	orderLsCmd.Flags().Int("limit", 20, "Maximum number of orders (0 for all)")
	sessionInspectCmd.Flags().Bool("graph", false, "Print the workflow graph with the session's progress")
}
