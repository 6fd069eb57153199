package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/labwire/orderdesk"
	"github.com/labwire/orderdesk/internal/cli"
	"github.com/labwire/orderdesk/internal/presentation/tui"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Place an order interactively",
	Long: `Starts an interactive order conversation on the terminal.
With --json, each input line is a JSON string or {"message": "..."} and each
reply is printed as one JSON object per line.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		opts := cli.ChatOptions{}
		opts.JSON, _ = cmd.Flags().GetBool("json")
		opts.SessionID, _ = cmd.Flags().GetString("session")
		opts.Owner, _ = cmd.Flags().GetString("owner")
		opts.Verbose, _ = cmd.Flags().GetBool("verbose")
		opts.Quiet, _ = cmd.Flags().GetBool("quiet")

		if !opts.JSON && !opts.Quiet && tui.IsTerminal(os.Stdout) {
			tui.PrintBanner(os.Stdout, orderdesk.Version)
		}

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()
		return cli.RunChat(ctx, app, opts, os.Stdin, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().Bool("json", false, "Use JSON-Lines input and output")
	chatCmd.Flags().String("session", "", "Resume an existing session")
	chatCmd.Flags().String("owner", "", "Owner ID recorded on new sessions")
	chatCmd.Flags().BoolP("verbose", "v", false, "Show tool calls and workflow step after each reply")
	chatCmd.Flags().BoolP("quiet", "q", false, "Suppress banner and greeting")
}
