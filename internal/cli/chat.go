package cli

import (
	"context"
	"io"

	"github.com/labwire/orderdesk/internal/presentation/tui"
	"github.com/labwire/orderdesk/pkg/runner"
)

// ChatOptions configures an interactive chat.
type ChatOptions struct {
	SessionID string
	Owner     string
	JSON      bool // JSON-Lines IO instead of text
	Verbose   bool // Print tool calls and steps under each reply
	Quiet     bool // No greeting
}

const greeting = "Describe the restoration you need, or type /help. Type exit to leave."

// createRunnerOptions prepares the functional options for the Runner.
func createRunnerOptions(app *App, opts ChatOptions, in io.Reader, out io.Writer) []runner.Option {
	ropts := []runner.Option{
		runner.WithLogger(app.Logger),
		runner.WithOwner(opts.Owner),
		runner.WithSessionID(opts.SessionID),
	}

	if opts.JSON {
		return append(ropts, runner.WithInputHandler(runner.NewJSONHandler(in, out)))
	}

	hopts := []runner.TextHandlerOption{runner.WithVerbose(opts.Verbose)}
	if render := tui.RendererFor(out); render != nil {
		hopts = append(hopts, runner.WithTextHandlerRenderer(render))
	}
	ropts = append(ropts, runner.WithInputHandler(runner.NewTextHandler(in, out, hopts...)))
	if !opts.Quiet {
		ropts = append(ropts, runner.WithGreeting(greeting))
	}
	return ropts
}

// RunChat drives the assistant from in until the input ends or ctx is done.
func RunChat(ctx context.Context, app *App, opts ChatOptions, in io.Reader, out io.Writer) error {
	r := runner.NewRunner(createRunnerOptions(app, opts, in, out)...)
	err := r.Run(ctx, app.Assistant)
	if r.SessionID != "" && !opts.JSON && !opts.Quiet {
		PrintSystemMessage(out, "Session %s saved. Resume with --session %s.", r.SessionID, r.SessionID)
	}
	return HandleExecutionError(err)
}
