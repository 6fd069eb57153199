/*
Package runner implements the interactive chat loop for the order assistant.

It reads user lines through a pluggable IOHandler, passes them through an
Interceptor for slash commands, runs one turn per line and prints the reply.
A confirmed order ends the session; the next line opens a new one.

# Key Components

  - Runner: the read, turn, print loop.
  - TextHandler: interactive terminal IO with an optional markdown renderer.
  - JSONHandler: JSON-Lines IO for scripting and pipes.
  - SanitizeInput: size limit and control character stripping shared by every adapter.

# Usage

	r := runner.NewRunner(
		runner.WithInputHandler(runner.NewTextHandler(os.Stdin, os.Stdout)),
		runner.WithOwner("dr-lee"),
	)

	if err := r.Run(ctx, assistant); err != nil {
		log.Fatal(err)
	}
*/
package runner
