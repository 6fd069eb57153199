/*
Package agent runs the bounded reason-act loop for one user turn.

A turn appends the user message, then alternates between the reasoning engine
and the tool dispatcher for at most MaxIterations round trips:

	user message
	  -> engine(system prompt + history + tools of the current step)
	     -> tool calls? execute each, append results, repeat
	     -> text?       append as the assistant reply, stop

The loop never returns an error. Engine failures, content-filter refusals,
closed sessions and an exhausted iteration budget all produce a fixed reply
with a distinct Outcome. An explicit "confirm" at the confirm step finalizes
the order without an engine call.
*/
package agent
