/*
Package runner drives a conversation with a ports.Orchestrator from an
interactive or headless frontend.

The Runner reads a user message, invokes a turn, and while the turn is
suspended asks the IOHandler for the human value and resumes it. Handlers
decouple the interaction mode from the loop:

  - TextHandler: line-oriented terminal prompts with optional rendering.
  - JSONHandler: JSON Lines for process-to-process use.

# Usage

	r := runner.New(engine,
		runner.WithThreadID("ana-1"),
		runner.WithHandler(runner.NewTextHandler(os.Stdin, os.Stdout)),
	)
	if err := r.Run(ctx); err != nil {
		log.Fatal(err)
	}
*/
package runner
