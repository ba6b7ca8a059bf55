package cli

import (
	"context"
	"io"
	"os"

	"github.com/aretw0/conductor/internal/presentation/tui"
	"github.com/aretw0/conductor/pkg/runner"
)

// ChatOptions configures an interactive conversation.
type ChatOptions struct {
	ThreadID string
	UserID   string
	// JSON switches to the line-delimited JSON protocol for programmatic
	// callers.
	JSON bool
	// Plain disables markdown rendering of answers.
	Plain bool
	Quiet bool
	In    io.Reader
	Out   io.Writer
}

// Chat runs a conversation against app until the input ends, the user
// types /exit, or ctx is cancelled.
func Chat(ctx context.Context, app *App, opts ChatOptions) error {
	in, out := opts.In, opts.Out
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}

	var handler runner.IOHandler
	if opts.JSON {
		handler = runner.NewJSONHandler(in, out)
	} else {
		var hopts []runner.TextHandlerOption
		if !opts.Plain {
			hopts = append(hopts, runner.WithTextHandlerRenderer(tui.NewRenderer()))
		}
		handler = runner.NewTextHandler(in, out, hopts...)
	}

	r := runner.New(app.Engine,
		runner.WithHandler(handler),
		runner.WithThreadID(opts.ThreadID),
		runner.WithUserID(opts.UserID),
		runner.WithLogger(app.Logger),
	)

	showStatus := !opts.Quiet && !opts.JSON
	if showStatus && opts.ThreadID != "" {
		if st, err := app.Engine.Thread(ctx, opts.ThreadID); err == nil {
			printSystemMessage(out, "Resuming thread '%s' (%s).", opts.ThreadID, st.Status)
		}
	}

	err := r.Run(ctx)
	if showStatus {
		if ctx.Err() != nil {
			printSystemMessage(out, "Interrupted. Thread '%s' is saved.", r.ThreadID())
		} else if r.ThreadID() != "" {
			printSystemMessage(out, "Thread '%s' saved.", r.ThreadID())
		}
	}
	return handleExecutionError(err)
}
