// Package command defines the uniform result every stage returns: a set of
// tagged state updates plus a destination, or a request to suspend.
package command

import (
	"encoding/json"

	"github.com/aretw0/conductor/pkg/domain"
)

// Command is the return value of every stage.
//
// Exactly one of Goto or Interrupt is meaningful: a Command carrying an
// Interrupt suspends the thread and its Updates are discarded.
type Command struct {
	Updates []Update
	Goto    string

	Interrupt  *domain.InterruptRequest
	Checkpoint json.RawMessage
}

// Continue applies updates and routes to dest.
func Continue(dest string, updates ...Update) Command {
	return Command{Goto: dest, Updates: updates}
}

// Suspend halts the thread until a value for req.Name arrives. The checkpoint
// is handed back to the stage on resume so it can continue where it stopped.
func Suspend(req domain.InterruptRequest, checkpoint json.RawMessage) Command {
	return Command{Interrupt: &req, Checkpoint: checkpoint}
}

// IsSuspend reports whether the command halts the thread.
func (c Command) IsSuspend() bool {
	return c.Interrupt != nil
}
