package domain

import "slices"

// StateDiff represents the changes between two checkpoints of a thread.
// It is serialized to JSON for streaming partial updates to clients.
type StateDiff struct {
	ThreadID string `json:"thread_id"`

	Node   *string `json:"node,omitempty"`
	Status *Status `json:"status,omitempty"`

	// Messages holds transcript entries appended since the old checkpoint.
	Messages []Message `json:"messages,omitempty"`

	// Plans is present only when the queue changed.
	Plans       []string `json:"plans,omitempty"`
	CurrentTask *string  `json:"current_task,omitempty"`

	Interrupt *InterruptRequest `json:"interrupt,omitempty"`
	Answer    *string           `json:"answer,omitempty"`
}

// Diff calculates the difference between oldState and newState.
// If oldState is nil, it returns a diff representing the entire newState.
// It returns nil when nothing observable changed.
func Diff(oldState, newState *State) *StateDiff {
	if newState == nil {
		return nil
	}

	diff := &StateDiff{ThreadID: newState.ThreadID}

	if oldState == nil || oldState.Node != newState.Node {
		diff.Node = &newState.Node
	}
	if oldState == nil || oldState.Status != newState.Status {
		diff.Status = &newState.Status
	}

	// Transcript is append-only.
	from := 0
	if oldState != nil && len(oldState.Messages) <= len(newState.Messages) {
		from = len(oldState.Messages)
	}
	if from < len(newState.Messages) {
		diff.Messages = newState.Messages[from:]
	}

	if oldState == nil || !slices.Equal(oldState.Plans, newState.Plans) {
		if len(newState.Plans) > 0 {
			diff.Plans = newState.Plans
		}
	}
	if oldState == nil || oldState.CurrentTask != newState.CurrentTask {
		if newState.CurrentTask != "" {
			diff.CurrentTask = &newState.CurrentTask
		}
	}
	if newState.Pending != nil && (oldState == nil || oldState.Pending == nil || oldState.Pending.ID != newState.Pending.ID) {
		diff.Interrupt = &newState.Pending.Request
	}
	if newState.Answer != "" && (oldState == nil || oldState.Answer != newState.Answer) {
		diff.Answer = &newState.Answer
	}

	if diff.IsEmpty() {
		return nil
	}
	return diff
}

// IsEmpty checks if the diff contains any actionable changes.
func (d *StateDiff) IsEmpty() bool {
	return d.Node == nil &&
		d.Status == nil &&
		len(d.Messages) == 0 &&
		d.Plans == nil &&
		d.CurrentTask == nil &&
		d.Interrupt == nil &&
		d.Answer == nil
}
