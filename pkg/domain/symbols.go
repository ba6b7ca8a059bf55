package domain

// Reserved routing symbols. They are intercepted before registry lookup and
// can never be registered as node names.
const (
	End      = "END"
	NextTask = "NEXT_TASK"
	Back     = "BACK"
	Terminal = "__terminal__"
)

// IsReserved reports whether name is a routing symbol.
func IsReserved(name string) bool {
	switch name {
	case End, NextTask, Back, Terminal:
		return true
	}
	return false
}

// NoTasksLeft is the sentinel task set when the plan queue is empty.
const NoTasksLeft = "No tasks left"

// ActionableMarker prefixes every acknowledgment on the actionable path.
const ActionableMarker = "On it:"

// Canned user-facing messages for deterministic failure exits.
const (
	InsufficientAgentsMessage = "I could not find a capability able to handle this request. Please rephrase it or try something else."
	DirectFallbackMessage     = "Sorry, I could not process that request right now. Please try again."
	FinalFallbackMessage      = "I was unable to complete the request."
)
