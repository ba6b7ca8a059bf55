package runtime

import "fmt"

// UnhandledStageError is returned when a stage fails and no error node is configured.
type UnhandledStageError struct {
	Stage string
	Cause error
}

func (e *UnhandledStageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Cause)
}

func (e *UnhandledStageError) Unwrap() error {
	return e.Cause
}
