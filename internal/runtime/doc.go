// Package runtime implements the orchestrator engine: it resolves the current
// stage, runs it, validates the destination it returns, applies its command
// and persists a checkpoint, until the thread terminates or suspends.
package runtime
