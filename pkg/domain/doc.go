// Package domain contains the core types shared by every layer of conductor:
// the per-thread State, transcript Messages, interrupt requests, guardrail
// Limits, reserved routing symbols and lifecycle events.
//
// The package has no dependencies on adapters or on the engine. Everything a
// stage reads comes from State; everything it writes goes through the command
// package.
package domain
