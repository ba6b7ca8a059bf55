/*
Package observability turns engine lifecycle hooks into Prometheus metrics,
structured log lines and per-thread event streams.

Each component exposes Hooks() returning a domain.LifecycleHooks; combine
them with domain.MergeHooks and pass the result to the engine.
*/
package observability
