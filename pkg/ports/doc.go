/*
Package ports defines the driven ports (interfaces) for the conductor engine.

These interfaces decouple the orchestration core from external implementations,
allowing the engine to work with various checkpoint stores, lock backends, tool
collaborators and capability search services.

# Key Interfaces

  - StateStore: persists and loads thread checkpoints.
  - DistributedLocker: single-writer coordination across replicas.
  - Tool / ResumableTool: the boundary to concrete tool implementations.
  - CapabilitySearcher: the boundary to capability retrieval.
  - Orchestrator: what transports (HTTP, MCP, CLI) drive.
*/
package ports
