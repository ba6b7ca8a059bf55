/*
Package conductor is a multi-stage request orchestration engine for
LLM-driven assistants.

A request travels through a fixed set of stages: an intent router that
either answers directly or hands off, capability discovery, a planner that
breaks the objective into steps, a dispatcher that sends each step to a
tool-using agent (optionally through supervisors), a replanner, and a final
answer stage. Every stage is bounded by a guardrail so a turn always ends.

# State and checkpoints

Each conversation is a thread. The engine checkpoints the thread after
every applied stage. When a tool needs a human (to pick an option, fill a
field or connect an account) the thread suspends; Resume delivers the
value and execution continues from the suspended tool call as if it had
returned synchronously.

# Usage

	eng, err := conductor.NewPipeline(stages.PipelineConfig{
		Model:  model,
		Agents: []stages.NodeConfig{{Name: "mail", Tools: mailTools}},
	}, conductor.WithStore(file.New(".conductor/threads")))
	if err != nil {
		log.Fatal(err)
	}

	res, err := eng.Invoke(ctx, ports.Request{ThreadID: "t1", Input: "email Ana the report"})
	if res.Interrupt != nil {
		res, err = eng.Resume(ctx, ports.ResumeRequest{ThreadID: "t1", Name: res.Interrupt.Name, Value: "ana@example.com"})
	}
	fmt.Println(res.Answer)

Transports (HTTP, MCP, the CLI) drive the ports.Orchestrator interface the
Engine implements.
*/
package conductor
