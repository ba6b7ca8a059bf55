package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/conductor/pkg/command"
	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/llm"
	"github.com/aretw0/conductor/pkg/ports"
	"github.com/aretw0/conductor/pkg/registry"
	"github.com/aretw0/conductor/pkg/schema"
	"github.com/aretw0/conductor/pkg/tools"
)

// Executor decisions.
const (
	DecisionRetry = "RETRY"
	DecisionEnd   = "END"
)

var errBadCheckpoint = errors.New("invalid executor checkpoint")

// NodeConfig parameterizes one tool-agent. The same Executor serves every
// capability domain; only the config differs.
type NodeConfig struct {
	Name               string
	RoutingDescription string
	Tools              *registry.Toolset
	// Parent receives control when the agent hands back. Defaults to the
	// task dispatcher.
	Parent       string
	Instructions string
	// MaxRetries caps self-retries per task. Defaults to Limits.MaxAgentRetries.
	MaxRetries int
}

const executorPrompt = `You are the %s agent.
%s
Complete the current task using your tools. Call tools only when they are needed and stop
calling them once the task is done, then reply with a short summary of what you did.

Current task: %s`

const reviewPrompt = `Review the work of the %s agent on the task %q.

Answer RETRY only if another attempt with the same tools is likely to succeed where this one
failed. Answer END otherwise, with completed=true only if the task is fully done.`

var reviewSchema = llm.Schema{
	Name:        "review_task",
	Description: "Decide whether the agent should retry the task or hand back.",
	Properties: map[string]any{
		"decision":  llm.Enum("RETRY to try again, END to hand back", DecisionRetry, DecisionEnd),
		"completed": llm.Bool("Whether the task is fully done"),
		"reason":    llm.String("One sentence explaining the decision"),
	},
	Required: []string{"decision", "completed"},
}

type reviewDecision struct {
	Decision  string `json:"decision"`
	Completed bool   `json:"completed"`
	Reason    string `json:"reason"`
}

// invocation is the in-flight work of one executor run. It is the
// continuation checkpoint stored when a tool suspends.
type invocation struct {
	// Block holds the assistant tool-call turns and their paired results.
	Block []domain.Message `json:"block"`
	// Pending holds the unanswered calls of the latest turn; the first one is
	// the suspended call site.
	Pending []domain.ToolCall  `json:"pending,omitempty"`
	Calls   int                `json:"calls"`
	Last    *domain.ToolOutput `json:"last,omitempty"`
	Usage   domain.Usage       `json:"usage,omitempty"`
}

// Executor is the generic tool-agent.
//
// One run presents the tools to the model, executes requested calls one at a
// time until the model stops asking, then asks a bounded RETRY/END question.
// The transcript block of a run is appended only when the run finishes, so a
// run resumed after a suspension produces the same transcript as one whose
// tool returned synchronously.
type Executor struct {
	cfg  NodeConfig
	deps Deps
}

func NewExecutor(cfg NodeConfig, deps Deps) *Executor {
	deps = deps.withDefaults()
	if cfg.Parent == "" {
		cfg.Parent = TaskDispatcher
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = deps.Limits.MaxAgentRetries
	}
	return &Executor{cfg: cfg, deps: deps}
}

// Spec returns the registry entry for the agent.
func (x *Executor) Spec() registry.NodeSpec {
	return registry.NodeSpec{
		Name:               x.cfg.Name,
		Kind:               registry.KindAgent,
		Handler:            x,
		RoutingDescription: x.cfg.RoutingDescription,
		Fallback:           x.cfg.Parent,
		Targets:            []string{x.cfg.Name, x.cfg.Parent},
	}
}

func (x *Executor) Run(ctx context.Context, state *domain.State, resume *domain.Resumption) (command.Command, error) {
	inv := &invocation{Usage: domain.Usage{}}

	if resume != nil {
		if err := json.Unmarshal(resume.Checkpoint, inv); err != nil {
			return command.Command{}, fmt.Errorf("%w: %v", errBadCheckpoint, err)
		}
		if len(inv.Pending) == 0 {
			return command.Command{}, fmt.Errorf("%w: no suspended call", errBadCheckpoint)
		}
		call := inv.Pending[0]
		res := x.resumeCall(ctx, state, call, resume.Value)
		if res.Interrupt != nil {
			return x.suspend(*res.Interrupt, inv)
		}
		x.record(ctx, state, inv, call, res.Output)
		inv.Pending = inv.Pending[1:]
		if cmd, suspended, err := x.drain(ctx, state, inv); suspended || err != nil {
			return cmd, err
		}
	}

	final, chatErr := "", error(nil)
	for {
		if inv.Calls >= x.deps.Limits.MaxToolCalls {
			x.deps.guardrail(ctx, state, x.cfg.Name, domain.GuardrailToolCalls, inv.Calls, x.deps.Limits.MaxToolCalls)
			break
		}
		resp, err := x.deps.Model.Chat(ctx, llm.ChatRequest{
			System:   fmt.Sprintf(executorPrompt, x.cfg.Name, x.cfg.Instructions, state.CurrentTask),
			Messages: x.transcript(state, inv),
			Tools:    x.cfg.Tools.Specs(),
		})
		if err != nil {
			if ctx.Err() != nil {
				return command.Command{}, ctx.Err()
			}
			x.deps.Logger.Warn("agent model call failed", "thread_id", state.ThreadID, "agent", x.cfg.Name, "err", err)
			chatErr = err
			break
		}
		inv.Usage = inv.Usage.Add(resp.Usage)
		if len(resp.ToolCalls) == 0 {
			final = strings.TrimSpace(resp.Content)
			break
		}

		inv.Block = append(inv.Block, domain.Message{
			Role:      domain.RoleAssistant,
			Name:      x.cfg.Name,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		inv.Pending = resp.ToolCalls
		if cmd, suspended, err := x.drain(ctx, state, inv); suspended || err != nil {
			return cmd, err
		}
	}

	return x.finish(ctx, state, inv, final, chatErr)
}

// drain executes pending calls in order, stopping at the first interrupt.
func (x *Executor) drain(ctx context.Context, state *domain.State, inv *invocation) (command.Command, bool, error) {
	for len(inv.Pending) > 0 {
		call := inv.Pending[0]
		res := x.call(ctx, state, call)
		if res.Interrupt != nil {
			cmd, err := x.suspend(*res.Interrupt, inv)
			return cmd, true, err
		}
		x.record(ctx, state, inv, call, res.Output)
		inv.Pending = inv.Pending[1:]
	}
	return command.Command{}, false, nil
}

func (x *Executor) call(ctx context.Context, state *domain.State, call domain.ToolCall) ports.ToolResult {
	domain.Emit(ctx, x.deps.Hooks.OnToolCall, &domain.ToolEvent{
		EventBase: domain.NewBase(domain.EventToolCall, state.ThreadID),
		Stage:     x.cfg.Name,
		ToolName:  call.Name,
		CallID:    call.ID,
		Input:     call.Args,
	})
	t, ok := x.cfg.Tools.Get(call.Name)
	if !ok {
		return ports.ToolResult{Output: tools.ErrorOutput(fmt.Errorf("unknown tool %q", call.Name))}
	}
	if err := schema.ValidateArgs(t.Spec(), call.Args); err != nil {
		return ports.ToolResult{Output: tools.ErrorOutput(err)}
	}
	return tools.Call(ctx, t, call.Args, state.Caller())
}

func (x *Executor) resumeCall(ctx context.Context, state *domain.State, call domain.ToolCall, value any) ports.ToolResult {
	t, ok := x.cfg.Tools.Get(call.Name)
	if !ok {
		return ports.ToolResult{Output: tools.ErrorOutput(fmt.Errorf("unknown tool %q", call.Name))}
	}
	return tools.Resume(ctx, t, call.Args, state.Caller(), value)
}

func (x *Executor) record(ctx context.Context, state *domain.State, inv *invocation, call domain.ToolCall, out domain.ToolOutput) {
	inv.Calls++
	inv.Last = &out
	inv.Block = append(inv.Block, domain.ToolMessage(call.ID, call.Name, encodeOutput(out)))
	domain.Emit(ctx, x.deps.Hooks.OnToolReturn, &domain.ToolEvent{
		EventBase: domain.NewBase(domain.EventToolReturn, state.ThreadID),
		Stage:     x.cfg.Name,
		ToolName:  call.Name,
		CallID:    call.ID,
		Output:    out.Output,
		IsError:   out.IsError(),
	})
}

func (x *Executor) suspend(req domain.InterruptRequest, inv *invocation) (command.Command, error) {
	cp, err := json.Marshal(inv)
	if err != nil {
		return command.Command{}, fmt.Errorf("encode checkpoint: %w", err)
	}
	return command.Suspend(req, cp), nil
}

func (x *Executor) transcript(state *domain.State, inv *invocation) []domain.Message {
	msgs := make([]domain.Message, 0, len(state.Messages)+len(inv.Block))
	msgs = append(msgs, state.Messages...)
	return append(msgs, inv.Block...)
}

// finish appends the run's transcript block and decides RETRY or END.
func (x *Executor) finish(ctx context.Context, state *domain.State, inv *invocation, final string, chatErr error) (command.Command, error) {
	block := inv.Block
	if final != "" {
		block = append(block, domain.AssistantMessage(x.cfg.Name, final))
	}
	updates := []command.Update{command.AppendMessages(block...)}
	if inv.Last != nil {
		updates = append(updates, command.SetToolOutput(*inv.Last))
	}

	if chatErr != nil {
		return x.handBack(withUsage(updates, inv.Usage), false), nil
	}

	d, usage, err := llm.Decide[reviewDecision](ctx, x.deps.Model, llm.DecisionRequest{
		System:   fmt.Sprintf(reviewPrompt, x.cfg.Name, state.CurrentTask),
		Messages: append(x.transcript(state, &invocation{}), block...),
		Schema:   reviewSchema,
	})
	updates = withUsage(updates, inv.Usage.Add(usage))
	if err != nil {
		if ctx.Err() != nil {
			return command.Command{}, ctx.Err()
		}
		x.deps.Logger.Warn("review decision failed, handing back", "thread_id", state.ThreadID, "agent", x.cfg.Name, "err", err)
		return x.handBack(updates, false), nil
	}

	if d.Decision == DecisionRetry && !d.Completed {
		if state.AgentRetries >= x.cfg.MaxRetries {
			x.deps.guardrail(ctx, state, x.cfg.Name, domain.GuardrailAgentRetry, state.AgentRetries, x.cfg.MaxRetries)
			return x.handBack(updates, false), nil
		}
		x.deps.Logger.Info("agent retrying task", "thread_id", state.ThreadID, "agent", x.cfg.Name, "attempt", state.AgentRetries+1, "reason", d.Reason)
		return command.Continue(x.cfg.Name, append(updates,
			command.SetAgentRetries(state.AgentRetries+1),
			command.SetTaskStatus(domain.TaskInProgress),
		)...), nil
	}
	return x.handBack(updates, d.Completed), nil
}

func (x *Executor) handBack(updates []command.Update, completed bool) command.Command {
	status := domain.TaskInProgress
	if completed {
		status = domain.TaskCompleted
	}
	return command.Continue(x.cfg.Parent, append(updates,
		command.SetTaskStatus(status),
		command.SetAgentRetries(0),
	)...)
}

func encodeOutput(out domain.ToolOutput) string {
	b, err := json.Marshal(out)
	if err != nil {
		b, _ = json.Marshal(domain.ToolOutput{Output: fmt.Sprint(out.Output), Type: out.Type, Show: out.Show})
	}
	return string(b)
}
