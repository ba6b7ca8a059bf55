// Package process exposes allow-listed local commands as tools.
//
// Arguments never reach the command line: each argument is passed as an
// environment variable CONDUCTOR_ARG_<NAME>, which rules out flag
// injection. Stdout becomes the tool output (parsed when it is JSON). A
// command may ask for human input by printing {"interrupt": {...}}; it is
// then run again with the human value in CONDUCTOR_RESUME.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/ports"
)

// EnvPrefix prefixes every variable the tool sets.
const EnvPrefix = "CONDUCTOR_"

// DefaultTimeout bounds a single execution when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Tool runs one configured command.
type Tool struct {
	cfg Config
}

var _ ports.ResumableTool = (*Tool)(nil)

// New validates cfg and returns the tool.
func New(cfg Config) (*Tool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Tool{cfg: cfg}, nil
}

// FromConfigs builds every tool in cfgs.
func FromConfigs(cfgs []Config) ([]ports.Tool, error) {
	out := make([]ports.Tool, 0, len(cfgs))
	for _, c := range cfgs {
		t, err := New(c)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (t *Tool) Spec() ports.ToolSpec {
	return ports.ToolSpec{
		Name:        t.cfg.Name,
		Description: t.cfg.Description,
		Parameters:  t.cfg.Parameters,
		Required:    t.cfg.Required,
	}
}

func (t *Tool) Call(ctx context.Context, args map[string]any, caller domain.Caller) (ports.ToolResult, error) {
	return t.run(ctx, args, caller, nil)
}

func (t *Tool) Resume(ctx context.Context, args map[string]any, caller domain.Caller, value any) (ports.ToolResult, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return ports.ToolResult{}, fmt.Errorf("encode resume value: %w", err)
	}
	return t.run(ctx, args, caller, []string{EnvPrefix + "RESUME=" + string(encoded)})
}

func (t *Tool) run(ctx context.Context, args map[string]any, caller domain.Caller, extra []string) (ports.ToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.cfg.Command, t.cfg.Args...)
	cmd.Dir = t.cfg.Dir
	// children that inherit stdout must not hold Run open past the deadline
	cmd.WaitDelay = time.Second
	cmd.Env = append(cmd.Environ(), t.environ(args, caller)...)
	cmd.Env = append(cmd.Env, extra...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ports.ToolResult{}, fmt.Errorf("%s timed out after %s", t.cfg.Name, t.cfg.Timeout)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return ports.ToolResult{}, fmt.Errorf("%s: %w: %s", t.cfg.Name, err, msg)
		}
		return ports.ToolResult{}, fmt.Errorf("%s: %w", t.cfg.Name, err)
	}
	return parseOutput(stdout.String())
}

func (t *Tool) environ(args map[string]any, caller domain.Caller) []string {
	env := make([]string, 0, len(t.cfg.Environment)+len(args)+2)
	for k, v := range t.cfg.Environment {
		env = append(env, k+"="+v)
	}
	env = append(env,
		EnvPrefix+"THREAD_ID="+caller.ThreadID,
		EnvPrefix+"USER_ID="+caller.UserID,
	)
	for k, v := range args {
		env = append(env, EnvPrefix+"ARG_"+envKey(k)+"="+envValue(v))
	}
	return env
}

// envKey upper-cases k and replaces anything outside [A-Z0-9_] with '_'.
func envKey(k string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, k)
}

func envValue(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case int, int64, float64, bool, json.Number:
		return fmt.Sprintf("%v", v)
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}

type interruptLine struct {
	Interrupt *domain.InterruptRequest `json:"interrupt"`
}

func parseOutput(out string) (ports.ToolResult, error) {
	trimmed := strings.TrimSpace(out)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var probe interruptLine
		if json.Unmarshal([]byte(trimmed), &probe) == nil && probe.Interrupt != nil {
			if err := probe.Interrupt.Validate(); err != nil {
				return ports.ToolResult{}, err
			}
			return ports.ToolResult{Interrupt: probe.Interrupt}, nil
		}
		var parsed any
		if json.Unmarshal([]byte(trimmed), &parsed) == nil {
			return ports.ToolResult{Output: domain.ToolOutput{Output: parsed, Type: domain.OutputTypeJSON}}, nil
		}
	}
	return ports.ToolResult{Output: domain.ToolOutput{Output: trimmed, Type: domain.OutputTypeText}}, nil
}
