package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/conductor/pkg/domain"
)

// LogHooks writes one structured line per lifecycle event. Stage traffic
// logs at debug; suspensions, fallbacks and guardrails at info or warn.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStageEnter: func(ctx context.Context, e *domain.StageEvent) {
			logger.DebugContext(ctx, "stage_enter", "thread_id", e.ThreadID, "stage", e.Stage, "kind", e.Kind)
		},
		OnStageLeave: func(ctx context.Context, e *domain.StageEvent) {
			if e.Err != "" {
				logger.ErrorContext(ctx, "stage_failed", "thread_id", e.ThreadID, "stage", e.Stage, "err", e.Err)
				return
			}
			logger.DebugContext(ctx, "stage_leave",
				"thread_id", e.ThreadID,
				"stage", e.Stage,
				"destination", e.Destination,
				"duration", e.Duration,
			)
		},
		OnToolCall: func(ctx context.Context, e *domain.ToolEvent) {
			logger.DebugContext(ctx, "tool_call", "thread_id", e.ThreadID, "stage", e.Stage, "tool_name", e.ToolName, "call_id", e.CallID)
		},
		OnToolReturn: func(ctx context.Context, e *domain.ToolEvent) {
			logger.DebugContext(ctx, "tool_return",
				"thread_id", e.ThreadID,
				"tool_name", e.ToolName,
				"call_id", e.CallID,
				"is_error", e.IsError,
			)
		},
		OnSuspend: func(ctx context.Context, e *domain.InterruptEvent) {
			logger.InfoContext(ctx, "suspend", "thread_id", e.ThreadID, "stage", e.Stage, "interrupt", e.Request.Name, "type", e.Request.Type)
		},
		OnResume: func(ctx context.Context, e *domain.InterruptEvent) {
			logger.InfoContext(ctx, "resume", "thread_id", e.ThreadID, "stage", e.Stage, "interrupt", e.Request.Name)
		},
		OnFallback: func(ctx context.Context, e *domain.FallbackEvent) {
			logger.WarnContext(ctx, "routing_fallback",
				"thread_id", e.ThreadID,
				"stage", e.Stage,
				"raw", e.Raw,
				"fallback", e.Fallback,
				"reason", e.Reason,
			)
		},
		OnGuardrail: func(ctx context.Context, e *domain.GuardrailEvent) {
			logger.WarnContext(ctx, "guardrail", "thread_id", e.ThreadID, "stage", e.Stage, "counter", e.Counter, "value", e.Value, "limit", e.Limit)
		},
		OnFinal: func(ctx context.Context, e *domain.FinalEvent) {
			logger.InfoContext(ctx, "final_answer", "thread_id", e.ThreadID, "chars", len(e.Answer))
		},
	}
}
