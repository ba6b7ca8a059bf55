package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aws/aws-sdk-go-v2/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AnthropicConfig contains configuration for the Anthropic model.
type AnthropicConfig struct {
	// Model is the Claude model to use. Defaults to Claude Sonnet 4.
	Model string `mapstructure:"model"`
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY.
	APIKey    string `mapstructure:"api_key"`
	MaxTokens int    `mapstructure:"max_tokens"`
	// BaseURL overrides the API endpoint, e.g. for a proxy.
	BaseURL string `mapstructure:"base_url"`

	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`

	// Prices in USD per million tokens, used for the cost_usd usage key.
	InputPricePerM  float64 `mapstructure:"input_price_per_m"`
	OutputPricePerM float64 `mapstructure:"output_price_per_m"`
}

// Anthropic implements Model on the Messages API.
type Anthropic struct {
	client anthropic.Client
	cfg    AnthropicConfig
	tracer trace.Tracer
}

// NewAnthropic creates a model client, either direct or through AWS Bedrock.
func NewAnthropic(ctx context.Context, cfg AnthropicConfig) (*Anthropic, error) {
	var opts []option.RequestOption

	if cfg.UseBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
	}

	if cfg.Model == "" {
		cfg.Model = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.InputPricePerM == 0 && cfg.OutputPricePerM == 0 {
		cfg.InputPricePerM, cfg.OutputPricePerM = 3.0, 15.0
	}

	return &Anthropic{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/aretw0/conductor/pkg/llm"),
	}, nil
}

func (a *Anthropic) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	ctx, span := a.tracer.Start(ctx, "llm.chat", trace.WithAttributes(
		attribute.String("llm.model", a.cfg.Model),
		attribute.Int("llm.tools", len(req.Tools)),
	))
	defer span.End()

	system, msgs := toAnthropicMessages(req.System, req.Messages)
	if len(msgs) == 0 {
		return nil, fmt.Errorf("anthropic chat: %w", ErrEmptyTranscript)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.cfg.Model),
		MaxTokens: int64(a.maxTokens(req.MaxTokens)),
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, toolParam(t.Name, t.Description, t.Parameters, t.Required))
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}

	out := &ChatResponse{Usage: a.usage(resp)}
	var text []string
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text = append(text, variant.Text)
		case anthropic.ToolUseBlock:
			args, err := decodeArgs(variant.Input)
			if err != nil {
				span.RecordError(err)
				return nil, err
			}
			out.ToolCalls = append(out.ToolCalls, domain.ToolCall{ID: variant.ID, Name: variant.Name, Args: args})
		}
	}
	out.Content = strings.Join(text, "\n")
	span.SetAttributes(attribute.Int("llm.tool_calls", len(out.ToolCalls)))
	return out, nil
}

// Decide forces the model to answer through a single tool whose input schema
// is the decision schema.
func (a *Anthropic) Decide(ctx context.Context, req DecisionRequest) (*Decision, error) {
	ctx, span := a.tracer.Start(ctx, "llm.decide", trace.WithAttributes(
		attribute.String("llm.model", a.cfg.Model),
		attribute.String("llm.schema", req.Schema.Name),
	))
	defer span.End()

	messages := req.Messages
	if req.Prompt != "" {
		messages = append(append([]domain.Message(nil), messages...), domain.UserMessage(req.Prompt))
	}
	system, msgs := toAnthropicMessages(req.System, messages)
	if len(msgs) == 0 {
		return nil, fmt.Errorf("anthropic decide %s: %w", req.Schema.Name, ErrEmptyTranscript)
	}

	params := anthropic.MessageNewParams{
		Model:      anthropic.Model(a.cfg.Model),
		MaxTokens:  int64(a.cfg.MaxTokens),
		Messages:   msgs,
		Tools:      []anthropic.ToolUnionParam{toolParam(req.Schema.Name, req.Schema.Description, req.Schema.Properties, req.Schema.Required)},
		ToolChoice: anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: req.Schema.Name}},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("anthropic decide %s: %w", req.Schema.Name, err)
	}

	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.ToolUseBlock); ok && variant.Name == req.Schema.Name {
			fields, err := decodeArgs(variant.Input)
			if err != nil {
				return nil, err
			}
			return &Decision{Fields: fields, Usage: a.usage(resp)}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoDecision, req.Schema.Name)
}

func (a *Anthropic) maxTokens(n int) int {
	if n > 0 {
		return n
	}
	return a.cfg.MaxTokens
}

func (a *Anthropic) usage(resp *anthropic.Message) domain.Usage {
	in := float64(resp.Usage.InputTokens)
	out := float64(resp.Usage.OutputTokens)
	return domain.Usage{
		domain.UsageInputTokens:  in,
		domain.UsageOutputTokens: out,
		domain.UsageCalls:        1,
		domain.UsageCostUSD:      in/1_000_000*a.cfg.InputPricePerM + out/1_000_000*a.cfg.OutputPricePerM,
	}
}

func toolParam(name, description string, properties map[string]any, required []string) anthropic.ToolUnionParam {
	if properties == nil {
		properties = map[string]any{}
	}
	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        name,
			Description: anthropic.String(description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: properties,
				Required:   required,
			},
		},
	}
}

// toAnthropicMessages converts the transcript. System entries are folded into
// the system prompt and consecutive tool results share one user turn, as the
// Messages API requires.
func toAnthropicMessages(system string, msgs []domain.Message) (string, []anthropic.MessageParam) {
	var sys []string
	if system != "" {
		sys = append(sys, system)
	}
	var out []anthropic.MessageParam
	var results []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(results) > 0 {
			out = append(out, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, m := range domain.PairTranscript(msgs) {
		switch m.Role {
		case domain.RoleSystem:
			sys = append(sys, m.Content)
		case domain.RoleTool:
			results = append(results, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, isErrorEnvelope(m.Content)))
		case domain.RoleAssistant:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := tc.Args
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			flush()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	flush()
	return strings.Join(sys, "\n\n"), out
}

func decodeArgs(raw json.RawMessage) (map[string]any, error) {
	args := map[string]any{}
	if len(raw) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid tool input: %w", err)
	}
	return args, nil
}

func isErrorEnvelope(content string) bool {
	var probe struct {
		Type string `json:"type"`
	}
	if json.Unmarshal([]byte(content), &probe) != nil {
		return false
	}
	return probe.Type == domain.OutputTypeError
}
