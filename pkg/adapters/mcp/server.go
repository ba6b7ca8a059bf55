// Package mcp exposes a ports.Orchestrator as a Model Context Protocol
// server, so another agent can drive conductor threads as tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/conductor/internal/logging"
	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/ports"
	"github.com/aretw0/conductor/pkg/runner"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	nodesURI          = "conductor://nodes"
	threadURIPrefix   = "conductor://threads/"
	threadURITemplate = threadURIPrefix + "{thread_id}"
)

// TurnResult is the structured output of invoke and resume.
type TurnResult struct {
	ThreadID  string                   `json:"thread_id" jsonschema_description:"Thread to pass to later invoke or resume calls"`
	Status    domain.Status            `json:"status" jsonschema_description:"terminated when answered, suspended when waiting for a human value"`
	Answer    string                   `json:"answer,omitempty" jsonschema_description:"The final answer of the turn"`
	Interrupt *domain.InterruptRequest `json:"interrupt,omitempty" jsonschema_description:"What the thread is waiting for; answer it with resume"`
}

type invokeArgs struct {
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id"`
	Input    string `json:"input"`
}

type resumeArgs struct {
	ThreadID string `json:"thread_id"`
	Name     string `json:"name"`
	Value    any    `json:"value"`
}

// Server wraps the orchestrator and exposes it as an MCP Server.
type Server struct {
	orch      ports.Orchestrator
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(orch ports.Orchestrator, version string, opts ...Option) *Server {
	s := &Server{
		orch:   orch,
		logger: logging.NewNop(),
		mcpServer: server.NewMCPServer("conductor-mcp", strings.TrimSpace(version),
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
			server.WithRecovery(),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the SSE transport on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))
	httpServer := &http.Server{Addr: addr, Handler: mux}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("invoke",
		mcp.WithDescription("Send a message to a conductor thread. Omit thread_id to start a new thread. "+
			"If the result is suspended, answer its interrupt with resume."),
		mcp.WithString("input", mcp.Required(), mcp.Description("The user message")),
		mcp.WithString("thread_id", mcp.Description("Existing thread to continue")),
		mcp.WithString("user_id", mcp.Description("Caller identity recorded on the thread")),
		mcp.WithOutputSchema[TurnResult](),
	), mcp.NewStructuredToolHandler(s.handleInvoke))

	s.mcpServer.AddTool(mcp.NewTool("resume",
		mcp.WithDescription("Answer the pending interrupt of a suspended thread."),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("The suspended thread")),
		mcp.WithString("name", mcp.Required(), mcp.Description("The interrupt name from the invoke result")),
		mcp.WithString("value", mcp.Required(), mcp.Description("The human value: free text, one of the offered options, or yes/no for connect")),
		mcp.WithOutputSchema[TurnResult](),
	), mcp.NewStructuredToolHandler(s.handleResume))

	s.mcpServer.AddTool(mcp.NewTool("list_nodes",
		mcp.WithDescription("List the registered stages and agents."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		data, err := json.Marshal(s.orch.Nodes())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	})
}

func (s *Server) handleInvoke(ctx context.Context, _ mcp.CallToolRequest, args invokeArgs) (TurnResult, error) {
	input, err := runner.SanitizeMessage(args.Input)
	if err != nil {
		return TurnResult{}, fmt.Errorf("input rejected: %w", err)
	}
	res, err := s.orch.Invoke(ctx, ports.Request{ThreadID: args.ThreadID, UserID: args.UserID, Input: input})
	if err != nil {
		s.logger.WarnContext(ctx, "MCP invoke failed", "thread_id", args.ThreadID, "err", err)
		return TurnResult{}, err
	}
	return newTurnResult(res), nil
}

func (s *Server) handleResume(ctx context.Context, _ mcp.CallToolRequest, args resumeArgs) (TurnResult, error) {
	if args.ThreadID == "" || args.Name == "" {
		return TurnResult{}, errors.New("thread_id and name are required")
	}
	if text, ok := args.Value.(string); ok {
		clean, err := runner.SanitizeInput(text)
		if err != nil {
			return TurnResult{}, fmt.Errorf("value rejected: %w", err)
		}
		args.Value = clean
	}
	res, err := s.orch.Resume(ctx, ports.ResumeRequest{ThreadID: args.ThreadID, Name: args.Name, Value: args.Value})
	if err != nil {
		s.logger.WarnContext(ctx, "MCP resume failed", "thread_id", args.ThreadID, "err", err)
		return TurnResult{}, err
	}
	return newTurnResult(res), nil
}

func newTurnResult(res *ports.Result) TurnResult {
	return TurnResult{
		ThreadID:  res.ThreadID,
		Status:    res.Status,
		Answer:    res.Answer,
		Interrupt: res.Interrupt,
	}
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(nodesURI, "Registered stages",
		mcp.WithMIMEType("application/json"),
	), s.readNodes)

	s.mcpServer.AddResourceTemplate(mcp.NewResourceTemplate(threadURITemplate, "Thread transcript",
		mcp.WithTemplateMIMEType("application/json"),
	), s.readThread)
}

func (s *Server) readNodes(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	data, err := json.Marshal(s.orch.Nodes())
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{mcp.TextResourceContents{URI: nodesURI, MIMEType: "application/json", Text: string(data)}}, nil
}

// threadResource is the JSON body of a thread resource.
type threadResource struct {
	ThreadID  string                   `json:"thread_id"`
	Status    domain.Status            `json:"status"`
	Answer    string                   `json:"answer,omitempty"`
	Interrupt *domain.InterruptRequest `json:"interrupt,omitempty"`
	Messages  []domain.Message         `json:"messages"`
}

func (s *Server) readThread(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := request.Params.URI
	threadID := strings.TrimPrefix(uri, threadURIPrefix)
	if threadID == "" || threadID == uri {
		return nil, fmt.Errorf("invalid thread uri %q", uri)
	}
	st, err := s.orch.Thread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	body := threadResource{ThreadID: st.ThreadID, Status: st.Status, Answer: st.Answer, Messages: st.Messages}
	if st.Pending != nil {
		req := st.Pending.Request
		body.Interrupt = &req
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{mcp.TextResourceContents{URI: uri, MIMEType: "application/json", Text: string(data)}}, nil
}
