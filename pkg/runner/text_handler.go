package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/ports"
)

// TextHandler implements the standard text-based interface.
type TextHandler struct {
	Reader   *bufio.Reader
	Writer   io.Writer
	Renderer ContentRenderer
	Prompt   string

	inputChan chan inputResult
	startOnce sync.Once
}

type inputResult struct {
	text string
	err  error
}

// TextHandlerOption defines configuration for TextHandler.
type TextHandlerOption func(*TextHandler)

// WithTextHandlerRenderer configures the content renderer.
func WithTextHandlerRenderer(renderer ContentRenderer) TextHandlerOption {
	return func(h *TextHandler) {
		h.Renderer = renderer
	}
}

// WithPrompt replaces the default "> " prompt.
func WithPrompt(prompt string) TextHandlerOption {
	return func(h *TextHandler) {
		h.Prompt = prompt
	}
}

// NewTextHandler creates a handler for standard text IO.
func NewTextHandler(r io.Reader, w io.Writer, opts ...TextHandlerOption) *TextHandler {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	h := &TextHandler{
		Reader: bufio.NewReader(r),
		Writer: w,
		Prompt: "> ",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *TextHandler) initPump() {
	h.startOnce.Do(func() {
		h.inputChan = make(chan inputResult)
		go h.pump()
	})
}

// pump reads lines in the background so a blocked read never outlives a
// cancelled context.
func (h *TextHandler) pump() {
	defer close(h.inputChan)
	for {
		text, err := h.Reader.ReadString('\n')
		if text != "" {
			h.inputChan <- inputResult{text: text}
		}
		if err != nil {
			if err != io.EOF {
				h.inputChan <- inputResult{err: err}
			}
			return
		}
	}
}

func (h *TextHandler) readLine(ctx context.Context, prompt string) (string, error) {
	h.initPump()
	fmt.Fprint(h.Writer, prompt)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res, ok := <-h.inputChan:
		if !ok {
			return "", io.EOF
		}
		if res.err != nil {
			return "", res.err
		}
		return strings.TrimSpace(res.text), nil
	}
}

func (h *TextHandler) Input(ctx context.Context) (string, error) {
	for {
		text, err := h.readLine(ctx, h.Prompt)
		if err != nil {
			return "", err
		}
		if text == "" {
			continue
		}
		clean, err := SanitizeInput(text)
		if err != nil {
			fmt.Fprintf(h.Writer, "Error: %v. Please try again.\n", err)
			continue
		}
		return clean, nil
	}
}

func (h *TextHandler) Ask(ctx context.Context, req domain.InterruptRequest) (any, error) {
	h.print(req.Data.Title)
	if content, ok := req.Data.Content.(string); ok && content != "" {
		h.print(content)
	}

	switch req.Type {
	case domain.InterruptInputOption:
		for i, opt := range req.Data.Options {
			fmt.Fprintf(h.Writer, "  %d) %s\n", i+1, opt)
		}
		for {
			text, err := h.readLine(ctx, "choice> ")
			if err != nil {
				return nil, err
			}
			if choice, ok := pickOption(req.Data.Options, text); ok {
				return choice, nil
			}
			fmt.Fprintf(h.Writer, "Please enter a number between 1 and %d.\n", len(req.Data.Options))
		}

	case domain.InterruptConnect:
		fmt.Fprintf(h.Writer, "Connect %s, then answer yes (or no to skip).\n", req.Platform)
		text, err := h.readLine(ctx, "connected> ")
		if err != nil {
			return nil, err
		}
		switch strings.ToLower(text) {
		case "y", "yes", "true", "connected":
			return true, nil
		}
		return false, nil

	default:
		prompt := "answer> "
		if req.Data.Placeholder != "" {
			prompt = fmt.Sprintf("answer (e.g. %s)> ", req.Data.Placeholder)
		}
		for {
			text, err := h.readLine(ctx, prompt)
			if err != nil {
				return nil, err
			}
			if text == "" {
				text = req.Data.DefaultValue
			}
			clean, err := SanitizeInput(text)
			if err != nil {
				fmt.Fprintf(h.Writer, "Error: %v. Please try again.\n", err)
				continue
			}
			return clean, nil
		}
	}
}

func pickOption(options []string, text string) (string, bool) {
	if n, err := strconv.Atoi(text); err == nil && n >= 1 && n <= len(options) {
		return options[n-1], true
	}
	for _, opt := range options {
		if strings.EqualFold(opt, text) {
			return opt, true
		}
	}
	return "", false
}

func (h *TextHandler) Answer(_ context.Context, res *ports.Result) error {
	h.print(res.Answer)
	return nil
}

func (h *TextHandler) SystemOutput(_ context.Context, msg string) error {
	fmt.Fprintf(h.Writer, "\n[System] %s\n", msg)
	return nil
}

func (h *TextHandler) print(text string) {
	if text == "" {
		return
	}
	if h.Renderer != nil {
		if rendered, err := h.Renderer(text); err == nil {
			text = rendered
		}
	}
	fmt.Fprintln(h.Writer, strings.TrimSpace(text))
}
