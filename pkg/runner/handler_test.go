package runner_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBlockingReader() (io.Reader, func()) {
	pr, pw := io.Pipe()
	return pr, func() { pw.Close() }
}

func TestTextHandler_Ask(t *testing.T) {
	ctx := context.Background()
	t.Run("option by name after a bad choice", func(t *testing.T) {
		var out bytes.Buffer
		h := runner.NewTextHandler(strings.NewReader("7\nWORK\n"), &out)
		v, err := h.Ask(ctx, pick)
		require.NoError(t, err)
		assert.Equal(t, "work", v)
		assert.Contains(t, out.String(), "between 1 and 2")
	})
	t.Run("field falls back to the default", func(t *testing.T) {
		h := runner.NewTextHandler(strings.NewReader("\n"), &bytes.Buffer{})
		v, err := h.Ask(ctx, domain.InterruptRequest{
			Name: "ask_user",
			Type: domain.InterruptInputField,
			Data: domain.InterruptData{Title: "Subject?", DefaultValue: "Report"},
		})
		require.NoError(t, err)
		assert.Equal(t, "Report", v)
	})
	t.Run("connect", func(t *testing.T) {
		h := runner.NewTextHandler(strings.NewReader("yes\nno\n"), &bytes.Buffer{})
		req := domain.InterruptRequest{Name: "connect_account", Type: domain.InterruptConnect, Platform: "gmail"}
		v, err := h.Ask(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, true, v)
		v, err = h.Ask(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, false, v)
	})
	t.Run("eof", func(t *testing.T) {
		h := runner.NewTextHandler(strings.NewReader(""), &bytes.Buffer{})
		_, err := h.Ask(ctx, pick)
		assert.ErrorIs(t, err, io.EOF)
	})
}

func TestTextHandler_RendererAndSanitizing(t *testing.T) {
	var out bytes.Buffer
	h := runner.NewTextHandler(strings.NewReader("hi\x1b[31m there\n"), &out,
		runner.WithTextHandlerRenderer(func(s string) (string, error) { return "**" + s + "**", nil }),
	)
	text, err := h.Input(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hi[31m there", text)

	require.NoError(t, h.SystemOutput(context.Background(), "saved"))
	assert.Contains(t, out.String(), "[System] saved")
}

func TestTextHandler_InputHonorsContext(t *testing.T) {
	r, closeFn := newBlockingReader()
	defer closeFn()
	h := runner.NewTextHandler(r, &bytes.Buffer{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Input(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJSONHandler_AskAcceptsRawValues(t *testing.T) {
	var out bytes.Buffer
	h := runner.NewJSONHandler(strings.NewReader("true\nplain text\n"), &out)
	req := domain.InterruptRequest{Name: "connect_account", Type: domain.InterruptConnect, Platform: "gmail"}

	v, err := h.Ask(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = h.Ask(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "plain text", v)
	assert.Equal(t, 2, strings.Count(out.String(), `"type":"interrupt"`))
}

func TestSanitizeInput(t *testing.T) {
	t.Setenv(runner.EnvMaxInputSize, "8")

	_, err := runner.SanitizeInput("123456789")
	assert.ErrorIs(t, err, runner.ErrInputTooLarge)

	_, err = runner.SanitizeInput("\xff")
	assert.ErrorIs(t, err, runner.ErrInvalidUTF8)

	clean, err := runner.SanitizeInput("a\x00b\tc\n")
	require.NoError(t, err)
	assert.Equal(t, "ab\tc\n", clean)

	_, err = runner.SanitizeMessage("   ")
	assert.ErrorIs(t, err, runner.ErrEmptyInput)
}
