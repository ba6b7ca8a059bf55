package process_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/aretw0/conductor/pkg/adapters/process"
	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var caller = domain.Caller{ThreadID: "t1", UserID: "u1"}

func shell(t *testing.T, name, script string) *process.Tool {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	tool, err := process.New(process.Config{Name: name, Command: "sh", Args: []string{"-c", script}})
	require.NoError(t, err)
	return tool
}

func TestTool_PassesArgumentsAsEnv(t *testing.T) {
	tool := shell(t, "echo_env", `echo "$CONDUCTOR_ARG_MSG|$CONDUCTOR_ARG_TO_LIST|$CONDUCTOR_THREAD_ID"`)

	res, err := tool.Call(context.Background(), map[string]any{
		"msg":     "hello; rm -rf /",
		"to-list": []any{"a", "b"},
	}, caller)
	require.NoError(t, err)
	assert.Equal(t, domain.OutputTypeText, res.Output.Type)
	assert.Equal(t, `hello; rm -rf /|["a","b"]|t1`, res.Output.Output)
}

func TestTool_ParsesJSONOutput(t *testing.T) {
	tool := shell(t, "json", `echo '{"id": 7, "ok": true}'`)

	res, err := tool.Call(context.Background(), nil, caller)
	require.NoError(t, err)
	assert.Equal(t, domain.OutputTypeJSON, res.Output.Type)
	assert.Equal(t, map[string]any{"id": 7.0, "ok": true}, res.Output.Output)
}

func TestTool_FailureBecomesErrorEnvelope(t *testing.T) {
	tool := shell(t, "fail", `echo "quota exceeded" >&2; exit 3`)

	_, err := tool.Call(context.Background(), nil, caller)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")

	res := tools.Call(context.Background(), tool, nil, caller)
	assert.True(t, res.Output.IsError())
}

func TestTool_Timeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	tool, err := process.New(process.Config{Name: "slow", Command: "sh", Args: []string{"-c", "exec sleep 5"}, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	_, err = tool.Call(context.Background(), nil, caller)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestTool_InterruptAndResume(t *testing.T) {
	tool := shell(t, "confirm", `
if [ -n "$CONDUCTOR_RESUME" ]; then
	echo "confirmed $CONDUCTOR_RESUME"
else
	echo '{"interrupt": {"name": "confirm", "type": "input_option", "data": {"title": "Send?", "options": ["yes", "no"]}}}'
fi`)

	res, err := tool.Call(context.Background(), nil, caller)
	require.NoError(t, err)
	require.NotNil(t, res.Interrupt)
	assert.Equal(t, domain.InterruptInputOption, res.Interrupt.Type)
	assert.Equal(t, []string{"yes", "no"}, res.Interrupt.Data.Options)

	res, err = tool.Resume(context.Background(), nil, caller, "yes")
	require.NoError(t, err)
	assert.Nil(t, res.Interrupt)
	assert.Equal(t, `confirmed "yes"`, res.Output.Output)
}

func TestTool_InvalidInterrupt(t *testing.T) {
	tool := shell(t, "bad", `echo '{"interrupt": {"name": "x", "type": "input_option"}}'`)
	_, err := tool.Call(context.Background(), nil, caller)
	assert.ErrorIs(t, err, domain.ErrInvalidInterrupt)
}

func TestLoadTools(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tools:
  - name: weather
    description: current weather for a city
    command: ./weather.sh
    timeout: 5s
    parameters:
      city: {type: string}
    required: [city]
`), 0o644))

	cfgs, err := process.LoadTools(path)
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.Equal(t, "weather", cfgs[0].Name)
	assert.Equal(t, 5*time.Second, cfgs[0].Timeout)
	assert.Equal(t, []string{"city"}, cfgs[0].Required)

	built, err := process.FromConfigs(cfgs)
	require.NoError(t, err)
	assert.Equal(t, "current weather for a city", built[0].Spec().Description)

	missing, err := process.LoadTools(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, missing)

	require.NoError(t, os.WriteFile(path, []byte("tools:\n  - name: nocommand\n"), 0o644))
	_, err = process.LoadTools(path)
	assert.Error(t, err)
}
