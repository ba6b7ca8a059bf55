package manifest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/conductor/pkg/llm/llmtest"
	"github.com/aretw0/conductor/pkg/manifest"
	"github.com/aretw0/conductor/pkg/registry"
	"github.com/aretw0/conductor/pkg/stages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const office = `
limits:
  max_replans: 1
tools:
  - name: send_mail
    description: sends an email
    command: ./send-mail
    parameters:
      to: {type: string}
    required: [to]
supervisors:
  - name: office
    description: coordinates office work
    members: [mail, sheets]
agents:
  - name: mail
    description: drafts and sends email
    tools: [ask_user, send_mail]
  - name: sheets
    description: edits spreadsheets
    tools: [choose]
    max_retries: 1
  - name: calendar
    description: books meetings
    tools: [connect_account]
`

func TestParse_Build(t *testing.T) {
	m, err := manifest.Parse([]byte(office))
	require.NoError(t, err)
	assert.Equal(t, 1, m.Limits.MaxReplans)

	agents, supervisors, err := m.Build()
	require.NoError(t, err)
	require.Len(t, agents, 3)
	require.Len(t, supervisors, 1)

	assert.Equal(t, "office", agents[0].Parent, "members hand back to their supervisor")
	assert.Equal(t, []string{"ask_user", "send_mail"}, agents[0].Tools.Names())
	assert.Equal(t, 1, agents[1].MaxRetries)
	assert.Empty(t, agents[2].Parent)
	assert.Equal(t, []string{"mail", "sheets"}, supervisors[0].Members)

	cfg, err := m.Pipeline(stages.PipelineConfig{})
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Limits.MaxReplans)
	assert.Len(t, cfg.Agents, 3)
}

func TestParse_ReportsEveryProblem(t *testing.T) {
	_, err := manifest.Parse([]byte(`
supervisors:
  - name: team
    members: [ghost]
  - name: END
    members: [a]
agents:
  - name: a
    tools: [missing]
  - name: a
  - name: planner
`))
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown member "ghost"`)
	assert.Contains(t, msg, `"END" uses a reserved name`)
	assert.Contains(t, msg, `unknown tool "missing"`)
	assert.Contains(t, msg, `agent "a" is already declared`)
	assert.Contains(t, msg, `agent "planner" uses a reserved name`)
}

func TestParse_ChecksToolParameters(t *testing.T) {
	_, err := manifest.Parse([]byte(`
tools:
  - name: book
    command: ./book
    parameters:
      when:
        type: date
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `tool "book": parameter when: unsupported type: date`)
}

func TestParse_DetectsSupervisorCycles(t *testing.T) {
	_, err := manifest.Parse([]byte(`
supervisors:
  - name: north
    members: [south]
  - name: south
    members: [north]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "supervisor cycle")
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	_, err := manifest.Parse([]byte("agentz: []\n"))
	assert.Error(t, err)
}

func TestLoad_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	m, err := manifest.Load(path)
	require.NoError(t, err)
	assert.Empty(t, m.Agents)
}

func TestRegisterFromManifest(t *testing.T) {
	m, err := manifest.Parse([]byte(office))
	require.NoError(t, err)
	cfg, err := m.Pipeline(stages.PipelineConfig{Model: llmtest.New()})
	require.NoError(t, err)
	reg := registry.New()
	require.NoError(t, stages.Register(reg, cfg))
	spec, ok := reg.Resolve("mail")
	require.True(t, ok)
	assert.Equal(t, []string{"mail", "office"}, spec.Targets)
}
