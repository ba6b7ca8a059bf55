package runner_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/ports"
	"github.com/aretw0/conductor/pkg/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOrchestrator suspends on any input containing "email" with a choose
// interrupt and answers everything else directly.
type fakeOrchestrator struct {
	mu      sync.Mutex
	threads map[string]*domain.State
	invokes []ports.Request
	resumes []ports.ResumeRequest
	failOn  string
}

func newFake() *fakeOrchestrator {
	return &fakeOrchestrator{threads: map[string]*domain.State{}}
}

var pick = domain.InterruptRequest{
	Name: "choose",
	Type: domain.InterruptInputOption,
	Data: domain.InterruptData{Title: "Which account?", Options: []string{"work", "personal"}},
}

func (f *fakeOrchestrator) Invoke(_ context.Context, req ports.Request) (*ports.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invokes = append(f.invokes, req)
	if req.Input == f.failOn {
		return nil, errors.New("model overloaded")
	}
	if req.ThreadID == "" {
		req.ThreadID = "generated"
	}
	state := domain.NewState(req.ThreadID, domain.DefaultLimits())
	f.threads[req.ThreadID] = state
	if strings.Contains(req.Input, "email") {
		state.Status = domain.StatusSuspended
		state.Pending = &domain.PendingInterrupt{Node: "mail", Request: pick}
		return &ports.Result{ThreadID: req.ThreadID, Status: state.Status, Interrupt: &pick}, nil
	}
	return &ports.Result{ThreadID: req.ThreadID, Status: domain.StatusTerminated, Answer: "echo: " + req.Input}, nil
}

func (f *fakeOrchestrator) Resume(_ context.Context, req ports.ResumeRequest) (*ports.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes = append(f.resumes, req)
	state, ok := f.threads[req.ThreadID]
	if !ok {
		return nil, domain.ErrThreadNotFound
	}
	state.Status = domain.StatusTerminated
	state.Pending = nil
	return &ports.Result{ThreadID: req.ThreadID, Status: state.Status, Answer: "sent from " + req.Value.(string)}, nil
}

func (f *fakeOrchestrator) Thread(_ context.Context, id string) (*domain.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.threads[id]; ok {
		return s, nil
	}
	return nil, domain.ErrThreadNotFound
}

func (f *fakeOrchestrator) Threads(context.Context) ([]string, error) { return nil, nil }
func (f *fakeOrchestrator) Delete(context.Context, string) error      { return nil }
func (f *fakeOrchestrator) Nodes() []ports.NodeInfo                   { return nil }

func TestRunner_TextConversation(t *testing.T) {
	orch := newFake()
	var out bytes.Buffer
	in := strings.NewReader("hello\n\nemail Ana\n2\n/exit\nnever read\n")
	r := runner.New(orch, runner.WithHandler(runner.NewTextHandler(in, &out)), runner.WithUserID("u1"))

	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, "generated", r.ThreadID())
	require.Len(t, orch.invokes, 2)
	assert.Equal(t, "", orch.invokes[0].ThreadID)
	assert.Equal(t, "generated", orch.invokes[1].ThreadID, "later turns reuse the thread")
	assert.Equal(t, "u1", orch.invokes[1].UserID)
	require.Len(t, orch.resumes, 1)
	assert.Equal(t, "personal", orch.resumes[0].Value)
	assert.Equal(t, "choose", orch.resumes[0].Name)

	text := out.String()
	assert.Contains(t, text, "echo: hello")
	assert.Contains(t, text, "Which account?")
	assert.Contains(t, text, "2) personal")
	assert.Contains(t, text, "sent from personal")
}

func TestRunner_ResumesSuspendedThreadFirst(t *testing.T) {
	orch := newFake()
	_, err := orch.Invoke(context.Background(), ports.Request{ThreadID: "t1", Input: "email Ana"})
	require.NoError(t, err)

	var out bytes.Buffer
	r := runner.New(orch,
		runner.WithThreadID("t1"),
		runner.WithHandler(runner.NewTextHandler(strings.NewReader("work\n"), &out)),
	)
	require.NoError(t, r.Run(context.Background()))

	require.Len(t, orch.resumes, 1)
	assert.Equal(t, "work", orch.resumes[0].Value)
	assert.Contains(t, out.String(), "sent from work")
}

func TestRunner_TurnFailureIsReported(t *testing.T) {
	orch := newFake()
	orch.failOn = "boom"
	var out bytes.Buffer
	r := runner.New(orch, runner.WithHandler(runner.NewTextHandler(strings.NewReader("boom\nhi\n"), &out)))

	require.NoError(t, r.Run(context.Background()))
	assert.Contains(t, out.String(), "[System] model overloaded")
	assert.Contains(t, out.String(), "echo: hi")
}

func TestRunner_JSONConversation(t *testing.T) {
	orch := newFake()
	var out bytes.Buffer
	in := strings.NewReader(`{"input":"email Ana"}` + "\n" + `{"value":"work"}` + "\n" + `"hi"` + "\n")
	r := runner.New(orch, runner.WithHandler(runner.NewJSONHandler(in, &out)), runner.WithThreadID("t1"))

	require.NoError(t, r.Run(context.Background()))

	dec := json.NewDecoder(&out)
	var msgs []runner.Message
	for dec.More() {
		var m runner.Message
		require.NoError(t, dec.Decode(&m))
		msgs = append(msgs, m)
	}
	require.Len(t, msgs, 3)
	assert.Equal(t, runner.MessageInterrupt, msgs[0].Type)
	assert.Equal(t, "choose", msgs[0].Interrupt.Name)
	assert.Equal(t, runner.MessageAnswer, msgs[1].Type)
	assert.Equal(t, "sent from work", msgs[1].Answer)
	assert.Equal(t, "echo: hi", msgs[2].Answer)
}

func TestRunner_CancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pr, pw := newBlockingReader()
	defer pw()
	r := runner.New(newFake(), runner.WithHandler(runner.NewTextHandler(pr, &bytes.Buffer{})))
	assert.NoError(t, r.Run(ctx))
}
