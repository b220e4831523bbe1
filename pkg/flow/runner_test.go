package flow_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravi-parthasarathy/chatflow/pkg/chatapi"
	"github.com/ravi-parthasarathy/chatflow/pkg/flow"
)

type fakeClient struct {
	mu    sync.Mutex
	calls []chatapi.PipelineRequest
	resp  chatapi.PipelineResult
	err   error
	gate  chan struct{}
}

func (f *fakeClient) Chat(ctx context.Context, req chatapi.PipelineRequest) (chatapi.PipelineResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return chatapi.PipelineResult{}, ctx.Err()
		}
	}
	return f.resp, f.err
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestRunner_Success(t *testing.T) {
	g, _ := chain(t, "Be terse", flow.ModelGeminiPro, 0.2, "k")
	client := &fakeClient{resp: chatapi.PipelineResult{Response: "4"}}

	var states []flow.State
	r := flow.NewRunner(client, flow.WithObserver(func(tr flow.Transition) {
		states = append(states, tr.To)
	}))

	out, err := r.Run(t.Context(), g, "2+2?")
	require.NoError(t, err)
	assert.Equal(t, "4", out.Output)
	assert.Equal(t, flow.Succeeded, out.State)
	assert.NoError(t, out.Err)
	assert.NotEmpty(t, out.RunID)

	require.Equal(t, 1, client.callCount())
	req := client.calls[0]
	assert.Equal(t, "Be terse", req.PromptText())
	assert.Equal(t, "2+2?", req.Question)
	assert.Equal(t, "gemini-1.5-pro", req.Model)
	assert.Equal(t, 0.2, req.TemperatureValue())
	assert.Equal(t, "k", req.APIKey)

	assert.Equal(t, []flow.State{flow.Validating, flow.Sending, flow.Succeeded, flow.Idle}, states)
	assert.Equal(t, flow.Idle, r.State())
	assert.False(t, r.Sent())
}

func TestRunner_NetworkFailure(t *testing.T) {
	g, _ := chain(t, "Be terse", flow.ModelGeminiPro, 0.2, "k")
	transport := errors.New("connection refused")
	client := &fakeClient{err: transport}
	r := flow.NewRunner(client)

	out, err := r.Run(t.Context(), g, "2+2?")
	require.NoError(t, err)
	assert.Equal(t, flow.FailureText, out.Output)
	assert.Equal(t, flow.Failed, out.State)
	assert.NotContains(t, out.Output, "connection refused")

	var re *flow.RunError
	require.ErrorAs(t, out.Err, &re)
	assert.Equal(t, flow.NetworkOrParse, re.Kind)
	assert.ErrorIs(t, out.Err, transport)

	assert.False(t, r.Sent())
	assert.Equal(t, flow.Idle, r.State())
}

func TestRunner_MissingAPIKeySkipsNetwork(t *testing.T) {
	g, _ := chain(t, "Be terse", flow.ModelGeminiPro, 0.2, "")
	client := &fakeClient{}

	var states []flow.State
	r := flow.NewRunner(client, flow.WithObserver(func(tr flow.Transition) {
		states = append(states, tr.To)
	}))

	_, err := r.Run(t.Context(), g, "2+2?")
	assert.Equal(t, flow.MissingAPIKey, runErrKind(t, err))
	assert.Zero(t, client.callCount())
	assert.False(t, r.Sent())
	assert.Equal(t, []flow.State{flow.Validating, flow.Failed, flow.Idle}, states)
}

func TestRunner_MissingNodes(t *testing.T) {
	g := flow.NewGraph()
	mustAdd(t, g, flow.RolePrompt)
	mustAdd(t, g, flow.RoleOutput)
	client := &fakeClient{}
	r := flow.NewRunner(client)

	_, err := r.Run(t.Context(), g, "2+2?")
	assert.Equal(t, flow.MissingNodes, runErrKind(t, err))
	assert.Zero(t, client.callCount())
}

func TestRunner_RejectsOverlappingRun(t *testing.T) {
	g, _ := chain(t, "p", flow.ModelGeminiPro, 0, "k")
	client := &fakeClient{resp: chatapi.PipelineResult{Response: "done"}, gate: make(chan struct{})}
	r := flow.NewRunner(client)

	call, err := r.Prepare(g, "q")
	require.NoError(t, err)
	assert.Equal(t, flow.Sending, r.State())
	assert.True(t, r.Sent())

	done := make(chan flow.Outcome)
	go func() { done <- r.Send(t.Context(), call) }()

	_, err = r.Prepare(g, "again")
	assert.ErrorIs(t, err, flow.ErrRunInFlight)

	close(client.gate)
	out := <-done
	assert.Equal(t, "done", out.Output)
	assert.Equal(t, 1, client.callCount())

	// Back in Idle the runner accepts a new run.
	_, err = r.Prepare(g, "again")
	assert.NoError(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "sending", flow.Sending.String())
	assert.Equal(t, "unknown", flow.State(42).String())
}

func TestRunner_SendRejectsCallNotPending(t *testing.T) {
	g, _ := chain(t, "p", flow.ModelGeminiPro, 0, "k")
	client := &fakeClient{resp: chatapi.PipelineResult{Response: "first"}}

	var transitions int
	r := flow.NewRunner(client, flow.WithObserver(func(flow.Transition) { transitions++ }))

	call, err := r.Prepare(g, "q")
	require.NoError(t, err)
	out := r.Send(t.Context(), call)
	require.Equal(t, "first", out.Output)
	seen := transitions

	// Sending the same call again must not touch the runner.
	again := r.Send(t.Context(), call)
	assert.ErrorIs(t, again.Err, flow.ErrCallNotPending)
	assert.Equal(t, flow.Idle, again.State)
	assert.Equal(t, 1, client.callCount())
	assert.Equal(t, seen, transitions)

	// A stale call cannot finish a newer run.
	next, err := r.Prepare(g, "q2")
	require.NoError(t, err)
	stale := r.Send(t.Context(), call)
	assert.ErrorIs(t, stale.Err, flow.ErrCallNotPending)
	assert.Equal(t, flow.Sending, r.State())
	assert.True(t, r.Sent())

	out = r.Send(t.Context(), next)
	assert.NoError(t, out.Err)
	assert.Equal(t, flow.Idle, r.State())
	assert.Equal(t, 2, client.callCount())
}
