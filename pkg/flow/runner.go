package flow

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ravi-parthasarathy/chatflow/pkg/chatapi"
)

// State is a phase of the run state machine.
type State int

const (
	Idle State = iota
	Validating
	Sending
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Validating:
		return "validating"
	case Sending:
		return "sending"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// ErrRunInFlight is returned when a run is requested while another one has
// not yet returned to Idle.
var ErrRunInFlight = errors.New("a run is already in progress")

// ErrCallNotPending is returned by Send for a call that is not the runner's
// current run or that has already been sent.
var ErrCallNotPending = errors.New("call is not pending")

// Client sends a pipeline request to the chat endpoint.
type Client interface {
	Chat(ctx context.Context, req chatapi.PipelineRequest) (chatapi.PipelineResult, error)
}

// Transition is reported to observers on every state change.
type Transition struct {
	RunID string
	From  State
	To    State
}

// Call is a validated run waiting to be sent.
type Call struct {
	RunID string
	Plan  *Plan
}

// Outcome is the terminal result of a run.
type Outcome struct {
	RunID  string
	State  State
	Output string
	Err    error
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithObserver registers fn to receive every transition. fn runs on the
// goroutine that caused the transition, after the runner's lock is released.
func WithObserver(fn func(Transition)) RunnerOption {
	return func(r *Runner) { r.observers = append(r.observers, fn) }
}

// Runner validates a graph and executes it against a Client. At most one run
// is in flight at a time; Prepare rejects overlapping runs.
type Runner struct {
	client    Client
	observers []func(Transition)

	mu      sync.Mutex
	state   State
	sent    bool
	runID   string
	sending bool
}

// NewRunner creates a Runner that sends through client.
func NewRunner(client Client, opts ...RunnerOption) *Runner {
	r := &Runner{client: client}
	for _, o := range opts {
		o(r)
	}
	return r
}

// State returns the current state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Sent reports whether a submission is outstanding.
func (r *Runner) Sent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent
}

// Prepare validates g against question. On success the runner is left in
// Sending and the returned Call must be passed to Send. On a validation
// failure the runner returns to Idle and the *RunError says why; no request
// is made.
func (r *Runner) Prepare(g *Graph, question string) (*Call, error) {
	r.mu.Lock()
	if r.state != Idle {
		r.mu.Unlock()
		return nil, ErrRunInFlight
	}
	r.runID = uuid.NewString()
	r.sent = true
	runID := r.runID
	var trs []Transition
	trs = append(trs, r.move(Validating))

	plan, err := Validate(g, question)
	if err != nil {
		trs = append(trs, r.move(Failed), r.move(Idle))
		r.sent = false
		r.mu.Unlock()
		r.notify(trs)
		slog.Info("pipeline run rejected", "run", runID, "reason", err.Error())
		return nil, err
	}
	trs = append(trs, r.move(Sending))
	r.mu.Unlock()
	r.notify(trs)

	slog.Info("sending pipeline run", "run", runID, "request", plan.Request)
	return &Call{RunID: runID, Plan: plan}, nil
}

// Send performs the network call for a prepared run. It blocks until the
// client returns. Transport or decode errors are logged and replaced with
// FailureText; the runner always ends in Idle. A call that is not pending
// leaves the runner untouched and yields ErrCallNotPending.
func (r *Runner) Send(ctx context.Context, call *Call) Outcome {
	r.mu.Lock()
	if r.state != Sending || r.runID != call.RunID || r.sending {
		state := r.state
		r.mu.Unlock()
		return Outcome{RunID: call.RunID, State: state, Err: ErrCallNotPending}
	}
	r.sending = true
	r.mu.Unlock()

	res, err := r.client.Chat(ctx, call.Plan.Request)

	r.mu.Lock()
	r.sending = false
	var out Outcome
	var trs []Transition
	if err != nil {
		slog.Error("pipeline run failed", "run", call.RunID, "err", err)
		trs = append(trs, r.move(Failed))
		out = Outcome{
			RunID:  call.RunID,
			State:  Failed,
			Output: FailureText,
			Err:    &RunError{Kind: NetworkOrParse, Message: FailureText, Cause: err},
		}
	} else {
		slog.Info("pipeline run complete", "run", call.RunID, "response_len", len(res.Response))
		trs = append(trs, r.move(Succeeded))
		out = Outcome{RunID: call.RunID, State: Succeeded, Output: res.Response}
	}
	trs = append(trs, r.move(Idle))
	r.sent = false
	r.mu.Unlock()
	r.notify(trs)
	return out
}

// Run validates and sends in one blocking call.
func (r *Runner) Run(ctx context.Context, g *Graph, question string) (Outcome, error) {
	call, err := r.Prepare(g, question)
	if err != nil {
		return Outcome{}, err
	}
	return r.Send(ctx, call), nil
}

// move must be called with r.mu held.
func (r *Runner) move(to State) Transition {
	t := Transition{RunID: r.runID, From: r.state, To: to}
	r.state = to
	return t
}

func (r *Runner) notify(trs []Transition) {
	for _, t := range trs {
		for _, fn := range r.observers {
			fn(t)
		}
	}
}
