// Package editor runs the pipeline editor as a single event loop. Every
// state change happens on the loop goroutine in dispatch order; the only
// work done elsewhere is the network call of a run, whose outcome is posted
// back as an event.
package editor

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ravi-parthasarathy/chatflow/pkg/flow"
)

// InitialOutput is shown before any run has completed.
const InitialOutput = "Waiting for response..."

// BusyText is the notice shown when Run is pressed during a run.
const BusyText = "A run is already in progress."

// View is a copy of the editor state.
type View struct {
	Nodes     []flow.Node
	Edges     []flow.Edge
	Question  string
	Output    string
	Notice    string
	Sent      bool
	State     flow.State
	LastError string
}

// Option configures an Editor.
type Option func(*Editor)

// WithGraph starts the editor from an existing graph.
func WithGraph(g *flow.Graph) Option {
	return func(e *Editor) { e.graph = g }
}

// WithOnChange registers fn to be called on the loop goroutine after each
// applied event.
func WithOnChange(fn func(View)) Option {
	return func(e *Editor) { e.onChange = fn }
}

// WithQueueSize sets the event buffer length.
func WithQueueSize(n int) Option {
	return func(e *Editor) {
		if n > 0 {
			e.queue = n
		}
	}
}

// WithRunObserver forwards every run state transition to fn. fn runs on the
// goroutine that caused the transition, not necessarily the loop.
func WithRunObserver(fn func(flow.Transition)) Option {
	return func(e *Editor) { e.runnerOpts = append(e.runnerOpts, flow.WithObserver(fn)) }
}

// Editor owns the graph, the runner and the text shown around the canvas.
type Editor struct {
	graph      *flow.Graph
	runner     *flow.Runner
	runnerOpts []flow.RunnerOption
	onChange   func(View)
	queue      int
	events     chan Event

	question  string
	output    string
	notice    string
	sent      bool
	runID     string
	lastError string
}

// New builds an editor whose runs go through client.
func New(client flow.Client, opts ...Option) *Editor {
	e := &Editor{queue: 64, output: InitialOutput}
	for _, o := range opts {
		o(e)
	}
	if e.graph == nil {
		e.graph = flow.NewGraph()
	}
	e.runner = flow.NewRunner(client, e.runnerOpts...)
	e.events = make(chan Event, e.queue)
	return e
}

// Dispatch queues ev for the loop.
func (e *Editor) Dispatch(ctx context.Context, ev Event) error {
	select {
	case e.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the state after all previously dispatched
// events have been applied.
func (e *Editor) Snapshot(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := e.Dispatch(ctx, query{reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// Loop applies events until ctx is done. An in-flight run is cancelled with
// the loop.
func (e *Editor) Loop(ctx context.Context) error {
	for {
		select {
		case ev := <-e.events:
			switch q := ev.(type) {
			case query:
				q.reply <- e.view()
				continue
			case inspect:
				q.fn(e.graph)
				close(q.done)
				continue
			}
			e.apply(ctx, ev)
			if e.onChange != nil {
				e.onChange(e.view())
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Editor) apply(ctx context.Context, ev Event) {
	if _, async := ev.(runDone); !async {
		e.lastError = ""
	}
	var err error
	switch ev := ev.(type) {
	case Drop:
		err = e.drop(ev)
	case Connect:
		edge := e.graph.Connect(ev.Source, ev.Target)
		slog.Debug("edge connected", "edge", edge.ID, "source", ev.Source, "target", ev.Target)
	case Select:
		err = e.graph.Select(ev.ID, ev.Selected)
	case ClearSelection:
		e.graph.ClearSelection()
	case Move:
		err = e.graph.UpdateNodePosition(ev.ID, ev.Position)
	case Edit:
		err = e.graph.Apply(ev.Update)
	case KeyDown:
		if ev.Key == KeyDelete || ev.Key == KeyBackspace {
			nodes, edges := e.graph.DeleteSelected()
			if nodes > 0 || edges > 0 {
				slog.Debug("selection deleted", "nodes", nodes, "edges", edges)
			}
		}
	case SetQuestion:
		e.question = ev.Text
	case Run:
		e.run(ctx)
	case runDone:
		// A result that arrives after a newer run started is stale.
		if ev.outcome.RunID != e.runID {
			slog.Debug("stale run result dropped", "run", ev.outcome.RunID, "current", e.runID)
			break
		}
		e.output = ev.outcome.Output
		e.sent = false
		e.runID = ""
	}
	if err != nil {
		slog.Warn("editor event rejected", "event", describeEvent(ev), "err", err)
		e.lastError = err.Error()
	}
}

func (e *Editor) drop(ev Drop) error {
	role, err := flow.ParseRoleToken(ev.Token)
	if err != nil {
		return err
	}
	n, err := e.graph.AddNode(role, ev.Position)
	if err != nil {
		return err
	}
	slog.Debug("node added", "node", n.ID, "role", role)
	return nil
}

func (e *Editor) run(ctx context.Context) {
	call, err := e.runner.Prepare(e.graph, e.question)
	if err != nil {
		var runErr *flow.RunError
		switch {
		case errors.As(err, &runErr):
			e.notice = runErr.Message
		case errors.Is(err, flow.ErrRunInFlight):
			e.notice = BusyText
		default:
			e.notice = err.Error()
		}
		return
	}

	e.notice = ""
	e.sent = true
	e.runID = call.RunID
	go func() {
		out := e.runner.Send(ctx, call)
		select {
		case e.events <- runDone{outcome: out}:
		case <-ctx.Done():
		}
	}()
}

func (e *Editor) view() View {
	return View{
		Nodes:     e.graph.Nodes(),
		Edges:     e.graph.Edges(),
		Question:  e.question,
		Output:    e.output,
		Notice:    e.notice,
		Sent:      e.sent,
		State:     e.runner.State(),
		LastError: e.lastError,
	}
}

// Inspect runs fn against the graph on the loop goroutine and waits for it.
// fn must not retain the graph or mutate it.
func (e *Editor) Inspect(ctx context.Context, fn func(*flow.Graph)) error {
	done := make(chan struct{})
	if err := e.Dispatch(ctx, inspect{fn: fn, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func describeEvent(ev Event) string {
	switch ev.(type) {
	case Drop:
		return "drop"
	case Connect:
		return "connect"
	case Select:
		return "select"
	case Move:
		return "move"
	case Edit:
		return "edit"
	}
	return "other"
}
