package editor

import "github.com/ravi-parthasarathy/chatflow/pkg/flow"

// Event is an input to the editor loop.
type Event interface{ event() }

// Drop instantiates a node from a palette drag token at a canvas position.
type Drop struct {
	Token    string
	Position flow.Position
}

// Connect draws an edge.
type Connect struct {
	Source string
	Target string
}

// Select toggles the selection of a node or edge.
type Select struct {
	ID       string
	Selected bool
}

// ClearSelection deselects everything.
type ClearSelection struct{}

// Move is the end of a node drag.
type Move struct {
	ID       string
	Position flow.Position
}

// Edit carries a form change from a node component.
type Edit struct {
	Update flow.Update
}

// KeyDown is a keyboard press on the canvas.
type KeyDown struct {
	Key string
}

// SetQuestion replaces the question text box contents.
type SetQuestion struct {
	Text string
}

// Run presses the send button.
type Run struct{}

// runDone is posted by the send goroutine.
type runDone struct {
	outcome flow.Outcome
}

type query struct {
	reply chan View
}

type inspect struct {
	fn   func(*flow.Graph)
	done chan struct{}
}

func (Drop) event()           {}
func (Connect) event()        {}
func (Select) event()         {}
func (ClearSelection) event() {}
func (Move) event()           {}
func (Edit) event()           {}
func (KeyDown) event()        {}
func (SetQuestion) event()    {}
func (Run) event()            {}
func (runDone) event()        {}
func (query) event()          {}
func (inspect) event()        {}

// Keys that delete the current selection.
const (
	KeyDelete    = "Delete"
	KeyBackspace = "Backspace"
)
