package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/chatflow/pkg/chatapi"
	"github.com/ravi-parthasarathy/chatflow/pkg/editor"
	"github.com/ravi-parthasarathy/chatflow/pkg/flow"
)

const consoleHelp = `commands:
  add <prompt|llm|output> [x y]     drop a node from the palette
  connect <source> <target>         draw an edge
  select <id> [off]                 toggle selection of a node or edge
  clear                             deselect everything
  move <id> <x> <y>                 move a node
  set <id> content <text...>        edit a system prompt
  set <id> model <name>             pick the LLM model
  set <id> temperature <0..1>       set the LLM temperature
  set <id> key <api-key>            set the LLM API key
  key <name>                        press a key (Delete and Backspace delete the selection)
  ask <question...>                 set the question
  run                               send the pipeline and wait for the output
  show                              print the graph and the output
  dot                               print the graph as Graphviz DOT
  help, quit`

var errQuit = errors.New("quit")

func editCmd() *cobra.Command {
	var (
		endpoint, from string
		timeout        time.Duration
		queueSize      int
	)

	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Build and run a pipeline from a line-oriented console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := []editor.Option{editor.WithQueueSize(queueSize)}
			if from != "" {
				g, _, err := loadGraph(from)
				if err != nil {
					return err
				}
				opts = append(opts, editor.WithGraph(g))
			}

			ctx, cancel := context.WithCancel(signalContext(cmd.Context()))
			defer cancel()

			ed := editor.New(newEndpointClient(endpoint, timeout), opts...)
			go func() { _ = ed.Loop(ctx) }()

			c := &console{ed: ed, out: cmd.OutOrStdout(), poll: 50 * time.Millisecond}
			return c.serve(ctx, cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", chatapi.DefaultEndpoint, "chat endpoint URL")
	cmd.Flags().StringVar(&from, "from", "", "start from a pipeline DOT file")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "HTTP timeout for each run (0 waits indefinitely)")
	cmd.Flags().IntVar(&queueSize, "queue-size", 64, "editor event buffer length")
	return cmd
}

// console turns text commands into editor events.
type console struct {
	ed   *editor.Editor
	out  io.Writer
	poll time.Duration
}

func (c *console) serve(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	fmt.Fprint(c.out, "> ")
	for sc.Scan() {
		err := c.exec(ctx, sc.Text())
		switch {
		case errors.Is(err, errQuit):
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
		fmt.Fprint(c.out, "> ")
	}
	return sc.Err()
}

func (c *console) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]

	var ev editor.Event
	switch cmd {
	case "help":
		fmt.Fprintln(c.out, consoleHelp)
		return nil
	case "quit", "exit":
		return errQuit
	case "add":
		if len(args) != 1 && len(args) != 3 {
			return errors.New("usage: add <prompt|llm|output> [x y]")
		}
		var pos flow.Position
		if len(args) == 3 {
			var err error
			if pos, err = parsePosition(args[1], args[2]); err != nil {
				return err
			}
		}
		ev = editor.Drop{Token: args[0], Position: pos}
	case "connect":
		if len(args) != 2 {
			return errors.New("usage: connect <source> <target>")
		}
		ev = editor.Connect{Source: args[0], Target: args[1]}
	case "select":
		if len(args) < 1 || len(args) > 2 {
			return errors.New("usage: select <id> [off]")
		}
		ev = editor.Select{ID: args[0], Selected: len(args) == 1 || args[1] != "off"}
	case "clear":
		ev = editor.ClearSelection{}
	case "move":
		if len(args) != 3 {
			return errors.New("usage: move <id> <x> <y>")
		}
		pos, err := parsePosition(args[1], args[2])
		if err != nil {
			return err
		}
		ev = editor.Move{ID: args[0], Position: pos}
	case "set":
		u, err := parseSet(line, args)
		if err != nil {
			return err
		}
		ev = editor.Edit{Update: u}
	case "key":
		if len(args) != 1 {
			return errors.New("usage: key <name>")
		}
		ev = editor.KeyDown{Key: args[0]}
	case "ask":
		ev = editor.SetQuestion{Text: restAfter(line, 1)}
	case "run":
		return c.run(ctx)
	case "show":
		return c.show(ctx)
	case "dot":
		return c.dot(ctx)
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}

	if err := c.ed.Dispatch(ctx, ev); err != nil {
		return err
	}
	v, err := c.ed.Snapshot(ctx)
	if err != nil {
		return err
	}
	if v.LastError != "" {
		return errors.New(v.LastError)
	}
	return nil
}

func (c *console) run(ctx context.Context) error {
	if err := c.ed.Dispatch(ctx, editor.Run{}); err != nil {
		return err
	}
	v, err := c.ed.Snapshot(ctx)
	if err != nil {
		return err
	}
	if v.Notice != "" {
		fmt.Fprintln(c.out, v.Notice)
		return nil
	}

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for v.Sent {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
		if v, err = c.ed.Snapshot(ctx); err != nil {
			return err
		}
	}
	fmt.Fprintln(c.out, v.Output)
	return nil
}

func (c *console) show(ctx context.Context) error {
	var text string
	if err := c.ed.Inspect(ctx, func(g *flow.Graph) {
		text = flow.RenderText(g, "editor")
	}); err != nil {
		return err
	}
	v, err := c.ed.Snapshot(ctx)
	if err != nil {
		return err
	}
	fmt.Fprint(c.out, text)
	fmt.Fprintf(c.out, "\nQuestion: %s\nOutput:   %s\n", v.Question, v.Output)
	if v.Notice != "" {
		fmt.Fprintf(c.out, "Notice:   %s\n", v.Notice)
	}
	return nil
}

func (c *console) dot(ctx context.Context) error {
	var (
		out    string
		dotErr error
	)
	if err := c.ed.Inspect(ctx, func(g *flow.Graph) {
		out, dotErr = flow.RenderDOT(g, "editor")
	}); err != nil {
		return err
	}
	if dotErr != nil {
		return dotErr
	}
	fmt.Fprint(c.out, out)
	return nil
}

func parseSet(line string, args []string) (flow.Update, error) {
	if len(args) < 2 {
		return flow.Update{}, errors.New("usage: set <id> <content|model|temperature|key> <value>")
	}
	id, field := args[0], args[1]
	switch field {
	case "content":
		return flow.SetContent(id, restAfter(line, 3)), nil
	case "model":
		if len(args) != 3 {
			return flow.Update{}, errors.New("usage: set <id> model <name>")
		}
		return flow.SetModel(id, flow.Model(args[2])), nil
	case "temperature":
		if len(args) != 3 {
			return flow.Update{}, errors.New("usage: set <id> temperature <0..1>")
		}
		t, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return flow.Update{}, fmt.Errorf("temperature %q: %w", args[2], err)
		}
		return flow.SetTemperature(id, t), nil
	case "key":
		if len(args) > 3 {
			return flow.Update{}, errors.New("usage: set <id> key <api-key>")
		}
		return flow.SetAPIKey(id, restAfter(line, 3)), nil
	}
	return flow.Update{}, fmt.Errorf("unknown field %q", field)
}

func parsePosition(xs, ys string) (flow.Position, error) {
	x, err := strconv.ParseFloat(xs, 64)
	if err != nil {
		return flow.Position{}, fmt.Errorf("x %q: %w", xs, err)
	}
	y, err := strconv.ParseFloat(ys, 64)
	if err != nil {
		return flow.Position{}, fmt.Errorf("y %q: %w", ys, err)
	}
	return flow.Position{X: x, Y: y}, nil
}

// restAfter returns line with its first n whitespace-separated words removed,
// keeping the inner spacing of what remains.
func restAfter(line string, n int) string {
	s := strings.TrimSpace(line)
	for range n {
		i := strings.IndexFunc(s, func(r rune) bool { return r == ' ' || r == '\t' })
		if i < 0 {
			return ""
		}
		s = strings.TrimLeft(s[i:], " \t")
	}
	return s
}
