package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/chatflow/pkg/flow"
)

func graphCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph <flow.dot>",
		Short: "Print a human-readable summary of a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, name, err := loadGraph(args[0])
			if err != nil {
				return err
			}
			return renderGraph(cmd.OutOrStdout(), g, name, format)
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format: text or dot")
	return cmd
}

func renderGraph(w io.Writer, g *flow.Graph, name, format string) error {
	switch strings.ToLower(format) {
	case "dot":
		out, err := flow.RenderDOT(g, name)
		if err != nil {
			return fmt.Errorf("render dot: %w", err)
		}
		_, err = fmt.Fprint(w, out)
		return err
	case "text", "":
		_, err := fmt.Fprint(w, flow.RenderText(g, name))
		return err
	default:
		return fmt.Errorf("unknown format %q: use text or dot", format)
	}
}
