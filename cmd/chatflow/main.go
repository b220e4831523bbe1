package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/chatflow/pkg/chatapi"
	"github.com/ravi-parthasarathy/chatflow/pkg/flow"
	"github.com/ravi-parthasarathy/chatflow/pkg/llm"

	// Register all LLM providers via their init() functions.
	_ "github.com/ravi-parthasarathy/chatflow/pkg/llm/providers"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var logLevel, logFormat string

	root := &cobra.Command{
		Use:   "chatflow",
		Short: "Chatflow: system prompt -> LLM -> output pipelines",
		Long: `Chatflow composes a three-stage chat pipeline (system prompt, language
model, output) and runs it against a chat endpoint.

"serve" runs the endpoint itself; "edit" drives the pipeline editor from
the terminal; "run" executes a pipeline described in a DOT file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return initLogger(logLevel, logFormat)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")

	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())
	root.AddCommand(lintCmd())
	root.AddCommand(graphCmd())
	root.AddCommand(editCmd())
	root.AddCommand(modelsCmd())
	return root
}

// initLogger installs the default slog logger on stderr.
func initLogger(level, format string) error {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q: use debug, info, warn or error", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	switch strings.ToLower(format) {
	case "text":
		h = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("unknown log format %q: use text or json", format)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

// ─── serve ────────────────────────────────────────────────────────────────────

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the /chat endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := chatapi.LoadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			return chatapi.NewServer(cfg).ListenAndServe(signalContext(cmd.Context()))
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides CHATFLOW_ADDR)")
	return cmd
}

// ─── run ──────────────────────────────────────────────────────────────────────

func runCmd() *cobra.Command {
	var (
		question, apiKey, endpoint string
		timeout                    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run <flow.dot>",
		Short: "Run a pipeline once and print the output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, _, err := loadGraph(args[0])
			if err != nil {
				return err
			}
			if apiKey != "" {
				llmNode, ok := g.FirstByRole(flow.RoleLLM)
				if ok {
					if err := g.Apply(flow.SetAPIKey(llmNode.ID, apiKey)); err != nil {
						return err
					}
				}
			}
			for _, le := range flow.Lint(g) {
				slog.Warn("lint", "node", le.NodeID, "msg", le.Message)
			}

			runner := flow.NewRunner(newEndpointClient(endpoint, timeout))
			out, err := runner.Run(signalContext(cmd.Context()), g, question)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Output)
			if out.State == flow.Failed {
				return errors.New("pipeline run failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&question, "question", "q", "", "question to ask")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key for the LLM node (overrides the file)")
	cmd.Flags().StringVar(&endpoint, "endpoint", chatapi.DefaultEndpoint, "chat endpoint URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "HTTP timeout for the chat request (0 waits indefinitely)")
	return cmd
}

// ─── lint ─────────────────────────────────────────────────────────────────────

func lintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint <flow.dot>",
		Short: "Check a pipeline DOT file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, name, err := loadGraph(args[0])
			if err != nil {
				return err
			}
			if lintErr := flow.LintErr(g); lintErr != nil {
				return lintErr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: pipeline %q is valid (%d nodes, %d edges)\n",
				name, len(g.Nodes()), len(g.Edges()))
			return nil
		},
	}
}

// ─── models ───────────────────────────────────────────────────────────────────

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models selectable in an LLM node",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, m := range flow.Models {
				mark := " "
				if m == flow.DefaultModel {
					mark = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-22s %s\n", mark, m, m.DisplayName())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nserver providers: %s\n", strings.Join(llm.Providers(), ", "))
		},
	}
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// newEndpointClient builds the chat endpoint client. A zero timeout leaves
// cancellation to the caller's context.
func newEndpointClient(endpoint string, timeout time.Duration) *chatapi.Client {
	c := chatapi.NewClient(endpoint, chatapi.WithHTTPClient(&http.Client{Timeout: timeout}))
	slog.Debug("chat endpoint", "url", c.Endpoint(), "timeout", timeout)
	return c
}

func loadGraph(path string) (*flow.Graph, string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read pipeline file: %w", err)
	}
	g, name, err := flow.ParseDOT(string(src))
	if err != nil {
		return nil, "", fmt.Errorf("parse pipeline: %w", err)
	}
	return g, name, nil
}

// signalContext returns a context that is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		select {
		case <-ch:
			fmt.Fprintln(os.Stderr, "\n[chatflow] interrupted, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}
