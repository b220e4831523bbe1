package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ravi-parthasarathy/chatflow/pkg/editor"
	"github.com/ravi-parthasarathy/chatflow/pkg/flow"
)

const testFlow = `digraph chat {
	sys [type=prompt, content="Be terse"]
	gem [type=llm, model="gemini-1.5-pro", temperature="0.2"]
	out [type=output]
	sys -> gem
	gem -> out
}`

func writeFlow(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flow.dot")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("write flow: %v", err)
	}
	return path
}

// chatEndpoint answers every request with response.
func chatEndpoint(t *testing.T, response string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"` + response + `"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// ─── TestInitLogger ───────────────────────────────────────────────────────────

func TestInitLogger_ValidLevels(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error", "DEBUG", "INFO"} {
		if err := initLogger(lvl, "text"); err != nil {
			t.Errorf("initLogger(%q, text): unexpected error: %v", lvl, err)
		}
	}
}

func TestInitLogger_ValidFormats(t *testing.T) {
	for _, f := range []string{"text", "json", "TEXT", "JSON"} {
		if err := initLogger("info", f); err != nil {
			t.Errorf("initLogger(info, %q): unexpected error: %v", f, err)
		}
	}
}

func TestInitLogger_InvalidLevel(t *testing.T) {
	if err := initLogger("verbose", "text"); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestInitLogger_InvalidFormat(t *testing.T) {
	if err := initLogger("info", "xml"); err == nil {
		t.Fatal("expected error for unknown log format")
	}
}

// ─── commands ─────────────────────────────────────────────────────────────────

func TestRunCommand(t *testing.T) {
	srv := chatEndpoint(t, "4")
	path := writeFlow(t, testFlow)

	out, err := execute(t, "run", path, "--question", "2+2?", "--api-key", "k", "--endpoint", srv.URL)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(out) != "4" {
		t.Errorf("output = %q, want 4", out)
	}
}

func TestRunCommand_MissingAPIKey(t *testing.T) {
	path := writeFlow(t, testFlow)
	_, err := execute(t, "run", path, "--question", "2+2?", "--endpoint", "http://127.0.0.1:1/chat")
	if err == nil || err.Error() != flow.MissingAPIKeyText {
		t.Fatalf("err = %v, want %q", err, flow.MissingAPIKeyText)
	}
}

func TestRunCommand_EndpointFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()
	path := writeFlow(t, testFlow)

	out, err := execute(t, "run", path, "-q", "hi", "--api-key", "k", "--endpoint", srv.URL)
	if err == nil {
		t.Fatal("expected error for failed run")
	}
	if !strings.Contains(out, flow.FailureText) {
		t.Errorf("output = %q, want failure text", out)
	}
}

func TestLintCommand(t *testing.T) {
	out, err := execute(t, "lint", writeFlow(t, testFlow))
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if !strings.Contains(out, `OK: pipeline "chat" is valid (3 nodes, 2 edges)`) {
		t.Errorf("unexpected output: %q", out)
	}

	_, err = execute(t, "lint", writeFlow(t, `digraph { a [type=prompt]; b [type=output]; }`))
	if err == nil {
		t.Fatal("expected lint error for missing llm node")
	}
}

func TestGraphCommand(t *testing.T) {
	path := writeFlow(t, testFlow)
	out, err := execute(t, "graph", path, "--format", "dot")
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	if !strings.Contains(out, "digraph") {
		t.Errorf("expected DOT output, got %q", out)
	}
	if _, err := execute(t, "graph", path, "--format", "svg"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestModelsCommand(t *testing.T) {
	out, err := execute(t, "models")
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	for _, m := range flow.Models {
		if !strings.Contains(out, string(m)) {
			t.Errorf("missing model %s in %q", m, out)
		}
	}
	if !strings.Contains(out, "server providers: anthropic, gemini, openai") {
		t.Errorf("missing provider list in %q", out)
	}
}

func TestEditCommand(t *testing.T) {
	srv := chatEndpoint(t, "4")
	script := strings.Join([]string{
		"add custom", "add llm", "add output",
		"ask 2+2?", "run", "quit",
	}, "\n")

	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(script))
	root.SetArgs([]string{"edit", "--endpoint", srv.URL, "--timeout", "5s", "--queue-size", "8"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !strings.Contains(out.String(), flow.MissingAPIKeyText) {
		t.Errorf("expected api key notice, got:\n%s", out.String())
	}
}

func TestRunCommand_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	out, err := execute(t, "run", writeFlow(t, testFlow), "-q", "hi", "--api-key", "k",
		"--endpoint", srv.URL, "--timeout", "50ms")
	if err == nil {
		t.Fatal("expected error for timed out run")
	}
	if !strings.Contains(out, flow.FailureText) {
		t.Errorf("output = %q, want failure text", out)
	}
}

// ─── console ──────────────────────────────────────────────────────────────────

func startConsole(t *testing.T, endpoint string) (*console, context.Context, *bytes.Buffer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ed := editor.New(newEndpointClient(endpoint, 5*time.Second),
		editor.WithGraph(flow.NewGraph(flow.WithIDSource(func(r flow.Role) string { return string(r) }))))
	done := make(chan struct{})
	go func() {
		_ = ed.Loop(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	var out bytes.Buffer
	return &console{ed: ed, out: &out, poll: time.Millisecond}, ctx, &out
}

func TestConsoleSession(t *testing.T) {
	srv := chatEndpoint(t, "4")
	c, ctx, out := startConsole(t, srv.URL)

	script := strings.Join([]string{
		"add custom 0 0",
		"add llm 200 0",
		"add output 400 0",
		"connect prompt llm",
		"connect llm output",
		"set prompt content Be   terse",
		"set llm temperature 0.2",
		"set llm key k",
		"ask 2+2?",
		"run",
		"quit",
		"show",
	}, "\n")
	if err := c.serve(ctx, strings.NewReader(script)); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if strings.Contains(out.String(), "error:") {
		t.Fatalf("unexpected error in session:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "4\n") {
		t.Errorf("expected run output 4, got:\n%s", out.String())
	}

	var content string
	if err := c.ed.Inspect(ctx, func(g *flow.Graph) {
		n, _ := g.Node("prompt")
		content = n.Data.(*flow.PromptData).Content
	}); err != nil {
		t.Fatal(err)
	}
	if content != "Be   terse" {
		t.Errorf("content = %q, want inner spacing kept", content)
	}
}

func TestConsoleValidationNotice(t *testing.T) {
	c, ctx, out := startConsole(t, "http://127.0.0.1:1/chat")
	for _, line := range []string{"add custom", "add output", "ask hi", "run"} {
		if err := c.exec(ctx, line); err != nil {
			t.Fatalf("%s: %v", line, err)
		}
	}
	if !strings.Contains(out.String(), flow.MissingNodesText) {
		t.Errorf("expected notice, got %q", out.String())
	}
}

func TestConsoleErrors(t *testing.T) {
	c, ctx, _ := startConsole(t, "http://127.0.0.1:1/chat")
	for _, line := range []string{
		"bogus",
		"add image",
		"add llm 1",
		"move nowhere 1 2",
		"set llm temperature hot",
		"connect a",
	} {
		if err := c.exec(ctx, line); err == nil {
			t.Errorf("%q: expected error", line)
		}
	}
}

func TestConsoleDeleteKey(t *testing.T) {
	c, ctx, _ := startConsole(t, "http://127.0.0.1:1/chat")
	for _, line := range []string{"add llm", "add output", "select output", "key Delete"} {
		if err := c.exec(ctx, line); err != nil {
			t.Fatalf("%s: %v", line, err)
		}
	}
	v, err := c.ed.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(v.Nodes) != 1 || v.Nodes[0].ID != "llm" {
		t.Errorf("nodes = %+v, want only llm", v.Nodes)
	}
}

func TestRestAfter(t *testing.T) {
	tests := []struct {
		line string
		n    int
		want string
	}{
		{"ask what is  2+2?", 1, "what is  2+2?"},
		{"set p content", 3, ""},
		{"  set p content  hello world ", 3, "hello world"},
	}
	for _, tt := range tests {
		if got := restAfter(tt.line, tt.n); got != tt.want {
			t.Errorf("restAfter(%q, %d) = %q, want %q", tt.line, tt.n, got, tt.want)
		}
	}
}
