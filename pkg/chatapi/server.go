package chatapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/go-playground/validator/v10"

	"github.com/ravi-parthasarathy/chatflow/pkg/llm"
)

const maxRequestBody = 1 << 20

// ClientFactory builds an LLM client for a qualified model ID.
type ClientFactory func(modelID string, opts llm.Options) (llm.Client, error)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithClientFactory replaces llm.NewClient, e.g. with a fake in tests.
func WithClientFactory(f ClientFactory) ServerOption {
	return func(s *Server) { s.newClient = f }
}

// Server answers POST /chat by running a system prompt and a question
// through the requested model.
type Server struct {
	cfg       Config
	validate  *validator.Validate
	newClient ClientFactory
}

// NewServer creates a Server from cfg.
func NewServer(cfg Config, opts ...ServerOption) *Server {
	s := &Server{
		cfg:       cfg,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		newClient: llm.NewClient,
	}
	s.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the HTTP routes wrapped with CORS and access logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("OPTIONS /chat", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return accessLog(cors(mux))
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	slog.Info("chat server listening", "addr", ln.Addr().String(), "provider", s.cfg.DefaultProvider)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("chat server stopped")
	return nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req PipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	modelID := llm.ResolveModelID(req.Model, s.cfg.DefaultProvider)
	client, err := s.newClient(modelID, llm.Options{APIKey: req.APIKey, MaxAttempts: s.cfg.MaxRetries + 1})
	if err != nil {
		slog.Error("create llm client", "model", modelID, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	temp := req.TemperatureValue()
	resp, err := client.Complete(r.Context(), llm.GenerateRequest{
		Model:       modelID,
		System:      req.PromptText(),
		Messages:    []llm.Message{llm.TextMessage(llm.RoleUser, "Question: "+req.Question)},
		Temperature: &temp,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		slog.Error("llm call failed", "model", modelID, "request", req, "err", err)
		writeError(w, statusFor(err), err.Error())
		return
	}

	slog.Debug("llm call complete", "model", modelID,
		"input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens)
	writeJSON(w, http.StatusOK, PipelineResult{Response: resp.Text})
}

// validationMessage turns validator errors into one user-facing line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	var missing, invalid []string
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			missing = append(missing, fe.Field())
			continue
		}
		invalid = append(invalid, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
	}
	sort.Strings(missing)
	if len(missing) > 0 {
		return "Missing required fields in request: " + strings.Join(missing, ", ")
	}
	return "Invalid request: " + strings.Join(invalid, "; ")
}

func statusFor(err error) int {
	var auth *llm.AuthError
	var rl *llm.RateLimitError
	switch {
	case errors.As(err, &auth):
		return http.StatusUnauthorized
	case errors.As(err, &rl):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorBody{Error: msg})
}

// cors allows any origin, matching a local editor served from another port.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", m.Code,
			"bytes", m.Written,
			"duration", m.Duration,
		)
	})
}
