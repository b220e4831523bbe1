// Package chatapi carries the remote chat endpoint contract: the wire types,
// an HTTP client for callers and the server that answers them.
package chatapi

import (
	"fmt"
	"log/slog"
)

// DefaultEndpoint is where the editor sends pipeline runs.
const DefaultEndpoint = "http://localhost:5000/chat"

// PipelineRequest is the JSON body POSTed to the chat endpoint.
type PipelineRequest struct {
	Prompt      *string  `json:"prompt" validate:"required"`
	Question    string   `json:"question" validate:"required"`
	Model       string   `json:"model" validate:"required"`
	Temperature *float64 `json:"temperature" validate:"required,gte=0,lte=2"`
	APIKey      string   `json:"api_key" validate:"required"`
}

// NewPipelineRequest fills every field of a request.
func NewPipelineRequest(prompt, question, model string, temperature float64, apiKey string) PipelineRequest {
	return PipelineRequest{
		Prompt:      &prompt,
		Question:    question,
		Model:       model,
		Temperature: &temperature,
		APIKey:      apiKey,
	}
}

// PromptText returns the system prompt, or "" when absent.
func (r PipelineRequest) PromptText() string {
	if r.Prompt == nil {
		return ""
	}
	return *r.Prompt
}

// TemperatureValue returns the temperature, or 0 when absent.
func (r PipelineRequest) TemperatureValue() float64 {
	if r.Temperature == nil {
		return 0
	}
	return *r.Temperature
}

func (r PipelineRequest) String() string {
	return fmt.Sprintf("{model=%s temperature=%g question=%q api_key=%s}",
		r.Model, r.TemperatureValue(), r.Question, redact(r.APIKey))
}

// LogValue keeps the API key and prompt body out of logs.
func (r PipelineRequest) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("model", r.Model),
		slog.Float64("temperature", r.TemperatureValue()),
		slog.Int("prompt_len", len(r.PromptText())),
		slog.Int("question_len", len(r.Question)),
		slog.String("api_key", redact(r.APIKey)),
	)
}

// PipelineResult is the success body returned by the chat endpoint.
type PipelineResult struct {
	Response string `json:"response"`
}

// ErrorBody is the failure body returned by the chat endpoint.
type ErrorBody struct {
	Error string `json:"error"`
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}
