package flow

import (
	"fmt"
	"log/slog"
)

// Model is a selectable language model.
type Model string

const (
	ModelGeminiPro     Model = "gemini-1.5-pro"
	ModelGeminiFlash   Model = "gemini-1.5-flash"
	ModelGeminiFlash8B Model = "gemini-1.5-flash-8b"
)

// DefaultModel is preselected on a fresh LLM node.
const DefaultModel = ModelGeminiPro

// Models lists the selectable models in menu order.
var Models = []Model{ModelGeminiPro, ModelGeminiFlash, ModelGeminiFlash8B}

// DisplayName returns the menu text for m.
func (m Model) DisplayName() string {
	switch m {
	case ModelGeminiPro:
		return "Gemini 1.5 Pro"
	case ModelGeminiFlash:
		return "Gemini 1.5 Flash"
	case ModelGeminiFlash8B:
		return "Gemini 1.5 Flash 8B"
	}
	return string(m)
}

// Valid reports whether m is one of Models.
func (m Model) Valid() bool {
	for _, v := range Models {
		if v == m {
			return true
		}
	}
	return false
}

// NodeData is the role-specific record carried by a node.
type NodeData interface {
	Role() Role
	clone() NodeData
}

// PromptData holds the free-text system prompt.
type PromptData struct {
	Content string
}

func (*PromptData) Role() Role { return RolePrompt }

func (d *PromptData) clone() NodeData { c := *d; return &c }

// LLMConfigData holds the model call settings.
type LLMConfigData struct {
	Model       Model
	Temperature float64
	APIKey      string
}

func (*LLMConfigData) Role() Role { return RoleLLM }

func (d *LLMConfigData) clone() NodeData { c := *d; return &c }

// String hides the API key.
func (d LLMConfigData) String() string {
	return fmt.Sprintf("{model=%s temperature=%g api_key=%s}", d.Model, d.Temperature, redact(d.APIKey))
}

// LogValue hides the API key from slog output.
func (d LLMConfigData) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("model", string(d.Model)),
		slog.Float64("temperature", d.Temperature),
		slog.String("api_key", redact(d.APIKey)),
	)
}

// OutputData is the empty record of an output sink.
type OutputData struct{}

func (*OutputData) Role() Role { return RoleOutput }

func (*OutputData) clone() NodeData { return &OutputData{} }

// DefaultData returns a fresh data record for role.
func DefaultData(role Role) (NodeData, error) {
	switch role {
	case RolePrompt:
		return &PromptData{}, nil
	case RoleLLM:
		return &LLMConfigData{Model: DefaultModel}, nil
	case RoleOutput:
		return &OutputData{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}
