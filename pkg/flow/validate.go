package flow

import "github.com/ravi-parthasarathy/chatflow/pkg/chatapi"

// ErrorKind classifies a failed run.
type ErrorKind string

const (
	MissingNodes    ErrorKind = "missing_nodes"
	MissingQuestion ErrorKind = "missing_question"
	MissingAPIKey   ErrorKind = "missing_api_key"
	NetworkOrParse  ErrorKind = "network_or_parse"
)

// User-facing texts. FailureText is the only thing a network or decode
// failure ever shows.
const (
	MissingNodesText    = "Please connect all nodes: System Prompt -> LLM -> Output"
	MissingQuestionText = "Please enter a question."
	MissingAPIKeyText   = "Please enter an API key in the LLM node."
	FailureText         = "An error occurred while fetching the response."
)

// RunError is a failed run attempt.
type RunError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *RunError) Error() string { return e.Message }

func (e *RunError) Unwrap() error { return e.Cause }

// Plan is a validated pipeline ready to send.
type Plan struct {
	PromptID string
	LLMID    string
	OutputID string
	Request  chatapi.PipelineRequest
}

// Validate locates the three roles (first match wins) and checks the run
// preconditions in order: nodes, question, API key. Edges are not consulted.
func Validate(g *Graph, question string) (*Plan, error) {
	prompt, okP := g.FirstByRole(RolePrompt)
	model, okL := g.FirstByRole(RoleLLM)
	out, okO := g.FirstByRole(RoleOutput)
	if !okP || !okL || !okO {
		return nil, &RunError{Kind: MissingNodes, Message: MissingNodesText}
	}
	if question == "" {
		return nil, &RunError{Kind: MissingQuestion, Message: MissingQuestionText}
	}
	cfg := model.Data.(*LLMConfigData)
	if cfg.APIKey == "" {
		return nil, &RunError{Kind: MissingAPIKey, Message: MissingAPIKeyText}
	}
	return &Plan{
		PromptID: prompt.ID,
		LLMID:    model.ID,
		OutputID: out.ID,
		Request:  BuildRequest(prompt.Data.(*PromptData), cfg, question),
	}, nil
}

// BuildRequest assembles the wire payload from the node records.
func BuildRequest(p *PromptData, cfg *LLMConfigData, question string) chatapi.PipelineRequest {
	return chatapi.NewPipelineRequest(p.Content, question, string(cfg.Model), cfg.Temperature, cfg.APIKey)
}
