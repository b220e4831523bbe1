package providers

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ravi-parthasarathy/chatflow/pkg/llm"
)

func init() {
	llm.RegisterProvider("gemini", func(modelName string, opts llm.Options) (llm.Client, error) {
		return newGeminiClient(modelName, opts)
	})
}

type geminiClient struct {
	apiKey    string
	modelName string
	attempts  int
}

func newGeminiClient(modelName string, opts llm.Options) (*geminiClient, error) {
	key := opts.APIKey
	if key == "" {
		key = os.Getenv("GEMINI_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("gemini: no API key supplied and GEMINI_API_KEY not set")
	}
	return &geminiClient{apiKey: key, modelName: modelName, attempts: opts.Attempts()}, nil
}

// Complete performs a blocking generation with automatic retry on transient errors.
// The SDK client is scoped to the call because keys arrive per request.
func (c *geminiClient) Complete(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	sdk, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return llm.GenerateResponse{}, fmt.Errorf("gemini: create client: %w", err)
	}
	defer func() { _ = sdk.Close() }()

	var resp llm.GenerateResponse
	err = llm.WithRetry(ctx, c.attempts, func() error {
		var innerErr error
		resp, innerErr = c.doComplete(ctx, sdk, req)
		return innerErr
	})
	return resp, err
}

func (c *geminiClient) doComplete(ctx context.Context, sdk *genai.Client, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	model := sdk.GenerativeModel(c.modelName)

	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.Temperature != nil {
		model.SetTemperature(float32(*req.Temperature))
	}

	// System prompt goes to SystemInstruction, not the message history.
	if req.System != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
	}

	history, last := buildContents(req.Messages)
	if last == nil {
		return llm.GenerateResponse{}, fmt.Errorf("gemini: no user message to send")
	}

	cs := model.StartChat()
	cs.History = history

	apiResp, err := cs.SendMessage(ctx, last.Parts...)
	if err != nil {
		return llm.GenerateResponse{}, mapGeminiError(err)
	}
	return convertGeminiResponse(apiResp), nil
}

// buildContents translates unified messages into Gemini's format.
// History holds every turn except the last, which is returned separately for
// cs.SendMessage().
func buildContents(msgs []llm.Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleUser:
			contents = append(contents, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Text)}})
		case llm.RoleAssistant:
			if m.Text == "" {
				continue
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Text)}})
		}
	}
	if len(contents) == 0 {
		return nil, nil
	}
	return contents[:len(contents)-1], contents[len(contents)-1]
}

func convertGeminiResponse(resp *genai.GenerateContentResponse) llm.GenerateResponse {
	out := llm.GenerateResponse{StopReason: llm.StopReasonEndTurn}

	if len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					out.Text += string(t)
				}
			}
		}
		switch cand.FinishReason {
		case genai.FinishReasonMaxTokens:
			out.StopReason = llm.StopReasonMaxTokens
		case genai.FinishReasonSafety, genai.FinishReasonRecitation:
			out.StopReason = llm.StopReasonFiltered
		}
	}

	if resp.UsageMetadata != nil {
		out.Usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.Usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out
}

func mapGeminiError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return llm.StatusError(apiErr.Code, apiErr.Message, err)
	}
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return &llm.ContentFilterError{LLMError: llm.LLMError{Message: blocked.Error(), Cause: err}}
	}
	return fmt.Errorf("gemini: %w", err)
}
