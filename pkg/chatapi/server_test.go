package chatapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravi-parthasarathy/chatflow/pkg/chatapi"
	"github.com/ravi-parthasarathy/chatflow/pkg/llm"
)

type fakeLLM struct {
	modelID string
	opts    llm.Options
	req     llm.GenerateRequest
	text    string
	err     error
}

func (f *fakeLLM) Complete(_ context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	f.req = req
	if f.err != nil {
		return llm.GenerateResponse{}, f.err
	}
	return llm.GenerateResponse{Text: f.text, StopReason: llm.StopReasonEndTurn}, nil
}

func newTestServer(t *testing.T, fake *fakeLLM) *httptest.Server {
	t.Helper()
	s := chatapi.NewServer(chatapi.DefaultConfig(), chatapi.WithClientFactory(
		func(modelID string, opts llm.Options) (llm.Client, error) {
			fake.modelID = modelID
			fake.opts = opts
			return fake, nil
		}))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) (int, chatapi.ErrorBody, chatapi.PipelineResult) {
	t.Helper()
	resp, err := http.Post(url+"/chat", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	var eb chatapi.ErrorBody
	var pr chatapi.PipelineResult
	_ = json.Unmarshal(raw, &eb)
	_ = json.Unmarshal(raw, &pr)
	return resp.StatusCode, eb, pr
}

func TestServerChat(t *testing.T) {
	fake := &fakeLLM{text: "4"}
	srv := newTestServer(t, fake)

	code, _, res := post(t, srv.URL, `{"prompt":"Be terse","question":"2+2?","model":"gemini-1.5-pro","temperature":0.2,"api_key":"k"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "4", res.Response)

	assert.Equal(t, "gemini:gemini-1.5-pro", fake.modelID)
	assert.Equal(t, "k", fake.opts.APIKey)
	assert.Equal(t, 3, fake.opts.MaxAttempts)
	assert.Equal(t, "Be terse", fake.req.System)
	require.Len(t, fake.req.Messages, 1)
	assert.Equal(t, llm.RoleUser, fake.req.Messages[0].Role)
	assert.Equal(t, "Question: 2+2?", fake.req.Messages[0].Text)
	require.NotNil(t, fake.req.Temperature)
	assert.Equal(t, 0.2, *fake.req.Temperature)
}

func TestServerChat_EmptyPromptAccepted(t *testing.T) {
	fake := &fakeLLM{text: "ok"}
	srv := newTestServer(t, fake)

	code, _, res := post(t, srv.URL, `{"prompt":"","question":"q","model":"m","temperature":0,"api_key":"k"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", res.Response)
	assert.Empty(t, fake.req.System)
}

func TestServerChat_QualifiedModel(t *testing.T) {
	fake := &fakeLLM{text: "ok"}
	srv := newTestServer(t, fake)

	code, _, _ := post(t, srv.URL, `{"prompt":"","question":"q","model":"anthropic:claude-3-5-haiku-latest","temperature":0,"api_key":"k"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "anthropic:claude-3-5-haiku-latest", fake.modelID)
}

func TestServerChat_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing fields", `{"prompt":"p","question":"q"}`, "Missing required fields in request: api_key, model, temperature"},
		{"empty question", `{"prompt":"p","question":"","model":"m","temperature":0,"api_key":"k"}`, "Missing required fields in request: question"},
		{"temperature range", `{"prompt":"p","question":"q","model":"m","temperature":5,"api_key":"k"}`, "Invalid request: temperature"},
		{"prompt absent", `{"question":"q","model":"m","temperature":0,"api_key":"k"}`, "Missing required fields in request: prompt"},
		{"empty api key", `{"prompt":"p","question":"q","model":"m","temperature":0,"api_key":""}`, "Missing required fields in request: api_key"},
		{"not json", `nope`, "Invalid JSON body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeLLM{}
			srv := newTestServer(t, fake)
			code, eb, _ := post(t, srv.URL, tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.True(t, strings.HasPrefix(eb.Error, tt.want), eb.Error)
			assert.Empty(t, fake.modelID, "no llm client for rejected requests")
		})
	}
}

func TestServerChat_ProviderErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"auth", llm.StatusError(401, "bad key", nil), http.StatusUnauthorized},
		{"rate limit", llm.StatusError(429, "slow down", nil), http.StatusTooManyRequests},
		{"server", llm.StatusError(503, "unavailable", nil), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeLLM{err: tt.err})
			code, eb, _ := post(t, srv.URL, `{"prompt":"p","question":"q","model":"m","temperature":0,"api_key":"k"}`)
			assert.Equal(t, tt.code, code)
			assert.NotEmpty(t, eb.Error)
		})
	}
}

func TestServerCORS(t *testing.T) {
	srv := newTestServer(t, &fakeLLM{})
	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/chat", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
}

func TestServerHealthz(t *testing.T) {
	srv := newTestServer(t, &fakeLLM{})
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// The HTTP client and server agree on the wire format.
func TestClientAgainstServer(t *testing.T) {
	srv := newTestServer(t, &fakeLLM{text: "4"})
	res, err := chatapi.NewClient(srv.URL+"/chat").Chat(t.Context(),
		chatapi.NewPipelineRequest("Be terse", "2+2?", "gemini-1.5-flash", 0.2, "k"))
	require.NoError(t, err)
	assert.Equal(t, "4", res.Response)
}
