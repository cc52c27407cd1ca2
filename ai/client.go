// Package ai talks to a local OpenAI-compatible inference server.
// Ollama, LocalAI, or anything speaking /v1/chat/completions works,
// including the tools extension for function calling.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/teranos/smartcache/am"
	"github.com/teranos/smartcache/errors"
)

// Message is one turn of a chat conversation. Tool responses carry the
// id of the call they answer.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Tool describes a function the model may call
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolCall is the model's request to invoke a tool
type ToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// Completion is one model reply: free text, tool calls, or both
type Completion struct {
	Text      string
	ToolCalls []ToolCall
}

// Client calls a local inference endpoint
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient creates a client from oracle configuration
func NewClient(cfg am.Oracle) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: cfg.Timeout(),
		},
	}
}

// chatCompletionRequest matches the OpenAI API format (Ollama is compatible)
type chatCompletionRequest struct {
	Model    string          `json:"model"`
	Messages []Message       `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []toolWrapper   `json:"tools,omitempty"`
	Options  *completionOpts `json:"options,omitempty"` // Ollama-specific options
}

type toolWrapper struct {
	Type     string `json:"type"`
	Function Tool   `json:"function"`
}

type completionOpts struct {
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"num_predict,omitempty"` // Ollama uses num_predict
}

// chatCompletionResponse matches the OpenAI API format
type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int     `json:"index"`
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

// Complete sends a system prompt, conversation, and available tools,
// returning the model's reply
func (c *Client) Complete(ctx context.Context, system string, messages []Message, tools []Tool) (*Completion, error) {
	all := make([]Message, 0, len(messages)+1)
	if system != "" {
		all = append(all, Message{Role: "system", Content: system})
	}
	all = append(all, messages...)

	reqBody := chatCompletionRequest{
		Model:    c.model,
		Messages: all,
		Stream:   false,
		Options: &completionOpts{
			Temperature: 0.7,
			MaxTokens:   1024,
		},
	}
	for _, tool := range tools {
		reqBody.Tools = append(reqBody.Tools, toolWrapper{Type: "function", Function: tool})
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal completion request")
	}

	endpoint := c.baseURL + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "completion request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, errors.Newf("inference server returned status %d: %s", resp.StatusCode, string(body))
	}

	var completion chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, errors.Wrap(err, "failed to decode completion response")
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("no completion choices returned")
	}

	choice := completion.Choices[0].Message
	return &Completion{
		Text:      choice.Content,
		ToolCalls: choice.ToolCalls,
	}, nil
}
