package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// OpenAIClient calls an OpenAI-compatible chat completion API.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	policy  RetryPolicy
	health  *Health
}

// NewOpenAIClient creates a completion adapter. An empty API key yields a
// client whose calls report Unavailable, which the graph treats as a degraded
// model backend rather than an error.
func NewOpenAIClient(baseURL, apiKey, model string, policy RetryPolicy, health *Health) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{},
		policy:  policy,
		health:  health,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete runs one chat completion call under the retry policy.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) Result[string] {
	if c.apiKey == "" {
		c.health.MarkDegraded("model")
		return Unavailable[string]("model backend not configured")
	}

	return Invoke(ctx, "model", c.policy, c.health, func(ctx context.Context) Result[string] {
		payload := chatCompletionRequest{
			Model:       c.model,
			Temperature: req.Temperature,
		}
		if req.System != "" {
			payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: req.System})
		}
		payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: req.User})
		if req.JSON {
			payload.ResponseFormat = &responseFormat{Type: "json_object"}
		}

		body, err := json.Marshal(payload)
		if err != nil {
			return Failure[string](fmt.Sprintf("marshal completion request: %v", err))
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return Failure[string](fmt.Sprintf("build completion request: %v", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.client.Do(httpReq)
		if err != nil {
			return Unavailable[string](fmt.Sprintf("completion request: %v", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return Unavailable[string](fmt.Sprintf("completion status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return Failure[string](fmt.Sprintf("completion status %d: %s", resp.StatusCode, string(b)))
		}

		var out chatCompletionResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return Failure[string](fmt.Sprintf("decode completion response: %v", err))
		}
		if len(out.Choices) == 0 {
			return Failure[string]("completion returned no choices")
		}
		return Success(out.Choices[0].Message.Content)
	})
}
