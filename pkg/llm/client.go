// Package llm implements the LLM evaluation path: the OpenAI-compatible
// chat client, prompt construction, response parsing, the deterministic
// context summarizer, the decision cache, and the trigger-mode state
// machine that schedules model calls.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// Low temperature for consistent decisions.
	requestTemperature = 0.1
	requestMaxTokens   = 500
)

// ChatClient captures the subset of the go-openai client used here.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client issues decision requests against an OpenAI-compatible endpoint.
type Client struct {
	chat    ChatClient
	model   string
	timeout time.Duration
}

// NewClient builds a client for the given endpoint. An empty API key is
// replaced with a placeholder so local OpenAI-compatible servers work.
func NewClient(apiKey, baseURL, model string, timeout time.Duration) *Client {
	if apiKey == "" {
		apiKey = "dummy-key"
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &Client{
		chat:    openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: timeout,
	}
}

// NewClientWithChat builds a client over a pre-built ChatClient.
// Useful for testing with a fake completion backend.
func NewClientWithChat(chat ChatClient, model string, timeout time.Duration) *Client {
	return &Client{chat: chat, model: model, timeout: timeout}
}

// Decide sends the two-message prompt and parses the model's JSON reply.
func (c *Client) Decide(ctx context.Context, systemPrompt, userPrompt string) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: requestTemperature,
		MaxTokens:   requestMaxTokens,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Decision{}, fmt.Errorf("chat completion returned no choices")
	}
	return ParseDecision(resp.Choices[0].Message.Content), nil
}
