package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChat struct {
	request openai.ChatCompletionRequest
	content string
	err     error
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.request = request
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.content}},
		},
	}, nil
}

func TestClientDecide(t *testing.T) {
	t.Run("parses model reply", func(t *testing.T) {
		chat := &fakeChat{content: `{"should_trigger": true, "confidence": 0.8, "reason": "streak"}`}
		client := NewClientWithChat(chat, "qwen2.5:7b", 30*time.Second)

		decision, err := client.Decide(context.Background(), "system", "user")
		require.NoError(t, err)
		assert.True(t, decision.ShouldTrigger)
		assert.Equal(t, 0.8, decision.Confidence)

		assert.Equal(t, "qwen2.5:7b", chat.request.Model)
		require.Len(t, chat.request.Messages, 2)
		assert.Equal(t, openai.ChatMessageRoleSystem, chat.request.Messages[0].Role)
		assert.InDelta(t, 0.1, chat.request.Temperature, 1e-9)
		assert.Equal(t, 500, chat.request.MaxTokens)
	})

	t.Run("transport error surfaces", func(t *testing.T) {
		chat := &fakeChat{err: errors.New("connection refused")}
		client := NewClientWithChat(chat, "qwen2.5:7b", 30*time.Second)

		_, err := client.Decide(context.Background(), "system", "user")
		assert.Error(t, err)
	})

	t.Run("empty choices is an error", func(t *testing.T) {
		client := NewClientWithChat(&emptyChat{}, "qwen2.5:7b", 30*time.Second)
		_, err := client.Decide(context.Background(), "system", "user")
		assert.ErrorContains(t, err, "no choices")
	})
}

type emptyChat struct{}

func (emptyChat) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{}, nil
}
