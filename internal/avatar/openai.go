// Package avatar generates automated replies for accounts that have
// opted into answering mentions while away.
package avatar

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Config defines the OpenAI-backed responder settings. BaseURL is
// overridable for tests and compatible gateways.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float32
}

// OpenAIResponder produces replies through the OpenAI chat
// completion API.
type OpenAIResponder struct {
	client *openai.Client
	cfg    Config
}

func NewOpenAIResponder(cfg Config) (*OpenAIResponder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &OpenAIResponder{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
	}, nil
}

// Reply answers a message in the voice of the given persona.
func (r *OpenAIResponder) Reply(ctx context.Context, persona, message string) (string, error) {
	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.cfg.Model,
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt(persona),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: message,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned from openai")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func systemPrompt(persona string) string {
	prompt := "You are replying in a chat on behalf of a user who is away. " +
		"Answer the message addressed to them. Keep replies short and conversational."
	if persona != "" {
		prompt += " Adopt this persona: " + persona
	}

	return prompt
}
