package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/quietriver/mnemo/core"
)

// AnthropicCompleter adapts the Anthropic Messages API to the Completer
// interface.
type AnthropicCompleter struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicCompleter wraps a configured client. model may be empty for
// the default.
func NewAnthropicCompleter(client *anthropic.Client, model string) *AnthropicCompleter {
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &AnthropicCompleter{client: client, model: model}
}

// Complete sends the conversation and returns the concatenated text blocks
// of the reply.
func (c *AnthropicCompleter) Complete(ctx context.Context, messages []core.Message, systemPrompt string, maxTokens int64, temperature float64) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("complete: no messages")
	}
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	apiMessages := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case core.RoleAssistant:
			apiMessages = append(apiMessages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			apiMessages = append(apiMessages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages:  apiMessages,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if temperature > 0 {
		params.Temperature = anthropic.Float(temperature)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}
