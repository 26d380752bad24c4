package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicMaxTokens = 8192

type anthropicClient struct {
	client anthropic.Client
	model  string
}

// newAnthropicClient ignores opts.jsonOutput: the Messages API has no
// response-format parameter, so JSON-mode callers parse the text output
// themselves.
func newAnthropicClient(apiKey, model string, opts *clientOptions) (*anthropicClient, error) {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if opts.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.baseURL))
	}
	return &anthropicClient{client: anthropic.NewClient(reqOpts...), model: model}, nil
}

// splitAnthropicMessages separates system prompts, which the Messages API
// takes as a top-level field, from the user/assistant turns.
func splitAnthropicMessages(messages []Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	var chat []anthropic.MessageParam

	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case "user":
			chat = append(chat, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case "assistant":
			chat = append(chat, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	return system, chat
}

func (c *anthropicClient) Complete(ctx context.Context, messages []Message) (string, error) {
	system, chat := splitAnthropicMessages(messages)

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: anthropicMaxTokens,
		System:    system,
		Messages:  chat,
	})
	if err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}

	var b strings.Builder
	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			b.WriteString(resp.Content[i].Text)
		}
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("anthropic: empty response content")
	}
	return text, nil
}
