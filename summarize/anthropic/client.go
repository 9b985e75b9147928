// Package anthropic provides a summarize.ChatClient implementation backed
// by the Anthropic Claude Messages API via
// github.com/anthropics/anthropic-sdk-go.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lectern-ai/lectern/summarize"
)

// defaultMaxTokens caps completions when the caller does not configure one.
const defaultMaxTokens = 2048

// MessagesClient captures the subset of the Anthropic SDK client used by
// the adapter. It is satisfied by *sdk.MessageService so callers can pass
// either a real client or a mock in tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the Anthropic adapter.
type Options struct {
	// Client is the Anthropic messages client. Required.
	Client MessagesClient
	// Model is the Claude model identifier. Required.
	Model string
	// MaxTokens caps the completion length. Defaults to defaultMaxTokens.
	MaxTokens int64
}

// Client implements summarize.ChatClient via Anthropic Claude Messages.
type Client struct {
	msg       MessagesClient
	model     string
	maxTokens int64
}

// New builds an Anthropic-backed chat client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("model is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{msg: opts.Client, model: opts.Model, maxTokens: maxTokens}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(Options{Client: &ac.Messages, Model: model})
}

// Complete implements summarize.ChatClient. Image turns attach the image by
// URL ahead of the turn text.
func (c *Client) Complete(ctx context.Context, turns []summarize.ChatTurn) (string, error) {
	msgs := make([]sdk.MessageParam, 0, len(turns))
	for _, t := range turns {
		blocks := make([]sdk.ContentBlockParamUnion, 0, 2)
		if t.ImageURL != "" {
			blocks = append(blocks, sdk.NewImageBlock(sdk.URLImageSourceParam{URL: t.ImageURL}))
		}
		blocks = append(blocks, sdk.NewTextBlock(t.Text))
		msgs = append(msgs, sdk.NewUserMessage(blocks...))
	}
	msg, err := c.msg.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  msgs,
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages.new: %w", err)
	}
	if msg == nil {
		return "", errors.New("anthropic: response message is nil")
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}
