// Package openai provides a summarize.ChatClient implementation backed by
// the OpenAI Chat Completions API via github.com/sashabaranov/go-openai.
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lectern-ai/lectern/summarize"
)

// ChatClient captures the subset of the go-openai client used by the
// adapter. It is satisfied by *openai.Client so callers can pass either a
// real client or a mock in tests.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (
		openai.ChatCompletionResponse, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	// Client is the go-openai chat client. Required.
	Client ChatClient
	// Model is the chat model identifier. Required.
	Model string
}

// Client implements summarize.ChatClient via OpenAI Chat Completions.
type Client struct {
	chat  ChatClient
	model string
}

// New builds an OpenAI-backed chat client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("model is required")
	}
	return &Client{chat: opts.Client, model: opts.Model}, nil
}

// NewFromAPIKey constructs a client using the default go-openai HTTP client.
func NewFromAPIKey(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	return New(Options{Client: openai.NewClient(apiKey), Model: model})
}

// Complete implements summarize.ChatClient.
func (c *Client) Complete(ctx context.Context, turns []summarize.ChatTurn) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		role := t.Role
		if role == "" {
			role = openai.ChatMessageRoleUser
		}
		if t.ImageURL != "" {
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role: role,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: t.ImageURL}},
					{Type: openai.ChatMessagePartTypeText, Text: t.Text},
				},
			})
			continue
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}
	resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: response contains no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
