package openai

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/lectern-ai/lectern/summarize"
)

type fakeChat struct {
	resp openai.ChatCompletionResponse
	err  error
	req  openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	return f.resp, f.err
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{Client: &fakeChat{}})
	require.Error(t, err)

	_, err = NewFromAPIKey("", "gpt-4o-mini")
	require.Error(t, err)
}

func TestCompleteMapsTurns(t *testing.T) {
	fake := &fakeChat{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "answer"}}},
	}}
	c, err := New(Options{Client: fake, Model: "gpt-4o-mini"})
	require.NoError(t, err)

	got, err := c.Complete(context.Background(), []summarize.ChatTurn{{Text: "question"}})
	require.NoError(t, err)
	require.Equal(t, "answer", got)
	require.Equal(t, "gpt-4o-mini", fake.req.Model)
	require.Len(t, fake.req.Messages, 1)
	require.Equal(t, openai.ChatMessageRoleUser, fake.req.Messages[0].Role, "empty role defaults to user")
	require.Equal(t, "question", fake.req.Messages[0].Content)
}

func TestCompleteAttachesImage(t *testing.T) {
	fake := &fakeChat{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "seen"}}},
	}}
	c, err := New(Options{Client: fake, Model: "gpt-4o-mini"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), []summarize.ChatTurn{
		{Role: "user", Text: "describe", ImageURL: "https://img.example/a.png"},
	})
	require.NoError(t, err)

	msg := fake.req.Messages[0]
	require.Empty(t, msg.Content)
	require.Len(t, msg.MultiContent, 2)
	require.Equal(t, openai.ChatMessagePartTypeImageURL, msg.MultiContent[0].Type)
	require.Equal(t, "https://img.example/a.png", msg.MultiContent[0].ImageURL.URL)
	require.Equal(t, "describe", msg.MultiContent[1].Text)
}

func TestCompleteErrors(t *testing.T) {
	upstream := errors.New("rate limited")
	c, err := New(Options{Client: &fakeChat{err: upstream}, Model: "gpt-4o-mini"})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), []summarize.ChatTurn{{Text: "q"}})
	require.ErrorIs(t, err, upstream)

	c, err = New(Options{Client: &fakeChat{}, Model: "gpt-4o-mini"})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), []summarize.ChatTurn{{Text: "q"}})
	require.ErrorContains(t, err, "no choices")
}
