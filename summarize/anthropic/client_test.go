package anthropic

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	"github.com/lectern-ai/lectern/summarize"
)

type fakeMessages struct {
	msg  *sdk.Message
	err  error
	body sdk.MessageNewParams
}

func (f *fakeMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	f.body = body
	return f.msg, f.err
}

func textMessage(parts ...string) *sdk.Message {
	blocks := make([]sdk.ContentBlockUnion, 0, len(parts))
	for _, p := range parts {
		blocks = append(blocks, sdk.ContentBlockUnion{Type: "text", Text: p})
	}
	return &sdk.Message{Content: blocks}
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{Client: &fakeMessages{}})
	require.Error(t, err)

	_, err = NewFromAPIKey("", "claude-sonnet-4-0")
	require.Error(t, err)
}

func TestCompleteConcatenatesTextBlocks(t *testing.T) {
	fake := &fakeMessages{msg: textMessage("first", "second")}
	c, err := New(Options{Client: fake, Model: "claude-sonnet-4-0"})
	require.NoError(t, err)

	got, err := c.Complete(context.Background(), []summarize.ChatTurn{{Role: "user", Text: "question"}})
	require.NoError(t, err)
	require.Equal(t, "first\nsecond", got)
	require.Equal(t, sdk.Model("claude-sonnet-4-0"), fake.body.Model)
	require.Equal(t, int64(defaultMaxTokens), fake.body.MaxTokens)
	require.Len(t, fake.body.Messages, 1)
}

func TestCompleteAttachesImageBeforeText(t *testing.T) {
	fake := &fakeMessages{msg: textMessage("seen")}
	c, err := New(Options{Client: fake, Model: "claude-sonnet-4-0", MaxTokens: 512})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), []summarize.ChatTurn{
		{Text: "describe", ImageURL: "https://img.example/a.png"},
	})
	require.NoError(t, err)
	require.Equal(t, int64(512), fake.body.MaxTokens)

	blocks := fake.body.Messages[0].Content
	require.Len(t, blocks, 2)
	require.NotNil(t, blocks[0].OfImage)
	require.NotNil(t, blocks[1].OfText)
	require.Equal(t, "describe", blocks[1].OfText.Text)
}

func TestCompleteErrors(t *testing.T) {
	upstream := errors.New("overloaded")
	c, err := New(Options{Client: &fakeMessages{err: upstream}, Model: "claude-sonnet-4-0"})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), []summarize.ChatTurn{{Text: "q"}})
	require.ErrorIs(t, err, upstream)

	c, err = New(Options{Client: &fakeMessages{}, Model: "claude-sonnet-4-0"})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), []summarize.ChatTurn{{Text: "q"}})
	require.ErrorContains(t, err, "nil")
}
