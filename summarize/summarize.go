// Package summarize defines the summarization capability boundary: it turns
// batches of classroom fact text into structured stage summaries, final
// reports, and freeform assistant replies.
//
// The LLM implementation treats model output as free text that may embed a
// JSON object. Extraction is best-effort with a well-defined fallback: when
// no JSON object can be decoded, the whole response becomes the summary
// field and the structured fields stay empty. Decode failures are never
// fatal.
package summarize

import (
	"context"
	"time"

	"github.com/lectern-ai/lectern/facts"
)

type (
	// Summarizer converts fact text into structured results. Implementations
	// are opaque request/response capabilities; callers treat any error as
	// an upstream failure.
	Summarizer interface {
		// SummarizeStage digests role-tagged utterance text accumulated since
		// the last cursor position.
		SummarizeStage(ctx context.Context, utterancesText string) (facts.StageSummary, error)

		// SummarizeFinal synthesizes the end-of-class report from the full
		// utterance log and the stage summaries rendered to text.
		SummarizeFinal(ctx context.Context, utterancesText, stageSummariesText string) (facts.FinalReport, error)

		// CommandReply produces a freeform assistant reply to a teacher
		// instruction given classroom context, optionally grounded on an
		// image.
		CommandReply(ctx context.Context, instruction, contextText, imageURL string) (string, error)
	}

	// ChatTurn is one message sent to a chat model.
	ChatTurn struct {
		// Role is the conversational role, typically "user".
		Role string
		// Text is the message text.
		Text string
		// ImageURL optionally attaches an image to the turn.
		ImageURL string
	}

	// ChatClient is the narrow chat-completion surface the LLM summarizer
	// depends on. Adapters for concrete providers live in
	// summarize/openai and summarize/anthropic.
	ChatClient interface {
		// Complete sends the turns and returns the model's text response.
		Complete(ctx context.Context, turns []ChatTurn) (string, error)
	}
)

// now returns the current unix time in seconds. Overridable in tests.
var now = func() float64 { return float64(time.Now().UnixNano()) / 1e9 }
