package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/lectern-ai/lectern/facts"
)

// maxListEntries caps knowledge point and insight lists in decoded results.
const maxListEntries = 30

type (
	// LLM implements Summarizer over a ChatClient.
	LLM struct {
		chat    ChatClient
		limiter *rate.Limiter
	}

	// LLMOptions configures the LLM summarizer.
	LLMOptions struct {
		// Chat is the chat-completion client. Required.
		Chat ChatClient
		// RateLimit caps chat calls per second when positive. Burst defaults
		// to one. Zero disables limiting.
		RateLimit float64
	}

	stagePayload struct {
		Summary           string   `json:"summary"`
		KnowledgePoints   []string `json:"knowledge_points"`
		ClassroomInsights []string `json:"classroom_insights"`
	}

	finalPayload struct {
		Summary            string   `json:"summary"`
		KnowledgePoints    []string `json:"knowledge_points"`
		HomeworkSuggestion []string `json:"homework_suggestion"`
		ClassroomReport    struct {
			ParticipationOverview string   `json:"participation_overview"`
			FocusOverview         string   `json:"focus_overview"`
			Highlights            []string `json:"highlights"`
		} `json:"classroom_report"`
	}
)

// NewLLM builds an LLM summarizer from the provided options.
func NewLLM(opts LLMOptions) (*LLM, error) {
	if opts.Chat == nil {
		return nil, errors.New("chat client is required")
	}
	l := &LLM{chat: opts.Chat}
	if opts.RateLimit > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return l, nil
}

// SummarizeStage implements Summarizer.
func (l *LLM) SummarizeStage(ctx context.Context, utterancesText string) (facts.StageSummary, error) {
	prompt := "You are a classroom teaching assistant. Based on the classroom " +
		"utterance records below, respond with strict JSON: " +
		`{"summary": "...", "knowledge_points": ["..."], "classroom_insights": ["..."]}` + "\n" +
		"knowledge_points must be concise phrases; classroom_insights cover pacing " +
		"and interaction observations.\n\nUtterance records:\n" + utterancesText

	raw, err := l.complete(ctx, []ChatTurn{{Role: "user", Text: prompt}})
	if err != nil {
		return facts.StageSummary{}, fmt.Errorf("summarize stage: %w", err)
	}

	out := facts.StageSummary{Timestamp: now(), Summary: strings.TrimSpace(raw)}
	var payload stagePayload
	if extractJSON(raw, &payload) {
		if s := strings.TrimSpace(payload.Summary); s != "" {
			out.Summary = s
		}
		out.KnowledgePoints = capList(payload.KnowledgePoints, maxListEntries)
		out.ClassroomInsights = capList(payload.ClassroomInsights, maxListEntries)
	}
	return out, nil
}

// SummarizeFinal implements Summarizer.
func (l *LLM) SummarizeFinal(ctx context.Context, utterancesText, stageSummariesText string) (facts.FinalReport, error) {
	var b strings.Builder
	b.WriteString("You are a classroom teaching assistant. Based on the full class ")
	b.WriteString("facts and stage summaries below, respond with strict JSON: ")
	b.WriteString(`{"summary": "...", "knowledge_points": ["..."], "homework_suggestion": ["..."], `)
	b.WriteString(`"classroom_report": {"participation_overview": "...", "focus_overview": "...", "highlights": ["..."]}}` + "\n")
	b.WriteString("summary must be a readable end-of-class recap; homework_suggestion entries must be actionable.\n\n")
	if strings.TrimSpace(stageSummariesText) != "" {
		b.WriteString("Stage summaries:\n" + stageSummariesText + "\n\n")
	}
	b.WriteString("Classroom utterance facts:\n" + utterancesText)

	raw, err := l.complete(ctx, []ChatTurn{{Role: "user", Text: b.String()}})
	if err != nil {
		return facts.FinalReport{}, fmt.Errorf("summarize final: %w", err)
	}

	report := facts.FinalReport{GeneratedAt: now()}
	var payload finalPayload
	if extractJSON(raw, &payload) {
		report.Summary = strings.TrimSpace(payload.Summary)
		report.KnowledgePoints = capList(payload.KnowledgePoints, maxListEntries)
		report.HomeworkSuggestion = capList(payload.HomeworkSuggestion, maxListEntries)
		report.ClassroomReport = facts.ClassroomReport{
			ParticipationOverview: payload.ClassroomReport.ParticipationOverview,
			FocusOverview:         payload.ClassroomReport.FocusOverview,
			Highlights:            capList(payload.ClassroomReport.Highlights, maxListEntries),
		}
		if report.Summary != "" {
			return report, nil
		}
	}
	report.Summary = strings.TrimSpace(raw)
	return report, nil
}

// CommandReply implements Summarizer.
func (l *LLM) CommandReply(ctx context.Context, instruction, contextText, imageURL string) (string, error) {
	text := "You are a classroom teaching assistant. Combine the classroom context " +
		"with the teacher's instruction and produce a reply that can be sent to the " +
		"teacher as-is.\n\nTeacher instruction: " + instruction +
		"\n\nClassroom context:\n" + contextText
	turn := ChatTurn{Role: "user", Text: text, ImageURL: imageURL}
	raw, err := l.complete(ctx, []ChatTurn{turn})
	if err != nil {
		return "", fmt.Errorf("command reply: %w", err)
	}
	return strings.TrimSpace(raw), nil
}

func (l *LLM) complete(ctx context.Context, turns []ChatTurn) (string, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	return l.chat.Complete(ctx, turns)
}
