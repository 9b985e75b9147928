package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/lectern-ai/lectern/classroom/bus"
	"github.com/lectern-ai/lectern/classroom/session"
)

// startDictation resets dictation counters, activates the task, emits the
// started notice, and immediately prompts the first word.
func (d *Dispatcher) startDictation(s *session.Session, req CommandRequest, text string) CommandResult {
	words := wordsFromArgs(req.Args)
	if len(words) == 0 {
		words = wordsFromText(text)
	}
	if len(words) == 0 {
		words = append([]string(nil), defaultWords...)
	}

	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.Dictation = session.Dictation{Active: true, Words: words}
	s.ActiveTask = TaskDictation

	events := []bus.Event{bus.NewEvent(bus.TypeAgentNotice, now(), map[string]any{
		"task":        TaskDictation,
		"status":      "started",
		"words_count": len(words),
	})}
	events = append(events, d.promptNextWord(s)...)
	return CommandResult{ActiveTask: s.ActiveTask, Events: events}
}

// stopTask clears the active task and emits a stopped notice naming it.
func (d *Dispatcher) stopTask(s *session.Session) CommandResult {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	prev := s.ActiveTask
	s.ActiveTask = ""
	s.Dictation.Active = false
	return CommandResult{
		Events: []bus.Event{bus.NewEvent(bus.TypeAgentNotice, now(), map[string]any{
			"task":   prev,
			"status": "stopped",
		})},
	}
}

// generateSummary invokes the summarizer over the session's accumulated
// timeline. The timeline is snapshotted under the session lock; the lock is
// released before the summarizer call.
func (d *Dispatcher) generateSummary(ctx context.Context, s *session.Session) (CommandResult, error) {
	s.Mu.Lock()
	timeline := renderTimeline(s)
	active := s.ActiveTask
	s.Mu.Unlock()

	stage, err := d.summarizer.SummarizeStage(ctx, timeline)
	if err != nil {
		return CommandResult{}, err
	}
	return CommandResult{
		ActiveTask: active,
		Events: []bus.Event{bus.NewEvent(bus.TypeSummaryReady, now(), map[string]any{
			"summary":            stage.Summary,
			"knowledge_points":   stage.KnowledgePoints,
			"classroom_insights": stage.ClassroomInsights,
		})},
	}, nil
}

// onDictationAnswer grades one candidate answer against the expected word at
// the current index, advances the machine, and prompts the next word or
// finishes. Answers after completion are ignored. Callers hold the session
// lock.
func (d *Dispatcher) onDictationAnswer(s *session.Session, answerText, senderID string) []bus.Event {
	if !s.Dictation.Active || s.Dictation.Index >= len(s.Dictation.Words) {
		return nil
	}
	expected := s.Dictation.Words[s.Dictation.Index]
	answer := strings.TrimSpace(answerText)
	correct := strings.EqualFold(answer, expected)

	s.Dictation.Attempts++
	if correct {
		s.Dictation.Correct++
	}
	if senderID != "" {
		s.Observer.TotalAnswersByUser[senderID]++
		if correct {
			s.Observer.CorrectAnswersByUser[senderID]++
		}
	}

	out := []bus.Event{bus.NewEvent(bus.TypeDictationResult, now(), map[string]any{
		"sender_id": senderID,
		"expected":  expected,
		"answer":    answer,
		"correct":   correct,
		"index":     s.Dictation.Index,
	})}
	s.Dictation.Index++
	return append(out, d.promptNextWord(s)...)
}

// promptNextWord emits the synthesize-speech request and display prompt for
// the current word, or finishes the exercise when all words are consumed.
// Callers hold the session lock.
func (d *Dispatcher) promptNextWord(s *session.Session) []bus.Event {
	dict := &s.Dictation
	if dict.Index >= len(dict.Words) {
		acc := 0.0
		if dict.Attempts > 0 {
			acc = float64(dict.Correct) / float64(dict.Attempts)
		}
		s.ActiveTask = ""
		dict.Active = false
		return []bus.Event{bus.NewEvent(bus.TypeDictationFinished, now(), map[string]any{
			"attempts": dict.Attempts,
			"correct":  dict.Correct,
			"accuracy": round4(acc),
		})}
	}

	word := dict.Words[dict.Index]
	dict.LastPrompted = now()
	return []bus.Event{
		bus.NewEvent(bus.TypeTTSRequest, now(), map[string]any{
			"text":  word,
			"task":  TaskDictation,
			"index": dict.Index,
			"total": len(dict.Words),
		}),
		bus.NewEvent(bus.TypeIMRequest, now(), map[string]any{
			"text": promptText(dict.Index+1, len(dict.Words)),
			"task": TaskDictation,
		}),
	}
}

func promptText(position, total int) string {
	return fmt.Sprintf("Type the spelling of word %d/%d", position, total)
}

// wordsFromArgs extracts a word list from explicit command arguments.
func wordsFromArgs(args map[string]any) []string {
	if args == nil {
		return nil
	}
	raw, ok := args["words"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return trimWords(v)
	case []any:
		words := make([]string, 0, len(v))
		for _, w := range v {
			if s, ok := w.(string); ok {
				words = append(words, s)
			}
		}
		return trimWords(words)
	}
	return nil
}

// wordsFromText parses a "word-list: a, b, c" suffix from the command text.
func wordsFromText(text string) []string {
	m := wordListRE.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return trimWords(wordSplitRE.Split(strings.TrimSpace(m[1]), -1))
}

func trimWords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, w := range in {
		w = strings.TrimSpace(w)
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
