// Package dispatch turns ingested classroom events and explicit teacher
// commands into session state transitions and emitted events.
//
// The dispatcher owns the per-session command surface: the dictation
// mini-state-machine, observer bookkeeping, and the on-demand summary and
// assistant-reply commands. All session-state mutation happens while
// holding the session's lock; the lock is never held across a summarizer
// call. The timeline is snapshotted under the lock and released first.
package dispatch

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/lectern-ai/lectern/classroom/bus"
	"github.com/lectern-ai/lectern/classroom/session"
	"github.com/lectern-ai/lectern/summarize"
)

type (
	// Event is an ingested classroom signal routed by type. Exactly one of
	// Chat, Speech, or Video is set according to Type.
	Event struct {
		SessionID string  `json:"session_id"`
		Type      string  `json:"type"`
		Timestamp float64 `json:"timestamp"`

		Chat   *ChatMessage `json:"chat,omitempty"`
		Speech *SpeechText  `json:"speech,omitempty"`
		Video  *VideoEvent  `json:"video,omitempty"`
	}

	// ChatMessage is a classroom chat message payload.
	ChatMessage struct {
		SenderID   string `json:"sender_id"`
		SenderName string `json:"sender_name"`
		Role       string `json:"role"`
		Text       string `json:"text"`
	}

	// SpeechText is a transcribed speech payload.
	SpeechText struct {
		SpeakerID   string  `json:"speaker_id"`
		SpeakerName string  `json:"speaker_name"`
		Role        string  `json:"role"`
		Text        string  `json:"text"`
		Confidence  float64 `json:"confidence"`
	}

	// VideoEvent is a video-analysis payload.
	VideoEvent struct {
		Event     string `json:"event"`
		StudentID string `json:"student_id"`
	}

	// CommandRequest is an explicit teacher command.
	CommandRequest struct {
		SessionID   string         `json:"session_id"`
		RequesterID string         `json:"requester_id,omitempty"`
		CommandText string         `json:"command_text"`
		Args        map[string]any `json:"args,omitempty"`
	}

	// CommandResult reports the session's active task after the command and
	// the events it emitted.
	CommandResult struct {
		ActiveTask string      `json:"active_task"`
		Events     []bus.Event `json:"emitted_events"`
	}

	// Report is a per-student participation summary.
	Report struct {
		StudentID      string  `json:"student_id"`
		Participation  string  `json:"participation"`
		FocusScore     float64 `json:"focus_score"`
		Utterances     int     `json:"utterances"`
		AnswerAccuracy float64 `json:"answer_accuracy"`
	}

	// Dispatcher interprets events and commands against per-session state.
	Dispatcher struct {
		summarizer summarize.Summarizer
	}
)

// Event types accepted by OnEvent.
const (
	EventChatMessage = "chat_message"
	EventSpeechText  = "speech_text"
	EventVideoEvent  = "video_event"
)

// TaskDictation names the dictation task.
const TaskDictation = "dictation"

// Command text patterns, matched in priority order. The patterns are loose
// on purpose: unrecognized text is normal operation, not a failure.
var (
	startDictationRE = regexp.MustCompile(`(?i)\b(start|begin)\b.*\bdictation\b`)
	stopTaskRE       = regexp.MustCompile(`(?i)\b(stop|end)\b`)
	genSummaryRE     = regexp.MustCompile(`(?i)\b(generate|make|produce)\b.*\bsummary\b`)
	wordListRE       = regexp.MustCompile(`(?i)word-list:\s*(.+)$`)
	assistantRE      = regexp.MustCompile(`(?i)^@(assistant|ai)\b[:,]?\s*`)
	wordSplitRE      = regexp.MustCompile(`[,\s]+`)
)

// defaultWords is the dictation fallback when no word list is supplied.
var defaultWords = []string{"apple", "banana", "orange"}

// now returns the current unix time in seconds. Overridable in tests.
var now = func() float64 { return float64(time.Now().UnixNano()) / 1e9 }

// New builds a Dispatcher. The summarizer backs the on-demand summary and
// assistant-reply commands.
func New(summarizer summarize.Summarizer) *Dispatcher {
	return &Dispatcher{summarizer: summarizer}
}

// OnEvent processes one ingested event against the session: observer
// bookkeeping, teacher command synthesis from addressed chat messages, and
// dictation answer routing. It returns the events to publish.
func (d *Dispatcher) OnEvent(ctx context.Context, s *session.Session, ev Event) ([]bus.Event, error) {
	var (
		cmdText string
		answer  *ChatMessage
	)

	s.Mu.Lock()
	d.observe(s, ev)
	if ev.Type == EventChatMessage && ev.Chat != nil {
		if ev.Chat.Role == "teacher" {
			if rest, ok := stripAssistantPrefix(ev.Chat.Text); ok {
				cmdText = rest
			}
		}
		if cmdText == "" && s.ActiveTask == TaskDictation {
			answer = ev.Chat
		}
	}
	var out []bus.Event
	if answer != nil {
		out = append(out, d.onDictationAnswer(s, answer.Text, answer.SenderID)...)
	}
	s.Mu.Unlock()

	if cmdText != "" {
		res, err := d.OnCommand(ctx, s, CommandRequest{
			SessionID:   ev.SessionID,
			RequesterID: ev.Chat.SenderID,
			CommandText: cmdText,
		})
		if err != nil {
			return out, err
		}
		out = append(out, res.Events...)
	}
	return out, nil
}

// OnCommand matches the command text against the known patterns in priority
// order and executes the first match. Unrecognized commands produce a single
// ignored notice, never an error.
func (d *Dispatcher) OnCommand(ctx context.Context, s *session.Session, req CommandRequest) (CommandResult, error) {
	text := strings.TrimSpace(req.CommandText)

	switch {
	case startDictationRE.MatchString(text):
		return d.startDictation(s, req, text), nil
	case stopTaskRE.MatchString(text):
		return d.stopTask(s), nil
	case genSummaryRE.MatchString(text):
		return d.generateSummary(ctx, s)
	}

	s.Mu.Lock()
	active := s.ActiveTask
	s.Mu.Unlock()
	return CommandResult{
		ActiveTask: active,
		Events: []bus.Event{bus.NewEvent(bus.TypeAgentNotice, now(), map[string]any{
			"status":       "ignored",
			"reason":       "unknown_command",
			"command_text": text,
		})},
	}, nil
}

// AgentReply answers a freeform teacher instruction with the summarizer,
// grounded on the session's timeline. The reply is emitted as an im_request.
func (d *Dispatcher) AgentReply(ctx context.Context, s *session.Session, instruction, imageURL string) ([]bus.Event, error) {
	s.Mu.Lock()
	timeline := renderTimeline(s)
	s.Mu.Unlock()

	reply, err := d.summarizer.CommandReply(ctx, instruction, timeline, imageURL)
	if err != nil {
		return nil, fmt.Errorf("agent reply: %w", err)
	}
	return []bus.Event{bus.NewEvent(bus.TypeIMRequest, now(), map[string]any{
		"text": reply,
		"task": "agent_reply",
	})}, nil
}

// BuildReport summarizes one student's participation from observer tallies.
func (d *Dispatcher) BuildReport(s *session.Session, studentID string) Report {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	utterances := s.Observer.UtterancesByUser[studentID]
	total := s.Observer.TotalAnswersByUser[studentID]
	correct := s.Observer.CorrectAnswersByUser[studentID]
	acc := 0.0
	if total > 0 {
		acc = float64(correct) / float64(total)
	}

	participation := "silent"
	switch {
	case utterances >= 5:
		participation = "active"
	case utterances >= 2:
		participation = "normal"
	}

	return Report{
		StudentID:      studentID,
		Participation:  participation,
		FocusScore:     focusScore(s, studentID),
		Utterances:     utterances,
		AnswerAccuracy: round4(acc),
	}
}

// observe records attendance and focus bookkeeping. Callers hold the
// session lock.
func (d *Dispatcher) observe(s *session.Session, ev Event) {
	switch ev.Type {
	case EventChatMessage:
		if ev.Chat != nil {
			sender := ev.Chat.SenderID
			if sender == "" {
				sender = "unknown"
			}
			s.Observer.UtterancesByUser[sender]++
			s.RecordTimeline(session.TimelineEntry{
				Timestamp: ev.Timestamp, Kind: "CHAT", Sender: sender, Text: ev.Chat.Text,
			})
		}
	case EventSpeechText:
		if ev.Speech != nil {
			s.RecordTimeline(session.TimelineEntry{
				Timestamp: ev.Timestamp, Kind: "SPEECH", Sender: ev.Speech.SpeakerID, Text: ev.Speech.Text,
			})
		}
	case EventVideoEvent:
		if ev.Video != nil {
			s.Observer.FocusEvents = append(s.Observer.FocusEvents, session.FocusEvent{
				Timestamp: ev.Timestamp,
				Event:     ev.Video.Event,
				StudentID: ev.Video.StudentID,
			})
			s.RecordTimeline(session.TimelineEntry{
				Timestamp: ev.Timestamp, Kind: "VIDEO", Sender: ev.Video.StudentID, Text: ev.Video.Event,
			})
		}
	}
}

func stripAssistantPrefix(text string) (string, bool) {
	t := strings.TrimSpace(text)
	loc := assistantRE.FindStringIndex(t)
	if loc == nil {
		return "", false
	}
	return strings.TrimSpace(t[loc[1]:]), true
}

// badFocusEvents lower a student's focus score. Video sources emit the
// tokens in varying case; matching normalizes to lowercase.
var badFocusEvents = map[string]struct{}{
	"multiple_person":    {},
	"leave_seat":         {},
	"head_down_frequent": {},
}

// focusScore starts at 1.0 and loses 0.1 per bad focus event, floored at 0.
// Callers hold the session lock.
func focusScore(s *session.Session, studentID string) float64 {
	bad := 0
	for _, e := range s.Observer.FocusEvents {
		if e.StudentID != studentID {
			continue
		}
		if _, ok := badFocusEvents[strings.ToLower(e.Event)]; ok {
			bad++
		}
	}
	score := 1.0 - 0.1*float64(bad)
	if score < 0 {
		score = 0
	}
	return round4(score)
}

// renderTimeline flattens the bounded event timeline to role-tagged text.
// Callers hold the session lock.
func renderTimeline(s *session.Session) string {
	parts := make([]string, 0, len(s.Timeline))
	for _, e := range s.Timeline {
		parts = append(parts, fmt.Sprintf("[%s][%s] %s", e.Kind, e.Sender, e.Text))
	}
	return strings.Join(parts, "\n")
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
