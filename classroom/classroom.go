// Package classroom is the service facade over the classroom signal
// pipeline: session lifecycle, fact ingestion, command handling, realtime
// frames, event subscription, and end-of-class report generation.
//
// Transport framing (HTTP/WebSocket) stays outside this package; callers
// hand it decoded requests and read back emitted events and query results.
package classroom

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"goa.design/clue/log"

	"github.com/lectern-ai/lectern/classroom/bus"
	"github.com/lectern-ai/lectern/classroom/dispatch"
	"github.com/lectern-ai/lectern/classroom/session"
	"github.com/lectern-ai/lectern/facts"
	"github.com/lectern-ai/lectern/summarize"
)

type (
	// OpenRequest opens a classroom session.
	OpenRequest struct {
		SessionID   string  `json:"session_id"`
		CourseID    string  `json:"course_id"`
		CourseName  string  `json:"course_name"`
		TeacherID   string  `json:"teacher_id"`
		TeacherName string  `json:"teacher_name"`
		StartTime   float64 `json:"start_time"`
	}

	// Frame is one realtime audio ingestion frame. While no live
	// transcription is wired in, a provided MockText is appended directly
	// as an utterance fact.
	Frame struct {
		SessionID  string  `json:"session_id"`
		UserID     string  `json:"user_id"`
		UserName   string  `json:"user_name"`
		Role       string  `json:"role"`
		Timestamp  float64 `json:"timestamp"`
		AudioChunk string  `json:"audio_chunk"`
		IsLast     bool    `json:"is_last"`
		MockText   string  `json:"mock_text,omitempty"`
	}

	// Options configures the Service.
	Options struct {
		// Store is the fact store. Required.
		Store facts.Store
		// Summarizer backs command summaries and final reports. Required.
		Summarizer summarize.Summarizer
		// SubscribeCapacity is the default event queue capacity handed to
		// subscribers. Defaults to 1000.
		SubscribeCapacity int
		// FinalReportMaxUtterances bounds the utterance fetch when building
		// the final report. Defaults to 2000.
		FinalReportMaxUtterances int
	}

	// Service wires the session registry, fact store, event bus, and
	// dispatcher behind the public classroom operations.
	Service struct {
		registry   *session.Registry
		store      facts.Store
		bus        *bus.Bus
		dispatcher *dispatch.Dispatcher
		summarizer summarize.Summarizer
		opts       Options

		reports sync.WaitGroup
	}
)

// Defaults applied by New.
const (
	DefaultSubscribeCapacity        = 1000
	DefaultFinalReportMaxUtterances = 2000
)

// now returns the current unix time in seconds. Overridable in tests.
var now = func() float64 { return float64(time.Now().UnixNano()) / 1e9 }

// New builds a Service from the provided options.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Summarizer == nil {
		return nil, errors.New("summarizer is required")
	}
	if opts.SubscribeCapacity <= 0 {
		opts.SubscribeCapacity = DefaultSubscribeCapacity
	}
	if opts.FinalReportMaxUtterances <= 0 {
		opts.FinalReportMaxUtterances = DefaultFinalReportMaxUtterances
	}
	return &Service{
		registry:   session.NewRegistry(),
		store:      opts.Store,
		bus:        bus.New(),
		dispatcher: dispatch.New(opts.Summarizer),
		summarizer: opts.Summarizer,
		opts:       opts,
	}, nil
}

// Open initializes a classroom session in the store and registers it as
// RUNNING. Double-open fails with facts.ErrExists.
func (s *Service) Open(ctx context.Context, req OpenRequest) error {
	if strings.TrimSpace(req.SessionID) == "" {
		return errors.New("session id is required")
	}
	meta := facts.SessionMeta{
		CourseID:    req.CourseID,
		CourseName:  req.CourseName,
		TeacherID:   req.TeacherID,
		TeacherName: req.TeacherName,
		StartTime:   req.StartTime,
	}
	if err := s.store.InitSession(ctx, req.SessionID, meta); err != nil {
		return err
	}
	if _, err := s.registry.Create(req.SessionID); err != nil {
		return err
	}
	log.Info(ctx, log.KV{K: "msg", V: "classroom opened"}, log.KV{K: "session_id", V: req.SessionID})
	return nil
}

// End transitions the session RUNNING → ENDING and kicks off final report
// generation detached from the calling request. The call returns promptly;
// callers poll or subscribe for the final_report_ready event. The ENDING →
// ENDED transition happens when report generation completes.
func (s *Service) End(ctx context.Context, sessionID string, endTime float64) error {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return err
	}
	sess.Mu.Lock()
	running := sess.Status == session.StatusRunning
	sess.Mu.Unlock()
	if !running {
		return session.ErrInvalidState
	}

	// Store first: a failed write leaves the registry RUNNING so the caller
	// can retry End.
	if err := s.store.SetStatus(ctx, sessionID, facts.StatusEnding); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if err := s.registry.MarkEnding(sessionID); err != nil {
		// A concurrent End won the transition; its goroutine owns the report.
		return err
	}
	s.reports.Add(1)
	go s.generateFinalReport(context.WithoutCancel(ctx), sessionID, endTime)
	return nil
}

// Ingest records one classroom event as a fact, routes it through the
// dispatcher, and publishes the emitted events.
func (s *Service) Ingest(ctx context.Context, ev dispatch.Event) ([]bus.Event, error) {
	sess, err := s.registry.Get(ev.SessionID)
	if err != nil {
		return nil, err
	}
	if u, ok := utteranceFromEvent(ev); ok {
		sess.Mu.Lock()
		u.Seq = sess.NextSeq()
		sess.Mu.Unlock()
		if err := s.store.AppendUtterance(ctx, ev.SessionID, u); err != nil {
			return nil, fmt.Errorf("append utterance: %w", err)
		}
	}
	out, err := s.dispatcher.OnEvent(ctx, sess, ev)
	s.publish(ev.SessionID, out)
	return out, err
}

// Command dispatches an explicit teacher command and publishes the emitted
// events.
func (s *Service) Command(ctx context.Context, req dispatch.CommandRequest) (dispatch.CommandResult, error) {
	sess, err := s.registry.Get(req.SessionID)
	if err != nil {
		return dispatch.CommandResult{}, err
	}
	res, err := s.dispatcher.OnCommand(ctx, sess, req)
	if err != nil {
		return dispatch.CommandResult{}, err
	}
	s.publish(req.SessionID, res.Events)
	return res, nil
}

// AgentCommand answers a freeform teacher instruction via the summarizer
// and publishes the reply.
func (s *Service) AgentCommand(ctx context.Context, sessionID, instruction, imageURL string) ([]bus.Event, error) {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return nil, err
	}
	out, err := s.dispatcher.AgentReply(ctx, sess, instruction, imageURL)
	if err != nil {
		return nil, err
	}
	s.publish(sessionID, out)
	return out, nil
}

// HandleFrame processes one realtime audio frame. Frames for sessions that
// are not RUNNING fail with session.ErrInvalidState. Concurrent frames for
// the same session serialize on the session lock.
func (s *Service) HandleFrame(ctx context.Context, f Frame) error {
	sess, err := s.registry.Get(f.SessionID)
	if err != nil {
		return err
	}

	sess.Mu.Lock()
	if sess.Status != session.StatusRunning {
		sess.Mu.Unlock()
		return session.ErrInvalidState
	}
	if sess.Speech == nil {
		sess.Speech = NewSpeechClient(f.SessionID)
	}
	if speech, ok := sess.Speech.(*SpeechClient); ok {
		if _, err := speech.ValidateChunk(f.AudioChunk); err != nil {
			sess.Mu.Unlock()
			return err
		}
	}
	var u facts.Utterance
	appendFact := f.MockText != ""
	if appendFact {
		u = facts.Utterance{
			SessionID: f.SessionID,
			UserID:    f.UserID,
			UserName:  f.UserName,
			Role:      f.Role,
			Text:      f.MockText,
			StartTime: f.Timestamp,
			EndTime:   f.Timestamp,
			Timestamp: f.Timestamp,
			Seq:       sess.NextSeq(),
		}
		sess.RecordTimeline(session.TimelineEntry{
			Timestamp: f.Timestamp, Kind: "SPEECH", Sender: f.UserID, Text: f.MockText,
		})
	}
	sess.Mu.Unlock()

	if appendFact {
		if err := s.store.AppendUtterance(ctx, f.SessionID, u); err != nil {
			return fmt.Errorf("append utterance: %w", err)
		}
	}
	return nil
}

// Subscribe registers a live observer on the session's event feed.
func (s *Service) Subscribe(sessionID string) *bus.Subscription {
	return s.bus.Subscribe(sessionID, s.opts.SubscribeCapacity)
}

// Unsubscribe releases a subscription.
func (s *Service) Unsubscribe(sub *bus.Subscription) {
	s.bus.Unsubscribe(sub)
}

// StageSummaries lists the session's stage summaries in timestamp order.
func (s *Service) StageSummaries(ctx context.Context, sessionID string) ([]facts.StageSummary, error) {
	return s.store.ListStageSummaries(ctx, sessionID, s.opts.FinalReportMaxUtterances)
}

// FinalReport returns the session's final report, or nil when not yet
// generated.
func (s *Service) FinalReport(ctx context.Context, sessionID string) (*facts.FinalReport, error) {
	return s.store.GetFinalReport(ctx, sessionID)
}

// Progress returns the session's summarization cursor.
func (s *Service) Progress(ctx context.Context, sessionID string) (facts.Progress, error) {
	return s.store.GetProgress(ctx, sessionID)
}

// StudentReport builds a participation report for one student.
func (s *Service) StudentReport(sessionID, studentID string) (dispatch.Report, error) {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return dispatch.Report{}, err
	}
	return s.dispatcher.BuildReport(sess, studentID), nil
}

// Shutdown waits for in-flight final report generation, bounded by ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.reports.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) publish(sessionID string, events []bus.Event) {
	for _, ev := range events {
		s.bus.Publish(sessionID, ev)
	}
}

// utteranceFromEvent converts chat and transcribed speech events into
// utterance facts. Video events carry no text and are not persisted here.
func utteranceFromEvent(ev dispatch.Event) (facts.Utterance, bool) {
	switch ev.Type {
	case dispatch.EventChatMessage:
		if ev.Chat == nil || strings.TrimSpace(ev.Chat.Text) == "" {
			return facts.Utterance{}, false
		}
		return facts.Utterance{
			SessionID: ev.SessionID,
			UserID:    ev.Chat.SenderID,
			UserName:  ev.Chat.SenderName,
			Role:      ev.Chat.Role,
			Text:      ev.Chat.Text,
			StartTime: ev.Timestamp,
			EndTime:   ev.Timestamp,
			Timestamp: ev.Timestamp,
		}, true
	case dispatch.EventSpeechText:
		if ev.Speech == nil || strings.TrimSpace(ev.Speech.Text) == "" {
			return facts.Utterance{}, false
		}
		conf := ev.Speech.Confidence
		return facts.Utterance{
			SessionID:  ev.SessionID,
			UserID:     ev.Speech.SpeakerID,
			UserName:   ev.Speech.SpeakerName,
			Role:       ev.Speech.Role,
			Text:       ev.Speech.Text,
			StartTime:  ev.Timestamp,
			EndTime:    ev.Timestamp,
			Timestamp:  ev.Timestamp,
			Confidence: &conf,
		}, true
	}
	return facts.Utterance{}, false
}

// generateFinalReport builds and persists the end-of-class report, then
// completes the ENDING → ENDED transition. Failures are logged, not
// surfaced: the lifecycle still reaches ENDED so the session cannot wedge
// in ENDING.
func (s *Service) generateFinalReport(ctx context.Context, sessionID string, endTime float64) {
	defer s.reports.Done()

	if err := s.buildAndStoreReport(ctx, sessionID, endTime); err != nil {
		log.Errorf(ctx, err, "final report for session %s", sessionID)
	}

	if err := s.store.SetStatus(ctx, sessionID, facts.StatusEnded); err != nil {
		log.Errorf(ctx, err, "mark session %s ended in store", sessionID)
	}
	if err := s.registry.MarkEnded(sessionID); err != nil {
		log.Errorf(ctx, err, "mark session %s ended", sessionID)
	}
	s.closeSpeech(sessionID)
}

func (s *Service) buildAndStoreReport(ctx context.Context, sessionID string, endTime float64) error {
	utterances, err := s.store.ListUtterances(ctx, sessionID, 0, facts.MaxTimestamp, s.opts.FinalReportMaxUtterances)
	if err != nil {
		return fmt.Errorf("list utterances: %w", err)
	}
	summaries, err := s.store.ListStageSummaries(ctx, sessionID, s.opts.FinalReportMaxUtterances)
	if err != nil {
		return fmt.Errorf("list stage summaries: %w", err)
	}

	report, err := s.summarizer.SummarizeFinal(ctx, renderUtterances(utterances), renderSummaries(summaries))
	if err != nil {
		return fmt.Errorf("summarize final: %w", err)
	}
	if report.GeneratedAt == 0 {
		report.GeneratedAt = endTime
	}

	stored, err := s.store.SetFinalReport(ctx, sessionID, report)
	if err != nil {
		return fmt.Errorf("set final report: %w", err)
	}
	if !stored {
		// A report already exists; the slot is write-once.
		log.Info(ctx, log.KV{K: "msg", V: "final report already present"}, log.KV{K: "session_id", V: sessionID})
		return nil
	}
	s.bus.Publish(sessionID, bus.NewEvent(bus.TypeFinalReportReady, now(), map[string]any{
		"summary":          report.Summary,
		"knowledge_points": report.KnowledgePoints,
	}))
	return nil
}

func (s *Service) closeSpeech(sessionID string) {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return
	}
	sess.Mu.Lock()
	defer sess.Mu.Unlock()
	if sess.Speech != nil {
		_ = sess.Speech.Close()
		sess.Speech = nil
	}
}

func renderUtterances(us []facts.Utterance) string {
	parts := make([]string, 0, len(us))
	for _, u := range us {
		if strings.TrimSpace(u.Text) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s][%s] %s", u.Role, u.UserName, u.Text))
	}
	return strings.Join(parts, "\n")
}

func renderSummaries(sums []facts.StageSummary) string {
	parts := make([]string, 0, len(sums))
	for _, sum := range sums {
		parts = append(parts, sum.Summary)
	}
	return strings.Join(parts, "\n")
}
