// Package scheduler runs the background stage summarization loop: it
// periodically scans RUNNING sessions, debounces by elapsed time and
// accumulated volume, and distills newly-arrived facts into stage summaries.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"goa.design/clue/log"

	"github.com/lectern-ai/lectern/facts"
	"github.com/lectern-ai/lectern/summarize"
)

type (
	// Options configures the scheduler.
	Options struct {
		// Store is the fact store. Required.
		Store facts.Store
		// Summarizer produces stage summaries. Required.
		Summarizer summarize.Summarizer
		// TickInterval is the pause between scans. Defaults to 2s.
		TickInterval time.Duration
		// MinInterval is the minimum elapsed time since the last stage
		// summary before a session is considered. Defaults to 120s.
		MinInterval time.Duration
		// MinChars is the minimum accumulated batch text length worth
		// summarizing; smaller batches are skipped as noise. Defaults to 1200.
		MinChars int
		// MaxUtterances caps the batch read per session. Defaults to 120.
		MaxUtterances int
	}

	// Scheduler is the long-lived stage summarization loop. Create with New,
	// then Start once; Stop halts future ticks and waits for the in-flight
	// tick up to a bounded timeout.
	//
	// The loop processes sessions sequentially within a tick, so at most one
	// summarization is in flight per session. A failure processing one
	// session is logged and never aborts the tick or affects other sessions;
	// the session is retried on the next natural tick.
	Scheduler struct {
		store      facts.Store
		summarizer summarize.Summarizer
		opts       Options

		stop     chan struct{}
		stopOnce sync.Once
		done     chan struct{}
	}
)

// Defaults applied by New.
const (
	DefaultTickInterval  = 2 * time.Second
	DefaultMinInterval   = 120 * time.Second
	DefaultMinChars      = 1200
	DefaultMaxUtterances = 120
)

// stopTimeout bounds the wait for the in-flight tick during Stop.
const stopTimeout = 3 * time.Second

// now returns the current unix time in seconds. Overridable in tests.
var now = func() float64 { return float64(time.Now().UnixNano()) / 1e9 }

// New builds a Scheduler from the provided options.
func New(opts Options) (*Scheduler, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Summarizer == nil {
		return nil, fmt.Errorf("summarizer is required")
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.MinChars <= 0 {
		opts.MinChars = DefaultMinChars
	}
	if opts.MaxUtterances <= 0 {
		opts.MaxUtterances = DefaultMaxUtterances
	}
	return &Scheduler{
		store:      opts.Store,
		summarizer: opts.Summarizer,
		opts:       opts,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// Start launches the loop goroutine. Start is not idempotent; call it once.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop signals the loop to halt and waits for the in-flight tick, bounded
// by stopTimeout or the caller's context, whichever ends first. Stop is
// idempotent.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	timer := time.NewTimer(stopTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("scheduler stop: tick still in flight after %s", stopTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick enumerates RUNNING sessions and processes each independently.
func (s *Scheduler) tick(ctx context.Context) {
	ids, err := s.store.ListRunning(ctx)
	if err != nil {
		log.Errorf(ctx, err, "list running sessions")
		return
	}
	for _, id := range ids {
		if err := s.processSession(ctx, id); err != nil {
			// Isolate per-session failures: log and move on; the session is
			// retried on the next tick.
			log.Errorf(ctx, err, "stage summary for session %s", id)
		}
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		default:
		}
	}
}

// processSession reads the cursor, debounces, summarizes the unconsumed
// batch, and appends the stage summary (which advances the cursor).
func (s *Scheduler) processSession(ctx context.Context, sessionID string) error {
	prog, err := s.store.GetProgress(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("get progress: %w", err)
	}
	if now()-prog.LastStageSummaryTS < s.opts.MinInterval.Seconds() {
		return nil
	}

	batch, err := s.store.ListUtterances(ctx, sessionID, prog.LastStageSummaryTS, facts.MaxTimestamp, s.opts.MaxUtterances)
	if err != nil {
		return fmt.Errorf("list utterances: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}

	text := renderBatch(batch)
	if len(text) < s.opts.MinChars {
		return nil
	}

	stage, err := s.summarizer.SummarizeStage(ctx, text)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}
	stage.Window = facts.Window{
		StartExclusive: prog.LastStageSummaryTS,
		EndInclusive:   batch[len(batch)-1].Timestamp,
	}
	if err := s.store.AppendStageSummary(ctx, sessionID, stage); err != nil {
		return fmt.Errorf("append stage summary: %w", err)
	}
	log.Info(ctx, log.KV{K: "msg", V: "stage summary appended"},
		log.KV{K: "session_id", V: sessionID},
		log.KV{K: "utterances", V: len(batch)})
	return nil
}

// renderBatch concatenates role-tagged utterance text.
func renderBatch(batch []facts.Utterance) string {
	parts := make([]string, 0, len(batch))
	for _, u := range batch {
		if strings.TrimSpace(u.Text) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s][%s] %s", u.Role, u.UserName, u.Text))
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
