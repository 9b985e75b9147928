// Package facts defines the append-only classroom fact log: per-session
// time-ordered utterance and stage-summary records, a progress cursor that
// tracks incremental summarization, and a write-once final report slot.
//
// The store holds facts and derived intermediate results only; it makes no
// decisions. Every record is traceable and readable in timestamp order.
package facts

import (
	"context"
	"errors"
)

type (
	// Utterance is an immutable, timestamped speech or chat observation
	// captured from a classroom.
	Utterance struct {
		// SessionID identifies the classroom session the utterance belongs to.
		SessionID string `json:"session_id"`
		// UserID identifies the speaker.
		UserID string `json:"user_id"`
		// UserName is the speaker's display name.
		UserName string `json:"user_name"`
		// Role is the speaker's classroom role: "teacher" or "student".
		Role string `json:"role"`
		// Text is the transcribed or typed content.
		Text string `json:"text"`
		// StartTime and EndTime bound the speech segment in unix seconds.
		StartTime float64 `json:"start_time"`
		EndTime   float64 `json:"end_time"`
		// Timestamp orders the utterance within the session log (unix seconds).
		Timestamp float64 `json:"timestamp"`
		// Seq is the per-session append sequence number. It breaks ties
		// between facts sharing a timestamp: the in-memory store orders equal
		// timestamps by Seq, and in the redis store it keeps same-timestamp
		// facts distinct (equal-score members there order lexicographically
		// by encoded payload, which is looser than FIFO).
		Seq int64 `json:"seq"`
		// Confidence is the recognizer confidence, when available.
		Confidence *float64 `json:"confidence,omitempty"`
	}

	// StageSummary is a periodic digest of the facts accumulated since the
	// previous summarization cursor position. Appended, never mutated.
	StageSummary struct {
		// Timestamp orders the summary within the session log (unix seconds).
		Timestamp float64 `json:"timestamp"`
		// Summary is the free-text digest.
		Summary string `json:"summary"`
		// KnowledgePoints lists concise knowledge phrases extracted from the
		// window.
		KnowledgePoints []string `json:"knowledge_points"`
		// ClassroomInsights lists pacing and interaction observations.
		ClassroomInsights []string `json:"classroom_insights"`
		// Window is the fact range the summary covers.
		Window Window `json:"window"`
	}

	// Window is the [StartExclusive, EndInclusive] timestamp range a stage
	// summary covers.
	Window struct {
		StartExclusive float64 `json:"start_ts_exclusive"`
		EndInclusive   float64 `json:"end_ts_inclusive"`
	}

	// FinalReport is the single end-of-class synthesis of all stage summaries
	// and facts. Written at most once per session.
	FinalReport struct {
		Summary            string          `json:"summary"`
		KnowledgePoints    []string        `json:"knowledge_points"`
		HomeworkSuggestion []string        `json:"homework_suggestion"`
		ClassroomReport    ClassroomReport `json:"classroom_report"`
		// GeneratedAt records when the report was produced (unix seconds).
		GeneratedAt float64 `json:"generated_at"`
	}

	// ClassroomReport is the participation section of a final report.
	ClassroomReport struct {
		ParticipationOverview string   `json:"participation_overview"`
		FocusOverview         string   `json:"focus_overview"`
		Highlights            []string `json:"highlights"`
	}

	// SessionMeta captures the classroom metadata recorded when a session is
	// initialized in the store.
	SessionMeta struct {
		CourseID    string  `json:"course_id"`
		CourseName  string  `json:"course_name"`
		TeacherID   string  `json:"teacher_id"`
		TeacherName string  `json:"teacher_name"`
		StartTime   float64 `json:"start_time"`
	}

	// Progress is the per-session summarization cursor.
	//
	// LastStageSummaryTS only moves forward; it is the exclusive lower bound
	// for the next incremental utterance read, so replaying the scheduler
	// against the same cursor never reprocesses already-summarized facts.
	Progress struct {
		// Status is the session lifecycle status as recorded in the store.
		Status string
		// LastStageSummaryTS is the timestamp of the newest stage summary.
		LastStageSummaryTS float64
		// LastUtteranceTS is the timestamp of the newest utterance.
		LastUtteranceTS float64
	}

	// Store persists per-session fact logs, cursors, and final reports.
	//
	// Contract:
	//   - InitSession fails with ErrExists when the session was already
	//     initialized (guards against double-open).
	//   - Append operations never reorder earlier facts; utterance and stage
	//     summary logs are totally ordered by timestamp with Seq breaking
	//     ties (see Utterance.Seq).
	//   - AppendStageSummary advances the cursor to max(current, ts); the
	//     cursor never moves backward even when a summary carries an older
	//     timestamp than one already appended.
	//   - Reads on uninitalized sessions return ErrNotFound for progress and
	//     appends; list operations on empty ranges return empty slices, not
	//     errors.
	//   - SetFinalReport is write-once: the first write wins and later calls
	//     report stored=false without touching the slot.
	Store interface {
		// InitSession records session metadata and a fresh RUNNING progress
		// cursor. Fails with ErrExists when already initialized.
		InitSession(ctx context.Context, sessionID string, meta SessionMeta) error

		// SetStatus updates the progress status field.
		SetStatus(ctx context.Context, sessionID, status string) error

		// GetProgress returns the session cursor. Fails with ErrNotFound when
		// the session was never initialized.
		GetProgress(ctx context.Context, sessionID string) (Progress, error)

		// ListRunning returns the ids of sessions whose recorded status is
		// RUNNING. Sessions with no progress record are not candidates.
		ListRunning(ctx context.Context) ([]string, error)

		// AppendUtterance inserts the utterance into the session log keyed by
		// its timestamp and updates the cursor's LastUtteranceTS.
		AppendUtterance(ctx context.Context, sessionID string, u Utterance) error

		// ListUtterances returns utterances with timestamp strictly greater
		// than sinceExclusive and at most untilInclusive, ascending, capped
		// at limit.
		ListUtterances(ctx context.Context, sessionID string, sinceExclusive, untilInclusive float64, limit int) ([]Utterance, error)

		// AppendStageSummary inserts the summary into the session log keyed
		// by its timestamp and advances the cursor's LastStageSummaryTS to
		// max(current, ts).
		AppendStageSummary(ctx context.Context, sessionID string, s StageSummary) error

		// ListStageSummaries returns up to limit stage summaries in ascending
		// timestamp order.
		ListStageSummaries(ctx context.Context, sessionID string, limit int) ([]StageSummary, error)

		// SetFinalReport writes the single-slot final report. Returns
		// stored=false without modifying the slot when a report is already
		// present.
		SetFinalReport(ctx context.Context, sessionID string, report FinalReport) (stored bool, err error)

		// GetFinalReport returns the final report, or nil (not an error) when
		// unset.
		GetFinalReport(ctx context.Context, sessionID string) (*FinalReport, error)
	}
)

// Session lifecycle statuses as recorded in progress cursors.
const (
	StatusRunning = "RUNNING"
	StatusEnding  = "ENDING"
	StatusEnded   = "ENDED"
)

// MaxTimestamp is the default inclusive upper bound for unbounded reads.
const MaxTimestamp = 1e18

var (
	// ErrExists indicates the session was already initialized in the store.
	ErrExists = errors.New("session already exists")
	// ErrNotFound indicates the session has no record in the store.
	ErrNotFound = errors.New("session not found")
)
