// Package session provides the in-memory lifecycle registry for active
// classroom sessions.
//
// Locking discipline: the registry mutex protects only the id→session map.
// All mutation of a session's mutable fields (status, dictation state,
// observer tallies, attached resources) happens while holding that session's
// own lock, so mutations to one session never block mutations to another.
package session

import (
	"errors"
	"sync"
	"time"
)

// Status is the lifecycle state of a session. Transitions run strictly
// RUNNING → ENDING → ENDED; ENDED is terminal.
type Status string

const (
	// StatusRunning indicates the classroom is live and accepting signals.
	StatusRunning Status = "RUNNING"
	// StatusEnding indicates end-of-class was requested; the final report is
	// being generated.
	StatusEnding Status = "ENDING"
	// StatusEnded indicates the session is terminal.
	StatusEnded Status = "ENDED"
)

var (
	// ErrExists indicates a live session with the same id already exists.
	ErrExists = errors.New("session already exists")
	// ErrNotFound indicates no session with the given id is registered.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidState indicates an operation that is not legal in the
	// session's current lifecycle state.
	ErrInvalidState = errors.New("invalid session state")
)

type (
	// Session is one classroom's live interaction context. The zero value is
	// not usable; sessions are created through Registry.Create.
	//
	// Mutable fields must only be touched while holding Mu.
	Session struct {
		// Mu serializes all mutation of the fields below. Realtime frames,
		// commands, and lifecycle transitions for one session are processed
		// one at a time under this lock.
		Mu sync.Mutex

		// ID is the caller-provided session identifier.
		ID string
		// CreatedAt records when the session was registered.
		CreatedAt time.Time
		// Status is the lifecycle state.
		Status Status
		// ActiveTask names the task the dispatcher is currently driving
		// ("dictation"), or is empty when idle.
		ActiveTask string
		// Dictation is the dictation mini-state-machine state.
		Dictation Dictation
		// Observer accumulates attendance and focus bookkeeping.
		Observer Observer
		// Timeline is a bounded in-memory record of ingested events, used by
		// the on-demand summary and assistant-reply commands.
		Timeline []TimelineEntry
		// Speech is the attached realtime speech-ingestion handle, when any.
		Speech SpeechHandle

		seq int64
	}

	// Dictation tracks an in-progress word dictation exercise.
	Dictation struct {
		Active       bool
		Words        []string
		Index        int
		Attempts     int
		Correct      int
		LastPrompted float64
	}

	// Observer tallies per-user participation and focus events.
	Observer struct {
		UtterancesByUser     map[string]int
		TotalAnswersByUser   map[string]int
		CorrectAnswersByUser map[string]int
		FocusEvents          []FocusEvent
	}

	// FocusEvent is one video-derived focus observation.
	FocusEvent struct {
		Timestamp float64
		Event     string
		StudentID string
	}

	// TimelineEntry is one ingested event rendered for timeline text.
	TimelineEntry struct {
		Timestamp float64
		Kind      string
		Sender    string
		Text      string
	}

	// SpeechHandle is the interface to a live speech-ingestion resource
	// attached to a session.
	SpeechHandle interface {
		Close() error
	}

	// Registry owns the id→session mapping and session lifecycle.
	Registry struct {
		mu       sync.Mutex
		sessions map[string]*Session
	}
)

// maxTimeline bounds the in-memory event timeline per session.
const maxTimeline = 400

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create registers a new RUNNING session. Fails with ErrExists when a
// session with the id is already live.
func (r *Registry) Create(sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; ok {
		return nil, ErrExists
	}
	s := &Session{
		ID:        sessionID,
		CreatedAt: time.Now().UTC(),
		Status:    StatusRunning,
		Observer: Observer{
			UtterancesByUser:     make(map[string]int),
			TotalAnswersByUser:   make(map[string]int),
			CorrectAnswersByUser: make(map[string]int),
		},
	}
	r.sessions[sessionID] = s
	return s, nil
}

// Get returns the session with the given id. Fails with ErrNotFound when
// absent.
func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// MarkEnding transitions RUNNING → ENDING under the session's lock.
func (r *Registry) MarkEnding(sessionID string) error {
	return r.transition(sessionID, StatusRunning, StatusEnding)
}

// MarkEnded transitions ENDING → ENDED under the session's lock.
func (r *Registry) MarkEnded(sessionID string) error {
	return r.transition(sessionID, StatusEnding, StatusEnded)
}

func (r *Registry) transition(sessionID string, from, to Status) error {
	s, err := r.Get(sessionID)
	if err != nil {
		return err
	}
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if s.Status != from {
		return ErrInvalidState
	}
	s.Status = to
	return nil
}

// NextSeq returns the session's next monotonic sequence number. Callers must
// hold the session lock.
func (s *Session) NextSeq() int64 {
	s.seq++
	return s.seq
}

// RecordTimeline appends an entry to the bounded in-memory timeline.
// Callers must hold the session lock.
func (s *Session) RecordTimeline(e TimelineEntry) {
	s.Timeline = append(s.Timeline, e)
	if len(s.Timeline) > maxTimeline {
		s.Timeline = s.Timeline[len(s.Timeline)-maxTimeline:]
	}
}
