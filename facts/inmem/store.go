// Package inmem provides an in-memory implementation of facts.Store.
//
// It is intended for tests and local development. Production deployments
// should use the durable redis implementation (facts/redis).
package inmem

import (
	"context"
	"sort"
	"sync"

	"github.com/lectern-ai/lectern/facts"
)

type (
	// Store is an in-memory implementation of facts.Store. It is safe for
	// concurrent use. Data is lost when the process exits.
	Store struct {
		mu       sync.RWMutex
		sessions map[string]*state
	}

	state struct {
		meta       facts.SessionMeta
		progress   facts.Progress
		utterances []facts.Utterance
		summaries  []facts.StageSummary
		report     *facts.FinalReport
	}
)

// New returns an empty Store.
func New() *Store {
	return &Store{sessions: make(map[string]*state)}
}

// InitSession implements facts.Store.
func (s *Store) InitSession(_ context.Context, sessionID string, meta facts.SessionMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; ok {
		return facts.ErrExists
	}
	s.sessions[sessionID] = &state{
		meta:     meta,
		progress: facts.Progress{Status: facts.StatusRunning},
	}
	return nil
}

// SetStatus implements facts.Store.
func (s *Store) SetStatus(_ context.Context, sessionID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[sessionID]
	if !ok {
		return facts.ErrNotFound
	}
	st.progress.Status = status
	return nil
}

// GetProgress implements facts.Store.
func (s *Store) GetProgress(_ context.Context, sessionID string) (facts.Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[sessionID]
	if !ok {
		return facts.Progress{}, facts.ErrNotFound
	}
	return st.progress, nil
}

// ListRunning implements facts.Store.
func (s *Store) ListRunning(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, st := range s.sessions {
		if st.progress.Status == facts.StatusRunning {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// AppendUtterance implements facts.Store. Equal timestamps order by Seq.
func (s *Store) AppendUtterance(_ context.Context, sessionID string, u facts.Utterance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[sessionID]
	if !ok {
		return facts.ErrNotFound
	}
	st.utterances = insertUtterance(st.utterances, u)
	st.progress.LastUtteranceTS = u.Timestamp
	return nil
}

// ListUtterances implements facts.Store.
func (s *Store) ListUtterances(_ context.Context, sessionID string, sinceExclusive, untilInclusive float64, limit int) ([]facts.Utterance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	out := make([]facts.Utterance, 0, limit)
	for _, u := range st.utterances {
		if u.Timestamp <= sinceExclusive || u.Timestamp > untilInclusive {
			continue
		}
		out = append(out, u)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// AppendStageSummary implements facts.Store. The cursor advances to
// max(current, ts) so a late summary with an older timestamp is retained
// without moving the cursor backward.
func (s *Store) AppendStageSummary(_ context.Context, sessionID string, sum facts.StageSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[sessionID]
	if !ok {
		return facts.ErrNotFound
	}
	i := sort.Search(len(st.summaries), func(i int) bool {
		return st.summaries[i].Timestamp > sum.Timestamp
	})
	st.summaries = append(st.summaries, facts.StageSummary{})
	copy(st.summaries[i+1:], st.summaries[i:])
	st.summaries[i] = sum
	if sum.Timestamp > st.progress.LastStageSummaryTS {
		st.progress.LastStageSummaryTS = sum.Timestamp
	}
	return nil
}

// ListStageSummaries implements facts.Store.
func (s *Store) ListStageSummaries(_ context.Context, sessionID string, limit int) ([]facts.StageSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	n := len(st.summaries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]facts.StageSummary, n)
	copy(out, st.summaries[:n])
	return out, nil
}

// SetFinalReport implements facts.Store. First write wins.
func (s *Store) SetFinalReport(_ context.Context, sessionID string, report facts.FinalReport) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[sessionID]
	if !ok {
		return false, facts.ErrNotFound
	}
	if st.report != nil {
		return false, nil
	}
	st.report = &report
	return true, nil
}

// GetFinalReport implements facts.Store.
func (s *Store) GetFinalReport(_ context.Context, sessionID string) (*facts.FinalReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[sessionID]
	if !ok || st.report == nil {
		return nil, nil
	}
	cloned := *st.report
	return &cloned, nil
}

// insertUtterance keeps the log ordered by (Timestamp, Seq) FIFO for equal
// timestamps.
func insertUtterance(log []facts.Utterance, u facts.Utterance) []facts.Utterance {
	i := sort.Search(len(log), func(i int) bool {
		if log[i].Timestamp != u.Timestamp {
			return log[i].Timestamp > u.Timestamp
		}
		return log[i].Seq > u.Seq
	})
	log = append(log, facts.Utterance{})
	copy(log[i+1:], log[i:])
	log[i] = u
	return log
}
