package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateAndGet(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("class-1")
	require.ErrorIs(t, err, ErrNotFound)

	s, err := r.Create("class-1")
	require.NoError(t, err)
	require.Equal(t, StatusRunning, s.Status)
	require.NotNil(t, s.Observer.UtterancesByUser)

	got, err := r.Get("class-1")
	require.NoError(t, err)
	require.Same(t, s, got)

	_, err = r.Create("class-1")
	require.ErrorIs(t, err, ErrExists)

	_, err = r.Create("")
	require.Error(t, err)
}

func TestLifecycleTransitions(t *testing.T) {
	r := NewRegistry()
	s, err := r.Create("class-1")
	require.NoError(t, err)

	// ENDING before RUNNING→ENDING is the only legal first step.
	require.ErrorIs(t, r.MarkEnded("class-1"), ErrInvalidState)

	require.NoError(t, r.MarkEnding("class-1"))
	require.Equal(t, StatusEnding, s.Status)

	require.ErrorIs(t, r.MarkEnding("class-1"), ErrInvalidState)

	require.NoError(t, r.MarkEnded("class-1"))
	require.Equal(t, StatusEnded, s.Status)

	// ENDED is terminal.
	require.ErrorIs(t, r.MarkEnding("class-1"), ErrInvalidState)
	require.ErrorIs(t, r.MarkEnded("class-1"), ErrInvalidState)

	require.ErrorIs(t, r.MarkEnding("missing"), ErrNotFound)
}

func TestNextSeqMonotonic(t *testing.T) {
	r := NewRegistry()
	s, err := r.Create("class-1")
	require.NoError(t, err)

	s.Mu.Lock()
	defer s.Mu.Unlock()
	require.Equal(t, int64(1), s.NextSeq())
	require.Equal(t, int64(2), s.NextSeq())
	require.Equal(t, int64(3), s.NextSeq())
}

func TestTimelineBounded(t *testing.T) {
	r := NewRegistry()
	s, err := r.Create("class-1")
	require.NoError(t, err)

	s.Mu.Lock()
	defer s.Mu.Unlock()
	for i := 0; i < maxTimeline+25; i++ {
		s.RecordTimeline(TimelineEntry{Kind: "CHAT", Text: fmt.Sprintf("m%d", i)})
	}
	require.Len(t, s.Timeline, maxTimeline)
	require.Equal(t, "m25", s.Timeline[0].Text, "oldest entries are dropped first")
	require.Equal(t, fmt.Sprintf("m%d", maxTimeline+24), s.Timeline[len(s.Timeline)-1].Text)
}
