package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lectern-ai/lectern/facts"
	"github.com/lectern-ai/lectern/facts/inmem"
)

// fakeSummarizer records stage inputs and returns a canned summary.
type fakeSummarizer struct {
	calls  int
	inputs []string
	err    error
}

func (f *fakeSummarizer) SummarizeStage(_ context.Context, text string) (facts.StageSummary, error) {
	f.calls++
	f.inputs = append(f.inputs, text)
	if f.err != nil {
		return facts.StageSummary{}, f.err
	}
	return facts.StageSummary{Timestamp: now(), Summary: "stage digest"}, nil
}

func (f *fakeSummarizer) SummarizeFinal(context.Context, string, string) (facts.FinalReport, error) {
	return facts.FinalReport{}, errors.New("not used")
}

func (f *fakeSummarizer) CommandReply(context.Context, string, string, string) (string, error) {
	return "", errors.New("not used")
}

// fixNow pins the package clock for the duration of the test.
func fixNow(t *testing.T, ts float64) {
	t.Helper()
	orig := now
	now = func() float64 { return ts }
	t.Cleanup(func() { now = orig })
}

func newScheduler(t *testing.T, store facts.Store, sum *fakeSummarizer, opts Options) *Scheduler {
	t.Helper()
	opts.Store = store
	opts.Summarizer = sum
	s, err := New(opts)
	require.NoError(t, err)
	return s
}

func seedSession(t *testing.T, store facts.Store, id string, n int, wordy bool) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.InitSession(ctx, id, facts.SessionMeta{}))
	text := "hi"
	if wordy {
		text = strings.Repeat("the lesson continues ", 10)
	}
	for i := 0; i < n; i++ {
		require.NoError(t, store.AppendUtterance(ctx, id, facts.Utterance{
			SessionID: id,
			UserName:  "Ada",
			Role:      "teacher",
			Text:      fmt.Sprintf("%s #%d", text, i),
			Timestamp: float64(100 + i),
			Seq:       int64(i + 1),
		}))
	}
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{Store: inmem.New()})
	require.Error(t, err)

	s := newScheduler(t, inmem.New(), &fakeSummarizer{}, Options{})
	require.Equal(t, DefaultTickInterval, s.opts.TickInterval)
	require.Equal(t, DefaultMinInterval, s.opts.MinInterval)
	require.Equal(t, DefaultMinChars, s.opts.MinChars)
	require.Equal(t, DefaultMaxUtterances, s.opts.MaxUtterances)
}

func TestProcessSessionAppendsSummaryAndAdvancesCursor(t *testing.T) {
	fixNow(t, 1000)
	store := inmem.New()
	sum := &fakeSummarizer{}
	s := newScheduler(t, store, sum, Options{MinChars: 10})
	seedSession(t, store, "class-1", 10, true)
	ctx := context.Background()

	require.NoError(t, s.processSession(ctx, "class-1"))
	require.Equal(t, 1, sum.calls)
	require.Contains(t, sum.inputs[0], "[teacher][Ada]")

	sums, err := store.ListStageSummaries(ctx, "class-1", 10)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	require.Equal(t, "stage digest", sums[0].Summary)
	require.Zero(t, sums[0].Window.StartExclusive)
	require.Equal(t, 109.0, sums[0].Window.EndInclusive)

	prog, err := store.GetProgress(ctx, "class-1")
	require.NoError(t, err)
	require.Equal(t, 1000.0, prog.LastStageSummaryTS)

	// The fresh summary debounces the session; the next pass is a no-op.
	require.NoError(t, s.processSession(ctx, "class-1"))
	require.Equal(t, 1, sum.calls)
}

func TestProcessSessionDebouncesByElapsedTime(t *testing.T) {
	fixNow(t, 1000)
	store := inmem.New()
	sum := &fakeSummarizer{}
	s := newScheduler(t, store, sum, Options{MinInterval: 120 * time.Second, MinChars: 10})
	seedSession(t, store, "class-1", 5, true)
	ctx := context.Background()

	// A recent stage summary blocks the session until MinInterval elapses.
	require.NoError(t, store.AppendStageSummary(ctx, "class-1", facts.StageSummary{Timestamp: 950}))

	require.NoError(t, s.processSession(ctx, "class-1"))
	require.Zero(t, sum.calls)

	// New facts past the cursor plus elapsed time unblock the session.
	require.NoError(t, store.AppendUtterance(ctx, "class-1", facts.Utterance{
		UserName: "Ada", Role: "teacher",
		Text:      strings.Repeat("more material ", 10),
		Timestamp: 960, Seq: 100,
	}))
	fixNow(t, 950+121)
	require.NoError(t, s.processSession(ctx, "class-1"))
	require.Equal(t, 1, sum.calls)
}

func TestProcessSessionSkipsThinBatches(t *testing.T) {
	fixNow(t, 1000)
	store := inmem.New()
	sum := &fakeSummarizer{}
	s := newScheduler(t, store, sum, Options{MinChars: 1200})
	seedSession(t, store, "class-1", 3, false)

	require.NoError(t, s.processSession(context.Background(), "class-1"))
	require.Zero(t, sum.calls)
}

func TestProcessSessionSkipsEmptySessions(t *testing.T) {
	fixNow(t, 1000)
	store := inmem.New()
	sum := &fakeSummarizer{}
	s := newScheduler(t, store, sum, Options{MinChars: 10})
	require.NoError(t, store.InitSession(context.Background(), "class-1", facts.SessionMeta{}))

	require.NoError(t, s.processSession(context.Background(), "class-1"))
	require.Zero(t, sum.calls)
}

func TestProcessSessionCapsBatch(t *testing.T) {
	fixNow(t, 1000)
	store := inmem.New()
	sum := &fakeSummarizer{}
	s := newScheduler(t, store, sum, Options{MinChars: 10, MaxUtterances: 4})
	seedSession(t, store, "class-1", 10, true)
	ctx := context.Background()

	require.NoError(t, s.processSession(ctx, "class-1"))
	sums, err := store.ListStageSummaries(ctx, "class-1", 10)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	// Only the first four utterances were consumed; the window ends at the
	// last one in the capped batch.
	require.Equal(t, 103.0, sums[0].Window.EndInclusive)
}

func TestTickIsolatesPerSessionFailures(t *testing.T) {
	fixNow(t, 1000)
	store := inmem.New()
	sum := &fakeSummarizer{err: errors.New("model down")}
	s := newScheduler(t, store, sum, Options{MinChars: 10})
	seedSession(t, store, "a", 5, true)
	seedSession(t, store, "b", 5, true)

	s.tick(context.Background())
	// Both sessions were attempted despite the first failing.
	require.Equal(t, 2, sum.calls)
}

func TestTickSkipsNonRunningSessions(t *testing.T) {
	fixNow(t, 1000)
	store := inmem.New()
	sum := &fakeSummarizer{}
	s := newScheduler(t, store, sum, Options{MinChars: 10})
	seedSession(t, store, "class-1", 5, true)
	require.NoError(t, store.SetStatus(context.Background(), "class-1", facts.StatusEnding))

	s.tick(context.Background())
	require.Zero(t, sum.calls)
}

func TestStartStop(t *testing.T) {
	store := inmem.New()
	s := newScheduler(t, store, &fakeSummarizer{}, Options{TickInterval: 10 * time.Millisecond})

	ctx := context.Background()
	s.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, s.Stop(ctx))

	select {
	case <-s.done:
	default:
		t.Fatal("loop still running after Stop")
	}

	// Stop is idempotent.
	require.NoError(t, s.Stop(ctx))
}

func TestStopHonorsCallerContext(t *testing.T) {
	s := newScheduler(t, inmem.New(), &fakeSummarizer{}, Options{})
	// The loop was never started, so done never closes; the caller's context
	// bounds the wait.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)
}
