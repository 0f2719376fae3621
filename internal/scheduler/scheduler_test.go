package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/ontoflow/internal/clock"
)

func noop(context.Context) (digest.Digest, error) { return "", nil }

func TestSubmitRejectsOutOfRangeCore(t *testing.T) {
	s := New(nil, 2, 8, 1, 0)
	err := s.Submit(Task{Core: 5, Class: clock.Hot, Run: noop})
	require.Error(t, err)
}

func TestHomeCorePlacement(t *testing.T) {
	s := New(nil, 4, 8, 1, 0)

	core, err := s.place(Task{ID: 10, Core: -1})
	require.NoError(t, err)
	assert.Equal(t, 2, core, "home core is task ID mod N")

	core, err = s.place(Task{ID: 10, Core: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, core, "explicit pin wins over home core")
}

func TestRunDispatchesHotTasksInLamportOrder(t *testing.T) {
	s := New(nil, 2, 16, 1, time.Second)

	var mu sync.Mutex
	var order []int

	const n = 20
	for i := 0; i < n; i++ {
		i := i
		require.NoError(t, s.Submit(Task{
			ID:    uint64(i),
			Core:  i % 2,
			Class: clock.Hot,
			Run: func(context.Context) (digest.Digest, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return "", nil
			},
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, i, order[i], "hot tasks must dispatch in submission (Lamport) order")
	}
}

func TestReplayLogRecordsEnqueueAndCompletion(t *testing.T) {
	s := New(nil, 1, 8, 1, time.Second)
	in := digest.FromString("input")
	out := digest.FromString("output")
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Submit(Task{
			ID:    uint64(i),
			Core:  0,
			Class: clock.Warm,
			Input: in,
			Run:   func(context.Context) (digest.Digest, error) { return out, nil },
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	log := s.ReplayLog()
	require.Len(t, log, 10, "one enqueue plus one completion per task")

	var enq, done int
	for _, r := range log {
		switch r.Kind {
		case RecordEnqueue:
			enq++
			assert.Equal(t, in, r.InputHash)
		case RecordComplete:
			done++
			assert.Equal(t, in, r.InputHash)
			assert.Equal(t, out, r.OutputHash)
			assert.NoError(t, r.Err)
		}
	}
	assert.Equal(t, 5, enq)
	assert.Equal(t, 5, done)
}

// runStream submits the same deterministic task stream on a fresh
// scheduler and returns its replay log and checksum.
func runStream(t *testing.T, numCores, n int) ([]ReplayRecord, uint64) {
	t.Helper()
	s := New(nil, numCores, 2*n, 1, time.Second)
	for i := 0; i < n; i++ {
		require.NoError(t, s.Submit(Task{
			ID:    uint64(i),
			Core:  -1,
			Class: clock.Warm,
			Input: digest.FromString("task-input"),
			Run:   func(context.Context) (digest.Digest, error) { return digest.FromString("task-output"), nil },
		}))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	s.Run(ctx)
	return s.ReplayLog(), s.Checksum()
}

func TestDeterministicReplayAcrossRuns(t *testing.T) {
	for _, numCores := range []int{1, 4} {
		logA, sumA := runStream(t, numCores, 50)
		logB, sumB := runStream(t, numCores, 50)

		require.Equal(t, sumA, sumB, "XOR checksums must match across same-N runs")
		require.Len(t, logB, len(logA))
		for i := range logA {
			assert.Equal(t, logA[i].Kind, logB[i].Kind)
			assert.Equal(t, logA[i].TaskID, logB[i].TaskID)
			assert.Equal(t, logA[i].Core, logB[i].Core)
			assert.Equal(t, logA[i].Lamport, logB[i].Lamport)
			assert.Equal(t, logA[i].InputHash, logB[i].InputHash)
			assert.Equal(t, logA[i].OutputHash, logB[i].OutputHash)
		}
	}
}

func TestLamportWitnessAdvancesPastRemote(t *testing.T) {
	var l LamportClock
	l.Tick()
	l.Tick()
	got := l.Witness(100)
	assert.Equal(t, uint64(101), got)
	assert.Equal(t, uint64(102), l.Tick())
}

func TestColdTaskDoesNotBlockHotDispatch(t *testing.T) {
	s := New(nil, 1, 8, 1, time.Second)

	release := make(chan struct{})
	require.NoError(t, s.Submit(Task{ID: 1, Core: 0, Class: clock.Cold, Run: func(context.Context) (digest.Digest, error) {
		<-release
		return "", nil
	}}))

	hotDone := make(chan struct{})
	require.NoError(t, s.Submit(Task{ID: 2, Core: 0, Class: clock.Hot, Run: func(context.Context) (digest.Digest, error) {
		close(hotDone)
		return "", nil
	}}))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	go s.Run(ctx)

	select {
	case <-hotDone:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("hot task was blocked by an in-flight cold task")
	}
	close(release)
}

func TestCancelledTaskGetsTerminalRecord(t *testing.T) {
	s := New(nil, 1, 8, 1, time.Second)

	var tok CancelToken
	ran := false
	require.NoError(t, s.Submit(Task{ID: 7, Core: 0, Class: clock.Warm, Token: &tok, Run: func(context.Context) (digest.Digest, error) {
		ran = true
		return "", nil
	}}))
	tok.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.False(t, ran, "cancelled task must not run")
	log := s.ReplayLog()
	require.Len(t, log, 2)
	assert.Equal(t, RecordComplete, log[1].Kind)
	assert.ErrorIs(t, log[1].Err, ErrCancelled)
}

func TestWatchdogTaskSetsCancellationFlag(t *testing.T) {
	s := New(nil, 1, 8, 1, time.Second)

	var tok CancelToken
	require.NoError(t, s.Submit(Watchdog(99, 0, &tok)))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.True(t, tok.Cancelled())
}

func TestWarmBudgetViolationIsRecorded(t *testing.T) {
	s := New(nil, 1, 8, 1, time.Second)

	require.NoError(t, s.Submit(Task{ID: 3, Core: 0, Class: clock.Warm, Run: func(context.Context) (digest.Digest, error) {
		time.Sleep(2 * time.Millisecond) // well past Warm's 500us budget at 0.25ns/tick
		return "", nil
	}}))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	log := s.ReplayLog()
	require.Len(t, log, 2)
	assert.ErrorIs(t, log[1].Err, clock.ErrBudgetViolation)
	assert.Greater(t, int64(log[1].Ticks), int64(clock.WarmBudget))
}

func TestCancelToken(t *testing.T) {
	var tok CancelToken
	assert.False(t, tok.Cancelled())
	tok.Cancel()
	assert.True(t, tok.Cancelled())
}
