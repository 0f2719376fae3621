// Package scheduler implements the deterministic multi-core scheduler:
// core-local SPSC ring buffers feeding a single global min-heap ordered by
// (Lamport timestamp, core id), a replay log for bit-identical
// re-execution, cooperative cancellation tokens, and a watchdog-bounded
// Cold worker pool.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/semaphore"

	"github.com/antigravity-dev/ontoflow/internal/clock"
)

// ErrCancelled is the terminal outcome recorded for a task whose
// cancellation token was set before it ran. Cancellation is cooperative:
// a running task observes its token at yield points, a queued task is
// skipped at dispatch — either way it still gets a terminal replay
// record.
var ErrCancelled = errors.New("scheduler: task cancelled")

// Task is one unit of scheduled work. ID is the task's stable identity
// for placement and replay; a negative Core asks for the deterministic
// home core (ID mod N), an explicit non-negative Core pins the task. The
// scheduler never migrates a task between cores once placed: same
// inputs, same placement, same Lamport order, same outcome. Run
// returns the output hash recorded in the replay log, or an empty digest
// when the task has no meaningful output.
type Task struct {
	ID     uint64
	Core   int
	Class  clock.Class
	Tenant string
	Input  digest.Digest
	Token  *CancelToken
	Run    func(ctx context.Context) (digest.Digest, error)
}

// entry is a Task wrapped with its assigned Lamport timestamp and placed
// core, the ordering key for the global min-heap.
type entry struct {
	task    Task
	lamport uint64
	core    int
}

// priorityQueue is a container/heap.Interface ordered by (lamport, core),
// the deterministic total order dispatch follows across cores.
type priorityQueue []*entry

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].lamport != pq[j].lamport {
		return pq[i].lamport < pq[j].lamport
	}
	return pq[i].core < pq[j].core
}
func (pq priorityQueue) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x interface{}) {
	*pq = append(*pq, x.(*entry))
}
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}

// RecordKind distinguishes the two replay-log event kinds.
type RecordKind int

const (
	// RecordEnqueue is written when Submit accepts a task.
	RecordEnqueue RecordKind = iota
	// RecordComplete is written when a task reaches a terminal outcome
	// (success, error, budget violation, or cancellation).
	RecordComplete
)

func (k RecordKind) String() string {
	if k == RecordEnqueue {
		return "enqueue"
	}
	return "complete"
}

// ReplayRecord is one scheduler event logged for bit-identical
// re-execution: every enqueue and every completion, as
// (kind, task_id, core_id, timestamp, input_hash, output_hash?).
type ReplayRecord struct {
	Kind       RecordKind
	TaskID     uint64
	Core       int
	Lamport    uint64
	Class      clock.Class
	Ticks      clock.Ticks
	InputHash  digest.Digest
	OutputHash digest.Digest
	Err        error
}

// LamportClock is the shared logical clock: local events Tick, cross-core
// messages Witness the sender's timestamp (max(local, remote) + 1).
type LamportClock struct {
	v atomic.Uint64
}

// Tick advances the clock for a local event and returns the new value.
func (l *LamportClock) Tick() uint64 { return l.v.Add(1) }

// Witness merges a remote timestamp into the clock and returns the new
// value, per the Lamport rule max(local, remote) + 1.
func (l *LamportClock) Witness(remote uint64) uint64 {
	for {
		cur := l.v.Load()
		next := cur
		if remote > next {
			next = remote
		}
		next++
		if l.v.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// Ring is a core-local buffer backed by a channel: Submit is the only
// producer path for a given core (callers of Submit may run on any
// goroutine), and the global merger in Run is the sole consumer.
type Ring struct {
	ch chan *entry
}

// NewRing creates an SPSC ring with the given buffer capacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 64
	}
	return &Ring{ch: make(chan *entry, capacity)}
}

// Offer enqueues e, blocking only if the ring is momentarily full.
func (r *Ring) Offer(e *entry) {
	r.ch <- e
}

// tryTake returns the next entry without blocking, or ok=false if empty.
func (r *Ring) tryTake() (*entry, bool) {
	select {
	case e := <-r.ch:
		return e, true
	default:
		return nil, false
	}
}

// Close signals no further entries will be offered.
func (r *Ring) Close() {
	close(r.ch)
}

// CancelToken is a cooperative cancellation flag a long-running Cold task
// checks between steps.
type CancelToken struct {
	cancelled atomic.Bool
}

// Cancel marks the token cancelled. Safe to call multiple times.
func (t *CancelToken) Cancel() { t.cancelled.Store(true) }

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool { return t.cancelled.Load() }

// Scheduler is the deterministic multi-core kernel: a fixed number of
// core-local rings feed a single merger goroutine that drains them into a
// global min-heap and dispatches in strict (Lamport, core) order. Cold
// tasks are handed off to a separate semaphore-bound pool so a long Cold
// transform never blocks the merger from dispatching the next Hot/Warm
// task.
type Scheduler struct {
	logger *slog.Logger
	clk    *clock.Clock

	cores   []*Ring
	lamport LamportClock

	replayMu sync.Mutex
	replay   []ReplayRecord

	coldSem *semaphore.Weighted
	coldWG  sync.WaitGroup

	watchdog   time.Duration
	pollPeriod time.Duration
}

// New builds a Scheduler with numCores core-local rings of the given
// capacity, and a Cold pool capped at coldConcurrency independent of the
// Hot/Warm core count.
func New(logger *slog.Logger, numCores, ringCapacity, coldConcurrency int, watchdog time.Duration) *Scheduler {
	if numCores <= 0 {
		numCores = 1
	}
	if coldConcurrency <= 0 {
		coldConcurrency = 1
	}
	if watchdog <= 0 {
		watchdog = 500 * time.Millisecond
	}

	cores := make([]*Ring, numCores)
	for i := range cores {
		cores[i] = NewRing(ringCapacity)
	}

	return &Scheduler{
		logger:     logger,
		clk:        clock.New(0),
		cores:      cores,
		coldSem:    semaphore.NewWeighted(int64(coldConcurrency)),
		watchdog:   watchdog,
		pollPeriod: time.Millisecond,
	}
}

// NumCores returns the fixed core count N used for home-core placement.
func (s *Scheduler) NumCores() int { return len(s.cores) }

// place resolves a task's core: an explicit non-negative Core wins, a
// negative Core means the deterministic home core ID mod N.
func (s *Scheduler) place(t Task) (int, error) {
	if t.Core < 0 {
		return int(t.ID % uint64(len(s.cores))), nil
	}
	if t.Core >= len(s.cores) {
		return 0, fmt.Errorf("scheduler: core %d out of range [0,%d)", t.Core, len(s.cores))
	}
	return t.Core, nil
}

// Submit assigns the next Lamport timestamp to t, logs the enqueue, and
// places t on its core's ring.
func (s *Scheduler) Submit(t Task) error {
	return s.submit(t, s.lamport.Tick())
}

// SubmitWitnessed is Submit for a task that arrives as a cross-core (or
// cross-process) message carrying the sender's Lamport timestamp: the
// shared clock advances to max(local, remote)+1 before assignment,
// preserving happens-before across the boundary.
func (s *Scheduler) SubmitWitnessed(t Task, remote uint64) error {
	return s.submit(t, s.lamport.Witness(remote))
}

func (s *Scheduler) submit(t Task, lamport uint64) error {
	core, err := s.place(t)
	if err != nil {
		return err
	}
	s.appendRecord(ReplayRecord{
		Kind:      RecordEnqueue,
		TaskID:    t.ID,
		Core:      core,
		Lamport:   lamport,
		Class:     t.Class,
		InputHash: t.Input,
	})
	s.cores[core].Offer(&entry{task: t, lamport: lamport, core: core})
	return nil
}

// Watchdog returns a task that, when dispatched, sets token's
// cancellation flag. Submitting it after the task it guards gives it a
// later Lamport timestamp, which is how timeouts are expressed in the
// deterministic order: a watchdog task with a later timestamp sets the
// cancellation flag.
func Watchdog(id uint64, core int, token *CancelToken) Task {
	return Task{
		ID:    id,
		Core:  core,
		Class: clock.Warm,
		Run: func(context.Context) (digest.Digest, error) {
			token.Cancel()
			return "", nil
		},
	}
}

// Run drains every core's ring into a global min-heap and dispatches
// strictly in (Lamport, core) order until ctx is cancelled. Hot/Warm
// tasks run inline on the merger goroutine — the order they complete in
// is the order they were admitted in, which is what makes replay
// bit-identical. Cold tasks are handed off to the semaphore-bound pool
// and never block the merger.
func (s *Scheduler) Run(ctx context.Context) error {
	pq := &priorityQueue{}
	heap.Init(pq)

	for {
		select {
		case <-ctx.Done():
			s.coldWG.Wait()
			return nil
		default:
		}

		drained := s.drainAvailable(pq)
		if pq.Len() == 0 {
			if !drained {
				select {
				case <-ctx.Done():
					s.coldWG.Wait()
					return nil
				case <-time.After(s.pollPeriod):
				}
			}
			continue
		}

		e := heap.Pop(pq).(*entry)
		s.dispatch(ctx, e)
	}
}

// drainAvailable pulls every currently-buffered entry from every ring into
// pq without blocking, returning whether anything was found.
func (s *Scheduler) drainAvailable(pq *priorityQueue) bool {
	found := false
	for _, ring := range s.cores {
		for {
			e, ok := ring.tryTake()
			if !ok {
				break
			}
			heap.Push(pq, e)
			found = true
		}
	}
	return found
}

func (s *Scheduler) dispatch(ctx context.Context, e *entry) {
	if e.task.Token != nil && e.task.Token.Cancelled() {
		s.complete(e, 0, "", ErrCancelled)
		return
	}

	if e.task.Class == clock.Cold {
		if err := s.coldSem.Acquire(ctx, 1); err != nil {
			s.complete(e, 0, "", err)
			return
		}
		s.coldWG.Add(1)
		go func(e *entry) {
			defer s.coldSem.Release(1)
			defer s.coldWG.Done()
			s.execute(ctx, e)
		}(e)
		return
	}

	s.execute(ctx, e)
}

// execute runs the task under its watchdog timeout, measures its tick
// usage against the class budget, and writes the terminal replay record.
// A budget overrun does not suppress the task's own result — the record
// carries both the output hash and the budget-violation error.
func (s *Scheduler) execute(ctx context.Context, e *entry) {
	var out digest.Digest
	var runErr error

	ticks, _ := s.clk.Measure(func() error {
		if e.task.Class == clock.Hot {
			// Hot tasks never yield and never block, so they skip the
			// watchdog goroutine entirely.
			out, runErr = e.task.Run(ctx)
		} else {
			out, runErr = s.runWithWatchdog(ctx, e)
		}
		return runErr
	})

	if err := s.clk.Enforce(e.task.Class, ticks); err != nil && runErr == nil {
		runErr = err
	}
	s.complete(e, ticks, out, runErr)
}

func (s *Scheduler) runWithWatchdog(ctx context.Context, e *entry) (digest.Digest, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.watchdog)
	defer cancel()

	type result struct {
		out digest.Digest
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		out, err := e.task.Run(runCtx)
		resCh <- result{out, err}
	}()

	select {
	case res := <-resCh:
		return res.out, res.err
	case <-runCtx.Done():
		if e.task.Token != nil {
			e.task.Token.Cancel()
		}
		if s.logger != nil {
			s.logger.Warn("scheduler task exceeded watchdog timeout",
				"task_id", e.task.ID, "core", e.core, "lamport", e.lamport, "class", e.task.Class.String())
		}
		return "", runCtx.Err()
	}
}

func (s *Scheduler) complete(e *entry, ticks clock.Ticks, out digest.Digest, err error) {
	s.appendRecord(ReplayRecord{
		Kind:       RecordComplete,
		TaskID:     e.task.ID,
		Core:       e.core,
		Lamport:    e.lamport,
		Class:      e.task.Class,
		Ticks:      ticks,
		InputHash:  e.task.Input,
		OutputHash: out,
		Err:        err,
	})
}

func (s *Scheduler) appendRecord(r ReplayRecord) {
	s.replayMu.Lock()
	defer s.replayMu.Unlock()
	s.replay = append(s.replay, r)
}

// ReplayLog returns a snapshot of every enqueue and completion in the
// order they were logged, sufficient to re-derive the same schedule given
// the same input tasks.
func (s *Scheduler) ReplayLog() []ReplayRecord {
	s.replayMu.Lock()
	defer s.replayMu.Unlock()
	out := make([]ReplayRecord, len(s.replay))
	copy(out, s.replay)
	return out
}

// Checksum XORs every logged record's Lamport timestamp, folded with its
// task ID, giving a fast inequality check alongside full replay
// comparison: two runs with differing schedules almost surely
// differ here without walking both logs.
func (s *Scheduler) Checksum() uint64 {
	s.replayMu.Lock()
	defer s.replayMu.Unlock()
	var sum uint64
	for _, r := range s.replay {
		sum ^= r.Lamport ^ (r.TaskID << 1)
	}
	return sum
}
