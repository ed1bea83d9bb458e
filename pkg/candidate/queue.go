package candidate

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/errors"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/logger"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/metrics"
)

// DefaultQueueCapacity is used when a queue is configured without capacity.
const DefaultQueueCapacity = 1024

// State is the lifecycle phase of a Queue.
type State int32

const (
	// StateOpen accepts writes from filters that have not finished yet.
	StateOpen State = iota
	// StateDraining means every filter finished and readers consume the backlog.
	StateDraining
	// StateClosed means the backlog is empty after all filters finished.
	StateClosed
	// StateFailed means a filter failed or the queue was aborted.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// QueueConfig configures a Queue.
type QueueConfig struct {
	// Name labels log lines and metrics.
	Name string
	// Capacity bounds the number of buffered indices.
	Capacity int
	// Producers is the number of sinks that will register. The stream ends
	// only after this many sinks have finished.
	Producers int
	Logger  *zap.Logger
	Metrics *metrics.QueueRecorder
}

// QueueStats is a point-in-time view of a queue.
type QueueStats struct {
	State             State `json:"state"`
	Capacity          int   `json:"capacity"`
	Depth             int   `json:"depth"`
	Producers         int   `json:"producers"`
	Prepared          int   `json:"prepared"`
	Finished          int   `json:"finished"`
	Added             int64 `json:"added"`
	Loaded            int64 `json:"loaded"`
	BackpressureWaits int64 `json:"backpressure_waits"`
	ReaderWaits       int64 `json:"reader_waits"`
}

// Queue is a bounded FIFO of candidate indices shared by several producing
// filters and several readers.
//
// Buffer access is guarded by mu. Blocked readers and writers wait on
// broadcast channels that are closed and replaced whenever data or space
// becomes available, so a wait can be abandoned when its context ends.
// Bulk writes are serialized through writeSlot: a batch is never interleaved
// with another producer's batch.
type Queue struct {
	name   string
	logger *zap.Logger
	rec    *metrics.QueueRecorder

	writeSlot chan struct{}

	mu        sync.Mutex
	ring      []int64
	head      int
	size      int
	state     State
	err       error
	producers int
	prepared  int
	finished  int

	readersWaiting int
	writersWaiting int
	dataReady      chan struct{}
	spaceReady     chan struct{}

	added             int64
	loaded            int64
	backpressureWaits int64
	readerWaits       int64
}

// NewQueue returns an open queue.
func NewQueue(cfg QueueConfig) *Queue {
	if cfg.Capacity < 1 {
		cfg.Capacity = DefaultQueueCapacity
	}
	if cfg.Producers < 1 {
		cfg.Producers = 1
	}
	if cfg.Name == "" {
		cfg.Name = "candidates"
	}
	return &Queue{
		name:       cfg.Name,
		logger:     logger.OrNop(cfg.Logger).With(zap.String("component", "candidate_queue"), zap.String("queue", cfg.Name)),
		rec:        cfg.Metrics,
		writeSlot:  make(chan struct{}, 1),
		ring:       make([]int64, cfg.Capacity),
		producers:  cfg.Producers,
		dataReady:  make(chan struct{}),
		spaceReady: make(chan struct{}),
	}
}

// Name returns the queue label.
func (q *Queue) Name() string {
	return q.name
}

// Capacity returns the maximum number of buffered indices.
func (q *Queue) Capacity() int {
	return len(q.ring)
}

// State returns the current lifecycle phase.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Err returns the failure recorded on the queue, if any.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		State:             q.state,
		Capacity:          len(q.ring),
		Depth:             q.size,
		Producers:         q.producers,
		Prepared:          q.prepared,
		Finished:          q.finished,
		Added:             q.added,
		Loaded:            q.loaded,
		BackpressureWaits: q.backpressureWaits,
		ReaderWaits:       q.readerWaits,
	}
}

// NewSink returns a write handle for one producer. The queue expects
// exactly as many sinks to prepare and finish as configured in Producers.
func (q *Queue) NewSink(name string) Sink {
	return q.newSink(name)
}

func (q *Queue) newSink(name string) *sink {
	return &sink{q: q, name: name}
}

// Load copies up to len(buf) indices into buf. It blocks until at least one
// index is available, the stream has ended or ctx is done. At the end of the
// stream it returns 0 and io.EOF. After a failure every call returns the
// recorded error; indices still buffered at that point are discarded.
func (q *Queue) Load(ctx context.Context, buf []int64) (int, error) {
	if len(buf) == 0 {
		return 0, errors.New(errors.ErrorTypeValidation, "load buffer must not be empty")
	}
	if ctx.Err() != nil {
		return 0, errors.Interrupted(ctx, "load")
	}

	q.mu.Lock()
	for {
		if q.err != nil {
			err := q.err
			q.mu.Unlock()
			return 0, err
		}
		if q.size > 0 {
			n := q.take(buf)
			q.mu.Unlock()
			return n, nil
		}
		if q.state == StateDraining || q.state == StateClosed {
			q.transition(StateClosed)
			q.mu.Unlock()
			return 0, io.EOF
		}

		q.readersWaiting++
		q.readerWaits++
		q.rec.ReaderWait()
		ready := q.dataReady
		q.mu.Unlock()

		select {
		case <-ready:
			q.mu.Lock()
			q.readersWaiting--
		case <-ctx.Done():
			q.mu.Lock()
			q.readersWaiting--
			q.mu.Unlock()
			return 0, errors.Interrupted(ctx, "load")
		}
	}
}

// take moves buffered indices into buf. Caller holds mu and q.size > 0.
func (q *Queue) take(buf []int64) int {
	n := min(len(buf), q.size)
	first := min(n, len(q.ring)-q.head)
	copy(buf, q.ring[q.head:q.head+first])
	copy(buf[first:n], q.ring[:n-first])
	q.head = (q.head + n) % len(q.ring)
	q.size -= n
	q.loaded += int64(n)
	q.rec.Loaded(n, q.size)

	if q.writersWaiting > 0 {
		q.signalSpace()
	}
	if q.size == 0 && q.state == StateDraining {
		q.transition(StateClosed)
	}
	return n
}

// put appends as many values as fit. Caller holds mu.
func (q *Queue) put(values []int64) int {
	free := len(q.ring) - q.size
	n := min(free, len(values))
	if n == 0 {
		return 0
	}
	tail := (q.head + q.size) % len(q.ring)
	first := min(n, len(q.ring)-tail)
	copy(q.ring[tail:tail+first], values[:first])
	copy(q.ring[:n-first], values[first:n])
	q.size += n
	q.added += int64(n)
	q.rec.Added(n, q.size)

	if q.readersWaiting > 0 {
		q.signalData()
	}
	return n
}

// add writes values as one batch, blocking while the buffer is full.
func (q *Queue) add(ctx context.Context, s *sink, values []int64) error {
	if ctx.Err() != nil {
		return errors.Interrupted(ctx, "add")
	}
	select {
	case q.writeSlot <- struct{}{}:
	case <-ctx.Done():
		return errors.Interrupted(ctx, "add")
	}
	defer func() { <-q.writeSlot }()

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.checkWritable(s); err != nil {
		return err
	}

	written := 0
	for len(values) > 0 {
		n := q.put(values)
		values = values[n:]
		written += n
		if len(values) == 0 {
			break
		}

		q.writersWaiting++
		q.backpressureWaits++
		q.rec.BackpressureWait()
		ready := q.spaceReady
		q.mu.Unlock()

		select {
		case <-ready:
			q.mu.Lock()
			q.writersWaiting--
		case <-ctx.Done():
			q.mu.Lock()
			q.writersWaiting--
			q.withdraw(written)
			return errors.Interrupted(ctx, "add")
		}
		if err := q.checkWritable(s); err != nil {
			return err
		}
	}
	return nil
}

// withdraw drops the unread part of an interrupted batch. The writer holds
// writeSlot, so the last written entries of the ring all belong to it.
// Caller holds mu.
func (q *Queue) withdraw(written int) {
	n := min(written, q.size)
	if n == 0 || q.err != nil {
		return
	}
	q.size -= n
	q.added -= int64(n)
	q.rec.Added(0, q.size)
	q.logger.Debug("interrupted batch withdrawn", zap.Int("withdrawn", n))
}

// checkWritable rejects writes from unprepared or finished sinks and writes
// to a failed queue. Caller holds mu.
func (q *Queue) checkWritable(s *sink) error {
	if q.err != nil {
		return errors.Wrap(q.err, errors.ErrorTypeState, "queue failed").
			WithDetail("queue", q.name).
			WithDetail("filter", s.name)
	}
	if !s.prepared {
		return errors.New(errors.ErrorTypeState, "sink used before prepare").
			WithDetail("queue", q.name).
			WithDetail("filter", s.name)
	}
	if s.finished {
		return errors.New(errors.ErrorTypeState, "sink used after finish").
			WithDetail("queue", q.name).
			WithDetail("filter", s.name)
	}
	return nil
}

func (q *Queue) prepare(s *sink) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if s.prepared {
		return errors.New(errors.ErrorTypeState, "sink prepared twice").
			WithDetail("queue", q.name).
			WithDetail("filter", s.name)
	}
	if q.prepared == q.producers {
		return errors.Newf(errors.ErrorTypeState, "queue expects %d producers", q.producers).
			WithDetail("queue", q.name).
			WithDetail("filter", s.name)
	}
	if q.err != nil {
		return errors.Wrap(q.err, errors.ErrorTypeState, "queue failed")
	}
	s.prepared = true
	q.prepared++
	q.logger.Debug("filter registered",
		zap.String("filter", s.name),
		zap.Int("prepared", q.prepared),
		zap.Int("producers", q.producers))
	return nil
}

func (q *Queue) finish(s *sink) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !s.prepared {
		return errors.New(errors.ErrorTypeState, "sink finished before prepare").
			WithDetail("queue", q.name).
			WithDetail("filter", s.name)
	}
	if s.finished {
		return nil
	}
	s.finished = true
	q.finished++
	q.logger.Debug("filter finished",
		zap.String("filter", s.name),
		zap.Int("finished", q.finished),
		zap.Int("producers", q.producers))

	if q.finished == q.producers && q.state == StateOpen {
		if q.size == 0 {
			q.transition(StateClosed)
		} else {
			q.transition(StateDraining)
		}
		// readers blocked on an empty queue must observe the end of stream
		q.signalData()
	}
	return nil
}

// Fail records err as the queue failure and wakes every blocked reader and
// writer. Only the first failure is kept.
func (q *Queue) Fail(err error) {
	if err == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fail(err)
}

// fail is Fail with mu held.
func (q *Queue) fail(err error) {
	if q.err != nil {
		return
	}
	q.err = err
	q.size = 0
	q.rec.FilterError()
	q.transition(StateFailed)
	q.logger.Error("candidate queue failed", zap.Error(err))
	q.signalData()
	q.signalSpace()
}

// transition changes state. Caller holds mu.
func (q *Queue) transition(to State) {
	if q.state == to {
		return
	}
	q.logger.Debug("queue state changed",
		zap.Stringer("from", q.state),
		zap.Stringer("to", to),
		zap.Int64("added", q.added),
		zap.Int64("loaded", q.loaded))
	q.state = to
}

func (q *Queue) signalData() {
	close(q.dataReady)
	q.dataReady = make(chan struct{})
}

func (q *Queue) signalSpace() {
	close(q.spaceReady)
	q.spaceReady = make(chan struct{})
}
