package candidate

import (
	"context"

	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/errors"
)

// Sink is the write side of a Queue held by exactly one filter.
//
// A filter calls Prepare once before writing, Add or AddBatch any number of
// times and Finish once when done. Add and AddBatch block while the queue is
// full. A batch is appended as a unit: no other producer's indices appear
// inside it.
type Sink interface {
	Prepare() error
	Add(ctx context.Context, index int64) error
	AddBatch(ctx context.Context, indices []int64) error
	Finish() error
	// Fail aborts the whole queue with err.
	Fail(err error)
}

type sink struct {
	q    *Queue
	name string

	// guarded by q.mu
	prepared bool
	finished bool
}

func (s *sink) Prepare() error {
	return s.q.prepare(s)
}

func (s *sink) Add(ctx context.Context, index int64) error {
	if index < 0 {
		return errors.New(errors.ErrorTypeValidation, "candidate index must not be negative").
			WithDetail("filter", s.name).
			WithDetail("index", index)
	}
	var one [1]int64
	one[0] = index
	return s.q.add(ctx, s, one[:])
}

func (s *sink) AddBatch(ctx context.Context, indices []int64) error {
	for _, idx := range indices {
		if idx < 0 {
			return errors.New(errors.ErrorTypeValidation, "candidate index must not be negative").
				WithDetail("filter", s.name).
				WithDetail("index", idx)
		}
	}
	if len(indices) == 0 {
		return nil
	}
	return s.q.add(ctx, s, indices)
}

func (s *sink) Finish() error {
	return s.q.finish(s)
}

func (s *sink) Fail(err error) {
	if err == nil {
		return
	}
	if !errors.IsType(err, errors.ErrorTypeFilter) {
		err = errors.Wrap(err, errors.ErrorTypeFilter, "filter failed").
			WithDetail("filter", s.name).
			WithDetail("queue", s.q.name)
	}
	s.q.Fail(err)
}

// state reports the lifecycle flags of the sink.
func (s *sink) state() (prepared, finished bool) {
	s.q.mu.Lock()
	defer s.q.mu.Unlock()
	return s.prepared, s.finished
}
