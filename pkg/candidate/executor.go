package candidate

import (
	"golang.org/x/sync/errgroup"
)

// Executor runs filter tasks. Go may block until a worker is free.
type Executor interface {
	Go(task func())
}

// GoExecutor starts one goroutine per task.
type GoExecutor struct{}

func (GoExecutor) Go(task func()) {
	go task()
}

// PoolExecutor runs at most Limit tasks at a time.
type PoolExecutor struct {
	g errgroup.Group
}

// NewPoolExecutor returns an executor bounded to limit concurrent tasks. A
// limit below 1 leaves it unbounded.
func NewPoolExecutor(limit int) *PoolExecutor {
	e := &PoolExecutor{}
	if limit > 0 {
		e.g.SetLimit(limit)
	}
	return e
}

func (e *PoolExecutor) Go(task func()) {
	e.g.Go(func() error {
		task()
		return nil
	})
}

// Wait blocks until every submitted task returned.
func (e *PoolExecutor) Wait() {
	_ = e.g.Wait()
}
