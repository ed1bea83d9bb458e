package candidate

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/errors"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/logger"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/observability"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/pool"
)

// Lookup resolves a candidate index into the candidate it denotes.
type Lookup[C any] func(index int64) (C, error)

// Processor runs a set of filters into its own queue and resolves the
// indices readers pull out of it.
type Processor[C any] struct {
	name        string
	lookup      Lookup[C]
	filters     []Filter
	exec        Executor
	queue       *Queue
	filterBatch int
	readerBatch int
	buffers     *pool.IndexBuffers
	logger      *zap.Logger
	tracer      trace.Tracer

	started atomic.Bool
	cancel  atomic.Pointer[context.CancelCauseFunc]
	tasks   sync.WaitGroup
}

// Name returns the processor label.
func (p *Processor[C]) Name() string {
	return p.name
}

// Queue exposes the underlying candidate queue.
func (p *Processor[C]) Queue() *Queue {
	return p.queue
}

// Ordered reports whether candidates are delivered in exactly the order the
// filters produced them. This holds only with a single filter.
func (p *Processor[C]) Ordered() bool {
	return len(p.filters) == 1
}

// Stats returns the queue statistics.
func (p *Processor[C]) Stats() QueueStats {
	return p.queue.Stats()
}

// Start submits every filter to the executor. It returns without waiting
// for the filters; ctx bounds their lifetime.
func (p *Processor[C]) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return errors.New(errors.ErrorTypeState, "processor already started").
			WithDetail("processor", p.name)
	}

	fctx, cancel := context.WithCancelCause(ctx)
	p.cancel.Store(&cancel)
	// a Cancel racing with Start may have failed the queue before the
	// cancel function was published
	if err := p.queue.Err(); err != nil {
		cancel(err)
	}
	p.tasks.Add(len(p.filters))

	logger.FromContext(ctx, p.logger).Info("starting candidate filters",
		zap.Int("filters", len(p.filters)),
		zap.Int("capacity", p.queue.Capacity()),
		zap.Bool("ordered", p.Ordered()))

	// a bounded executor blocks in Go, so submission must not hold up the caller
	go func() {
		for _, f := range p.filters {
			p.exec.Go(p.task(fctx, f))
		}
	}()
	go func() {
		p.tasks.Wait()
		cancel(nil)
	}()
	return nil
}

// Wait blocks until every filter task returned.
func (p *Processor[C]) Wait() {
	p.tasks.Wait()
}

// Cancel stops the filters and fails the queue so blocked readers return.
func (p *Processor[C]) Cancel() {
	err := errors.New(errors.ErrorTypeInterrupted, "processor cancelled").
		WithDetail("processor", p.name)
	p.queue.Fail(err)
	if cancel := p.cancel.Load(); cancel != nil {
		(*cancel)(err)
	}
}

// Load fills out with resolved candidates. It blocks like Queue.Load and
// returns 0 and io.EOF once every filter finished and the backlog is empty.
// A lookup failure fails the whole queue.
func (p *Processor[C]) Load(ctx context.Context, out []C) (int, error) {
	if len(out) == 0 {
		return 0, errors.New(errors.ErrorTypeValidation, "load buffer must not be empty")
	}
	if !p.started.Load() {
		return 0, errors.New(errors.ErrorTypeState, "processor not started").
			WithDetail("processor", p.name)
	}

	buf := p.buffers.Get(len(out))
	defer p.buffers.Put(buf)

	n, err := p.queue.Load(ctx, *buf)
	if err != nil {
		return 0, err
	}
	for i, idx := range (*buf)[:n] {
		c, err := p.lookup(idx)
		if err != nil {
			wrapped := errors.Wrap(err, errors.ErrorTypeInternal, "candidate lookup failed").
				WithDetail("processor", p.name).
				WithDetail("index", idx)
			p.queue.Fail(wrapped)
			return i, wrapped
		}
		out[i] = c
	}
	return n, nil
}

// Drain reads every remaining candidate with a single reader.
func (p *Processor[C]) Drain(ctx context.Context) ([]C, error) {
	var all []C
	out := make([]C, p.readerBatch)
	for {
		n, err := p.Load(ctx, out)
		all = append(all, out[:n]...)
		if err == io.EOF {
			return all, nil
		}
		if err != nil {
			return all, err
		}
	}
}

// Run starts readers goroutines that hand every candidate to fn until the
// stream ends. The first error from fn or from the queue stops all readers
// and filters. fn is called concurrently when readers > 1.
func (p *Processor[C]) Run(ctx context.Context, readers int, fn func(C) error) error {
	if readers < 1 {
		readers = 1
	}
	if !p.started.Load() {
		if err := p.Start(ctx); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for r := 0; r < readers; r++ {
		g.Go(func() error {
			out := make([]C, p.readerBatch)
			for {
				n, err := p.Load(gctx, out)
				for _, c := range out[:n] {
					if ferr := fn(c); ferr != nil {
						return ferr
					}
				}
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}
			}
		})
	}

	err := g.Wait()
	if err != nil {
		p.Cancel()
		logger.FromContext(ctx, p.logger).Warn("candidate readers stopped", zap.Error(err))
	}
	return err
}

func (p *Processor[C]) task(ctx context.Context, f Filter) func() {
	return func() {
		defer p.tasks.Done()

		ctx, span := p.tracer.Start(ctx, "candidate.filter",
			trace.WithAttributes(
				attribute.String("processor", p.name),
				attribute.String("filter", f.Name()),
			))
		defer span.End()

		s := p.queue.newSink(f.Name())
		if err := p.runFilter(ctx, s, f); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			observability.WithTrace(ctx, logger.FromContext(ctx, p.logger)).Error("candidate filter failed",
				zap.String("filter", f.Name()),
				zap.Error(err))
			s.Fail(err)
			return
		}
		span.SetStatus(codes.Ok, "")
	}
}

func (p *Processor[C]) runFilter(ctx context.Context, s *sink, f Filter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.ErrorTypeFilter, "filter panicked: %v", r).
				WithDetail("filter", f.Name())
		}
	}()

	if err := f.Run(ctx, &FilterContext{Sink: s, Batch: p.filterBatch}); err != nil {
		return err
	}
	prepared, finished := s.state()
	if !prepared {
		if err := s.Prepare(); err != nil {
			return err
		}
	}
	if !finished {
		return s.Finish()
	}
	return nil
}
