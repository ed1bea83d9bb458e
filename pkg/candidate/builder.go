package candidate

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/errors"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/logger"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/metrics"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/pool"
)

// DefaultReaderBatch is the buffer size Drain and Run read with.
const DefaultReaderBatch = 64

// TracerName identifies spans emitted by candidate processors.
const TracerName = "github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/candidate"

// Builder assembles a Processor.
type Builder[C any] struct {
	name        string
	lookup      Lookup[C]
	filters     []Filter
	exec        Executor
	capacity    int
	filterBatch int
	readerBatch int
	logger      *zap.Logger
	metrics     *metrics.QueueRecorder
	tracer      trace.Tracer
}

// NewBuilder returns a builder with default settings.
func NewBuilder[C any]() *Builder[C] {
	return &Builder[C]{
		name:        "candidates",
		capacity:    DefaultQueueCapacity,
		filterBatch: DefaultFilterBatch,
		readerBatch: DefaultReaderBatch,
	}
}

func (b *Builder[C]) Name(name string) *Builder[C] {
	b.name = name
	return b
}

// Lookup sets the function resolving indices into candidates.
func (b *Builder[C]) Lookup(fn Lookup[C]) *Builder[C] {
	b.lookup = fn
	return b
}

// Filters appends filters. Each one becomes an independent producer.
func (b *Builder[C]) Filters(filters ...Filter) *Builder[C] {
	b.filters = append(b.filters, filters...)
	return b
}

// Executor sets where filter tasks run. Defaults to GoExecutor.
func (b *Builder[C]) Executor(e Executor) *Builder[C] {
	b.exec = e
	return b
}

func (b *Builder[C]) Capacity(n int) *Builder[C] {
	b.capacity = n
	return b
}

func (b *Builder[C]) FilterBatch(n int) *Builder[C] {
	b.filterBatch = n
	return b
}

func (b *Builder[C]) ReaderBatch(n int) *Builder[C] {
	b.readerBatch = n
	return b
}

func (b *Builder[C]) Logger(l *zap.Logger) *Builder[C] {
	b.logger = l
	return b
}

func (b *Builder[C]) Metrics(r *metrics.QueueRecorder) *Builder[C] {
	b.metrics = r
	return b
}

func (b *Builder[C]) Tracer(t trace.Tracer) *Builder[C] {
	b.tracer = t
	return b
}

// Build validates the settings and returns an unstarted processor.
func (b *Builder[C]) Build() (*Processor[C], error) {
	if b.lookup == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "candidate lookup is required").
			WithDetail("processor", b.name)
	}
	if len(b.filters) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "at least one filter is required").
			WithDetail("processor", b.name)
	}
	seen := make(map[string]bool, len(b.filters))
	for i, f := range b.filters {
		if f == nil {
			return nil, errors.Newf(errors.ErrorTypeConfig, "filter %d is nil", i).
				WithDetail("processor", b.name)
		}
		if seen[f.Name()] {
			return nil, errors.Newf(errors.ErrorTypeConfig, "duplicate filter name %q", f.Name()).
				WithDetail("processor", b.name)
		}
		seen[f.Name()] = true
	}
	if b.capacity < 1 {
		return nil, errors.Newf(errors.ErrorTypeConfig, "queue capacity must be positive, got %d", b.capacity).
			WithDetail("processor", b.name)
	}
	if b.readerBatch < 1 || b.filterBatch < 1 {
		return nil, errors.New(errors.ErrorTypeConfig, "batch sizes must be positive").
			WithDetail("processor", b.name)
	}

	exec := b.exec
	if exec == nil {
		exec = GoExecutor{}
	}
	tracer := b.tracer
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}
	log := logger.OrNop(b.logger)

	return &Processor[C]{
		name:    b.name,
		lookup:  b.lookup,
		filters: append([]Filter(nil), b.filters...),
		exec:    exec,
		queue: NewQueue(QueueConfig{
			Name:      b.name,
			Capacity:  b.capacity,
			Producers: len(b.filters),
			Logger:    log,
			Metrics:   b.metrics,
		}),
		filterBatch: b.filterBatch,
		readerBatch: b.readerBatch,
		buffers:     pool.NewIndexBuffers(b.readerBatch),
		logger:      log.With(zap.String("component", "candidate_processor"), zap.String("processor", b.name)),
		tracer:      tracer,
	}, nil
}
