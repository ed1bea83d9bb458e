package workload

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/candidate"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/errors"
	applog "github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/logger"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/metrics"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/performance"
)

// BenchConfig configures a candidate pipeline run over a Corpus.
type BenchConfig struct {
	// Filters partitions the item range into this many producers.
	Filters       int
	Readers       int
	Workers       int
	QueueCapacity int
	ReaderBatch   int
	FilterBatch   int
	// Key selects items carrying a value for it; empty selects every
	// annotated item.
	Key string
	// Bitmap precomputes each partition's matches into a roaring bitmap
	// instead of scanning the partition inside the filter.
	Bitmap bool
}

// Hit is a resolved candidate.
type Hit struct {
	Item int64
	Keys int
}

// Report summarizes a bench run.
type Report struct {
	Layer       string                     `json:"layer"`
	BundleKind  string                     `json:"bundle_kind"`
	Items       int64                      `json:"items"`
	Annotations int                        `json:"annotations"`
	Filters     int                        `json:"filters"`
	Readers     int                        `json:"readers"`
	Ordered     bool                       `json:"ordered"`
	Candidates  int64                      `json:"candidates"`
	Duration    time.Duration              `json:"duration_ns"`
	Throughput  float64                    `json:"candidates_per_second"`
	LoadP50     time.Duration              `json:"load_p50_ns"`
	LoadP95     time.Duration              `json:"load_p95_ns"`
	LoadP99     time.Duration              `json:"load_p99_ns"`
	Queue       candidate.QueueStats       `json:"queue"`
	Resources   *performance.ResourceUsage `json:"resources,omitempty"`
}

// Bench streams every matching item of c through a candidate processor and
// reports throughput and load latencies.
func Bench(ctx context.Context, c *Corpus, cfg BenchConfig, logger *zap.Logger, rec *metrics.QueueRecorder, tracer trace.Tracer) (*Report, error) {
	if cfg.Filters < 1 {
		cfg.Filters = 1
	}
	if cfg.Readers < 1 {
		cfg.Readers = 1
	}
	if cfg.Key != "" {
		if _, ok := c.Storage.Layer().Lookup(cfg.Key); !ok && c.Storage.Layer().Closed() {
			return nil, errors.Newf(errors.ErrorTypeInvalidKey, "unknown selection key %q", cfg.Key).
				WithDetail("layer", c.Storage.Layer().ID)
		}
	}

	filters, err := c.filters(cfg)
	if err != nil {
		return nil, err
	}

	var exec candidate.Executor = candidate.GoExecutor{}
	if cfg.Workers > 0 {
		exec = candidate.NewPoolExecutor(cfg.Workers)
	}

	b := candidate.NewBuilder[Hit]().
		Name(c.Storage.Layer().ID).
		Lookup(c.lookup).
		Filters(filters...).
		Executor(exec).
		Logger(logger).
		Metrics(rec).
		Tracer(tracer)
	if cfg.QueueCapacity > 0 {
		b.Capacity(cfg.QueueCapacity)
	}
	if cfg.ReaderBatch > 0 {
		b.ReaderBatch(cfg.ReaderBatch)
	}
	if cfg.FilterBatch > 0 {
		b.FilterBatch(cfg.FilterBatch)
	}
	p, err := b.Build()
	if err != nil {
		return nil, err
	}

	batch := cfg.ReaderBatch
	if batch < 1 {
		batch = candidate.DefaultReaderBatch
	}
	latencies := performance.NewLatencyTracker()
	var loaded atomic.Int64

	start := time.Now()
	ctx = applog.WithLayer(ctx, c.Storage.Layer().ID)
	if err := p.Start(ctx); err != nil {
		return nil, err
	}
	g, gctx := errgroup.WithContext(ctx)
	for r := 0; r < cfg.Readers; r++ {
		g.Go(func() error {
			out := make([]Hit, batch)
			for {
				t := time.Now()
				n, err := p.Load(gctx, out)
				latencies.Record(time.Since(t))
				loaded.Add(int64(n))
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		p.Cancel()
		p.Wait()
		return nil, err
	}
	p.Wait()
	elapsed := time.Since(start)

	report := &Report{
		Layer:       c.Storage.Layer().ID,
		BundleKind:  string(c.Storage.Kind()),
		Items:       c.Items,
		Annotations: c.Annotations,
		Filters:     len(filters),
		Readers:     cfg.Readers,
		Ordered:     p.Ordered(),
		Candidates:  loaded.Load(),
		Duration:    elapsed,
		Queue:       p.Stats(),
	}
	if elapsed > 0 {
		report.Throughput = float64(report.Candidates) / elapsed.Seconds()
	}
	report.LoadP50, report.LoadP95, report.LoadP99 = latencies.Percentiles()

	logger.Info("candidate bench finished",
		zap.Int64("candidates", report.Candidates),
		zap.Duration("duration", elapsed),
		zap.Float64("throughput", report.Throughput))
	return report, nil
}

// Matches reports whether item is selected by key.
func (c *Corpus) Matches(item int64, key string) bool {
	if key == "" {
		return c.Storage.HasAnnotations(item)
	}
	found := false
	c.Storage.CollectKeys(item, func(k string) {
		if k == key {
			found = true
		}
	})
	return found
}

func (c *Corpus) lookup(item int64) (Hit, error) {
	h := Hit{Item: item}
	c.Storage.CollectKeys(item, func(string) { h.Keys++ })
	if h.Keys == 0 {
		return Hit{}, errors.New(errors.ErrorTypeInternal, "candidate without annotations").
			WithDetail("item", item)
	}
	return h, nil
}

func (c *Corpus) filters(cfg BenchConfig) ([]candidate.Filter, error) {
	if cfg.Bitmap && c.Items > math.MaxUint32 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "bitmap filters address at most %d items", uint64(math.MaxUint32))
	}

	span := (c.Items + int64(cfg.Filters) - 1) / int64(cfg.Filters)
	filters := make([]candidate.Filter, 0, cfg.Filters)
	for i := 0; i < cfg.Filters; i++ {
		from := int64(i) * span
		to := min(from+span, c.Items)
		if from >= to {
			break
		}
		name := fmt.Sprintf("partition-%d", i)

		if cfg.Bitmap {
			bm := roaring.New()
			for item := from; item < to; item++ {
				if c.Matches(item, cfg.Key) {
					bm.Add(uint32(item))
				}
			}
			filters = append(filters, candidate.NewBitmapFilter(name, bm))
			continue
		}
		key := cfg.Key
		filters = append(filters, candidate.NewRangeFilter(name, from, to, func(item int64) (bool, error) {
			return c.Matches(item, key), nil
		}))
	}
	if len(filters) == 0 {
		filters = append(filters, candidate.NewSliceFilter("empty", nil))
	}
	return filters, nil
}
