package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/internal/workload"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/annotation/snapshot"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/logger"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/observability"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/performance"
)

type corpusFlags struct {
	layer   string
	items   int64
	density float64
	seed    int64
}

func (f *corpusFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.layer, "layer", "", "Layer id from the configuration (default: first configured layer or the built-in token layer)")
	cmd.Flags().Int64Var(&f.items, "items", 100000, "Number of synthetic items")
	cmd.Flags().Float64Var(&f.density, "density", 0.3, "Probability that an item carries a value for a key")
	cmd.Flags().Int64Var(&f.seed, "seed", 1, "Random seed")
}

// populate builds a storage for the selected layer and fills it.
func (f *corpusFlags) populate(ctx context.Context, e *env, st *observability.StageTracer) (*workload.Corpus, error) {
	m, err := e.layer(f.layer)
	if err != nil {
		return nil, err
	}
	s, err := e.newStorage(m)
	if err != nil {
		return nil, err
	}

	var c *workload.Corpus
	err = st.TraceBatch(ctx, int(f.items), "populate", func(ctx context.Context) error {
		var err error
		c, err = workload.Populate(s, workload.CorpusConfig{Items: f.items, Density: f.density, Seed: f.seed}, e.log)
		return err
	})
	return c, err
}

func newBenchCmd(setup func() (*env, error)) *cobra.Command {
	var (
		corpus  corpusFlags
		bench   workload.BenchConfig
		query   string
		asJSON  bool
		monitor bool
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run a candidate pipeline over a synthetic corpus",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close(context.Background())
			ctx := logger.WithQuery(cmd.Context(), query)

			p := e.cfg.Pipeline
			if !cmd.Flags().Changed("readers") {
				bench.Readers = p.Readers
			}
			if !cmd.Flags().Changed("workers") {
				bench.Workers = p.Workers
			}
			bench.QueueCapacity = p.QueueCapacity
			bench.ReaderBatch = p.ReaderBatch
			bench.FilterBatch = p.FilterBatch

			var before *performance.ResourceUsage
			var mon *performance.ResourceMonitor
			if monitor {
				if mon, err = performance.NewResourceMonitor(); err != nil {
					e.log.Warn("resource monitor unavailable", zap.Error(err))
				} else {
					before = mon.Usage()
				}
			}

			st := observability.NewStageTracer("icarus", "bench", e.tracer())
			c, err := corpus.populate(ctx, e, st)
			if err != nil {
				return err
			}

			var report *workload.Report
			err = st.Trace(ctx, "pipeline", func(ctx context.Context) error {
				var err error
				report, err = workload.Bench(ctx, c, bench, e.log, e.queue.For(c.Storage.Layer().ID), e.tracer())
				return err
			})
			if err != nil {
				return err
			}
			if mon != nil {
				report.Resources = mon.Usage()
				e.log.Debug("resource usage",
					zap.Uint64("heap_before", before.HeapAlloc),
					zap.Uint64("heap_after", report.Resources.HeapAlloc),
					zap.Int("goroutines", report.Resources.GoroutineCount))
			}

			out := cmd.OutOrStdout()
			if asJSON {
				data, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(data))
				return err
			}

			fmt.Fprintf(out, "Layer:        %s (%s)\n", report.Layer, report.BundleKind)
			fmt.Fprintf(out, "Items:        %d (%d annotations)\n", report.Items, report.Annotations)
			fmt.Fprintf(out, "Pipeline:     %d filters, %d readers, ordered=%t\n", report.Filters, report.Readers, report.Ordered)
			fmt.Fprintf(out, "Candidates:   %d in %s (%.0f/s)\n", report.Candidates, report.Duration, report.Throughput)
			fmt.Fprintf(out, "Load latency: p50=%s p95=%s p99=%s\n", report.LoadP50, report.LoadP95, report.LoadP99)
			fmt.Fprintf(out, "Queue:        %d added, %d back-pressure waits, %d reader waits\n",
				report.Queue.Added, report.Queue.BackpressureWaits, report.Queue.ReaderWaits)
			if r := report.Resources; r != nil {
				fmt.Fprintf(out, "Resources:    heap=%.2f MB goroutines=%d cpu=%.1f%%\n",
					float64(r.HeapAlloc)/1024/1024, r.GoroutineCount, r.CPUPercent)
			}
			return nil
		},
	}

	corpus.register(cmd)
	cmd.Flags().IntVar(&bench.Filters, "filters", 4, "Number of producing filters")
	cmd.Flags().IntVar(&bench.Readers, "readers", 1, "Number of concurrent readers")
	cmd.Flags().IntVar(&bench.Workers, "workers", 0, "Filter worker limit (0 runs every filter on its own goroutine)")
	cmd.Flags().StringVar(&bench.Key, "key", "", "Select only items carrying a value for this key")
	cmd.Flags().BoolVar(&bench.Bitmap, "bitmap", false, "Precompute partition matches into bitmaps")
	cmd.Flags().StringVar(&query, "query", "bench", "Query id attached to pipeline log lines")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	cmd.Flags().BoolVar(&monitor, "resources", true, "Sample process resource usage")
	return cmd
}

func newDumpCmd(setup func() (*env, error)) *cobra.Command {
	var (
		corpus      corpusFlags
		out         string
		compression string
	)

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Write a synthetic corpus as a layer snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close(context.Background())
			if compression == "" {
				compression = e.cfg.Snapshot.Compression
			}

			st := observability.NewStageTracer("icarus", "dump", e.tracer())
			c, err := corpus.populate(cmd.Context(), e, st)
			if err != nil {
				return err
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			w := bufio.NewWriter(f)

			var n int
			err = st.Trace(cmd.Context(), "write", func(context.Context) error {
				var err error
				n, err = snapshot.Write(w, c.Storage, snapshot.Compression(compression))
				if err != nil {
					return err
				}
				return w.Flush()
			})
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}

			e.log.Info("snapshot written",
				zap.String("path", out),
				zap.String("compression", compression),
				zap.Int("items", n))
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d items to %s\n", n, out)
			return nil
		},
	}

	corpus.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "Snapshot file to write")
	cmd.Flags().StringVar(&compression, "compression", "", "Snapshot codec (none, zstd, lz4; default from configuration)")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newRestoreCmd(setup func() (*env, error)) *cobra.Command {
	var (
		in          string
		layer       string
		compression string
	)

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Load a layer snapshot and report its contents",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close(context.Background())
			if compression == "" {
				compression = e.cfg.Snapshot.Compression
			}

			m, err := e.layer(layer)
			if err != nil {
				return err
			}
			s, err := e.newStorage(m)
			if err != nil {
				return err
			}

			f, err := os.Open(in)
			if err != nil {
				return err
			}
			defer f.Close()

			st := observability.NewStageTracer("icarus", "restore", e.tracer())
			var n int
			err = st.Trace(cmd.Context(), "read", func(context.Context) error {
				var err error
				n, err = snapshot.Read(bufio.NewReader(f), s, snapshot.Compression(compression))
				return err
			})
			if err != nil {
				return err
			}

			annotations := 0
			s.Items(func(item int64) bool {
				s.CollectKeys(item, func(string) { annotations++ })
				return true
			})
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %d items (%d annotations) into layer %s (%s)\n",
				n, annotations, s.Layer().ID, s.Kind())
			return nil
		},
	}

	cmd.Flags().StringVarP(&in, "in", "i", "", "Snapshot file to read")
	cmd.Flags().StringVar(&layer, "layer", "", "Layer id from the configuration")
	cmd.Flags().StringVar(&compression, "compression", "", "Snapshot codec (none, zstd, lz4; default from configuration)")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}
