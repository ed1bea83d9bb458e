// Command icarus exercises annotation layers and candidate pipelines from
// the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/internal/workload"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/annotation"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/config"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/logger"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/manifest"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/metrics"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/observability"
)

var version = "0.1.0"

// env is the runtime assembled from the configuration for one command.
type env struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *prometheus.Registry
	storage  *metrics.StorageMetrics
	queue    *metrics.QueueMetrics
	tracing  *observability.Provider
}

func main() {
	var (
		configFile string
		logLevel   string
	)

	root := &cobra.Command{
		Use:   "icarus",
		Short: "Icarus - annotation storage and candidate pipeline tooling",
		Long: `Icarus drives adaptive annotation layers and bounded candidate
pipelines over synthetic corpora to inspect bundle selection, snapshot
formats and pipeline throughput.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a YAML configuration file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	setup := func() (*env, error) {
		return newEnv(configFile, logLevel)
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Icarus v%s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	root.AddCommand(newConfigCmd(&configFile))
	root.AddCommand(newBenchCmd(setup))
	root.AddCommand(newDumpCmd(setup))
	root.AddCommand(newRestoreCmd(setup))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newEnv(configFile, logLevel string) (*env, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logger.Init(cfg.Logging.Logger())
	if err != nil {
		return nil, err
	}

	tracing, err := observability.NewProvider(observability.TracingConfig{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		SamplingRate:   cfg.Tracing.SampleRate,
		ExporterType:   cfg.Tracing.Exporter,
		Writer:         os.Stderr,
	})
	if err != nil {
		return nil, err
	}
	tracing.Install()

	e := &env{cfg: cfg, log: log, tracing: tracing}
	if cfg.Metrics.Enabled {
		e.registry = prometheus.NewRegistry()
		e.storage = metrics.NewStorageMetrics(e.registry, cfg.Metrics.Namespace)
		e.queue = metrics.NewQueueMetrics(e.registry, cfg.Metrics.Namespace)
	}
	return e, nil
}

func (e *env) close(ctx context.Context) {
	if err := e.tracing.Shutdown(ctx); err != nil {
		e.log.Warn("tracing shutdown failed", zap.Error(err))
	}
	if e.registry != nil {
		if families, err := e.registry.Gather(); err == nil {
			e.log.Debug("metrics collected", zap.Int("families", len(families)))
		}
	}
	_ = logger.Sync()
}

func (e *env) tracer() trace.Tracer {
	return e.tracing.Tracer("icarus")
}

// layer resolves the layer manifest by id, falling back to the built-in
// token layer when no id is given and none is configured.
func (e *env) layer(id string) (*manifest.LayerManifest, error) {
	var m *manifest.LayerManifest
	switch {
	case id != "":
		l, ok := e.cfg.Layer(id)
		if !ok {
			if def := workload.DefaultLayer(); def.ID == id {
				l = def
			} else {
				return nil, fmt.Errorf("unknown layer %q", id)
			}
		}
		m = l
	case len(e.cfg.Layers) > 0:
		m = &e.cfg.Layers[0]
	default:
		m = workload.DefaultLayer()
	}
	if m.BundleKind == "" && e.cfg.Storage.BundleKind != "" {
		pinned := *m
		pinned.BundleKind = e.cfg.Storage.BundleKind
		m = &pinned
	}
	return m, nil
}

func (e *env) newStorage(m *manifest.LayerManifest) (*annotation.Storage[int64], error) {
	return annotation.NewStorage[int64](m,
		annotation.WithFactory(annotation.NewFactory(e.cfg.Storage.Policy())),
		annotation.WithLogger(e.log),
		annotation.WithMetrics(e.storage),
		annotation.WithReclaimEmpty(e.cfg.Storage.ReclaimEmpty),
	)
}

func newConfigCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create configuration files",
	}

	var format string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			var out []byte
			switch format {
			case "json":
				out, err = json.MarshalIndent(cfg, "", "  ")
			case "yaml":
				out, err = yaml.Marshal(cfg)
			default:
				return fmt.Errorf("unknown format %q", format)
			}
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	show.Flags().StringVar(&format, "format", "yaml", "Output format (yaml, json)")

	initCmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write the default configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.Save(args[0], config.Default())
		},
	}

	cmd.AddCommand(show, initCmd)
	return cmd
}
