// Package config holds the settings of the annotation storage, the candidate
// pipeline and the ambient services around them.
//
// The configuration is organized into sections:
//   - Storage: bundle selection policy for annotation layers
//   - Pipeline: candidate queue sizing and reader/worker counts
//   - Logging, Metrics, Tracing: observability
//   - Snapshot: annotation export format
//   - Layers: layer manifests used by the command line tools
//
// Example usage:
//
//	cfg, err := config.Load("icarus.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	policy := cfg.Storage.Policy()
package config

import (
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/annotation"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/annotation/snapshot"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/errors"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/logger"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/manifest"
)

// Config is the root configuration.
type Config struct {
	Storage  StorageConfig  `yaml:"storage" json:"storage" mapstructure:"storage"`
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline" mapstructure:"pipeline"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging" mapstructure:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics" mapstructure:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing" json:"tracing" mapstructure:"tracing"`
	Snapshot SnapshotConfig `yaml:"snapshot" json:"snapshot" mapstructure:"snapshot"`

	// Layers lists the annotation layers known to the tools.
	Layers []manifest.LayerManifest `yaml:"layers,omitempty" json:"layers,omitempty" mapstructure:"layers"`
}

// StorageConfig controls how annotation layers pick their bundles.
type StorageConfig struct {
	// BundleKind pins the representation for layers that do not name one.
	// Empty selects automatically from the manifest.
	BundleKind      string `yaml:"bundle_kind" json:"bundle_kind" mapstructure:"bundle_kind"`
	CompactCapacity int    `yaml:"compact_capacity" json:"compact_capacity" mapstructure:"compact_capacity"`
	GrowThreshold   int    `yaml:"grow_threshold" json:"grow_threshold" mapstructure:"grow_threshold"`
	// ReclaimEmpty drops an item's bundle once its last value is cleared
	ReclaimEmpty bool `yaml:"reclaim_empty" json:"reclaim_empty" mapstructure:"reclaim_empty"`
}

// PipelineConfig sizes candidate processors.
type PipelineConfig struct {
	QueueCapacity int `yaml:"queue_capacity" json:"queue_capacity" mapstructure:"queue_capacity"`
	ReaderBatch   int `yaml:"reader_batch" json:"reader_batch" mapstructure:"reader_batch"`
	FilterBatch   int `yaml:"filter_batch" json:"filter_batch" mapstructure:"filter_batch"`
	Readers       int `yaml:"readers" json:"readers" mapstructure:"readers"`
	// Workers bounds concurrently running filters, 0 runs every filter at once
	Workers int `yaml:"workers" json:"workers" mapstructure:"workers"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string   `yaml:"level" json:"level" mapstructure:"level"`
	Encoding    string   `yaml:"encoding" json:"encoding" mapstructure:"encoding"`
	Development bool     `yaml:"development" json:"development" mapstructure:"development"`
	OutputPaths []string `yaml:"output_paths" json:"output_paths" mapstructure:"output_paths"`
}

// MetricsConfig configures prometheus collectors.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace" mapstructure:"namespace"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Exporter    string  `yaml:"exporter" json:"exporter" mapstructure:"exporter"` // stdout or none
	ServiceName string  `yaml:"service_name" json:"service_name" mapstructure:"service_name"`
	SampleRate  float64 `yaml:"sample_rate" json:"sample_rate" mapstructure:"sample_rate"`
}

// SnapshotConfig selects the annotation export format.
type SnapshotConfig struct {
	Compression string `yaml:"compression" json:"compression" mapstructure:"compression"`
}

// Default returns a configuration with production defaults.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			CompactCapacity: annotation.DefaultCompactCapacity,
			GrowThreshold:   annotation.DefaultGrowThreshold,
			ReclaimEmpty:    true,
		},
		Pipeline: PipelineConfig{
			QueueCapacity: 1024,
			ReaderBatch:   64,
			FilterBatch:   256,
			Readers:       1,
			Workers:       0,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Encoding:    "json",
			OutputPaths: []string{"stdout"},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "icarus",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    "none",
			ServiceName: "icarus",
			SampleRate:  1.0,
		},
		Snapshot: SnapshotConfig{
			Compression: string(snapshot.CompressionZstd),
		},
	}
}

// Validate checks ranges and names. Layer manifests are validated and
// normalized in place.
func (c *Config) Validate() error {
	switch annotation.BundleKind(c.Storage.BundleKind) {
	case "", annotation.KindCompact, annotation.KindGrowing, annotation.KindLarge, annotation.KindSingle:
	default:
		return invalid("storage.bundle_kind", c.Storage.BundleKind)
	}
	if c.Storage.CompactCapacity < 1 {
		return invalid("storage.compact_capacity", c.Storage.CompactCapacity)
	}
	if c.Storage.GrowThreshold < 1 {
		return invalid("storage.grow_threshold", c.Storage.GrowThreshold)
	}

	if c.Pipeline.QueueCapacity < 1 {
		return invalid("pipeline.queue_capacity", c.Pipeline.QueueCapacity)
	}
	if c.Pipeline.ReaderBatch < 1 {
		return invalid("pipeline.reader_batch", c.Pipeline.ReaderBatch)
	}
	if c.Pipeline.FilterBatch < 1 {
		return invalid("pipeline.filter_batch", c.Pipeline.FilterBatch)
	}
	if c.Pipeline.Readers < 1 {
		return invalid("pipeline.readers", c.Pipeline.Readers)
	}
	if c.Pipeline.Workers < 0 {
		return invalid("pipeline.workers", c.Pipeline.Workers)
	}

	switch c.Logging.Encoding {
	case "json", "console":
	default:
		return invalid("logging.encoding", c.Logging.Encoding)
	}

	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return invalid("metrics.namespace", c.Metrics.Namespace)
	}

	switch c.Tracing.Exporter {
	case "stdout", "none":
	default:
		return invalid("tracing.exporter", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return invalid("tracing.sample_rate", c.Tracing.SampleRate)
	}

	if !snapshot.Compression(c.Snapshot.Compression).Valid() {
		return invalid("snapshot.compression", c.Snapshot.Compression)
	}

	seen := make(map[string]bool, len(c.Layers))
	for i := range c.Layers {
		l := &c.Layers[i]
		if err := l.Validate(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "invalid layer manifest").
				WithDetail("layer", l.ID)
		}
		if seen[l.ID] {
			return errors.Newf(errors.ErrorTypeConfig, "duplicate layer %q", l.ID)
		}
		seen[l.ID] = true
	}
	return nil
}

// Layer returns the manifest of the layer with the given id.
func (c *Config) Layer(id string) (*manifest.LayerManifest, bool) {
	for i := range c.Layers {
		if c.Layers[i].ID == id {
			return &c.Layers[i], true
		}
	}
	return nil, false
}

// Policy converts the storage section into a bundle selection policy.
func (s StorageConfig) Policy() annotation.Policy {
	return annotation.Policy{
		CompactCapacity: s.CompactCapacity,
		GrowThreshold:   s.GrowThreshold,
	}
}

// Logger converts the logging section into a logger configuration.
func (l LoggingConfig) Logger() logger.Config {
	return logger.Config{
		Level:       l.Level,
		Development: l.Development,
		Encoding:    l.Encoding,
		OutputPaths: l.OutputPaths,
	}
}

func invalid(field string, value interface{}) error {
	return errors.Newf(errors.ErrorTypeConfig, "invalid value for %s: %v", field, value).
		WithDetail("field", field)
}
