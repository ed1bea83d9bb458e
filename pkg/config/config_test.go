package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/annotation"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/errors"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/manifest"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "icarus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, annotation.DefaultPolicy(), cfg.Storage.Policy())
	assert.Equal(t, "info", cfg.Logging.Logger().Level)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	t.Setenv("ICARUS_TEST_LEVEL", "debug")
	path := writeFile(t, `
storage:
  grow_threshold: 8
  reclaim_empty: false
pipeline:
  queue_capacity: 32
  readers: 4
logging:
  level: ${ICARUS_TEST_LEVEL}
  encoding: console
snapshot:
  compression: lz4
layers:
  - id: token
    keys:
      - key: pos
        value_type: string
        no_entry_value: "_"
      - key: freq
        value_type: long
        no_entry_value: 0
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Storage.GrowThreshold)
	assert.Equal(t, annotation.DefaultCompactCapacity, cfg.Storage.CompactCapacity, "unset fields keep defaults")
	assert.False(t, cfg.Storage.ReclaimEmpty)
	assert.Equal(t, 32, cfg.Pipeline.QueueCapacity)
	assert.Equal(t, 4, cfg.Pipeline.Readers)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Encoding)
	assert.Equal(t, "lz4", cfg.Snapshot.Compression)

	layer, ok := cfg.Layer("token")
	require.True(t, ok)
	require.Len(t, layer.Keys, 2)
	freq, ok := layer.Lookup("freq")
	require.True(t, ok)
	assert.Equal(t, manifest.ValueTypeLong, freq.ValueType)
	assert.Equal(t, int64(0), freq.NoEntryValue, "no-entry values are normalized to the declared type")

	_, ok = cfg.Layer("lemma")
	assert.False(t, ok)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("ICARUS_PIPELINE_QUEUE_CAPACITY", "7")
	t.Setenv("ICARUS_TRACING_EXPORTER", "stdout")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Pipeline.QueueCapacity)
	assert.Equal(t, "stdout", cfg.Tracing.Exporter)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeFile))

	_, err = Load(writeFile(t, "pipeline: [not, a, map"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = Load(writeFile(t, "pipeline:\n  queue_capacity: 0\n"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bundle kind", func(c *Config) { c.Storage.BundleKind = "tree" }, "storage.bundle_kind"},
		{"compact capacity", func(c *Config) { c.Storage.CompactCapacity = 0 }, "storage.compact_capacity"},
		{"grow threshold", func(c *Config) { c.Storage.GrowThreshold = -1 }, "storage.grow_threshold"},
		{"queue capacity", func(c *Config) { c.Pipeline.QueueCapacity = 0 }, "pipeline.queue_capacity"},
		{"reader batch", func(c *Config) { c.Pipeline.ReaderBatch = 0 }, "pipeline.reader_batch"},
		{"filter batch", func(c *Config) { c.Pipeline.FilterBatch = 0 }, "pipeline.filter_batch"},
		{"readers", func(c *Config) { c.Pipeline.Readers = 0 }, "pipeline.readers"},
		{"workers", func(c *Config) { c.Pipeline.Workers = -2 }, "pipeline.workers"},
		{"encoding", func(c *Config) { c.Logging.Encoding = "xml" }, "logging.encoding"},
		{"namespace", func(c *Config) { c.Metrics.Namespace = "" }, "metrics.namespace"},
		{"exporter", func(c *Config) { c.Tracing.Exporter = "jaeger" }, "tracing.exporter"},
		{"sample rate", func(c *Config) { c.Tracing.SampleRate = 1.5 }, "tracing.sample_rate"},
		{"compression", func(c *Config) { c.Snapshot.Compression = "gzip" }, "snapshot.compression"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
			field, ok := errors.Detail(err, "field")
			require.True(t, ok)
			assert.Equal(t, tt.field, field)
		})
	}
}

func TestValidateLayers(t *testing.T) {
	cfg := Default()
	cfg.Layers = []manifest.LayerManifest{
		{ID: "token", Keys: []manifest.KeyManifest{{Key: "pos"}}},
		{ID: "token", Keys: []manifest.KeyManifest{{Key: "lemma"}}},
	}
	err := cfg.Validate()
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	cfg.Layers = []manifest.LayerManifest{{ID: "", Keys: []manifest.KeyManifest{{Key: "pos"}}}}
	err = cfg.Validate()
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.Workers = 3
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "stdout"
	cfg.Layers = []manifest.LayerManifest{{
		ID:   "sentence",
		Keys: []manifest.KeyManifest{{Key: "length", ValueType: manifest.ValueTypeInteger, NoEntryValue: 0}},
	}}
	require.NoError(t, cfg.Validate())

	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("ICARUS_A", "alpha")
	assert.Equal(t, "x alpha y  z", substituteEnvVars("x ${ICARUS_A} y ${ICARUS_UNSET_VAR} z"))
	assert.Equal(t, "open ${brace", substituteEnvVars("open ${brace"))
}
