// Package icarus provides annotation storage and candidate search pipelines
// for corpus modeling.
//
// The module has two cores.
//
// # Annotation storage
//
// Package annotation stores the values of one annotation layer per item in
// bundles whose representation adapts to the number of keys an item
// carries. A CompactBundle holds a few key/value pairs in parallel slices,
// a LargeBundle is map backed, and a GrowingBundle starts compact and
// switches to a map when it outgrows its threshold. Primitive values are
// stored unboxed and read back through typed accessors. The representation
// is picked per layer by a Factory from the layer manifest (package
// manifest) and the configured Policy.
//
// Package annotation/snapshot streams a layer as JSON lines, optionally
// compressed with zstd or lz4.
//
// # Candidate pipelines
//
// Package candidate feeds item indices produced by concurrent filters
// through a bounded multi-producer multi-consumer Queue. Producers block
// when the queue is full, readers block when it is empty, and a failing
// filter or a cancelled context wakes every participant. A Processor built
// with a Builder resolves loaded indices to caller values through a Lookup.
//
//	proc, err := candidate.NewBuilder[Item]().
//		Lookup(resolve).
//		Filters(candidate.NewRangeFilter("all", 0, n, match)).
//		Capacity(256).
//		Build()
//	if err != nil {
//		return err
//	}
//	items, err := proc.Drain(ctx)
//
// # Ambient packages
//
// Package config loads YAML configuration through viper, package logger
// builds zap loggers, package metrics exposes Prometheus collectors,
// package observability wires OpenTelemetry tracing and package errors
// defines the typed errors shared by every package.
//
// The icarus command under cmd/icarus populates synthetic layers, runs
// candidate benchmarks and dumps or restores snapshots.
package icarus
