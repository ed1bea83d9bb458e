// Package annotation stores per-item annotation values for a layer.
//
// Each annotated item owns a Bundle mapping annotation keys to values. Most
// corpus items carry only a handful of annotations, so bundles come in several
// representations that trade lookup speed against memory:
//
//   - CompactBundle: fixed slot array sized from the layer's closed key set.
//   - GrowingBundle: flat array that turns into a map past a threshold and
//     back again when entries are removed.
//   - LargeBundle: plain map for open or large key sets.
//   - SingleBundle: one fixed key, for layers declaring exactly one key.
//
// A Factory picks the representation from the layer manifest and Storage
// wires bundles to items, resolves keys against the manifest and serves
// no-entry values for items without a bundle.
//
// Storage is not safe for concurrent writers on the same item.
package annotation
