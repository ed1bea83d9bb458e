package candidate

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/errors"
)

// DefaultFilterBatch is the batch size built-in filters write with.
const DefaultFilterBatch = 256

// FilterContext is handed to a running filter.
type FilterContext struct {
	// Sink receives the filter's candidate indices.
	Sink Sink
	// Batch is the preferred number of indices per AddBatch call.
	Batch int
}

// Filter produces candidate indices into the sink of its context. A filter
// may call Prepare and Finish itself; the processor calls whichever of the
// two the filter skipped. Returning an error fails the queue.
type Filter interface {
	Name() string
	Run(ctx context.Context, fc *FilterContext) error
}

// FilterFunc adapts a function to the Filter interface.
type FilterFunc struct {
	name string
	fn   func(ctx context.Context, fc *FilterContext) error
}

// NewFilterFunc wraps fn as a named Filter.
func NewFilterFunc(name string, fn func(ctx context.Context, fc *FilterContext) error) *FilterFunc {
	return &FilterFunc{name: name, fn: fn}
}

func (f *FilterFunc) Name() string { return f.name }

func (f *FilterFunc) Run(ctx context.Context, fc *FilterContext) error {
	return f.fn(ctx, fc)
}

// SliceFilter emits a fixed list of indices in order.
type SliceFilter struct {
	name    string
	indices []int64
}

// NewSliceFilter returns a filter emitting indices in the given order.
func NewSliceFilter(name string, indices []int64) *SliceFilter {
	return &SliceFilter{name: name, indices: indices}
}

func (f *SliceFilter) Name() string { return f.name }

func (f *SliceFilter) Run(ctx context.Context, fc *FilterContext) error {
	if err := fc.Sink.Prepare(); err != nil {
		return err
	}
	batch := fc.batch()
	for start := 0; start < len(f.indices); start += batch {
		end := min(start+batch, len(f.indices))
		if err := fc.Sink.AddBatch(ctx, f.indices[start:end]); err != nil {
			return err
		}
	}
	return fc.Sink.Finish()
}

// RangeFilter scans [From, To) and emits every index accepted by Match.
type RangeFilter struct {
	name     string
	from, to int64
	match    func(int64) (bool, error)
}

// NewRangeFilter returns a filter scanning [from, to). A nil match accepts
// every index.
func NewRangeFilter(name string, from, to int64, match func(int64) (bool, error)) *RangeFilter {
	return &RangeFilter{name: name, from: from, to: to, match: match}
}

func (f *RangeFilter) Name() string { return f.name }

func (f *RangeFilter) Run(ctx context.Context, fc *FilterContext) error {
	if f.from < 0 || f.to < f.from {
		return errors.Newf(errors.ErrorTypeValidation, "invalid scan range [%d, %d)", f.from, f.to).
			WithDetail("filter", f.name)
	}
	if err := fc.Sink.Prepare(); err != nil {
		return err
	}

	buf := make([]int64, 0, fc.batch())
	for i := f.from; i < f.to; i++ {
		if f.match != nil {
			ok, err := f.match(i)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeFilter, "match failed").
					WithDetail("filter", f.name).
					WithDetail("index", i)
			}
			if !ok {
				continue
			}
		}
		buf = append(buf, i)
		if len(buf) == cap(buf) {
			if err := fc.Sink.AddBatch(ctx, buf); err != nil {
				return err
			}
			buf = buf[:0]
		}
	}
	if len(buf) > 0 {
		if err := fc.Sink.AddBatch(ctx, buf); err != nil {
			return err
		}
	}
	return fc.Sink.Finish()
}

// BitmapFilter emits the members of a roaring bitmap in ascending order.
type BitmapFilter struct {
	name string
	bm   *roaring.Bitmap
}

// NewBitmapFilter returns a filter over the set bits of bm. The bitmap must
// not be modified while the filter runs.
func NewBitmapFilter(name string, bm *roaring.Bitmap) *BitmapFilter {
	return &BitmapFilter{name: name, bm: bm}
}

func (f *BitmapFilter) Name() string { return f.name }

func (f *BitmapFilter) Run(ctx context.Context, fc *FilterContext) error {
	if err := fc.Sink.Prepare(); err != nil {
		return err
	}
	if f.bm == nil {
		return fc.Sink.Finish()
	}

	batch := fc.batch()
	raw := make([]uint32, batch)
	out := make([]int64, batch)
	it := f.bm.ManyIterator()
	for {
		n := it.NextMany(raw)
		if n == 0 {
			break
		}
		for i := 0; i < n; i++ {
			out[i] = int64(raw[i])
		}
		if err := fc.Sink.AddBatch(ctx, out[:n]); err != nil {
			return err
		}
	}
	return fc.Sink.Finish()
}

// SequenceFilter runs several filters one after another on a single task
// and a single sink. The children's Prepare and Finish calls are absorbed so
// the queue sees one producer.
type SequenceFilter struct {
	name    string
	filters []Filter
}

// NewSequenceFilter chains filters in the given order.
func NewSequenceFilter(name string, filters ...Filter) *SequenceFilter {
	return &SequenceFilter{name: name, filters: filters}
}

func (f *SequenceFilter) Name() string { return f.name }

func (f *SequenceFilter) Run(ctx context.Context, fc *FilterContext) error {
	if err := fc.Sink.Prepare(); err != nil {
		return err
	}
	for _, child := range f.filters {
		if ctx.Err() != nil {
			return errors.Interrupted(ctx, "sequence filter")
		}
		shared := &FilterContext{Sink: sharedSink{fc.Sink}, Batch: fc.Batch}
		if err := child.Run(ctx, shared); err != nil {
			if errors.IsType(err, errors.ErrorTypeFilter) || errors.IsInterrupted(err) {
				return err
			}
			return errors.Wrap(err, errors.ErrorTypeFilter, "sequence member failed").
				WithDetail("filter", f.name).
				WithDetail("member", child.Name())
		}
	}
	return fc.Sink.Finish()
}

// sharedSink forwards writes and ignores lifecycle calls.
type sharedSink struct {
	Sink
}

func (sharedSink) Prepare() error { return nil }
func (sharedSink) Finish() error  { return nil }

func (fc *FilterContext) batch() int {
	if fc.Batch < 1 {
		return DefaultFilterBatch
	}
	return fc.Batch
}
