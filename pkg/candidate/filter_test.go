package candidate

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/errors"
)

// runFilter drives f into a fresh single-producer queue and returns what it
// produced.
func runFilter(t *testing.T, f Filter, batch int) ([]int64, error) {
	t.Helper()
	q := newTestQueue(t, 4, 1)
	s := q.NewSink(f.Name())
	done := make(chan error, 1)
	go func() {
		err := f.Run(context.Background(), &FilterContext{Sink: s, Batch: batch})
		if err != nil {
			s.Fail(err)
		}
		done <- err
	}()

	var out []int64
	buf := make([]int64, 3)
	for {
		n, err := q.Load(context.Background(), buf)
		out = append(out, buf[:n]...)
		if err != nil {
			if errors.IsType(err, errors.ErrorTypeFilter) {
				return out, <-done
			}
			require.NoError(t, <-done)
			return out, nil
		}
	}
}

func TestSliceFilter(t *testing.T) {
	got, err := runFilter(t, NewSliceFilter("fixed", []int64{9, 3, 7, 1}), 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{9, 3, 7, 1}, got)
}

func TestRangeFilter(t *testing.T) {
	even := func(i int64) (bool, error) { return i%2 == 0, nil }
	got, err := runFilter(t, NewRangeFilter("even", 3, 20, even), 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 6, 8, 10, 12, 14, 16, 18}, got)

	got, err = runFilter(t, NewRangeFilter("all", 0, 5, nil), 0)
	require.NoError(t, err)
	assert.Equal(t, sequence(0, 5), got)

	_, err = runFilter(t, NewRangeFilter("bad", 5, 2, nil), 1)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestRangeFilterMatchError(t *testing.T) {
	broken := stderrors.New("annotation missing")
	match := func(i int64) (bool, error) {
		if i == 6 {
			return false, broken
		}
		return true, nil
	}
	_, err := runFilter(t, NewRangeFilter("broken", 0, 10, match), 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, broken)
	v, ok := errors.Detail(err, "index")
	require.True(t, ok)
	assert.Equal(t, int64(6), v)
}

func TestBitmapFilter(t *testing.T) {
	bm := roaring.BitmapOf(70000, 5, 17, 1, 65536)
	got, err := runFilter(t, NewBitmapFilter("bitmap", bm), 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 5, 17, 65536, 70000}, got)

	got, err = runFilter(t, NewBitmapFilter("empty", nil), 2)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSequenceFilterActsAsOneProducer(t *testing.T) {
	seq := NewSequenceFilter("seq",
		NewSliceFilter("a", []int64{1, 2}),
		NewRangeFilter("b", 10, 13, nil),
		NewBitmapFilter("c", roaring.BitmapOf(100)),
	)
	// the queue expects a single producer, so absorbed lifecycle calls are required
	got, err := runFilter(t, seq, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 10, 11, 12, 100}, got)
}

func TestSequenceFilterStopsAtFailingMember(t *testing.T) {
	broken := stderrors.New("member broke")
	seq := NewSequenceFilter("seq",
		NewSliceFilter("a", []int64{1}),
		NewFilterFunc("b", func(context.Context, *FilterContext) error { return broken }),
		NewSliceFilter("c", []int64{2}),
	)
	_, err := runFilter(t, seq, 1)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFilter))
	assert.ErrorIs(t, err, broken)
	member, ok := errors.Detail(err, "member")
	require.True(t, ok)
	assert.Equal(t, "b", member)
}
