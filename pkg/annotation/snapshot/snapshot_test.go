package snapshot

import (
	"bytes"
	stderrors "errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/annotation"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/errors"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/manifest"
)

func layer(id string) *manifest.LayerManifest {
	return &manifest.LayerManifest{
		ID: id,
		Keys: []manifest.KeyManifest{
			{Key: "pos", ValueType: manifest.ValueTypeString},
			{Key: "freq", ValueType: manifest.ValueTypeLong},
			{Key: "weight", ValueType: manifest.ValueTypeFloat},
			{Key: "gold", ValueType: manifest.ValueTypeBoolean},
		},
		AllowUnknownKeys: true,
	}
}

func populated(t *testing.T) *annotation.Storage[int64] {
	t.Helper()
	s, err := annotation.NewStorage[int64](layer("token"))
	require.NoError(t, err)
	for i := int64(0); i < 50; i++ {
		_, err = s.SetValue(i, "pos", "NN")
		require.NoError(t, err)
		_, err = s.SetLong(i, "freq", i*3)
		require.NoError(t, err)
		if i%2 == 0 {
			_, err = s.SetFloat(i, "weight", 0.5)
			require.NoError(t, err)
			_, err = s.SetInteger(i, "rank", int(i))
			require.NoError(t, err)
		}
		if i%5 == 0 {
			_, err = s.SetBoolean(i, "gold", true)
			require.NoError(t, err)
		}
	}
	s.AddItem(1000) // empty items are skipped
	return s
}

func TestSnapshotRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		t.Run(string(c), func(t *testing.T) {
			src := populated(t)
			var buf bytes.Buffer
			n, err := Write(&buf, src, c)
			require.NoError(t, err)
			assert.Equal(t, 50, n)

			dst, err := annotation.NewStorage[int64](layer("token"))
			require.NoError(t, err)
			read, err := Read(&buf, dst, c)
			require.NoError(t, err)
			assert.Equal(t, 50, read)

			for i := int64(0); i < 50; i++ {
				freq, err := dst.Long(i, "freq")
				require.NoError(t, err)
				assert.Equal(t, i*3, freq)

				pos, err := dst.Value(i, "pos")
				require.NoError(t, err)
				assert.Equal(t, "NN", pos)

				if i%2 == 0 {
					w, err := dst.Float(i, "weight")
					require.NoError(t, err)
					assert.Equal(t, float32(0.5), w)
					rank, err := dst.Integer(i, "rank")
					require.NoError(t, err)
					assert.Equal(t, int(i), rank)
				}
				gold, err := dst.Boolean(i, "gold")
				require.NoError(t, err)
				assert.Equal(t, i%5 == 0, gold)
			}
		})
	}
}

func TestSnapshotLayerMismatch(t *testing.T) {
	var buf bytes.Buffer
	_, err := Write(&buf, populated(t), CompressionNone)
	require.NoError(t, err)

	dst, err := annotation.NewStorage[int64](layer("lemma"))
	require.NoError(t, err)
	_, err = Read(&buf, dst, CompressionNone)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestSnapshotUnknownCompression(t *testing.T) {
	assert.False(t, Compression("brotli").Valid())
	assert.True(t, Compression("").Valid())

	_, err := Write(&bytes.Buffer{}, populated(t), "brotli")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestSnapshotKeepsNumbersExact(t *testing.T) {
	const big = int64(1)<<53 + 1
	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		t.Run(string(c), func(t *testing.T) {
			src, err := annotation.NewStorage[int64](layer("token"))
			require.NoError(t, err)
			_, err = src.SetLong(1, "freq", big)
			require.NoError(t, err)
			_, err = src.SetLong(2, "freq", -big)
			require.NoError(t, err)
			_, err = src.SetInteger(1, "rank", int(big)+2)
			require.NoError(t, err)
			_, err = src.SetDouble(1, "score", 0.1)
			require.NoError(t, err)
			_, err = src.SetFloat(1, "weight", 0.1)
			require.NoError(t, err)

			var buf bytes.Buffer
			_, err = Write(&buf, src, c)
			require.NoError(t, err)
			dst, err := annotation.NewStorage[int64](layer("token"))
			require.NoError(t, err)
			_, err = Read(&buf, dst, c)
			require.NoError(t, err)

			freq, err := dst.Long(1, "freq")
			require.NoError(t, err)
			assert.Equal(t, big, freq)
			freq, err = dst.Long(2, "freq")
			require.NoError(t, err)
			assert.Equal(t, -big, freq)
			rank, err := dst.Integer(1, "rank")
			require.NoError(t, err)
			assert.Equal(t, int(big)+2, rank)
			score, err := dst.Double(1, "score")
			require.NoError(t, err)
			assert.Equal(t, 0.1, score)
			weight, err := dst.Float(1, "weight")
			require.NoError(t, err)
			assert.Equal(t, float32(0.1), weight)
		})
	}
}

type meta struct {
	Source string
}

func TestSnapshotRejectsCustomValues(t *testing.T) {
	s := populated(t)
	_, err := s.SetValue(7, "meta", meta{Source: "gold"})
	require.NoError(t, err)

	_, err = Write(&bytes.Buffer{}, s, CompressionZstd)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTypeMismatch))
	key, _ := errors.Detail(err, "key")
	assert.Equal(t, "meta", key)
	layerID, _ := errors.Detail(err, "layer")
	assert.Equal(t, "token", layerID)
}

func TestSnapshotReadRejectsCustomEntries(t *testing.T) {
	in := `{"layer":"token","kind":"growing","items":1}
{"item":1,"entries":[{"k":"meta","t":"custom","v":{"Source":"gold"}}]}
`
	dst, err := annotation.NewStorage[int64](layer("token"))
	require.NoError(t, err)
	_, err = Read(strings.NewReader(in), dst, CompressionNone)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTypeMismatch))
	assert.False(t, dst.HasAnnotations(1))
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) {
	return 0, stderrors.New("disk full")
}

// countCloses wraps the codec opener so tests can see every codec close.
func countCloses(t *testing.T) *int {
	t.Helper()
	closes := new(int)
	orig := openCompressor
	t.Cleanup(func() { openCompressor = orig })
	openCompressor = func(w io.Writer, c Compression) (io.Writer, func() error, error) {
		out, closeFn, err := orig(w, c)
		if err != nil {
			return nil, nil, err
		}
		return out, func() error {
			*closes++
			return closeFn()
		}, nil
	}
	return closes
}

func TestSnapshotWriteClosesCodec(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		closes := countCloses(t)
		_, err := Write(&bytes.Buffer{}, populated(t), CompressionLZ4)
		require.NoError(t, err)
		assert.Equal(t, 1, *closes)
	})
	t.Run("write error", func(t *testing.T) {
		closes := countCloses(t)
		_, err := Write(brokenWriter{}, populated(t), CompressionNone)
		assert.True(t, errors.IsType(err, errors.ErrorTypeFile))
		assert.Equal(t, 1, *closes)
	})
	t.Run("custom value", func(t *testing.T) {
		closes := countCloses(t)
		s := populated(t)
		_, err := s.SetValue(3, "meta", meta{})
		require.NoError(t, err)
		_, err = Write(&bytes.Buffer{}, s, CompressionZstd)
		assert.True(t, errors.IsType(err, errors.ErrorTypeTypeMismatch))
		assert.Equal(t, 1, *closes)
	})
}
