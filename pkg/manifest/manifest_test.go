package manifest

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/errors"
)

func TestValueTypeOfAndAccepts(t *testing.T) {
	assert.Equal(t, ValueTypeString, Of("x"))
	assert.Equal(t, ValueTypeInteger, Of(1))
	assert.Equal(t, ValueTypeLong, Of(int64(1)))
	assert.Equal(t, ValueTypeFloat, Of(float32(1)))
	assert.Equal(t, ValueTypeDouble, Of(1.5))
	assert.Equal(t, ValueTypeBoolean, Of(true))
	assert.Equal(t, ValueTypeCustom, Of([]int{1}))

	assert.True(t, ValueTypeCustom.Accepts(struct{}{}))
	assert.False(t, ValueTypeInteger.Accepts("1"))
	assert.True(t, ValueTypeInteger.IsPrimitive())
	assert.False(t, ValueTypeString.IsPrimitive())
}

func TestNormalize(t *testing.T) {
	v, err := ValueTypeLong.Normalize(7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	v, err = ValueTypeFloat.Normalize(0.5)
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), v)

	v, err = ValueTypeInteger.Normalize(float64(3))
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	_, err = ValueTypeInteger.Normalize(3.5)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTypeMismatch))

	_, err = ValueTypeBoolean.Normalize("yes")
	assert.True(t, errors.IsType(err, errors.ErrorTypeTypeMismatch))

	v, err = ValueTypeBoolean.Normalize(nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestNormalizeNumberLiterals(t *testing.T) {
	v, err := ValueTypeLong.Normalize(json.Number("9007199254740993"))
	require.NoError(t, err)
	assert.Equal(t, int64(9007199254740993), v)

	v, err = ValueTypeInteger.Normalize(json.Number("-42"))
	require.NoError(t, err)
	assert.Equal(t, -42, v)

	v, err = ValueTypeDouble.Normalize(json.Number("0.1"))
	require.NoError(t, err)
	assert.Equal(t, 0.1, v)

	v, err = ValueTypeFloat.Normalize(json.Number("0.1"))
	require.NoError(t, err)
	assert.Equal(t, float32(0.1), v)

	_, err = ValueTypeLong.Normalize(json.Number("1.5"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeTypeMismatch))
	_, err = ValueTypeLong.Normalize(json.Number("1e30"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeTypeMismatch))
	_, err = ValueTypeBoolean.Normalize(json.Number("1"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeTypeMismatch))
}

func TestNormalizeRejectsInexactFloats(t *testing.T) {
	_, err := ValueTypeLong.Normalize(float64(1<<53 + 2))
	assert.True(t, errors.IsType(err, errors.ErrorTypeTypeMismatch))

	v, err := ValueTypeLong.Normalize(float64(1 << 53))
	require.NoError(t, err)
	assert.Equal(t, int64(1<<53), v)
}

func TestLayerManifestValidate(t *testing.T) {
	m := &LayerManifest{
		ID: "token",
		Keys: []KeyManifest{
			{Key: "pos", ValueType: ValueTypeString, NoEntryValue: "_"},
			{Key: "freq", ValueType: ValueTypeLong, NoEntryValue: 0},
			{Key: "note"},
		},
	}
	require.NoError(t, m.Validate())

	k, ok := m.Lookup("freq")
	require.True(t, ok)
	assert.Equal(t, int64(0), k.NoEntryValue)

	k, ok = m.Lookup("note")
	require.True(t, ok)
	assert.Equal(t, ValueTypeCustom, k.ValueType)

	_, ok = m.Lookup("lemma")
	assert.False(t, ok)
	assert.Equal(t, 3, m.KeyCount())
	assert.True(t, m.Closed())

	dup := &LayerManifest{ID: "x", Keys: []KeyManifest{{Key: "a"}, {Key: "a"}}}
	assert.True(t, errors.IsType(dup.Validate(), errors.ErrorTypeValidation))

	assert.Error(t, (&LayerManifest{}).Validate())
	assert.Error(t, (&LayerManifest{ID: "x", Keys: []KeyManifest{{Key: "a", ValueType: "decimal"}}}).Validate())
}
