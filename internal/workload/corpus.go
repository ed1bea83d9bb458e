// Package workload builds synthetic annotated corpora and measures candidate
// pipelines over them.
package workload

import (
	"math/rand"

	"go.uber.org/zap"

	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/annotation"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/manifest"
)

var partsOfSpeech = []string{"NN", "NNS", "VB", "VBD", "JJ", "RB", "DT", "IN", "PRP", "CC"}

// openLayerKeys are written to layers that declare no keys.
var openLayerKeys = []string{"note", "source", "comment", "flag"}

// DefaultLayer returns a token layer with one key per value type.
func DefaultLayer() *manifest.LayerManifest {
	return &manifest.LayerManifest{
		ID: "token",
		Keys: []manifest.KeyManifest{
			{Key: "pos", ValueType: manifest.ValueTypeString, NoEntryValue: "_"},
			{Key: "lemma", ValueType: manifest.ValueTypeString},
			{Key: "length", ValueType: manifest.ValueTypeInteger, NoEntryValue: 0},
			{Key: "freq", ValueType: manifest.ValueTypeLong, NoEntryValue: 0},
			{Key: "weight", ValueType: manifest.ValueTypeFloat, NoEntryValue: 1.0},
			{Key: "score", ValueType: manifest.ValueTypeDouble},
			{Key: "gold", ValueType: manifest.ValueTypeBoolean, NoEntryValue: false},
		},
	}
}

// CorpusConfig controls synthetic annotation.
type CorpusConfig struct {
	Items int64
	// Density is the probability that an item carries a value for a key.
	Density float64
	Seed    int64
}

// Corpus is a populated annotation layer over items [0, Items).
type Corpus struct {
	Storage     *annotation.Storage[int64]
	Items       int64
	Annotations int
}

// Populate writes random values of each key's declared type into s.
func Populate(s *annotation.Storage[int64], cfg CorpusConfig, logger *zap.Logger) (*Corpus, error) {
	rng := rand.New(rand.NewSource(cfg.Seed))
	keys := s.Layer().Keys
	if len(keys) == 0 {
		keys = make([]manifest.KeyManifest, len(openLayerKeys))
		for i, k := range openLayerKeys {
			keys[i] = manifest.KeyManifest{Key: k, ValueType: manifest.ValueTypeCustom}
		}
	}

	c := &Corpus{Storage: s, Items: cfg.Items}
	for item := int64(0); item < cfg.Items; item++ {
		for _, k := range keys {
			if rng.Float64() >= cfg.Density {
				continue
			}
			if err := setRandom(s, rng, item, k); err != nil {
				return nil, err
			}
			c.Annotations++
		}
	}

	logger.Info("synthetic corpus populated",
		zap.String("layer", s.Layer().ID),
		zap.String("bundle_kind", string(s.Kind())),
		zap.Int64("items", cfg.Items),
		zap.Int("annotations", c.Annotations),
		zap.Int("annotated_items", s.ItemCount()))
	return c, nil
}

func setRandom(s *annotation.Storage[int64], rng *rand.Rand, item int64, k manifest.KeyManifest) error {
	var err error
	switch k.ValueType {
	case manifest.ValueTypeInteger:
		_, err = s.SetInteger(item, k.Key, 1+rng.Intn(20))
	case manifest.ValueTypeLong:
		_, err = s.SetLong(item, k.Key, rng.Int63n(1_000_000))
	case manifest.ValueTypeFloat:
		_, err = s.SetFloat(item, k.Key, rng.Float32())
	case manifest.ValueTypeDouble:
		_, err = s.SetDouble(item, k.Key, rng.Float64())
	case manifest.ValueTypeBoolean:
		_, err = s.SetBoolean(item, k.Key, rng.Intn(2) == 0)
	default:
		_, err = s.SetValue(item, k.Key, partsOfSpeech[rng.Intn(len(partsOfSpeech))])
	}
	return err
}
