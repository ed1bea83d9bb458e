// Package snapshot writes annotation layers to, and restores them from, a
// stream of JSON lines with optional zstd or lz4 compression.
//
// The first line is a header naming the layer; every following line holds
// one item with its typed entries:
//
//	{"layer":"token","kind":"growing","items":2}
//	{"item":17,"entries":[{"k":"pos","t":"string","v":"NN"},{"k":"freq","t":"long","v":3}]}
package snapshot

import (
	"bufio"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/annotation"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/errors"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/manifest"
)

// Compression selects the stream codec.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// Valid reports whether c names a supported codec. Empty means none.
func (c Compression) Valid() bool {
	switch c {
	case "", CompressionNone, CompressionZstd, CompressionLZ4:
		return true
	}
	return false
}

// Header is the first line of a snapshot.
type Header struct {
	Layer string `json:"layer"`
	Kind  string `json:"kind"`
	Items int    `json:"items"`
}

// Entry is one annotation value with its type.
type Entry struct {
	Key   string             `json:"k"`
	Type  manifest.ValueType `json:"t"`
	Value any                `json:"v"`
}

// Record is one item line.
type Record[I comparable] struct {
	Item    I       `json:"item"`
	Entries []Entry `json:"entries"`
}

// Write streams every annotated item of s to w. Item identities are encoded
// as JSON, so I must marshal to a value that decodes back into I. Only string
// and primitive values can be written; an item holding a custom value fails
// the snapshot with a type-mismatch error.
func Write[I comparable](w io.Writer, s *annotation.Storage[I], c Compression) (written int, err error) {
	out, closeFn, err := openCompressor(w, c)
	if err != nil {
		return 0, err
	}
	closed := false
	defer func() {
		if !closed {
			_ = closeFn()
		}
	}()
	bw := bufio.NewWriter(out)
	enc := json.NewEncoder(bw)

	hdr := Header{Layer: s.Layer().ID, Kind: string(s.Kind()), Items: s.ItemCount()}
	if err := enc.Encode(hdr); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeFile, "write snapshot header")
	}

	var writeErr *errors.Error
	s.Items(func(item I) bool {
		rec := Record[I]{Item: item}
		s.Entries(item, func(key string, value any) {
			t := manifest.Of(value)
			if t == manifest.ValueTypeCustom && writeErr == nil {
				writeErr = unsupported(key, value).WithDetail("item", item)
			}
			rec.Entries = append(rec.Entries, Entry{Key: key, Type: t, Value: value})
		})
		if writeErr != nil {
			return false
		}
		if len(rec.Entries) == 0 {
			return true
		}
		if err := enc.Encode(rec); err != nil {
			writeErr = errors.Wrap(err, errors.ErrorTypeFile, "write snapshot record")
			return false
		}
		written++
		return true
	})
	if writeErr != nil {
		return written, writeErr.WithDetail("layer", hdr.Layer)
	}
	if err := bw.Flush(); err != nil {
		return written, errors.Wrap(err, errors.ErrorTypeFile, "flush snapshot")
	}
	closed = true
	if err := closeFn(); err != nil {
		return written, errors.Wrap(err, errors.ErrorTypeFile, "close snapshot codec")
	}
	return written, nil
}

func unsupported(key string, value any) *errors.Error {
	return errors.Newf(errors.ErrorTypeTypeMismatch, "snapshot cannot encode %T", value).
		WithDetail("key", key).
		WithDetail("expected", "string or primitive").
		WithDetail("actual", fmt.Sprintf("%T", value))
}

// Read restores the items of a snapshot into s and returns the number of
// items read. The snapshot must belong to the layer s serves.
func Read[I comparable](r io.Reader, s *annotation.Storage[I], c Compression) (int, error) {
	in, closeFn, err := decompressor(r, c)
	if err != nil {
		return 0, err
	}
	defer closeFn()

	dec := json.NewDecoder(bufio.NewReader(in))
	// numbers stay literal so longs beyond 2^53 survive
	dec.UseNumber()
	var hdr Header
	if err := dec.Decode(&hdr); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeFile, "read snapshot header")
	}
	if hdr.Layer != s.Layer().ID {
		return 0, errors.Newf(errors.ErrorTypeValidation, "snapshot of layer %q cannot be loaded into %q", hdr.Layer, s.Layer().ID)
	}

	read := 0
	for {
		var rec Record[I]
		err := dec.Decode(&rec)
		if err == io.EOF {
			return read, nil
		}
		if err != nil {
			return read, errors.Wrap(err, errors.ErrorTypeFile, "read snapshot record").
				WithDetail("record", read)
		}
		for _, e := range rec.Entries {
			if e.Type == manifest.ValueTypeCustom || !e.Type.Valid() {
				return read, unsupported(e.Key, e.Value).
					WithDetail("record", read)
			}
			v, err := e.Type.Normalize(e.Value)
			if err != nil {
				return read, errors.Wrap(err, errors.ErrorTypeTypeMismatch, "decode snapshot entry").
					WithDetail("key", e.Key).
					WithDetail("record", read)
			}
			if _, err := s.SetValue(rec.Item, e.Key, v); err != nil {
				return read, err
			}
		}
		read++
	}
}

var openCompressor = compressor

func compressor(w io.Writer, c Compression) (io.Writer, func() error, error) {
	switch c {
	case "", CompressionNone:
		return w, func() error { return nil }, nil
	case CompressionZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrorTypeInternal, "create zstd writer")
		}
		return zw, zw.Close, nil
	case CompressionLZ4:
		lw := lz4.NewWriter(w)
		return lw, lw.Close, nil
	}
	return nil, nil, errors.Newf(errors.ErrorTypeConfig, "unknown snapshot compression %q", c)
}

func decompressor(r io.Reader, c Compression) (io.Reader, func(), error) {
	switch c {
	case "", CompressionNone:
		return r, func() {}, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrorTypeFile, "open zstd stream")
		}
		return zr, zr.Close, nil
	case CompressionLZ4:
		return lz4.NewReader(r), func() {}, nil
	}
	return nil, nil, errors.Newf(errors.ErrorTypeConfig, "unknown snapshot compression %q", c)
}
