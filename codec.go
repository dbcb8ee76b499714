/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package schemaregistry

import (
	"bytes"
	"fmt"
	"io"
	"net"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/tryfix/errors"
)

// Codec is a reversible byte transform applied to serialized payloads.
type Codec interface {
	// Name returns the wire identifier of the codec.
	Name() string
	CodecType() CodecType
	// Encode transforms data. data may be any sub slice of a larger buffer and is never modified.
	Encode(data []byte) ([]byte, error)
	// Decode inverts Encode. Zero length input is valid.
	Decode(data []byte, properties map[string]string) ([]byte, error)
}

// DecoderFunc decodes bytes written by a codec with the given codec properties.
type DecoderFunc func(data []byte, properties map[string]string) ([]byte, error)

var (
	NoneCodec   Codec = noneCodec{}
	GZipCodec   Codec = gzipCodec{}
	SnappyCodec Codec = snappyCodec{}
)

// CodecFor returns the built-in codec for t. Custom codec types have no built-in codec.
func CodecFor(t CodecType) (Codec, error) {
	switch t.Kind() {
	case CodecKindNone:
		return NoneCodec, nil
	case CodecKindGZip:
		return GZipCodec, nil
	case CodecKindSnappy:
		return SnappyCodec, nil
	}

	return nil, NewError(KindUnsupportedCodec, `schemaregistry.CodecFor`, fmt.Sprintf(`no built-in codec for [%s]`, t))
}

// EncodeBuffers encodes a non contiguous view.
func EncodeBuffers(c Codec, bufs net.Buffers) ([]byte, error) {
	if len(bufs) == 1 {
		return c.Encode(bufs[0])
	}

	flat := new(bytes.Buffer)
	if _, err := bufs.WriteTo(flat); err != nil {
		return nil, errors.WithPrevious(err, `buffers flatten failed`)
	}

	return c.Encode(flat.Bytes())
}

type noneCodec struct{}

func (noneCodec) Name() string { return codecNameNone }

func (noneCodec) CodecType() CodecType { return CodecTypeNone }

func (noneCodec) Encode(data []byte) ([]byte, error) { return data, nil }

func (noneCodec) Decode(data []byte, _ map[string]string) ([]byte, error) { return data, nil }

type gzipCodec struct{}

func (gzipCodec) Name() string { return codecNameGZip }

func (gzipCodec) CodecType() CodecType { return CodecTypeGZip }

func (gzipCodec) Encode(data []byte) ([]byte, error) {
	buf := new(bytes.Buffer)
	w := gzip.NewWriter(buf)
	if _, err := w.Write(data); err != nil {
		return nil, errors.WithPrevious(err, `gzip write failed`)
	}

	if err := w.Close(); err != nil {
		return nil, errors.WithPrevious(err, `gzip close failed`)
	}

	return buf.Bytes(), nil
}

func (gzipCodec) Decode(data []byte, _ map[string]string) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}

	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.WithPrevious(err, `gzip reader init failed`)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.WithPrevious(err, `gzip read failed`)
	}

	return out, nil
}

// snappyCodec writes the snappy block format. The wire name is kept for compatibility with
// existing writers.
type snappyCodec struct{}

func (snappyCodec) Name() string { return codecNameSnappy }

func (snappyCodec) CodecType() CodecType { return CodecTypeSnappy }

func (snappyCodec) Encode(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyCodec) Decode(data []byte, _ map[string]string) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}

	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, errors.WithPrevious(err, `snappy decode failed`)
	}

	return out, nil
}

// Decoders resolves the decoder for the codec type carried by an encoding.
type Decoders struct {
	decoders map[string]DecoderFunc
}

// NewDecoders returns decoders for the built-in codecs plus custom, keyed by codec name.
func NewDecoders(custom map[string]DecoderFunc) *Decoders {
	d := &Decoders{decoders: map[string]DecoderFunc{
		NoneCodec.Name():   NoneCodec.Decode,
		GZipCodec.Name():   GZipCodec.Decode,
		SnappyCodec.Name(): SnappyCodec.Decode,
	}}

	for name, fn := range custom {
		d.decoders[name] = fn
	}

	return d
}

// Decode decodes data written with codec t.
func (d *Decoders) Decode(t CodecType, data []byte) ([]byte, error) {
	fn, ok := d.decoders[t.Name()]
	if !ok {
		return nil, NewError(KindUnsupportedCodec, `decoders.Decode`, fmt.Sprintf(`no decoder for codec [%s]`, t))
	}

	out, err := fn(data, t.Properties())
	if err != nil {
		return nil, WrapError(KindCorruptRecord, `decoders.Decode`, err, fmt.Sprintf(`codec [%s] failed`, t))
	}

	return out, nil
}
