package storage

import (
	"fmt"
	"math"
	"reflect"

	sr "github.com/tryfix/schemaregistry/v3"
	"google.golang.org/protobuf/encoding/protowire"
)

// Tag is the permanent discriminator written in front of every record.
type Tag uint32

// Record is a persisted table key or value.
type Record interface {
	record()
}

type recordType struct {
	tag     Tag
	version byte
	typ     reflect.Type
	write   func(w *fieldWriter, r Record)
	read    func(payload []byte, version byte) (Record, error)
}

// RecordSerializer maps every record type to its tag and its own versioned payload format.
//
// A serialized record is
//
//	[tag uvarint][format version byte][payload length uvarint][payload]
//
// where the payload is a sequence of protobuf wire fields. Readers skip fields they do not know,
// so a record type can grow optional trailing fields without a new format version.
type RecordSerializer struct {
	byTag  map[Tag]*recordType
	byType map[reflect.Type]*recordType
}

// declare registers T under tag. Tags are permanent: a tag must never be reused for another
// record type, even after the original type is retired.
func declare[T Record](s *RecordSerializer, tag Tag, version byte, write func(*fieldWriter, T), read func([]byte, byte) (T, error)) {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	if tag == 0 {
		panic(fmt.Sprintf(`storage: tag 0 is reserved, cannot declare %s`, typ))
	}

	if prev, ok := s.byTag[tag]; ok {
		panic(fmt.Sprintf(`storage: tag %d of %s already declared for %s`, tag, typ, prev.typ))
	}

	rt := &recordType{
		tag:     tag,
		version: version,
		typ:     typ,
		write:   func(w *fieldWriter, r Record) { write(w, r.(T)) },
		read: func(payload []byte, version byte) (Record, error) {
			return read(payload, version)
		},
	}
	s.byTag[tag] = rt
	s.byType[typ] = rt
}

// Serialize writes r with its tag.
func (s *RecordSerializer) Serialize(r Record) ([]byte, error) {
	rt, ok := s.byType[reflect.TypeOf(r)]
	if !ok {
		return nil, sr.NewError(sr.KindUnregisteredType, `recordSerializer.Serialize`, fmt.Sprintf(`record type %T is not declared`, r))
	}

	w := new(fieldWriter)
	rt.write(w, r)

	out := protowire.AppendVarint(nil, uint64(rt.tag))
	out = append(out, rt.version)
	return protowire.AppendBytes(out, w.b), nil
}

// Deserialize reads a record written by Serialize. Unknown tags and malformed frames are never
// guessed at.
func (s *RecordSerializer) Deserialize(b []byte) (Record, error) {
	tag, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return nil, corrupt(`record tag is malformed`)
	}

	rt, ok := s.byTag[Tag(tag)]
	if !ok {
		return nil, corrupt(fmt.Sprintf(`unknown record tag %d`, tag))
	}

	b = b[n:]
	if len(b) < 1 {
		return nil, corrupt(fmt.Sprintf(`%s record has no format version`, rt.typ.Name()))
	}

	version := b[0]
	if version > rt.version {
		return nil, corrupt(fmt.Sprintf(`%s format version %d is newer than %d`, rt.typ.Name(), version, rt.version))
	}

	payload, n := protowire.ConsumeBytes(b[1:])
	if n < 0 {
		return nil, corrupt(fmt.Sprintf(`%s payload is truncated`, rt.typ.Name()))
	}

	if 1+n != len(b) {
		return nil, corrupt(fmt.Sprintf(`%s record has %d trailing bytes`, rt.typ.Name(), len(b)-1-n))
	}

	rec, err := rt.read(payload, version)
	if err != nil {
		return nil, sr.WrapError(sr.KindCorruptRecord, `recordSerializer.Deserialize`, err, fmt.Sprintf(`%s payload is malformed`, rt.typ.Name()))
	}

	return rec, nil
}

// TagOf returns the tag r is written with.
func (s *RecordSerializer) TagOf(r Record) (Tag, bool) {
	rt, ok := s.byType[reflect.TypeOf(r)]
	if !ok {
		return 0, false
	}

	return rt.tag, true
}

func corrupt(msg string) error {
	return sr.NewError(sr.KindCorruptRecord, `recordSerializer.Deserialize`, msg)
}

type fieldWriter struct {
	b []byte
}

func (w *fieldWriter) uint(num protowire.Number, v uint64) {
	w.b = protowire.AppendTag(w.b, num, protowire.VarintType)
	w.b = protowire.AppendVarint(w.b, v)
}

func (w *fieldWriter) int(num protowire.Number, v int64) {
	w.uint(num, protowire.EncodeZigZag(v))
}

func (w *fieldWriter) bool(num protowire.Number, v bool) {
	w.uint(num, protowire.EncodeBool(v))
}

func (w *fieldWriter) fixed64(num protowire.Number, v uint64) {
	w.b = protowire.AppendTag(w.b, num, protowire.Fixed64Type)
	w.b = protowire.AppendFixed64(w.b, v)
}

func (w *fieldWriter) bytes(num protowire.Number, v []byte) {
	w.b = protowire.AppendTag(w.b, num, protowire.BytesType)
	w.b = protowire.AppendBytes(w.b, v)
}

func (w *fieldWriter) string(num protowire.Number, v string) {
	w.b = protowire.AppendTag(w.b, num, protowire.BytesType)
	w.b = protowire.AppendString(w.b, v)
}

func (w *fieldWriter) message(num protowire.Number, fn func(w *fieldWriter)) {
	inner := new(fieldWriter)
	fn(inner)
	w.bytes(num, inner.b)
}

// stringMap writes one entry message per key in key order.
func (w *fieldWriter) stringMap(num protowire.Number, m map[string]string) {
	for _, k := range sortedKeys(m) {
		w.message(num, func(w *fieldWriter) {
			w.string(1, k)
			w.string(2, m[k])
		})
	}
}

// field is one wire field handed to a reader callback.
type field struct {
	num protowire.Number
	typ protowire.Type
	val []byte
}

// readFields calls fn for every field of payload. Fields fn does not handle are skipped.
func readFields(payload []byte, fn func(f field) error) error {
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return protowire.ParseError(n)
		}
		payload = payload[n:]

		m := protowire.ConsumeFieldValue(num, typ, payload)
		if m < 0 {
			return protowire.ParseError(m)
		}

		if err := fn(field{num: num, typ: typ, val: payload[:m]}); err != nil {
			return err
		}
		payload = payload[m:]
	}

	return nil
}

func (f field) expect(typ protowire.Type) error {
	if f.typ != typ {
		return fmt.Errorf(`field %d has wire type %d, want %d`, f.num, f.typ, typ)
	}

	return nil
}

func (f field) uint() (uint64, error) {
	if err := f.expect(protowire.VarintType); err != nil {
		return 0, err
	}

	v, n := protowire.ConsumeVarint(f.val)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}

	return v, nil
}

func (f field) int() (int64, error) {
	v, err := f.uint()
	return protowire.DecodeZigZag(v), err
}

func (f field) int32() (int32, error) {
	v, err := f.int()
	if err != nil {
		return 0, err
	}

	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, fmt.Errorf(`field %d value %d overflows int32`, f.num, v)
	}

	return int32(v), nil
}

func (f field) bool() (bool, error) {
	v, err := f.uint()
	return protowire.DecodeBool(v), err
}

func (f field) fixed64() (uint64, error) {
	if err := f.expect(protowire.Fixed64Type); err != nil {
		return 0, err
	}

	v, n := protowire.ConsumeFixed64(f.val)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}

	return v, nil
}

func (f field) bytes() ([]byte, error) {
	if err := f.expect(protowire.BytesType); err != nil {
		return nil, err
	}

	v, n := protowire.ConsumeBytes(f.val)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}

	return v, nil
}

func (f field) string() (string, error) {
	v, err := f.bytes()
	return string(v), err
}

// mapEntry reads one stringMap entry into m, allocating m on first use.
func (f field) mapEntry(m *map[string]string) error {
	payload, err := f.bytes()
	if err != nil {
		return err
	}

	var k, v string
	if err := readFields(payload, func(e field) (err error) {
		switch e.num {
		case 1:
			k, err = e.string()
		case 2:
			v, err = e.string()
		}
		return err
	}); err != nil {
		return err
	}

	if *m == nil {
		*m = make(map[string]string)
	}
	(*m)[k] = v

	return nil
}
