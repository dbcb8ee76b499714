package schemaregistry

import (
	"bytes"
	"fmt"
	"maps"
)

// FormatKind is the persisted discriminator of a SerializationFormat. Values are permanent.
type FormatKind int8

const (
	// 0 is reserved and never used
	FormatKindAvro     FormatKind = 1
	FormatKindProtobuf FormatKind = 2
	FormatKindJSON     FormatKind = 3
	FormatKindAny      FormatKind = 4
	FormatKindCustom   FormatKind = 5
)

// SerializationFormat names the encoding of a schema. Custom formats carry a type name.
type SerializationFormat struct {
	kind           FormatKind
	customTypeName string
}

var (
	Avro     = SerializationFormat{kind: FormatKindAvro}
	Protobuf = SerializationFormat{kind: FormatKindProtobuf}
	JSON     = SerializationFormat{kind: FormatKindJSON}
	// Any is only meaningful as a group format: the group accepts schemas of every format.
	Any = SerializationFormat{kind: FormatKindAny}
)

// CustomFormat returns a custom serialization format. name must not be empty.
func CustomFormat(name string) (SerializationFormat, error) {
	if name == `` {
		return SerializationFormat{}, NewError(KindConfiguration, `schemaregistry.CustomFormat`, `custom format requires a type name`)
	}

	return SerializationFormat{kind: FormatKindCustom, customTypeName: name}, nil
}

// FormatOf rebuilds a format from its persisted parts.
func FormatOf(kind FormatKind, customTypeName string) (SerializationFormat, error) {
	switch kind {
	case FormatKindAvro, FormatKindProtobuf, FormatKindJSON, FormatKindAny:
		return SerializationFormat{kind: kind}, nil
	case FormatKindCustom:
		return CustomFormat(customTypeName)
	}

	return SerializationFormat{}, NewError(KindCorruptRecord, `schemaregistry.FormatOf`, fmt.Sprintf(`unknown format kind %d`, kind))
}

func (f SerializationFormat) Kind() FormatKind { return f.kind }

func (f SerializationFormat) CustomTypeName() string { return f.customTypeName }

func (f SerializationFormat) String() string {
	switch f.kind {
	case FormatKindAvro:
		return `Avro`
	case FormatKindProtobuf:
		return `Protobuf`
	case FormatKindJSON:
		return `Json`
	case FormatKindAny:
		return `Any`
	case FormatKindCustom:
		return fmt.Sprintf(`Custom(%s)`, f.customTypeName)
	}

	return `Unknown`
}

// SchemaInfo describes one schema. It is immutable once registered.
type SchemaInfo struct {
	Type       string // declared type name of the object the schema describes
	Format     SerializationFormat
	Schema     []byte
	Properties map[string]string
}

// Equal reports whether s and o describe the same schema.
func (s SchemaInfo) Equal(o SchemaInfo) bool {
	return s.Type == o.Type &&
		s.Format == o.Format &&
		bytes.Equal(s.Schema, o.Schema) &&
		maps.Equal(s.Properties, o.Properties)
}

// VersionInfo identifies one registered schema within a group.
type VersionInfo struct {
	Type    string
	Version int32 // ordinal within Type
	ID      int32 // group wide schema id
}

func (v VersionInfo) String() string {
	return fmt.Sprintf(`%s[v%d|id:%d]`, v.Type, v.Version, v.ID)
}

// EncodingID is the group scoped identifier of an EncodingInfo written into every event header.
type EncodingID int32

// EncodingInfo is the (schema version, codec) pair an EncodingID stands for.
type EncodingInfo struct {
	VersionInfo VersionInfo
	SchemaInfo  SchemaInfo
	CodecType   CodecType
}
