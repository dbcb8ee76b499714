package schemaregistry

import (
	"fmt"
	"maps"
)

// CodecKind is the persisted discriminator of a CodecType. Values are permanent.
type CodecKind int8

const (
	// 0 is reserved and never used
	CodecKindNone   CodecKind = 1
	CodecKindSnappy CodecKind = 2
	CodecKindGZip   CodecKind = 3
	CodecKindCustom CodecKind = 4
)

const (
	codecNameNone   = ``
	codecNameGZip   = `application/x-gzip`
	codecNameSnappy = `application/x-snappy-framed`
)

// CodecType identifies the transform applied to serialized bytes. None, Snappy and GZip carry no
// payload. Custom carries a non-empty type name and optional properties handed to its decoder.
type CodecType struct {
	kind           CodecKind
	customTypeName string
	properties     map[string]string
}

var (
	CodecTypeNone   = CodecType{kind: CodecKindNone}
	CodecTypeSnappy = CodecType{kind: CodecKindSnappy}
	CodecTypeGZip   = CodecType{kind: CodecKindGZip}
)

// CustomCodecType returns a custom codec type. The name must be non-empty and must not shadow a
// built-in codec name.
func CustomCodecType(name string, properties map[string]string) (CodecType, error) {
	switch name {
	case codecNameNone:
		return CodecType{}, NewError(KindConfiguration, `schemaregistry.CustomCodecType`, `custom codec requires a type name`)
	case codecNameGZip, codecNameSnappy:
		return CodecType{}, NewError(KindConfiguration, `schemaregistry.CustomCodecType`, fmt.Sprintf(`name [%s] is reserved for a built-in codec`, name))
	}

	return CodecType{kind: CodecKindCustom, customTypeName: name, properties: maps.Clone(properties)}, nil
}

// CodecTypeOf rebuilds a codec type from its persisted parts.
func CodecTypeOf(kind CodecKind, customTypeName string, properties map[string]string) (CodecType, error) {
	switch kind {
	case CodecKindNone:
		return CodecTypeNone, nil
	case CodecKindSnappy:
		return CodecTypeSnappy, nil
	case CodecKindGZip:
		return CodecTypeGZip, nil
	case CodecKindCustom:
		return CustomCodecType(customTypeName, properties)
	}

	return CodecType{}, NewError(KindCorruptRecord, `schemaregistry.CodecTypeOf`, fmt.Sprintf(`unknown codec kind %d`, kind))
}

func (c CodecType) Kind() CodecKind { return c.normalized().kind }

func (c CodecType) CustomTypeName() string { return c.customTypeName }

// Properties returns a copy of the custom codec properties.
func (c CodecType) Properties() map[string]string { return maps.Clone(c.properties) }

// Name returns the wire identifier decoders are looked up by.
func (c CodecType) Name() string {
	switch c.kind {
	case CodecKindGZip:
		return codecNameGZip
	case CodecKindSnappy:
		return codecNameSnappy
	case CodecKindCustom:
		return c.customTypeName
	}

	return codecNameNone
}

// Equal reports whether c and o are the same codec type including custom properties.
// The zero value equals None.
func (c CodecType) Equal(o CodecType) bool {
	return c.normalized().kind == o.normalized().kind &&
		c.customTypeName == o.customTypeName &&
		maps.Equal(c.properties, o.properties)
}

func (c CodecType) normalized() CodecType {
	if c.kind == 0 {
		return CodecTypeNone
	}

	return c
}

func (c CodecType) String() string {
	switch c.normalized().kind {
	case CodecKindNone:
		return `None`
	case CodecKindSnappy:
		return `Snappy`
	case CodecKindGZip:
		return `GZip`
	}

	return fmt.Sprintf(`Custom(%s)`, c.customTypeName)
}
