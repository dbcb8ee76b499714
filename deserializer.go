/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package schemaregistry

import (
	"context"
	"fmt"

	"github.com/tryfix/log"
)

// reader resolves the encoding of an event and undoes its codec.
type reader struct {
	cache    *EncodingCache
	decoders *Decoders
	logger   log.Logger
}

func newReader(cfg *Config, name string) *reader {
	return &reader{
		cache:    cfg.newCache(),
		decoders: NewDecoders(cfg.options.decoders),
		logger:   cfg.options.logger.NewLog(log.Prefixed(name)),
	}
}

func (r *reader) read(ctx context.Context, data []byte) (EncodingInfo, []byte, error) {
	id, payload, err := decodeHeader(data)
	if err != nil {
		return EncodingInfo{}, nil, err
	}

	info, err := r.cache.Get(ctx, id)
	if err != nil {
		return EncodingInfo{}, nil, err
	}

	raw, err := r.decoders.Decode(info.CodecType, payload)
	if err != nil {
		return EncodingInfo{}, nil, err
	}

	return info, raw, nil
}

// Cache returns the encoding cache owned by the deserializer.
func (r *reader) Cache() *EncodingCache { return r.cache }

// Deserializer reads events written with schemas of one type.
type Deserializer struct {
	*reader
	schema *Schema
}

// NewDeserializer returns a deserializer decoding into schema's type.
func NewDeserializer(cfg *Config, schema *Schema) (*Deserializer, error) {
	if err := cfg.validate(`schemaregistry.NewDeserializer`); err != nil {
		return nil, err
	}

	return &Deserializer{
		reader: newReader(cfg, `Deserializer`),
		schema: schema,
	}, nil
}

func (d *Deserializer) Deserialize(ctx context.Context, data []byte) (interface{}, error) {
	info, raw, err := d.read(ctx, data)
	if err != nil {
		return nil, err
	}

	if info.SchemaInfo.Type != d.schema.info.Type {
		return nil, NewError(KindUnknownType, `deserializer.Deserialize`,
			fmt.Sprintf(`event of type [%s] cannot be read as [%s]`, info.SchemaInfo.Type, d.schema.info.Type))
	}

	v, err := d.schema.decode(info.SchemaInfo, raw)
	if err != nil {
		return nil, WrapError(KindCorruptRecord, `deserializer.Deserialize`, err, fmt.Sprintf(`decode failed for %s`, info.VersionInfo))
	}

	return v, nil
}

// GenericDeserializer reads events of any type using only the writer schema.
type GenericDeserializer struct {
	*reader
	generic *genericDecoder
}

// NewGenericDeserializer returns a deserializer producing untyped values.
func NewGenericDeserializer(cfg *Config) (*GenericDeserializer, error) {
	if err := cfg.validate(`schemaregistry.NewGenericDeserializer`); err != nil {
		return nil, err
	}

	return &GenericDeserializer{
		reader:  newReader(cfg, `GenericDeserializer`),
		generic: new(genericDecoder),
	}, nil
}

func (d *GenericDeserializer) Deserialize(ctx context.Context, data []byte) (interface{}, error) {
	info, raw, err := d.read(ctx, data)
	if err != nil {
		return nil, err
	}

	v, err := d.generic.decode(info, raw)
	if err != nil {
		return nil, WrapError(KindCorruptRecord, `genericDeserializer.Deserialize`, err, fmt.Sprintf(`generic decode failed for %s`, info.VersionInfo))
	}

	return v, nil
}

// MultiTypeDeserializer selects the reader schema by the type name of the writer schema.
type MultiTypeDeserializer struct {
	*reader
	schemas map[string]*Schema
}

// NewMultiTypeDeserializer returns a deserializer for events of every given schema's type.
func NewMultiTypeDeserializer(cfg *Config, schemas ...*Schema) (*MultiTypeDeserializer, error) {
	if err := cfg.validate(`schemaregistry.NewMultiTypeDeserializer`); err != nil {
		return nil, err
	}

	byType, err := schemasByType(`schemaregistry.NewMultiTypeDeserializer`, schemas)
	if err != nil {
		return nil, err
	}

	return &MultiTypeDeserializer{
		reader:  newReader(cfg, `MultiTypeDeserializer`),
		schemas: byType,
	}, nil
}

func (d *MultiTypeDeserializer) Deserialize(ctx context.Context, data []byte) (interface{}, error) {
	info, raw, err := d.read(ctx, data)
	if err != nil {
		return nil, err
	}

	schema, ok := d.schemas[info.SchemaInfo.Type]
	if !ok {
		return nil, NewError(KindUnknownType, `multiTypeDeserializer.Deserialize`,
			fmt.Sprintf(`no reader registered for type [%s]`, info.SchemaInfo.Type))
	}

	v, err := schema.decode(info.SchemaInfo, raw)
	if err != nil {
		return nil, WrapError(KindCorruptRecord, `multiTypeDeserializer.Deserialize`, err, fmt.Sprintf(`decode failed for %s`, info.VersionInfo))
	}

	return v, nil
}

// TypedOrGeneric holds either a typed value or, when no reader matched, a generic one.
type TypedOrGeneric struct {
	Value interface{}
	Typed bool
}

// TypedOrGenericDeserializer decodes into a registered type when one matches and falls back to
// generic decoding otherwise.
type TypedOrGenericDeserializer struct {
	*reader
	schemas map[string]*Schema
	generic *genericDecoder
}

// NewTypedOrGenericDeserializer returns a deserializer preferring the given schemas.
func NewTypedOrGenericDeserializer(cfg *Config, schemas ...*Schema) (*TypedOrGenericDeserializer, error) {
	if err := cfg.validate(`schemaregistry.NewTypedOrGenericDeserializer`); err != nil {
		return nil, err
	}

	byType, err := schemasByType(`schemaregistry.NewTypedOrGenericDeserializer`, schemas)
	if err != nil {
		return nil, err
	}

	return &TypedOrGenericDeserializer{
		reader:  newReader(cfg, `TypedOrGenericDeserializer`),
		schemas: byType,
		generic: new(genericDecoder),
	}, nil
}

func (d *TypedOrGenericDeserializer) Deserialize(ctx context.Context, data []byte) (TypedOrGeneric, error) {
	info, raw, err := d.read(ctx, data)
	if err != nil {
		return TypedOrGeneric{}, err
	}

	if schema, ok := d.schemas[info.SchemaInfo.Type]; ok {
		v, err := schema.decode(info.SchemaInfo, raw)
		if err != nil {
			return TypedOrGeneric{}, WrapError(KindCorruptRecord, `typedOrGenericDeserializer.Deserialize`, err, fmt.Sprintf(`decode failed for %s`, info.VersionInfo))
		}
		return TypedOrGeneric{Value: v, Typed: true}, nil
	}

	d.logger.Debug(fmt.Sprintf(`no reader for type [%s], decoding generically`, info.SchemaInfo.Type))

	v, err := d.generic.decode(info, raw)
	if err != nil {
		return TypedOrGeneric{}, WrapError(KindCorruptRecord, `typedOrGenericDeserializer.Deserialize`, err, fmt.Sprintf(`generic decode failed for %s`, info.VersionInfo))
	}

	return TypedOrGeneric{Value: v}, nil
}

func schemasByType(op string, schemas []*Schema) (map[string]*Schema, error) {
	byType := make(map[string]*Schema, len(schemas))
	for _, schema := range schemas {
		if _, ok := byType[schema.info.Type]; ok {
			return nil, NewError(KindConfiguration, op, fmt.Sprintf(`duplicate reader for type [%s]`, schema.info.Type))
		}
		byType[schema.info.Type] = schema
	}

	return byType, nil
}
