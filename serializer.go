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
	"reflect"

	"github.com/tryfix/log"
)

// Serializer writes values of one schema. The schema, codec and encoding id are resolved once at
// construction so Serialize never blocks and is safe for concurrent use.
type Serializer struct {
	group      string
	schema     *Schema
	codec      Codec
	version    VersionInfo
	encodingID EncodingID
	logger     log.Logger
}

// NewSerializer registers (or looks up) schema and the configured codec in the group and
// returns a serializer stamping events with the resulting encoding id.
func NewSerializer(ctx context.Context, cfg *Config, schema *Schema) (*Serializer, error) {
	if err := cfg.validate(`schemaregistry.NewSerializer`); err != nil {
		return nil, err
	}

	return newSerializer(ctx, cfg, schema)
}

func newSerializer(ctx context.Context, cfg *Config, schema *Schema) (*Serializer, error) {
	o := cfg.options
	logger := o.logger.NewLog(log.Prefixed(`Serializer`))

	var version VersionInfo
	var err error
	if o.registerSchema {
		version, err = cfg.client.RegisterSchema(ctx, cfg.group, schema.info)
	} else {
		version, err = cfg.client.GetVersionForSchema(ctx, cfg.group, schema.info)
	}
	if err != nil {
		return nil, err
	}

	codecType := o.codec.CodecType()
	if o.registerCodec && codecType.Kind() != CodecKindNone {
		if err := cfg.client.AddCodecType(ctx, cfg.group, codecType); err != nil {
			return nil, err
		}
	}

	id, err := cfg.client.GetOrCreateEncodingID(ctx, cfg.group, version, codecType)
	if err != nil {
		return nil, err
	}

	logger.Info(fmt.Sprintf(`serializer for %s with codec [%s] in group [%s] uses encoding id [%d]`,
		version, codecType, cfg.group, id))

	return &Serializer{
		group:      cfg.group,
		schema:     schema,
		codec:      o.codec,
		version:    version,
		encodingID: id,
		logger:     logger,
	}, nil
}

// Serialize returns the header prefixed, codec transformed encoding of v.
func (s *Serializer) Serialize(v interface{}) ([]byte, error) {
	byt, err := s.schema.marshaller.Marshall(v)
	if err != nil {
		return nil, WrapError(KindSchemaValidationFailed, `serializer.Serialize`, err, fmt.Sprintf(`marshal failed for %s`, s.version))
	}

	payload, err := s.codec.Encode(byt)
	if err != nil {
		return nil, WrapError(KindUnsupportedCodec, `serializer.Serialize`, err, fmt.Sprintf(`codec [%s] encode failed for %s`, s.codec.CodecType(), s.version))
	}

	return append(encodeHeader(s.encodingID, len(payload)), payload...), nil
}

// EncodingID returns the id written into every event header.
func (s *Serializer) EncodingID() EncodingID { return s.encodingID }

// Version returns the registered version of the serializer's schema.
func (s *Serializer) Version() VersionInfo { return s.version }

// MultiTypeSerializer dispatches to the serializer registered for the value's Go type.
type MultiTypeSerializer struct {
	serializers map[reflect.Type]*Serializer
}

// NewMultiTypeSerializer returns a serializer for values of every given schema's type.
func NewMultiTypeSerializer(ctx context.Context, cfg *Config, schemas ...*Schema) (*MultiTypeSerializer, error) {
	if err := cfg.validate(`schemaregistry.NewMultiTypeSerializer`); err != nil {
		return nil, err
	}

	m := &MultiTypeSerializer{serializers: make(map[reflect.Type]*Serializer, len(schemas))}
	for _, schema := range schemas {
		if _, ok := m.serializers[schema.goType]; ok {
			return nil, NewError(KindConfiguration, `schemaregistry.NewMultiTypeSerializer`, fmt.Sprintf(`duplicate schema for %s`, schema.goType))
		}

		s, err := newSerializer(ctx, cfg, schema)
		if err != nil {
			return nil, err
		}
		m.serializers[schema.goType] = s
	}

	return m, nil
}

func (m *MultiTypeSerializer) Serialize(v interface{}) ([]byte, error) {
	s, ok := m.serializers[reflect.TypeOf(v)]
	if !ok {
		return nil, NewError(KindUnregisteredType, `multiTypeSerializer.Serialize`, fmt.Sprintf(`no schema registered for %T`, v))
	}

	return s.Serialize(v)
}
