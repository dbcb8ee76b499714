/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package schemaregistry

import (
	"fmt"
	"sync"

	"github.com/hamba/avro/v2"
	"github.com/tryfix/errors"
)

type AvroUnmarshaler struct {
	schema avro.Schema
	data   []byte
	err    error
}

// AvroMarshaller encodes with the reader schema and decodes with the writer schema of each
// payload, so fields added by newer writers are skipped.
type AvroMarshaller struct {
	schema     string
	avroSchema avro.Schema
	writers    sync.Map // writer schema text -> avro.Schema
}

func NewAvroMarshaller(schema string) *AvroMarshaller {
	return &AvroMarshaller{
		schema: schema,
	}
}

func parseAvro(schema string) (avro.Schema, error) {
	// a private cache keeps versions of the same named record apart
	return avro.ParseBytesWithCache([]byte(schema), ``, &avro.SchemaCache{})
}

func (s *AvroMarshaller) Init() error {
	schema, err := parseAvro(s.schema)
	if err != nil {
		return errors.WithPrevious(err, fmt.Sprintf(`schema parsing error for subject %s`, s.schema))
	}

	s.avroSchema = schema
	return nil
}

func (s *AvroMarshaller) NewUnmarshaler(writer SchemaInfo, data []byte) Unmarshaler {
	schema, err := s.writerSchema(string(writer.Schema))
	return &AvroUnmarshaler{
		schema: schema,
		data:   data,
		err:    err,
	}
}

func (s *AvroMarshaller) writerSchema(text string) (avro.Schema, error) {
	if text == `` || text == s.schema {
		return s.avroSchema, nil
	}

	if sch, ok := s.writers.Load(text); ok {
		return sch.(avro.Schema), nil
	}

	sch, err := parseAvro(text)
	if err != nil {
		return nil, errors.WithPrevious(err, `writer schema parsing error`)
	}

	s.writers.Store(text, sch)
	return sch, nil
}

func (s *AvroUnmarshaler) Unmarshal(in interface{}) error {
	if s.err != nil {
		return s.err
	}

	if err := avro.Unmarshal(s.schema, s.data, in); err != nil {
		return errors.WithPrevious(err, `avro unmarshal failed`)
	}

	return nil
}

func (s *AvroMarshaller) Marshall(data interface{}) ([]byte, error) {
	native, err := avro.Marshal(s.avroSchema, data)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`native from textual failed for subject %s`, s.schema))
	}

	return native, nil
}

// avroTypeName returns the full name of a named avro schema.
func avroTypeName(schema avro.Schema) string {
	if named, ok := schema.(avro.NamedSchema); ok {
		return named.FullName()
	}

	return string(schema.Type())
}
