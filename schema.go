package schemaregistry

import (
	"fmt"
	"maps"
	"reflect"

	"github.com/tryfix/errors"
	"google.golang.org/protobuf/proto"
)

// Schema binds a SchemaInfo to the Go type it describes and the Marshaller for its format.
type Schema struct {
	info            SchemaInfo
	goType          reflect.Type
	marshaller      Marshaller
	unmarshalerFunc UnmarshalerFunc
}

// NewSchema returns a schema for values of the sample's type. When unmarshalerFunc is nil
// payloads decode into a new value of the sample's type.
func NewSchema(info SchemaInfo, sample interface{}, marshaller Marshaller, unmarshalerFunc UnmarshalerFunc) (*Schema, error) {
	if info.Type == `` {
		return nil, NewError(KindConfiguration, `schemaregistry.NewSchema`, `schema type name is required`)
	}

	if sample == nil {
		return nil, NewError(KindConfiguration, `schemaregistry.NewSchema`, fmt.Sprintf(`sample value for [%s] is required`, info.Type))
	}

	if marshaller == nil {
		return nil, NewError(KindConfiguration, `schemaregistry.NewSchema`, fmt.Sprintf(`marshaller for [%s] is required`, info.Type))
	}

	if err := marshaller.Init(); err != nil {
		return nil, WrapError(KindConfiguration, `schemaregistry.NewSchema`, err, fmt.Sprintf(`marshaller init failed for [%s]`, info.Type))
	}

	info.Properties = maps.Clone(info.Properties)

	s := &Schema{
		info:            info,
		goType:          reflect.TypeOf(sample),
		marshaller:      marshaller,
		unmarshalerFunc: unmarshalerFunc,
	}

	if s.unmarshalerFunc == nil {
		s.unmarshalerFunc = newValueUnmarshalerFunc(s.goType)
	}

	return s, nil
}

// NewAvroSchema returns an avro schema. The type name is the full name of the avro record.
func NewAvroSchema(sample interface{}, schema string, unmarshalerFunc UnmarshalerFunc) (*Schema, error) {
	m := NewAvroMarshaller(schema)
	if err := m.Init(); err != nil {
		return nil, WrapError(KindConfiguration, `schemaregistry.NewAvroSchema`, err, ``)
	}

	return NewSchema(SchemaInfo{
		Type:   avroTypeName(m.avroSchema),
		Format: Avro,
		Schema: []byte(schema),
	}, sample, m, unmarshalerFunc)
}

// NewProtobufSchema returns a schema for messages of the sample's type. The schema bytes are the
// serialized FileDescriptorSet of the message.
func NewProtobufSchema(sample proto.Message, unmarshalerFunc UnmarshalerFunc) (*Schema, error) {
	if sample == nil {
		return nil, NewError(KindConfiguration, `schemaregistry.NewProtobufSchema`, `sample message is required`)
	}

	desc := sample.ProtoReflect().Descriptor()
	byt, err := protoFileDescriptorSet(desc)
	if err != nil {
		return nil, WrapError(KindConfiguration, `schemaregistry.NewProtobufSchema`, err, ``)
	}

	return NewSchema(SchemaInfo{
		Type:   string(desc.FullName()),
		Format: Protobuf,
		Schema: byt,
	}, sample, NewProtoMarshaller(), unmarshalerFunc)
}

// NewJSONSchema returns a json schema named typeName. schema may be empty to skip validation.
func NewJSONSchema(typeName string, sample interface{}, schema string, unmarshalerFunc UnmarshalerFunc) (*Schema, error) {
	return NewSchema(SchemaInfo{
		Type:   typeName,
		Format: JSON,
		Schema: []byte(schema),
	}, sample, NewJSONMarshaller(schema), unmarshalerFunc)
}

// NewCustomSchema returns a schema of a custom format written by marshaller.
func NewCustomSchema(typeName string, format SerializationFormat, schema []byte, sample interface{}, marshaller Marshaller, unmarshalerFunc UnmarshalerFunc) (*Schema, error) {
	if format.Kind() != FormatKindCustom {
		return nil, NewError(KindConfiguration, `schemaregistry.NewCustomSchema`, fmt.Sprintf(`format [%s] is not a custom format`, format))
	}

	return NewSchema(SchemaInfo{
		Type:   typeName,
		Format: format,
		Schema: schema,
	}, sample, marshaller, unmarshalerFunc)
}

func (s *Schema) Info() SchemaInfo { return s.info }

// GoType returns the type of values written with this schema.
func (s *Schema) GoType() reflect.Type { return s.goType }

func (s *Schema) decode(writer SchemaInfo, data []byte) (interface{}, error) {
	return s.unmarshalerFunc(s.marshaller.NewUnmarshaler(writer, data))
}

// newValueUnmarshalerFunc decodes into a fresh value of typ. Pointer types yield pointers.
func newValueUnmarshalerFunc(typ reflect.Type) UnmarshalerFunc {
	ptr := typ.Kind() == reflect.Ptr
	elem := typ
	if ptr {
		elem = typ.Elem()
	}

	return func(unmarshaler Unmarshaler) (interface{}, error) {
		v := reflect.New(elem)
		if err := unmarshaler.Unmarshal(v.Interface()); err != nil {
			return nil, errors.WithPrevious(err, fmt.Sprintf(`unmarshal into %s failed`, typ))
		}

		if ptr {
			return v.Interface(), nil
		}

		return v.Elem().Interface(), nil
	}
}
