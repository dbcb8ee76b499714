package schemaregistry

import (
	"fmt"
	"sync"

	"github.com/tryfix/errors"
)

// Marshaller converts application values to and from the schema specific byte encoding.
type Marshaller interface {
	Init() error
	Marshall(v interface{}) ([]byte, error)
	// NewUnmarshaler returns an Unmarshaler for data written with the writer schema.
	NewUnmarshaler(writer SchemaInfo, data []byte) Unmarshaler
}

// Unmarshaler decodes one payload into a caller supplied value.
type Unmarshaler interface {
	Unmarshal(in interface{}) error
}

// UnmarshalerFunc produces the typed value of a payload.
type UnmarshalerFunc func(unmarshaler Unmarshaler) (v interface{}, err error)

// genericDecoder decodes payloads without a reader type, using only the writer schema.
//
// Avro and Json payloads decode to maps, protobuf payloads to the registered message type or the
// *anypb.Any wrapper and every other format to the raw bytes.
type genericDecoder struct {
	avro sync.Map // schema id -> *AvroMarshaller
}

func (g *genericDecoder) decode(info EncodingInfo, data []byte) (interface{}, error) {
	writer := info.SchemaInfo
	switch writer.Format.Kind() {
	case FormatKindAvro:
		m, err := g.avroMarshaller(info.VersionInfo.ID, writer)
		if err != nil {
			return nil, err
		}
		var v interface{}
		if err := m.NewUnmarshaler(writer, data).Unmarshal(&v); err != nil {
			return nil, err
		}
		return v, nil

	case FormatKindJSON:
		var v interface{}
		if err := jsonAPI.Unmarshal(data, &v); err != nil {
			return nil, errors.WithPrevious(err, fmt.Sprintf(`json unmarshal failed for type %s`, writer.Type))
		}
		return v, nil

	case FormatKindProtobuf:
		return protoGenericDecode(data)
	}

	return data, nil
}

func (g *genericDecoder) avroMarshaller(id int32, writer SchemaInfo) (*AvroMarshaller, error) {
	if m, ok := g.avro.Load(id); ok {
		return m.(*AvroMarshaller), nil
	}

	m := NewAvroMarshaller(string(writer.Schema))
	if err := m.Init(); err != nil {
		return nil, err
	}

	g.avro.Store(id, m)
	return m, nil
}
