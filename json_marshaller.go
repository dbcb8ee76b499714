package schemaregistry

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tryfix/errors"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

type JSONUnmarshaler struct {
	data []byte
}

// JSONMarshaller encodes values as JSON and validates them against a JSON schema when one is
// given.
type JSONMarshaller struct {
	schema   string
	compiled *jsonschema.Schema
}

func NewJSONMarshaller(schema string) *JSONMarshaller {
	return &JSONMarshaller{
		schema: schema,
	}
}

func (s *JSONMarshaller) Init() error {
	if s.schema == `` {
		return nil
	}

	compiled, err := jsonschema.CompileString(`schema.json`, s.schema)
	if err != nil {
		return errors.WithPrevious(err, `json schema compile failed`)
	}

	s.compiled = compiled
	return nil
}

func (s *JSONMarshaller) NewUnmarshaler(_ SchemaInfo, data []byte) Unmarshaler {
	return &JSONUnmarshaler{data: data}
}

func (s *JSONUnmarshaler) Unmarshal(in interface{}) error {
	if err := jsonAPI.Unmarshal(s.data, in); err != nil {
		return errors.WithPrevious(err, `json unmarshal failed`)
	}

	return nil
}

func (s *JSONMarshaller) Marshall(v interface{}) ([]byte, error) {
	byt, err := jsonAPI.Marshal(v)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`json marshal failed for %T`, v))
	}

	if s.compiled == nil {
		return byt, nil
	}

	var doc interface{}
	if err := jsonAPI.Unmarshal(byt, &doc); err != nil {
		return nil, errors.WithPrevious(err, `json document decode failed`)
	}

	if err := s.compiled.Validate(doc); err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`%T does not match the json schema`, v))
	}

	return byt, nil
}
