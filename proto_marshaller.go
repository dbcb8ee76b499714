/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package schemaregistry

import (
	"fmt"

	"github.com/tryfix/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/anypb"
)

type ProtoUnmarshaler struct {
	data []byte
}

type ProtoMarshaller struct{}

func NewProtoMarshaller() Marshaller {
	return &ProtoMarshaller{}
}

func (s *ProtoMarshaller) Init() error {
	return nil
}

func (s *ProtoMarshaller) NewUnmarshaler(_ SchemaInfo, data []byte) Unmarshaler {
	return &ProtoUnmarshaler{
		data: data,
	}
}

func (s *ProtoUnmarshaler) Unmarshal(in interface{}) error {
	msg, ok := in.(proto.Message)
	if !ok {
		return errors.New(fmt.Sprintf(`%T is not a proto.Message`, in))
	}

	wrapper := &anypb.Any{}
	if err := proto.Unmarshal(s.data, wrapper); err != nil {
		return errors.WithPrevious(err, "failed to unmarshal anypb wrapper")
	}

	if err := anypb.UnmarshalTo(wrapper, msg, proto.UnmarshalOptions{}); err != nil {
		return errors.WithPrevious(err, "failed to unmarshal anypb")
	}

	return nil
}

func (s *ProtoMarshaller) Marshall(v interface{}) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, errors.New(fmt.Sprintf(`%T is not a proto.Message`, v))
	}

	anyPB, err := anypb.New(msg)
	if err != nil {
		return nil, errors.WithPrevious(err, "failed to add message into anypb")
	}

	value, err := proto.Marshal(anyPB)
	if err != nil {
		return nil, errors.WithPrevious(err, "failed to marshal message into anypb")
	}

	return value, nil
}

// protoGenericDecode returns the wrapped message when its type is linked into the binary and the
// *anypb.Any wrapper otherwise.
func protoGenericDecode(data []byte) (interface{}, error) {
	wrapper := &anypb.Any{}
	if err := proto.Unmarshal(data, wrapper); err != nil {
		return nil, errors.WithPrevious(err, "failed to unmarshal anypb wrapper")
	}

	msg, err := wrapper.UnmarshalNew()
	if err != nil {
		return wrapper, nil
	}

	return msg, nil
}

// protoFileDescriptorSet serializes the file declaring desc together with its imports.
func protoFileDescriptorSet(desc protoreflect.MessageDescriptor) ([]byte, error) {
	set := &descriptorpb.FileDescriptorSet{}
	seen := make(map[string]bool)

	var walk func(fd protoreflect.FileDescriptor)
	walk = func(fd protoreflect.FileDescriptor) {
		if seen[fd.Path()] {
			return
		}
		seen[fd.Path()] = true

		imports := fd.Imports()
		for i := 0; i < imports.Len(); i++ {
			walk(imports.Get(i).FileDescriptor)
		}
		set.File = append(set.File, protodesc.ToFileDescriptorProto(fd))
	}
	walk(desc.ParentFile())

	byt, err := proto.MarshalOptions{Deterministic: true}.Marshal(set)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`descriptor set marshal failed for %s`, desc.FullName()))
	}

	return byt, nil
}
