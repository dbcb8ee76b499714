package schemaregistry

import (
	"encoding/binary"
	"fmt"
)

const (
	protocolVersion byte = 0x1
	// HeaderSize is the length of the encoding header prepended to every event.
	HeaderSize = 5
)

// encodeHeader returns a buffer holding the header for id with capacity for size payload bytes.
//
//	╔═════════════════════════╤══════════════════════╤═══════════════════════════╗
//	║ protocol version(1 byte)│ encoding id(4 bytes) │ codec transformed payload ║
//	╚═════════════════════════╧══════════════════════╧═══════════════════════════╝
func encodeHeader(id EncodingID, size int) []byte {
	byt := make([]byte, HeaderSize, HeaderSize+size)
	byt[0] = protocolVersion
	binary.BigEndian.PutUint32(byt[1:], uint32(id))
	return byt
}

// decodeHeader splits data into the encoding id and the payload.
func decodeHeader(data []byte) (EncodingID, []byte, error) {
	if len(data) < HeaderSize {
		return 0, nil, NewError(KindCorruptRecord, `schemaregistry.decodeHeader`, fmt.Sprintf(`message length %d is shorter than the header`, len(data)))
	}

	if data[0] != protocolVersion {
		return 0, nil, NewError(KindCorruptRecord, `schemaregistry.decodeHeader`, fmt.Sprintf(`unknown protocol version 0x%02x`, data[0]))
	}

	return EncodingID(binary.BigEndian.Uint32(data[1:HeaderSize])), data[HeaderSize:], nil
}

// EncodingIDOf returns the encoding id an event was written with.
func EncodingIDOf(data []byte) (EncodingID, error) {
	id, _, err := decodeHeader(data)
	return id, err
}
