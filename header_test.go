package schemaregistry

import (
	"bytes"
	"errors"
	"testing"
)

func TestHeader(t *testing.T) {
	for _, id := range []EncodingID{0, 1, 255, 256, 1 << 24, 1<<31 - 1} {
		byt := append(encodeHeader(id, 3), `abc`...)
		if len(byt) != HeaderSize+3 {
			t.Fatalf(`need %d bytes, have %d`, HeaderSize+3, len(byt))
		}

		have, payload, err := decodeHeader(byt)
		if err != nil {
			t.Fatal(err)
		}

		if have != id || string(payload) != `abc` {
			t.Errorf(`need %d/abc, have %d/%s`, id, have, payload)
		}
	}
}

func TestHeader_Layout(t *testing.T) {
	want := []byte{0x01, 0x00, 0x00, 0x01, 0x02}
	if have := encodeHeader(258, 0); !bytes.Equal(want, have) {
		t.Errorf(`need %x, have %x`, want, have)
	}
}

func TestHeader_Malformed(t *testing.T) {
	cases := map[string][]byte{
		`empty`:           nil,
		`short`:           {0x01, 0x00, 0x00},
		`unknown version`: {0x02, 0x00, 0x00, 0x00, 0x01, 0xff},
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := EncodingIDOf(data); !errors.Is(err, ErrCorruptRecord) {
				t.Errorf(`need %v, have %v`, ErrCorruptRecord, err)
			}
		})
	}
}
