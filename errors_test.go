package schemaregistry

import (
	"errors"
	"fmt"
	"testing"

	tryfixerrors "github.com/tryfix/errors"
)

func TestError_Is(t *testing.T) {
	partial := NewError(KindPartialChunkSet, `op`, `chunk 2 missing`)
	if !errors.Is(partial, ErrPartialChunkSet) || !errors.Is(partial, ErrNotFound) {
		t.Error(`partial chunk set must match PartialChunkSet and NotFound`)
	}

	if errors.Is(NewError(KindNotFound, `op`, ``), ErrPartialChunkSet) {
		t.Error(`not found must not match PartialChunkSet`)
	}

	unknown := NewError(KindUnknownType, `op`, ``)
	if !errors.Is(unknown, ErrUnknownType) || !errors.Is(unknown, ErrUnregisteredType) {
		t.Error(`unknown type must match UnknownType and UnregisteredType`)
	}

	wrapped := fmt.Errorf(`serializer: %w`, NewError(KindGroupNotFound, `op`, ``))
	if !errors.Is(wrapped, ErrGroupNotFound) || KindOf(wrapped) != KindGroupNotFound {
		t.Error(`kind must survive wrapping`)
	}

	if KindOf(errors.New(`plain`)) != KindUnknown {
		t.Error(`foreign errors have no kind`)
	}
}

func TestError_Message(t *testing.T) {
	cause := tryfixerrors.WithPrevious(errors.New(`connection refused`), `dial failed`)
	err := WrapError(KindServiceUnavailable, `client.GetEncodingInfo`, cause, `encoding id [4]`)

	want := fmt.Sprintf(`client.GetEncodingInfo: service unavailable: encoding id [4] due to %s`, cause)
	if err.Error() != want {
		t.Errorf(`need %s, have %s`, want, err.Error())
	}

	if !errors.Is(err, cause) {
		t.Error(`cause must be reachable through Unwrap`)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := map[Kind]bool{
		KindConcurrentModification: true,
		KindPartialChunkSet:        true,
		KindServiceUnavailable:     true,
		KindNotFound:               false,
		KindCorruptRecord:          false,
		KindSchemaValidationFailed: false,
		KindUnauthorized:           false,
	}

	for kind, want := range tests {
		if have := IsRetryable(NewError(kind, `op`, ``)); have != want {
			t.Errorf(`%s: need %v, have %v`, kind, want, have)
		}
	}
}
