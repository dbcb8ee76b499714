/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package schemaregistry

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an Error. Callers match kinds with errors.Is against the Err* sentinels.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindSchemaValidationFailed
	KindGroupNotFound
	KindGroupExists
	KindEncodingNotFound
	KindUnsupportedCodec
	KindUnregisteredType
	KindUnknownType
	KindCorruptRecord
	KindConcurrentModification
	KindPartialChunkSet
	KindNotFound
	KindUnauthorized
	KindServiceUnavailable
)

var kindNames = map[Kind]string{
	KindUnknown:                `unknown`,
	KindConfiguration:          `configuration error`,
	KindSchemaValidationFailed: `schema validation failed`,
	KindGroupNotFound:          `group not found`,
	KindGroupExists:            `group already exists`,
	KindEncodingNotFound:       `encoding not found`,
	KindUnsupportedCodec:       `unsupported codec`,
	KindUnregisteredType:       `unregistered type`,
	KindUnknownType:            `unknown type`,
	KindCorruptRecord:          `corrupt or unsupported record`,
	KindConcurrentModification: `concurrent modification`,
	KindPartialChunkSet:        `partial chunk set`,
	KindNotFound:               `not found`,
	KindUnauthorized:           `unauthorized`,
	KindServiceUnavailable:     `service unavailable`,
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}

	return fmt.Sprintf(`kind(%d)`, int(k))
}

// Error is the error type returned by every operation in this module and its sub packages.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. `deserializer.Deserialize`
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Msg != `` {
		msg = fmt.Sprintf(`%s: %s`, msg, e.Msg)
	}

	if e.Op != `` {
		msg = fmt.Sprintf(`%s: %s`, e.Op, msg)
	}

	if e.Err != nil {
		return fmt.Sprintf(`%s due to %s`, msg, e.Err)
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind. A partial chunk set also reports as not found and an
// unknown type also reports as an unregistered type.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	switch {
	case t.Kind == e.Kind:
		return true
	case t.Kind == KindNotFound && e.Kind == KindPartialChunkSet:
		return true
	case t.Kind == KindUnregisteredType && e.Kind == KindUnknownType:
		return true
	}

	return false
}

var (
	ErrConfiguration          = &Error{Kind: KindConfiguration}
	ErrSchemaValidationFailed = &Error{Kind: KindSchemaValidationFailed}
	ErrGroupNotFound          = &Error{Kind: KindGroupNotFound}
	ErrGroupExists            = &Error{Kind: KindGroupExists}
	ErrEncodingNotFound       = &Error{Kind: KindEncodingNotFound}
	ErrUnsupportedCodec       = &Error{Kind: KindUnsupportedCodec}
	ErrUnregisteredType       = &Error{Kind: KindUnregisteredType}
	ErrUnknownType            = &Error{Kind: KindUnknownType}
	ErrCorruptRecord          = &Error{Kind: KindCorruptRecord}
	ErrConcurrentModification = &Error{Kind: KindConcurrentModification}
	ErrPartialChunkSet        = &Error{Kind: KindPartialChunkSet}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrUnauthorized           = &Error{Kind: KindUnauthorized}
	ErrServiceUnavailable     = &Error{Kind: KindServiceUnavailable}
)

// NewError returns an Error of the given kind.
func NewError(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// WrapError returns an Error of the given kind caused by err.
func WrapError(kind Kind, op string, err error, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// IsRetryable reports whether err is transient: a lost etag race, an in-flight chunk set or an
// unavailable registry. Retrying is always the caller's decision.
func IsRetryable(err error) bool {
	return stderrors.Is(err, ErrConcurrentModification) ||
		stderrors.Is(err, ErrPartialChunkSet) ||
		stderrors.Is(err, ErrServiceUnavailable)
}

// KindOf returns the kind of the first Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}

	return KindUnknown
}
