package storage

import (
	"context"
	"fmt"
)

// Version is the version of a table entry. Versions of one table only grow.
type Version int64

const (
	// AnyVersion makes a write unconditional.
	AnyVersion Version = -1
	// NotExists makes a write conditional on the key being absent.
	NotExists Version = -2
)

func (v Version) String() string {
	switch v {
	case AnyVersion:
		return `any`
	case NotExists:
		return `not-exists`
	}

	return fmt.Sprintf(`%d`, int64(v))
}

// Entry is one key value pair of a table. On writes Version is the expected current version of
// the key; on reads it is the version the entry was written with.
type Entry struct {
	Key     []byte
	Value   []byte
	Version Version
}

// Table is the key value store groups are persisted in. Every group owns one table.
//
// Implementations return errors of kind GroupNotFound for an unknown table, NotFound for a
// missing key and ConcurrentModification when an expected version does not match. A failed
// batch has no effect.
type Table interface {
	// CreateTable creates an empty table, failing with GroupExists if it already exists.
	CreateTable(ctx context.Context, table string) error
	DeleteTable(ctx context.Context, table string) error
	Get(ctx context.Context, table string, key []byte) (Entry, error)
	// Put writes all entries atomically and returns their new versions in order.
	Put(ctx context.Context, table string, entries ...Entry) ([]Version, error)
	// Delete removes all keys atomically. Entry values are ignored.
	Delete(ctx context.Context, table string, keys ...Entry) error
	// MaxEntrySize is the largest value a single entry may hold.
	MaxEntrySize() int
}
