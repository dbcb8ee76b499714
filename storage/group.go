package storage

import (
	"context"
	"errors"
	"fmt"

	sr "github.com/tryfix/schemaregistry/v3"
)

// Etag is the optimistic concurrency token of a group. Every committed change moves it.
type Etag struct {
	version Version
}

func (e Etag) String() string { return e.version.String() }

// batch collects the entries of one conditional commit.
type batch struct {
	records *RecordSerializer
	entries []Entry
	err     error
}

func (r *Registry) newBatch() *batch {
	return &batch{records: r.records}
}

func (b *batch) put(key Record, value Record) {
	if b.err != nil {
		return
	}

	byt, err := b.records.Serialize(value)
	if err != nil {
		b.err = err
		return
	}

	b.putRaw(key, byt)
}

func (b *batch) putRaw(key Record, value []byte) {
	if b.err != nil {
		return
	}

	k, err := b.records.Serialize(key)
	if err != nil {
		b.err = err
		return
	}

	b.entries = append(b.entries, Entry{Key: k, Value: value, Version: AnyVersion})
}

// commit writes b atomically if the group etag is still etag and returns the new etag.
func (r *Registry) commit(ctx context.Context, group string, etag Version, b *batch) (Version, error) {
	if b.err != nil {
		return etag, b.err
	}

	entries := append([]Entry{{Key: r.etagKey, Version: etag}}, b.entries...)
	versions, err := r.table.Put(ctx, group, entries...)
	if err != nil {
		return etag, err
	}

	return versions[0], nil
}

// etag returns the current etag of group. A table without an etag is a group still being
// created.
func (r *Registry) etag(ctx context.Context, group string) (Version, error) {
	entry, err := r.table.Get(ctx, group, r.etagKey)
	if errors.Is(err, sr.ErrNotFound) {
		return 0, sr.WrapError(sr.KindGroupNotFound, `registry.etag`, err, fmt.Sprintf(`group [%s] is not initialized`, group))
	}
	if err != nil {
		return 0, err
	}

	return entry.Version, nil
}

// read returns the record stored under key.
func (r *Registry) read(ctx context.Context, group string, key Record) (Record, Version, error) {
	k, err := r.records.Serialize(key)
	if err != nil {
		return nil, 0, err
	}

	entry, err := r.table.Get(ctx, group, k)
	if err != nil {
		return nil, 0, err
	}

	rec, err := r.records.Deserialize(entry.Value)
	if err != nil {
		return nil, 0, err
	}

	return rec, entry.Version, nil
}

// readAs reads the record under key and checks it has type T.
func readAs[T Record](ctx context.Context, r *Registry, group string, key Record) (T, error) {
	var zero T
	rec, _, err := r.read(ctx, group, key)
	if err != nil {
		return zero, err
	}

	v, ok := rec.(T)
	if !ok {
		return zero, sr.NewError(sr.KindCorruptRecord, `registry.read`, fmt.Sprintf(`%T holds %T, expected %T`, key, rec, zero))
	}

	return v, nil
}

// readOrZero is readAs with a missing key reported as the zero record.
func readOrZero[T Record](ctx context.Context, r *Registry, group string, key Record) (T, bool, error) {
	v, err := readAs[T](ctx, r, group, key)
	if errors.Is(err, sr.ErrNotFound) && !errors.Is(err, sr.ErrPartialChunkSet) {
		var zero T
		return zero, false, nil
	}
	if err != nil {
		return v, false, err
	}

	return v, true, nil
}

// exists reports whether key is present regardless of its value.
func (r *Registry) exists(ctx context.Context, group string, key Record) (bool, error) {
	k, err := r.records.Serialize(key)
	if err != nil {
		return false, err
	}

	_, err = r.table.Get(ctx, group, k)
	if errors.Is(err, sr.ErrNotFound) {
		return false, nil
	}

	return err == nil, err
}
