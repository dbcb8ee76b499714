package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"

	sr "github.com/tryfix/schemaregistry/v3"
)

func newTestTable(t *testing.T) *MemoryTable {
	t.Helper()
	tbl := NewMemoryTable(0)
	if err := tbl.CreateTable(context.Background(), `t`); err != nil {
		t.Fatal(err)
	}

	return tbl
}

func TestMemoryTable_PutGet(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t)

	versions, err := tbl.Put(ctx, `t`,
		Entry{Key: []byte(`a`), Value: []byte(`1`), Version: NotExists},
		Entry{Key: []byte(`b`), Value: []byte(`2`), Version: AnyVersion},
	)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(versions, []Version{0, 1}) {
		t.Errorf(`need versions [0 1], have %v`, versions)
	}

	e, err := tbl.Get(ctx, `t`, []byte(`b`))
	if err != nil {
		t.Fatal(err)
	}

	if string(e.Value) != `2` || e.Version != 1 {
		t.Errorf(`need 2@1, have %s@%d`, e.Value, e.Version)
	}

	versions, err = tbl.Put(ctx, `t`, Entry{Key: []byte(`a`), Value: []byte(`3`), Version: 0})
	if err != nil {
		t.Fatal(err)
	}

	if versions[0] != 2 {
		t.Errorf(`need version 2, have %d`, versions[0])
	}
}

func TestMemoryTable_VersionsSurviveRecreate(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t)

	old, err := tbl.Put(ctx, `t`, Entry{Key: []byte(`a`), Value: []byte(`1`), Version: NotExists})
	if err != nil {
		t.Fatal(err)
	}

	if err := tbl.DeleteTable(ctx, `t`); err != nil {
		t.Fatal(err)
	}

	if err := tbl.CreateTable(ctx, `t`); err != nil {
		t.Fatal(err)
	}

	fresh, err := tbl.Put(ctx, `t`, Entry{Key: []byte(`a`), Value: []byte(`2`), Version: NotExists})
	if err != nil {
		t.Fatal(err)
	}

	if fresh[0] == old[0] {
		t.Fatalf(`recreated table repeated version %d`, fresh[0])
	}

	_, err = tbl.Put(ctx, `t`, Entry{Key: []byte(`a`), Value: []byte(`3`), Version: old[0]})
	if !errors.Is(err, sr.ErrConcurrentModification) {
		t.Errorf(`need %v, have %v`, sr.ErrConcurrentModification, err)
	}
}

func TestMemoryTable_ConditionalBatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t)

	if _, err := tbl.Put(ctx, `t`, Entry{Key: []byte(`a`), Value: []byte(`1`), Version: AnyVersion}); err != nil {
		t.Fatal(err)
	}

	cases := map[string]Entry{
		`stale version`:  {Key: []byte(`a`), Version: 7},
		`must not exist`: {Key: []byte(`a`), Version: NotExists},
		`missing key`:    {Key: []byte(`z`), Version: 0},
	}

	for name, conflict := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tbl.Put(ctx, `t`, Entry{Key: []byte(`c`), Value: []byte(`x`), Version: AnyVersion}, conflict)
			if !errors.Is(err, sr.ErrConcurrentModification) {
				t.Fatalf(`need %v, have %v`, sr.ErrConcurrentModification, err)
			}

			if _, err := tbl.Get(ctx, `t`, []byte(`c`)); !errors.Is(err, sr.ErrNotFound) {
				t.Errorf(`failed batch must have no effect, have %v`, err)
			}

			if err := tbl.Delete(ctx, `t`, Entry{Key: []byte(`a`), Version: AnyVersion}, conflict); !errors.Is(err, sr.ErrConcurrentModification) {
				t.Errorf(`need %v, have %v`, sr.ErrConcurrentModification, err)
			}

			if _, err := tbl.Get(ctx, `t`, []byte(`a`)); err != nil {
				t.Errorf(`failed delete must have no effect, have %v`, err)
			}
		})
	}
}

func TestMemoryTable_Errors(t *testing.T) {
	ctx := context.Background()
	tbl := NewMemoryTable(4)

	if _, err := tbl.Get(ctx, `missing`, []byte(`a`)); !errors.Is(err, sr.ErrGroupNotFound) {
		t.Errorf(`need %v, have %v`, sr.ErrGroupNotFound, err)
	}

	if err := tbl.CreateTable(ctx, `t`); err != nil {
		t.Fatal(err)
	}

	if err := tbl.CreateTable(ctx, `t`); !errors.Is(err, sr.ErrGroupExists) {
		t.Errorf(`need %v, have %v`, sr.ErrGroupExists, err)
	}

	if _, err := tbl.Get(ctx, `t`, []byte(`a`)); !errors.Is(err, sr.ErrNotFound) {
		t.Errorf(`need %v, have %v`, sr.ErrNotFound, err)
	}

	if _, err := tbl.Put(ctx, `t`, Entry{Key: []byte(`a`), Value: []byte(`12345`), Version: AnyVersion}); !errors.Is(err, sr.ErrConfiguration) {
		t.Errorf(`oversized entry: need %v, have %v`, sr.ErrConfiguration, err)
	}

	if err := tbl.DeleteTable(ctx, `t`); err != nil {
		t.Fatal(err)
	}

	if err := tbl.DeleteTable(ctx, `t`); !errors.Is(err, sr.ErrGroupNotFound) {
		t.Errorf(`need %v, have %v`, sr.ErrGroupNotFound, err)
	}
}
