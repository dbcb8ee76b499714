package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/tryfix/log"
	sr "github.com/tryfix/schemaregistry/v3"
)

const testGroup = `orders`

var (
	orderV1 = sr.SchemaInfo{
		Type:   `com.example.Order`,
		Format: sr.Avro,
		Schema: []byte(`{"type":"record","name":"Order","namespace":"com.example","fields":[{"name":"id","type":"string"}]}`),
	}
	orderV2 = sr.SchemaInfo{
		Type:   `com.example.Order`,
		Format: sr.Avro,
		Schema: []byte(`{"type":"record","name":"Order","namespace":"com.example","fields":[{"name":"id","type":"string"},{"name":"total","type":"double","default":0}]}`),
	}
	refund = sr.SchemaInfo{
		Type:   `com.example.Refund`,
		Format: sr.Avro,
		Schema: []byte(`{"type":"record","name":"Refund","namespace":"com.example","fields":[{"name":"id","type":"string"}]}`),
	}
)

func setupRegistry(t *testing.T, table Table, props GroupProperties, opts ...Option) *Registry {
	t.Helper()

	opts = append([]Option{WithLogger(log.Constructor.Log(log.WithColors(false)))}, opts...)
	reg, err := NewRegistry(table, opts...)
	if err != nil {
		t.Fatal(err)
	}

	if err := reg.CreateGroup(context.Background(), testGroup, props); err != nil {
		t.Fatal(err)
	}

	return reg
}

func avroGroup() GroupProperties {
	return GroupProperties{Format: sr.Avro, AllowMultipleTypes: true}
}

func TestRegistry_CreateGroup(t *testing.T) {
	ctx := context.Background()
	props := GroupProperties{
		Format:     sr.Avro,
		Policy:     ValidationPolicy{Compatibility: Backward},
		Properties: map[string]string{`owner`: `checkout`},
	}
	reg := setupRegistry(t, NewMemoryTable(0), props)

	have, err := reg.GetGroupProperties(ctx, testGroup)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(props, have) {
		t.Errorf(`need %+v, have %+v`, props, have)
	}

	if err := reg.CreateGroup(ctx, testGroup, props); !errors.Is(err, sr.ErrGroupExists) {
		t.Errorf(`need %v, have %v`, sr.ErrGroupExists, err)
	}

	if err := reg.DeleteGroup(ctx, testGroup); err != nil {
		t.Fatal(err)
	}

	if _, err := reg.RegisterSchema(ctx, testGroup, orderV1); !errors.Is(err, sr.ErrGroupNotFound) {
		t.Errorf(`need %v, have %v`, sr.ErrGroupNotFound, err)
	}

	if _, err := reg.GetEncodingInfo(ctx, testGroup, 0); !errors.Is(err, sr.ErrGroupNotFound) {
		t.Errorf(`need %v, have %v`, sr.ErrGroupNotFound, err)
	}
}

func TestRegistry_RegisterSchema(t *testing.T) {
	ctx := context.Background()
	reg := setupRegistry(t, NewMemoryTable(0), avroGroup())

	v1, err := reg.RegisterSchema(ctx, testGroup, orderV1)
	if err != nil {
		t.Fatal(err)
	}

	again, err := reg.RegisterSchema(ctx, testGroup, orderV1)
	if err != nil {
		t.Fatal(err)
	}

	if v1 != again {
		t.Errorf(`re-registering must return %v, have %v`, v1, again)
	}

	v2, err := reg.RegisterSchema(ctx, testGroup, orderV2)
	if err != nil {
		t.Fatal(err)
	}

	r1, err := reg.RegisterSchema(ctx, testGroup, refund)
	if err != nil {
		t.Fatal(err)
	}

	want := []sr.VersionInfo{
		{Type: orderV1.Type, Version: 0, ID: 0},
		{Type: orderV2.Type, Version: 1, ID: 1},
		{Type: refund.Type, Version: 0, ID: 2},
	}
	if have := []sr.VersionInfo{v1, v2, r1}; !reflect.DeepEqual(want, have) {
		t.Errorf(`need %v, have %v`, want, have)
	}

	found, err := reg.GetVersionForSchema(ctx, testGroup, orderV2)
	if err != nil {
		t.Fatal(err)
	}

	if found != v2 {
		t.Errorf(`need %v, have %v`, v2, found)
	}

	info, err := reg.GetSchemaForVersion(ctx, testGroup, orderV1.Type, 0)
	if err != nil {
		t.Fatal(err)
	}

	if !info.Equal(orderV1) {
		t.Errorf(`need %+v, have %+v`, orderV1, info)
	}

	latest, err := reg.GetLatestSchemas(ctx, testGroup)
	if err != nil {
		t.Fatal(err)
	}

	if want := []sr.VersionInfo{v2, r1}; !reflect.DeepEqual(want, latest) {
		t.Errorf(`need %v, have %v`, want, latest)
	}

	if _, err := reg.GetVersionForSchema(ctx, testGroup, sr.SchemaInfo{Type: `x`, Format: sr.Avro}); !errors.Is(err, sr.ErrNotFound) {
		t.Errorf(`need %v, have %v`, sr.ErrNotFound, err)
	}
}

func TestRegistry_RegisterSchema_GroupRules(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		props  GroupProperties
		first  sr.SchemaInfo
		second sr.SchemaInfo
	}{
		{
			name:   `format mismatch`,
			props:  GroupProperties{Format: sr.Protobuf, AllowMultipleTypes: true},
			second: orderV1,
		},
		{
			name:   `single type group`,
			props:  GroupProperties{Format: sr.Avro},
			first:  orderV1,
			second: refund,
		},
		{
			name:   `deny all`,
			props:  GroupProperties{Format: sr.Any, Policy: ValidationPolicy{Compatibility: DenyAll}},
			first:  orderV1,
			second: orderV2,
		},
		{
			name:   `no type name`,
			props:  avroGroup(),
			second: sr.SchemaInfo{Format: sr.Avro},
		},
		{
			name:   `any is not a schema format`,
			props:  GroupProperties{Format: sr.Any},
			second: sr.SchemaInfo{Type: `t`, Format: sr.Any},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			reg := setupRegistry(t, NewMemoryTable(0), test.props)
			if test.first.Type != `` {
				if _, err := reg.RegisterSchema(ctx, testGroup, test.first); err != nil {
					t.Fatal(err)
				}
			}

			before, err := reg.GetEtag(ctx, testGroup)
			if err != nil {
				t.Fatal(err)
			}

			if _, err := reg.RegisterSchema(ctx, testGroup, test.second); !errors.Is(err, sr.ErrSchemaValidationFailed) {
				t.Fatalf(`need %v, have %v`, sr.ErrSchemaValidationFailed, err)
			}

			after, err := reg.GetEtag(ctx, testGroup)
			if err != nil {
				t.Fatal(err)
			}

			if before != after {
				t.Errorf(`rejected schema moved the etag from %s to %s`, before, after)
			}
		})
	}
}

func TestRegistry_Validator(t *testing.T) {
	ctx := context.Background()
	var seen [][]sr.SchemaInfo
	validator := ValidatorFunc(func(_ context.Context, policy ValidationPolicy, schema sr.SchemaInfo, previous []sr.SchemaInfo) error {
		seen = append(seen, previous)
		if policy.Compatibility == Backward && bytes.Contains(schema.Schema, []byte(`"total"`)) {
			return errors.New(`field total has no default in the reader`)
		}
		return nil
	})

	reg := setupRegistry(t, NewMemoryTable(0), GroupProperties{
		Format: sr.Avro,
		Policy: ValidationPolicy{Compatibility: Backward},
	}, WithValidator(validator))

	if _, err := reg.RegisterSchema(ctx, testGroup, orderV1); err != nil {
		t.Fatal(err)
	}

	if _, err := reg.RegisterSchema(ctx, testGroup, orderV2); !errors.Is(err, sr.ErrSchemaValidationFailed) {
		t.Fatalf(`need %v, have %v`, sr.ErrSchemaValidationFailed, err)
	}

	if len(seen) != 2 || len(seen[0]) != 0 || len(seen[1]) != 1 || !seen[1][0].Equal(orderV1) {
		t.Errorf(`validator saw unexpected previous versions %v`, seen)
	}

	etag, err := reg.GetEtag(ctx, testGroup)
	if err != nil {
		t.Fatal(err)
	}

	if err := reg.UpdateValidationPolicy(ctx, testGroup, ValidationPolicy{Compatibility: AllowAny}, etag); err != nil {
		t.Fatal(err)
	}

	if _, err := reg.RegisterSchema(ctx, testGroup, orderV2); err != nil {
		t.Errorf(`schema must be accepted after the policy change, have %v`, err)
	}
}

func rawEntries(t *testing.T, reg *Registry, keys ...[]byte) []Entry {
	t.Helper()

	entries := make([]Entry, len(keys))
	for i, key := range keys {
		e, err := reg.table.Get(context.Background(), testGroup, key)
		if err != nil {
			t.Fatal(err)
		}
		entries[i] = e
	}

	return entries
}

func TestRegistry_StaleEtagAfterRecreate(t *testing.T) {
	ctx := context.Background()
	reg := setupRegistry(t, NewMemoryTable(0), avroGroup())

	stale, err := reg.GetEtag(ctx, testGroup)
	if err != nil {
		t.Fatal(err)
	}

	if err := reg.DeleteGroup(ctx, testGroup); err != nil {
		t.Fatal(err)
	}

	if err := reg.CreateGroup(ctx, testGroup, avroGroup()); err != nil {
		t.Fatal(err)
	}

	fresh, err := reg.GetEtag(ctx, testGroup)
	if err != nil {
		t.Fatal(err)
	}

	if fresh == stale {
		t.Fatalf(`recreated group reused etag %s`, fresh)
	}

	err = reg.UpdateValidationPolicy(ctx, testGroup, ValidationPolicy{Compatibility: DenyAll}, stale)
	if !errors.Is(err, sr.ErrConcurrentModification) {
		t.Errorf(`need %v, have %v`, sr.ErrConcurrentModification, err)
	}

	if err := reg.UpdateValidationPolicy(ctx, testGroup, ValidationPolicy{Compatibility: DenyAll}, fresh); err != nil {
		t.Fatal(err)
	}
}

func TestRegistry_UpdateValidationPolicy_StaleEtag(t *testing.T) {
	ctx := context.Background()
	reg := setupRegistry(t, NewMemoryTable(0), avroGroup())

	stale, err := reg.GetEtag(ctx, testGroup)
	if err != nil {
		t.Fatal(err)
	}

	// a concurrent writer moves the etag
	if _, err := reg.RegisterSchema(ctx, testGroup, orderV1); err != nil {
		t.Fatal(err)
	}

	policyKey, err := reg.records.Serialize(ValidationPolicyKey{})
	if err != nil {
		t.Fatal(err)
	}
	before := rawEntries(t, reg, reg.etagKey, policyKey)

	err = reg.UpdateValidationPolicy(ctx, testGroup, ValidationPolicy{Compatibility: DenyAll}, stale)
	if !errors.Is(err, sr.ErrConcurrentModification) {
		t.Fatalf(`need %v, have %v`, sr.ErrConcurrentModification, err)
	}

	if !sr.IsRetryable(err) {
		t.Error(`a lost etag race must be retryable`)
	}

	after := rawEntries(t, reg, reg.etagKey, policyKey)
	for i := range before {
		if !bytes.Equal(before[i].Value, after[i].Value) || before[i].Version != after[i].Version {
			t.Errorf(`entry %x changed by a rejected write: %x@%d -> %x@%d`,
				before[i].Key, before[i].Value, before[i].Version, after[i].Value, after[i].Version)
		}
	}

	policy, err := reg.GetValidationPolicy(ctx, testGroup)
	if err != nil {
		t.Fatal(err)
	}

	if policy.Compatibility != AllowAny {
		t.Errorf(`stale update must leave the policy unchanged, have %s`, policy.Compatibility)
	}
}

func TestRegistry_GetOrCreateEncodingID(t *testing.T) {
	ctx := context.Background()
	reg := setupRegistry(t, NewMemoryTable(0), avroGroup())

	v1, err := reg.RegisterSchema(ctx, testGroup, orderV1)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := reg.GetOrCreateEncodingID(ctx, testGroup, v1, sr.CodecTypeGZip); !errors.Is(err, sr.ErrUnsupportedCodec) {
		t.Errorf(`need %v, have %v`, sr.ErrUnsupportedCodec, err)
	}

	if err := reg.AddCodecType(ctx, testGroup, sr.CodecTypeGZip); err != nil {
		t.Fatal(err)
	}

	none, err := reg.GetOrCreateEncodingID(ctx, testGroup, v1, sr.CodecTypeNone)
	if err != nil {
		t.Fatal(err)
	}

	gzip, err := reg.GetOrCreateEncodingID(ctx, testGroup, v1, sr.CodecTypeGZip)
	if err != nil {
		t.Fatal(err)
	}

	again, err := reg.GetOrCreateEncodingID(ctx, testGroup, v1, sr.CodecTypeGZip)
	if err != nil {
		t.Fatal(err)
	}

	if none != 0 || gzip != 1 || again != gzip {
		t.Errorf(`need ids 0, 1, 1, have %d, %d, %d`, none, gzip, again)
	}

	info, err := reg.GetEncodingInfo(ctx, testGroup, gzip)
	if err != nil {
		t.Fatal(err)
	}

	if info.VersionInfo != v1 || !info.CodecType.Equal(sr.CodecTypeGZip) || !info.SchemaInfo.Equal(orderV1) {
		t.Errorf(`unexpected encoding info %+v`, info)
	}

	if _, err := reg.GetEncodingInfo(ctx, testGroup, 99); !errors.Is(err, sr.ErrEncodingNotFound) {
		t.Errorf(`need %v, have %v`, sr.ErrEncodingNotFound, err)
	}

	unknown := sr.VersionInfo{Type: v1.Type, Version: 5, ID: v1.ID}
	if _, err := reg.GetOrCreateEncodingID(ctx, testGroup, unknown, sr.CodecTypeNone); !errors.Is(err, sr.ErrNotFound) {
		t.Errorf(`need %v, have %v`, sr.ErrNotFound, err)
	}

	encodings, err := reg.ListEncodings(ctx, testGroup)
	if err != nil {
		t.Fatal(err)
	}

	if len(encodings) != 2 {
		t.Errorf(`need 2 encodings, have %d`, len(encodings))
	}

	if err := reg.Print(ctx, testGroup); err != nil {
		t.Error(err)
	}
}

func TestRegistry_GetOrCreateEncodingID_Concurrent(t *testing.T) {
	ctx := context.Background()
	reg := setupRegistry(t, NewMemoryTable(0), avroGroup())

	v1, err := reg.RegisterSchema(ctx, testGroup, orderV1)
	if err != nil {
		t.Fatal(err)
	}

	if err := reg.AddCodecType(ctx, testGroup, sr.CodecTypeSnappy); err != nil {
		t.Fatal(err)
	}

	const callers = 32
	ids := make([]sr.EncodingID, callers)
	errs := make([]error, callers)
	wg := new(sync.WaitGroup)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codec := sr.CodecTypeNone
			if i%2 == 1 {
				codec = sr.CodecTypeSnappy
			}
			ids[i], errs[i] = reg.GetOrCreateEncodingID(ctx, testGroup, v1, codec)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatal(errs[i])
		}

		if ids[i] != ids[i%2] {
			t.Errorf(`caller %d got id %d, caller %d got %d`, i, ids[i], i%2, ids[i%2])
		}
	}

	if ids[0] == ids[1] {
		t.Errorf(`different codecs must not share id %d`, ids[0])
	}

	encodings, err := reg.ListEncodings(ctx, testGroup)
	if err != nil {
		t.Fatal(err)
	}

	if len(encodings) != 2 {
		t.Errorf(`need exactly 2 minted encodings, have %d`, len(encodings))
	}
}

func TestRegistry_AddCodecType(t *testing.T) {
	ctx := context.Background()
	reg := setupRegistry(t, NewMemoryTable(0), avroGroup())

	zstd, err := sr.CustomCodecType(`zstd`, map[string]string{`level`: `3`})
	if err != nil {
		t.Fatal(err)
	}

	for _, codec := range []sr.CodecType{sr.CodecTypeGZip, zstd, sr.CodecTypeGZip, sr.CodecTypeNone} {
		if err := reg.AddCodecType(ctx, testGroup, codec); err != nil {
			t.Fatal(err)
		}
	}

	conflicting, err := sr.CustomCodecType(`zstd`, map[string]string{`level`: `9`})
	if err != nil {
		t.Fatal(err)
	}

	if err := reg.AddCodecType(ctx, testGroup, conflicting); !errors.Is(err, sr.ErrConfiguration) {
		t.Errorf(`need %v, have %v`, sr.ErrConfiguration, err)
	}

	codecs, err := reg.GetCodecTypes(ctx, testGroup)
	if err != nil {
		t.Fatal(err)
	}

	want := []sr.CodecType{sr.CodecTypeNone, sr.CodecTypeGZip, zstd}
	if !reflect.DeepEqual(want, codecs) {
		t.Errorf(`need %v, have %v`, want, codecs)
	}
}

func TestRegistry_DeleteSchemaVersion(t *testing.T) {
	ctx := context.Background()
	reg := setupRegistry(t, NewMemoryTable(0), avroGroup())

	v1, err := reg.RegisterSchema(ctx, testGroup, orderV1)
	if err != nil {
		t.Fatal(err)
	}

	v2, err := reg.RegisterSchema(ctx, testGroup, orderV2)
	if err != nil {
		t.Fatal(err)
	}

	if err := reg.DeleteSchemaVersion(ctx, testGroup, v2.Type, v2.Version); err != nil {
		t.Fatal(err)
	}

	if _, err := reg.GetSchemaForVersion(ctx, testGroup, v2.Type, v2.Version); !errors.Is(err, sr.ErrNotFound) {
		t.Errorf(`need %v, have %v`, sr.ErrNotFound, err)
	}

	// encoded events keep resolving
	if _, err := reg.GetSchemaByID(ctx, testGroup, v2.ID); err != nil {
		t.Errorf(`deleted version must resolve by id, have %v`, err)
	}

	latest, err := reg.GetLatestSchemas(ctx, testGroup)
	if err != nil {
		t.Fatal(err)
	}

	if want := []sr.VersionInfo{v1}; !reflect.DeepEqual(want, latest) {
		t.Errorf(`need %v, have %v`, want, latest)
	}

	v3, err := reg.RegisterSchema(ctx, testGroup, orderV2)
	if err != nil {
		t.Fatal(err)
	}

	if want := (sr.VersionInfo{Type: orderV2.Type, Version: 2, ID: 2}); v3 != want {
		t.Errorf(`need %v, have %v`, want, v3)
	}
}

// flakyTable fails the n-th Put.
type flakyTable struct {
	Table
	mu     sync.Mutex
	puts   int
	failAt int
}

func (t *flakyTable) Put(ctx context.Context, table string, entries ...Entry) ([]Version, error) {
	t.mu.Lock()
	t.puts++
	n := t.puts
	t.mu.Unlock()

	if n == t.failAt {
		return nil, sr.NewError(sr.KindServiceUnavailable, `flakyTable.Put`, fmt.Sprintf(`put %d failed`, n))
	}

	return t.Table.Put(ctx, table, entries...)
}

func TestRegistry_ChunkedSchema(t *testing.T) {
	ctx := context.Background()

	blob := make([]byte, 10<<20)
	for i := range blob {
		blob[i] = byte(i % 251)
	}
	big := sr.SchemaInfo{Type: `com.example.Big`, Format: mustFormat(t, `blob`), Schema: blob}

	// put 1 creates the group, puts 2 to 4 write the chunks, put 5 commits the schema
	table := &flakyTable{Table: NewMemoryTable(4 << 20), failAt: 4}
	reg := setupRegistry(t, table, GroupProperties{Format: sr.Any})

	if reg.chunkSize != 4<<20 {
		t.Fatalf(`need chunk size %d, have %d`, 4<<20, reg.chunkSize)
	}

	if _, err := reg.RegisterSchema(ctx, testGroup, big); !errors.Is(err, sr.ErrServiceUnavailable) {
		t.Fatalf(`need %v, have %v`, sr.ErrServiceUnavailable, err)
	}

	for chunk, want := range []bool{true, true, false} {
		have, err := reg.exists(ctx, testGroup, SchemaIDChunkKey{ID: 0, Chunk: int32(chunk)})
		if err != nil {
			t.Fatal(err)
		}
		if have != want {
			t.Errorf(`chunk %d: need present=%v, have %v`, chunk, want, have)
		}
	}

	if _, err := reg.GetSchemaByID(ctx, testGroup, 0); !errors.Is(err, sr.ErrNotFound) {
		t.Errorf(`read with 2 of 3 chunks: need %v, have %v`, sr.ErrNotFound, err)
	}

	if _, err := reg.GetVersionForSchema(ctx, testGroup, big); !errors.Is(err, sr.ErrNotFound) {
		t.Errorf(`need %v, have %v`, sr.ErrNotFound, err)
	}

	v, err := reg.RegisterSchema(ctx, testGroup, big)
	if err != nil {
		t.Fatal(err)
	}

	info, err := reg.GetSchemaByID(ctx, testGroup, v.ID)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(info.Schema, blob) {
		t.Errorf(`assembled schema of %d bytes differs from the written %d bytes`, len(info.Schema), len(blob))
	}

	rec, err := readAs[SchemaRecord](ctx, reg, testGroup, SchemaIDKey{ID: v.ID})
	if err != nil {
		t.Fatal(err)
	}

	if rec.Chunks != 3 {
		t.Errorf(`need 3 chunks, have %d`, rec.Chunks)
	}

	key, err := reg.records.Serialize(SchemaIDChunkKey{ID: v.ID, Chunk: 2})
	if err != nil {
		t.Fatal(err)
	}

	if err := table.Delete(ctx, testGroup, Entry{Key: key, Version: AnyVersion}); err != nil {
		t.Fatal(err)
	}

	_, err = reg.GetSchemaByID(ctx, testGroup, v.ID)
	if !errors.Is(err, sr.ErrPartialChunkSet) || !errors.Is(err, sr.ErrNotFound) || !sr.IsRetryable(err) {
		t.Errorf(`need a retryable %v, have %v`, sr.ErrPartialChunkSet, err)
	}
}

func TestNewRegistry_ChunkSize(t *testing.T) {
	for _, size := range []int{-1, DefaultMaxEntrySize + 1} {
		if _, err := NewRegistry(NewMemoryTable(0), WithChunkSize(size)); !errors.Is(err, sr.ErrConfiguration) {
			t.Errorf(`chunk size %d: need %v, have %v`, size, sr.ErrConfiguration, err)
		}
	}
}
