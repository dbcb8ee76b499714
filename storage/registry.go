package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"

	"github.com/cenkalti/backoff/v4"
	"github.com/cespare/xxhash/v2"
	"github.com/olekukonko/tablewriter"
	"github.com/tryfix/log"
	sr "github.com/tryfix/schemaregistry/v3"
)

// Registry keeps the schemas, codecs and encodings of every group in a Table, one table per
// group. Every mutation is a batch conditional on the group etag; a mutation that loses the
// race re-reads the group and retries until it succeeds, fails for good or its context ends.
type Registry struct {
	table     Table
	records   *RecordSerializer
	etagKey   []byte
	chunkSize int
	validator Validator
	backOff   func() backoff.BackOff
	logger    log.Logger
}

var _ sr.Client = (*Registry)(nil)

// NewRegistry returns a registry persisting groups in table.
func NewRegistry(table Table, opts ...Option) (*Registry, error) {
	o := new(options)
	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		o.logger = log.NewNoopLogger()
	}

	if o.validator == nil {
		o.validator = acceptAll{}
	}

	if o.backOff == nil {
		o.backOff = defaultBackOff
	}

	if o.chunkSize == 0 {
		o.chunkSize = table.MaxEntrySize()
	}

	if o.chunkSize < 1 || o.chunkSize > table.MaxEntrySize() {
		return nil, sr.NewError(sr.KindConfiguration, `storage.NewRegistry`,
			fmt.Sprintf(`chunk size %d must be within 1 and %d`, o.chunkSize, table.MaxEntrySize()))
	}

	records := NewRecordSerializer()
	etagKey, err := records.Serialize(EtagKey{})
	if err != nil {
		return nil, err
	}

	return &Registry{
		table:     table,
		records:   records,
		etagKey:   etagKey,
		chunkSize: o.chunkSize,
		validator: o.validator,
		backOff:   o.backOff,
		logger:    o.logger.NewLog(log.Prefixed(`Registry`)),
	}, nil
}

// mutate runs fn until it succeeds or fails with anything but a lost etag race.
func (r *Registry) mutate(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, sr.ErrConcurrentModification) {
			r.logger.Debug(fmt.Sprintf(`%s lost an etag race on attempt %d, retrying`, op, attempt))
			return err
		}

		return backoff.Permanent(err)
	}, backoff.WithContext(r.backOff(), ctx))

	if err != nil && sr.KindOf(err) == sr.KindUnknown && ctx.Err() != nil {
		return sr.WrapError(sr.KindServiceUnavailable, op, err, fmt.Sprintf(`gave up after %d attempts`, attempt))
	}

	return err
}

// CreateGroup creates group with the given properties, failing with GroupExists if it exists.
func (r *Registry) CreateGroup(ctx context.Context, group string, props GroupProperties) error {
	if group == `` {
		return sr.NewError(sr.KindConfiguration, `registry.CreateGroup`, `group id is required`)
	}

	if props.Format.Kind() == 0 {
		return sr.NewError(sr.KindConfiguration, `registry.CreateGroup`, fmt.Sprintf(`group [%s] requires a serialization format`, group))
	}

	if err := r.table.CreateTable(ctx, group); err != nil {
		return err
	}

	b := r.newBatch()
	b.put(GroupPropertyKey{}, GroupPropertiesRecord{
		Format:             props.Format,
		AllowMultipleTypes: props.AllowMultipleTypes,
		Properties:         maps.Clone(props.Properties),
	})
	b.put(ValidationPolicyKey{}, ValidationPolicyRecord{Policy: props.Policy})
	b.put(LatestSchemasKey{}, LatestSchemasRecord{})

	if _, err := r.commit(ctx, group, NotExists, b); err != nil {
		return err
	}

	r.logger.Info(fmt.Sprintf(`group [%s] created with format [%s] and policy [%s]`, group, props.Format, props.Policy.Compatibility))

	return nil
}

func (r *Registry) DeleteGroup(ctx context.Context, group string) error {
	if err := r.table.DeleteTable(ctx, group); err != nil {
		return err
	}

	r.logger.Info(fmt.Sprintf(`group [%s] deleted`, group))

	return nil
}

func (r *Registry) GetGroupProperties(ctx context.Context, group string) (GroupProperties, error) {
	props, err := readAs[GroupPropertiesRecord](ctx, r, group, GroupPropertyKey{})
	if err != nil {
		return GroupProperties{}, groupErr(err, group)
	}

	policy, err := readAs[ValidationPolicyRecord](ctx, r, group, ValidationPolicyKey{})
	if err != nil {
		return GroupProperties{}, groupErr(err, group)
	}

	return GroupProperties{
		Format:             props.Format,
		AllowMultipleTypes: props.AllowMultipleTypes,
		Policy:             policy.Policy,
		Properties:         props.Properties,
	}, nil
}

// GetEtag returns the current etag of group, for use with UpdateValidationPolicy.
func (r *Registry) GetEtag(ctx context.Context, group string) (Etag, error) {
	v, err := r.etag(ctx, group)
	if err != nil {
		return Etag{}, err
	}

	return Etag{version: v}, nil
}

func (r *Registry) GetValidationPolicy(ctx context.Context, group string) (ValidationPolicy, error) {
	rec, err := readAs[ValidationPolicyRecord](ctx, r, group, ValidationPolicyKey{})
	if err != nil {
		return ValidationPolicy{}, groupErr(err, group)
	}

	return rec.Policy, nil
}

// UpdateValidationPolicy replaces the policy of group if its etag is still etag. A stale etag
// fails with ConcurrentModification and is not retried.
func (r *Registry) UpdateValidationPolicy(ctx context.Context, group string, policy ValidationPolicy, etag Etag) error {
	b := r.newBatch()
	b.put(ValidationPolicyKey{}, ValidationPolicyRecord{Policy: policy})

	if _, err := r.commit(ctx, group, etag.version, b); err != nil {
		return err
	}

	r.logger.Info(fmt.Sprintf(`group [%s] policy updated to [%s]`, group, policy.Compatibility))

	return nil
}

// RegisterSchema adds schema to group. A schema registered before yields its existing version.
func (r *Registry) RegisterSchema(ctx context.Context, group string, schema sr.SchemaInfo) (sr.VersionInfo, error) {
	if schema.Type == `` {
		return sr.VersionInfo{}, sr.NewError(sr.KindSchemaValidationFailed, `registry.RegisterSchema`, `schema type name is required`)
	}

	switch schema.Format.Kind() {
	case 0, sr.FormatKindAny:
		return sr.VersionInfo{}, sr.NewError(sr.KindSchemaValidationFailed, `registry.RegisterSchema`,
			fmt.Sprintf(`schema [%s] has no concrete format`, schema.Type))
	}

	var out sr.VersionInfo
	err := r.mutate(ctx, `registry.RegisterSchema`, func() error {
		etag, err := r.etag(ctx, group)
		if err != nil {
			return err
		}

		existing, ok, err := r.lookup(ctx, group, schema)
		if err != nil {
			return err
		}
		if ok {
			out = existing
			return nil
		}

		latest, err := r.validate(ctx, group, schema)
		if err != nil {
			return err
		}

		id := latest.NextID
		version := sr.VersionInfo{Type: schema.Type, ID: id}
		if prev, ok := latest.ByType[schema.Type]; ok {
			version.Version = prev.Version + 1
		}

		etag, err = r.writeChunks(ctx, group, etag, id, schema.Schema)
		if err != nil {
			return err
		}

		fingerprint := xxhash.Sum64(schema.Schema)
		ids, _, err := readOrZero[SchemaIDList](ctx, r, group, SchemaFingerprintKey{Fingerprint: fingerprint})
		if err != nil {
			return err
		}

		byType := maps.Clone(latest.ByType)
		if byType == nil {
			byType = make(map[string]sr.VersionInfo)
		}
		byType[schema.Type] = version

		b := r.newBatch()
		b.put(SchemaIDKey{ID: id}, SchemaRecord{
			Version:     version,
			Format:      schema.Format,
			Properties:  maps.Clone(schema.Properties),
			Chunks:      int32(len(splitChunks(schema.Schema, r.chunkSize))),
			Size:        int64(len(schema.Schema)),
			Fingerprint: fingerprint,
		})
		b.put(SchemaFingerprintKey{Fingerprint: fingerprint}, SchemaIDList{IDs: append(ids.IDs, id)})
		b.put(IndexTypeVersionToIDKey{Type: schema.Type, Version: version.Version}, SchemaIDKey{ID: id})
		b.put(LatestSchemasKey{}, LatestSchemasRecord{NextID: id + 1, ByType: byType})

		if _, err := r.commit(ctx, group, etag, b); err != nil {
			return err
		}

		out = version
		r.logger.Info(fmt.Sprintf(`schema %s registered in group [%s]`, version, group))

		return nil
	})

	return out, err
}

// validate applies the group rules and the validator to a new schema and returns the latest
// schemas record it was checked against.
func (r *Registry) validate(ctx context.Context, group string, schema sr.SchemaInfo) (LatestSchemasRecord, error) {
	props, err := r.GetGroupProperties(ctx, group)
	if err != nil {
		return LatestSchemasRecord{}, err
	}

	latest, err := readAs[LatestSchemasRecord](ctx, r, group, LatestSchemasKey{})
	if err != nil {
		return LatestSchemasRecord{}, err
	}

	reject := func(msg string) error {
		return sr.NewError(sr.KindSchemaValidationFailed, `registry.RegisterSchema`, msg)
	}

	if props.Format.Kind() != sr.FormatKindAny && props.Format != schema.Format {
		return latest, reject(fmt.Sprintf(`group [%s] accepts [%s] schemas, got [%s]`, group, props.Format, schema.Format))
	}

	if !props.AllowMultipleTypes {
		for typ := range latest.ByType {
			if typ != schema.Type {
				return latest, reject(fmt.Sprintf(`group [%s] holds type [%s] and does not allow [%s]`, group, typ, schema.Type))
			}
		}
	}

	prev, hasPrev := latest.ByType[schema.Type]
	if props.Policy.Compatibility == DenyAll && hasPrev {
		return latest, reject(fmt.Sprintf(`group [%s] denies new versions of [%s]`, group, schema.Type))
	}

	var previous []sr.SchemaInfo
	if hasPrev {
		for v := prev.Version; v >= 0; v-- {
			info, err := r.GetSchemaForVersion(ctx, group, schema.Type, v)
			if errors.Is(err, sr.ErrNotFound) && !errors.Is(err, sr.ErrPartialChunkSet) {
				continue
			}
			if err != nil {
				return latest, err
			}
			previous = append(previous, info)
		}
	}

	if err := r.validator.Validate(ctx, props.Policy, schema, previous); err != nil {
		return latest, sr.WrapError(sr.KindSchemaValidationFailed, `registry.RegisterSchema`, err,
			fmt.Sprintf(`schema [%s] rejected by policy [%s]`, schema.Type, props.Policy.Compatibility))
	}

	return latest, nil
}

// lookup finds the live version of a schema equal to schema.
func (r *Registry) lookup(ctx context.Context, group string, schema sr.SchemaInfo) (sr.VersionInfo, bool, error) {
	fingerprint := xxhash.Sum64(schema.Schema)
	ids, ok, err := readOrZero[SchemaIDList](ctx, r, group, SchemaFingerprintKey{Fingerprint: fingerprint})
	if err != nil || !ok {
		return sr.VersionInfo{}, false, err
	}

	for _, id := range ids.IDs {
		deleted, err := r.exists(ctx, group, VersionDeletedRecord{ID: id})
		if err != nil {
			return sr.VersionInfo{}, false, err
		}
		if deleted {
			continue
		}

		rec, err := readAs[SchemaRecord](ctx, r, group, SchemaIDKey{ID: id})
		if err != nil {
			return sr.VersionInfo{}, false, err
		}

		if rec.Version.Type != schema.Type || rec.Format != schema.Format || !maps.Equal(rec.Properties, schema.Properties) {
			continue
		}

		blob, err := r.readChunks(ctx, group, rec)
		if err != nil {
			return sr.VersionInfo{}, false, err
		}

		if bytes.Equal(blob, schema.Schema) {
			return rec.Version, true, nil
		}
	}

	return sr.VersionInfo{}, false, nil
}

func (r *Registry) GetVersionForSchema(ctx context.Context, group string, schema sr.SchemaInfo) (sr.VersionInfo, error) {
	v, ok, err := r.lookup(ctx, group, schema)
	if err != nil {
		return sr.VersionInfo{}, err
	}

	if !ok {
		return sr.VersionInfo{}, sr.NewError(sr.KindNotFound, `registry.GetVersionForSchema`,
			fmt.Sprintf(`schema [%s] is not registered in group [%s]`, schema.Type, group))
	}

	return v, nil
}

// GetSchemaByID returns the schema registered under id. Deleted versions still resolve by id.
func (r *Registry) GetSchemaByID(ctx context.Context, group string, id int32) (sr.SchemaInfo, error) {
	rec, err := readAs[SchemaRecord](ctx, r, group, SchemaIDKey{ID: id})
	if err != nil {
		return sr.SchemaInfo{}, err
	}

	blob, err := r.readChunks(ctx, group, rec)
	if err != nil {
		return sr.SchemaInfo{}, err
	}

	return sr.SchemaInfo{
		Type:       rec.Version.Type,
		Format:     rec.Format,
		Schema:     blob,
		Properties: rec.Properties,
	}, nil
}

// GetSchemaForVersion returns a live version of typ.
func (r *Registry) GetSchemaForVersion(ctx context.Context, group, typ string, version int32) (sr.SchemaInfo, error) {
	id, err := r.idOf(ctx, group, typ, version)
	if err != nil {
		return sr.SchemaInfo{}, err
	}

	return r.GetSchemaByID(ctx, group, id)
}

func (r *Registry) idOf(ctx context.Context, group, typ string, version int32) (int32, error) {
	key, err := readAs[SchemaIDKey](ctx, r, group, IndexTypeVersionToIDKey{Type: typ, Version: version})
	if err != nil {
		return 0, err
	}

	deleted, err := r.exists(ctx, group, VersionDeletedRecord{ID: key.ID})
	if err != nil {
		return 0, err
	}

	if deleted {
		return 0, sr.NewError(sr.KindNotFound, `registry.GetSchemaForVersion`, fmt.Sprintf(`%s[v%d] is deleted`, typ, version))
	}

	return key.ID, nil
}

// GetLatestSchemas returns the latest live version of every type of group, ordered by type.
func (r *Registry) GetLatestSchemas(ctx context.Context, group string) ([]sr.VersionInfo, error) {
	latest, err := readAs[LatestSchemasRecord](ctx, r, group, LatestSchemasKey{})
	if err != nil {
		return nil, groupErr(err, group)
	}

	var out []sr.VersionInfo
	for _, typ := range sortedKeys(latest.ByType) {
		for v := latest.ByType[typ].Version; v >= 0; v-- {
			id, err := r.idOf(ctx, group, typ, v)
			if errors.Is(err, sr.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}

			out = append(out, sr.VersionInfo{Type: typ, Version: v, ID: id})
			break
		}
	}

	return out, nil
}

// DeleteSchemaVersion tombstones a version. Its id keeps resolving so encoded events stay
// readable. Registering the same schema again creates a new version.
func (r *Registry) DeleteSchemaVersion(ctx context.Context, group, typ string, version int32) error {
	return r.mutate(ctx, `registry.DeleteSchemaVersion`, func() error {
		etag, err := r.etag(ctx, group)
		if err != nil {
			return err
		}

		key, err := readAs[SchemaIDKey](ctx, r, group, IndexTypeVersionToIDKey{Type: typ, Version: version})
		if err != nil {
			return err
		}

		deleted, err := r.exists(ctx, group, VersionDeletedRecord{ID: key.ID})
		if err != nil || deleted {
			return err
		}

		b := r.newBatch()
		b.putRaw(VersionDeletedRecord{ID: key.ID}, nil)
		if _, err := r.commit(ctx, group, etag, b); err != nil {
			return err
		}

		r.logger.Info(fmt.Sprintf(`%s[v%d] of group [%s] deleted`, typ, version, group))

		return nil
	})
}

// AddCodecType registers codec with group. None is always known.
func (r *Registry) AddCodecType(ctx context.Context, group string, codec sr.CodecType) error {
	if codec.Kind() == sr.CodecKindNone {
		_, err := r.etag(ctx, group)
		return err
	}

	return r.mutate(ctx, `registry.AddCodecType`, func() error {
		etag, err := r.etag(ctx, group)
		if err != nil {
			return err
		}

		existing, ok, err := readOrZero[CodecTypeRecord](ctx, r, group, CodecTypeKey{Name: codec.Name()})
		if err != nil {
			return err
		}

		if ok {
			if existing.Codec.Equal(codec) {
				return nil
			}

			return sr.NewError(sr.KindConfiguration, `registry.AddCodecType`,
				fmt.Sprintf(`codec [%s] is registered with other properties`, codec.Name()))
		}

		list, _, err := readOrZero[CodecTypesList](ctx, r, group, CodecTypesKey{})
		if err != nil {
			return err
		}

		b := r.newBatch()
		b.put(CodecTypeKey{Name: codec.Name()}, CodecTypeRecord{Codec: codec})
		b.put(CodecTypesKey{}, CodecTypesList{Names: append(list.Names, codec.Name())})
		if _, err := r.commit(ctx, group, etag, b); err != nil {
			return err
		}

		r.logger.Info(fmt.Sprintf(`codec [%s] added to group [%s]`, codec, group))

		return nil
	})
}

// GetCodecTypes returns None followed by the codecs added to group in order.
func (r *Registry) GetCodecTypes(ctx context.Context, group string) ([]sr.CodecType, error) {
	if _, err := r.etag(ctx, group); err != nil {
		return nil, err
	}

	list, _, err := readOrZero[CodecTypesList](ctx, r, group, CodecTypesKey{})
	if err != nil {
		return nil, err
	}

	out := []sr.CodecType{sr.CodecTypeNone}
	for _, name := range list.Names {
		rec, err := readAs[CodecTypeRecord](ctx, r, group, CodecTypeKey{Name: name})
		if err != nil {
			return nil, err
		}
		out = append(out, rec.Codec)
	}

	return out, nil
}

// GetOrCreateEncodingID returns the id of (version, codec), minting the next id on first use.
// version must be registered and codec must be added to group unless it is None.
func (r *Registry) GetOrCreateEncodingID(ctx context.Context, group string, version sr.VersionInfo, codec sr.CodecType) (sr.EncodingID, error) {
	if codec.Kind() == sr.CodecKindNone {
		codec = sr.CodecTypeNone
	}
	info := EncodingInfoRecord{Version: version, Codec: codec}

	var out sr.EncodingID
	err := r.mutate(ctx, `registry.GetOrCreateEncodingID`, func() error {
		etag, err := r.etag(ctx, group)
		if err != nil {
			return err
		}

		existing, ok, err := readOrZero[EncodingIDRecord](ctx, r, group, info)
		if err != nil {
			return err
		}
		if ok {
			out = existing.ID
			return nil
		}

		rec, err := readAs[SchemaRecord](ctx, r, group, SchemaIDKey{ID: version.ID})
		if errors.Is(err, sr.ErrNotFound) || (err == nil && rec.Version != version) {
			return sr.NewError(sr.KindNotFound, `registry.GetOrCreateEncodingID`,
				fmt.Sprintf(`%s is not registered in group [%s]`, version, group))
		}
		if err != nil {
			return err
		}

		if codec.Kind() != sr.CodecKindNone {
			known, ok, err := readOrZero[CodecTypeRecord](ctx, r, group, CodecTypeKey{Name: codec.Name()})
			if err != nil {
				return err
			}
			if !ok || !known.Codec.Equal(codec) {
				return sr.NewError(sr.KindUnsupportedCodec, `registry.GetOrCreateEncodingID`,
					fmt.Sprintf(`codec [%s] is not added to group [%s]`, codec, group))
			}
		}

		last, ok, err := readOrZero[EncodingIDRecord](ctx, r, group, LatestEncodingIDKey{})
		if err != nil {
			return err
		}

		next := EncodingIDRecord{}
		if ok {
			next.ID = last.ID + 1
		}

		b := r.newBatch()
		b.put(info, next)
		b.put(next, info)
		b.put(LatestEncodingIDKey{}, next)
		if _, err := r.commit(ctx, group, etag, b); err != nil {
			return err
		}

		out = next.ID
		r.logger.Info(fmt.Sprintf(`encoding id [%d] minted for %s with codec [%s] in group [%s]`, next.ID, version, codec, group))

		return nil
	})

	return out, err
}

func (r *Registry) GetEncodingInfo(ctx context.Context, group string, id sr.EncodingID) (sr.EncodingInfo, error) {
	rec, err := readAs[EncodingInfoRecord](ctx, r, group, EncodingIDRecord{ID: id})
	if errors.Is(err, sr.ErrNotFound) {
		return sr.EncodingInfo{}, sr.WrapError(sr.KindEncodingNotFound, `registry.GetEncodingInfo`, err,
			fmt.Sprintf(`encoding id [%d] of group [%s]`, id, group))
	}
	if err != nil {
		return sr.EncodingInfo{}, err
	}

	schema, err := r.GetSchemaByID(ctx, group, rec.Version.ID)
	if err != nil {
		return sr.EncodingInfo{}, err
	}

	return sr.EncodingInfo{
		VersionInfo: rec.Version,
		SchemaInfo:  schema,
		CodecType:   rec.Codec,
	}, nil
}

// ListEncodings returns every encoding minted in group.
func (r *Registry) ListEncodings(ctx context.Context, group string) (map[sr.EncodingID]sr.EncodingInfo, error) {
	if _, err := r.etag(ctx, group); err != nil {
		return nil, err
	}

	last, ok, err := readOrZero[EncodingIDRecord](ctx, r, group, LatestEncodingIDKey{})
	if err != nil || !ok {
		return map[sr.EncodingID]sr.EncodingInfo{}, err
	}

	out := make(map[sr.EncodingID]sr.EncodingInfo, last.ID+1)
	for id := sr.EncodingID(0); id <= last.ID; id++ {
		info, err := r.GetEncodingInfo(ctx, group, id)
		if err != nil {
			return nil, err
		}
		out[id] = info
	}

	return out, nil
}

// Print logs the encodings of group as a table.
func (r *Registry) Print(ctx context.Context, group string) error {
	encodings, err := r.ListEncodings(ctx, group)
	if err != nil {
		return err
	}

	ids := make([]int, 0, len(encodings))
	for id := range encodings {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	b := new(bytes.Buffer)
	table := tablewriter.NewWriter(b)
	table.SetHeader([]string{`encoding id`, `type`, `version`, `schema id`, `format`, `codec`, `schema bytes`})
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT})
	table.SetAutoFormatHeaders(true)
	for _, id := range ids {
		info := encodings[sr.EncodingID(id)]
		table.Append([]string{
			fmt.Sprint(id),
			info.VersionInfo.Type,
			fmt.Sprint(info.VersionInfo.Version),
			fmt.Sprint(info.VersionInfo.ID),
			info.SchemaInfo.Format.String(),
			info.CodecType.String(),
			fmt.Sprint(len(info.SchemaInfo.Schema)),
		})
	}
	table.Render()

	r.logger.Info(fmt.Sprintf("encodings of group [%s]\n%s", group, b.String()))

	return nil
}

// groupErr reports a missing group record as a missing group.
func groupErr(err error, group string) error {
	if errors.Is(err, sr.ErrNotFound) && !errors.Is(err, sr.ErrPartialChunkSet) {
		return sr.WrapError(sr.KindGroupNotFound, `registry`, err, fmt.Sprintf(`group [%s] is not initialized`, group))
	}

	return err
}
