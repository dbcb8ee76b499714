package schemaregistry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// fakeClient is an in-process Client keeping every group in one namespace.
type fakeClient struct {
	mu        sync.Mutex
	schemas   []SchemaInfo
	versions  []VersionInfo
	codecs    map[string]CodecType
	encodings []EncodingInfo

	infoCalls int32
	// gate, when set, blocks GetEncodingInfo until it is closed
	gate chan struct{}
	// failures is the number of GetEncodingInfo calls that fail before calls succeed
	failures int32
}

func newFakeClient() *fakeClient {
	return &fakeClient{codecs: map[string]CodecType{CodecTypeNone.Name(): CodecTypeNone}}
}

func (c *fakeClient) RegisterSchema(ctx context.Context, group string, schema SchemaInfo) (VersionInfo, error) {
	if v, err := c.GetVersionForSchema(ctx, group, schema); err == nil {
		return v, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var version int32
	for _, v := range c.versions {
		if v.Type == schema.Type && v.Version >= version {
			version = v.Version + 1
		}
	}

	v := VersionInfo{Type: schema.Type, Version: version, ID: int32(len(c.schemas))}
	c.schemas = append(c.schemas, schema)
	c.versions = append(c.versions, v)

	return v, nil
}

func (c *fakeClient) GetVersionForSchema(_ context.Context, _ string, schema SchemaInfo) (VersionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, s := range c.schemas {
		if s.Equal(schema) {
			return c.versions[i], nil
		}
	}

	return VersionInfo{}, NewError(KindNotFound, `fakeClient.GetVersionForSchema`, schema.Type)
}

func (c *fakeClient) GetSchemaByID(_ context.Context, _ string, id int32) (SchemaInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id < 0 || int(id) >= len(c.schemas) {
		return SchemaInfo{}, NewError(KindNotFound, `fakeClient.GetSchemaByID`, fmt.Sprint(id))
	}

	return c.schemas[id], nil
}

func (c *fakeClient) AddCodecType(_ context.Context, _ string, codec CodecType) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.codecs[codec.Name()] = codec
	return nil
}

func (c *fakeClient) GetOrCreateEncodingID(_ context.Context, _ string, version VersionInfo, codec CodecType) (EncodingID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.codecs[codec.Name()]; !ok {
		return 0, NewError(KindUnsupportedCodec, `fakeClient.GetOrCreateEncodingID`, codec.String())
	}

	for i, e := range c.encodings {
		if e.VersionInfo == version && e.CodecType.Equal(codec) {
			return EncodingID(i), nil
		}
	}

	c.encodings = append(c.encodings, EncodingInfo{
		VersionInfo: version,
		SchemaInfo:  c.schemas[version.ID],
		CodecType:   codec,
	})

	return EncodingID(len(c.encodings) - 1), nil
}

func (c *fakeClient) GetEncodingInfo(_ context.Context, _ string, id EncodingID) (EncodingInfo, error) {
	atomic.AddInt32(&c.infoCalls, 1)

	if c.gate != nil {
		<-c.gate
	}

	if atomic.AddInt32(&c.failures, -1) >= 0 {
		return EncodingInfo{}, NewError(KindServiceUnavailable, `fakeClient.GetEncodingInfo`, `registry offline`)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if id < 0 || int(id) >= len(c.encodings) {
		return EncodingInfo{}, NewError(KindEncodingNotFound, `fakeClient.GetEncodingInfo`, fmt.Sprint(id))
	}

	return c.encodings[id], nil
}

func (c *fakeClient) calls() int32 {
	return atomic.LoadInt32(&c.infoCalls)
}
