package schemaregistry

import "context"

// Client is the registry surface the serializers depend on. Every call is a blocking, possibly
// remote operation; implementations return *Error values of kind NotFound, GroupNotFound,
// SchemaValidationFailed, EncodingNotFound, Unauthorized or ServiceUnavailable.
type Client interface {
	// RegisterSchema adds schema to group, returning the existing version if it was registered before.
	RegisterSchema(ctx context.Context, group string, schema SchemaInfo) (VersionInfo, error)
	// GetVersionForSchema returns the version of an already registered schema.
	GetVersionForSchema(ctx context.Context, group string, schema SchemaInfo) (VersionInfo, error)
	GetSchemaByID(ctx context.Context, group string, id int32) (SchemaInfo, error)
	// AddCodecType registers a codec type with group. Adding a known codec is a no-op.
	AddCodecType(ctx context.Context, group string, codec CodecType) error
	// GetOrCreateEncodingID returns the id of (version, codec), minting it on first use.
	GetOrCreateEncodingID(ctx context.Context, group string, version VersionInfo, codec CodecType) (EncodingID, error)
	// GetEncodingInfo resolves id. The result for an id never changes.
	GetEncodingInfo(ctx context.Context, group string, id EncodingID) (EncodingInfo, error)
}
