package schemaregistry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tryfix/log"
)

type options struct {
	logger              log.Logger
	metrics             prometheus.Registerer
	codec               Codec
	decoders            map[string]DecoderFunc
	registerSchema      bool
	registerCodec       bool
	writeEncodingHeader bool
}

// Option is a type to host serializer and cache configurations
type Option func(*options)

// WithLogger returns a Configurations to log through the given logger
func WithLogger(logger log.Logger) Option {
	return func(options *options) {
		options.logger = logger
	}
}

// WithMetrics registers encoding cache counters with reg
func WithMetrics(reg prometheus.Registerer) Option {
	return func(options *options) {
		options.metrics = reg
	}
}

// WithCodec sets the codec serializers transform payloads with. Defaults to NoneCodec
func WithCodec(codec Codec) Option {
	return func(options *options) {
		options.codec = codec
	}
}

// WithDecoder adds a decoder for a custom codec name. Built-in codecs are always decodable
func WithDecoder(name string, decoder DecoderFunc) Option {
	return func(options *options) {
		options.decoders[name] = decoder
	}
}

// WithRegisterSchema controls whether serializers register their schema (default) or require it
// to be registered already
func WithRegisterSchema(register bool) Option {
	return func(options *options) {
		options.registerSchema = register
	}
}

// WithRegisterCodec controls whether serializers add their codec type to the group (default)
func WithRegisterCodec(register bool) Option {
	return func(options *options) {
		options.registerCodec = register
	}
}

// WithoutEncodingHeader disables header tagging. No serializer supports this configuration and
// every constructor fails with a configuration error.
func WithoutEncodingHeader() Option {
	return func(options *options) {
		options.writeEncodingHeader = false
	}
}

func newOptions(opts ...Option) *options {
	o := &options{
		codec:               NoneCodec,
		decoders:            make(map[string]DecoderFunc),
		registerSchema:      true,
		registerCodec:       true,
		writeEncodingHeader: true,
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		o.logger = log.NewNoopLogger()
	}

	return o
}

// Config is shared by the serializers and deserializers of one group.
type Config struct {
	group   string
	client  Client
	options *options
}

// NewConfig returns a serializer configuration for group backed by client.
func NewConfig(group string, client Client, opts ...Option) *Config {
	return &Config{
		group:   group,
		client:  client,
		options: newOptions(opts...),
	}
}

// Group returns the configured group id.
func (c *Config) Group() string { return c.group }

func (c *Config) validate(op string) error {
	if !c.options.writeEncodingHeader {
		return NewError(KindConfiguration, op, `events should be tagged with encoding ids`)
	}

	if c.group == `` {
		return NewError(KindConfiguration, op, `group id is required`)
	}

	if c.client == nil {
		return NewError(KindConfiguration, op, `registry client is required`)
	}

	return nil
}

// newCache returns a fresh encoding cache owned by the caller.
func (c *Config) newCache() *EncodingCache {
	return newEncodingCache(c.group, c.client, c.options)
}
