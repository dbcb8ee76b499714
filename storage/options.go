package storage

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tryfix/log"
)

type options struct {
	logger    log.Logger
	validator Validator
	chunkSize int
	backOff   func() backoff.BackOff
}

// Option is a type to host NewRegistry configurations
type Option func(*options)

// WithLogger returns a Configurations to create a NewRegistry with given PrefixedLogger
func WithLogger(logger log.Logger) Option {
	return func(options *options) {
		options.logger = logger
	}
}

// WithValidator checks new schemas with v in addition to the built-in group rules.
func WithValidator(v Validator) Option {
	return func(options *options) {
		options.validator = v
	}
}

// WithChunkSize splits schema blobs into chunks of at most size bytes. Defaults to the
// table's MaxEntrySize.
func WithChunkSize(size int) Option {
	return func(options *options) {
		options.chunkSize = size
	}
}

// WithBackOff sets the retry schedule of mutations that lost an etag race. newBackOff is called
// once per operation.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(options *options) {
		options.backOff = newBackOff
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	// retry until the operation's context ends
	b.MaxElapsedTime = 0
	return b
}
