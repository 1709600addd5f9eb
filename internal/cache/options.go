package cache

import "github.com/rs/zerolog"

const (
	// DefaultNodeChunkSize is the number of node entries per chunk of the growable
	// node arrays.
	DefaultNodeChunkSize = 1 << 20
	// DefaultGroupChunkSize is the number of group records per chunk of the group array.
	DefaultGroupChunkSize = 1 << 16
)

type options struct {
	nodeChunkSize  int64
	groupChunkSize int64
	logger         zerolog.Logger
}

// Option configures a cache.
type Option func(*options)

// WithNodeChunkSize sets how many node entries each chunk of a node array holds.
func WithNodeChunkSize(n int64) Option {
	return func(o *options) { o.nodeChunkSize = n }
}

// WithGroupChunkSize sets how many group records each chunk of the group array holds.
func WithGroupChunkSize(n int64) Option {
	return func(o *options) { o.groupChunkSize = n }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(component string, opts []Option) options {
	o := options{
		nodeChunkSize:  DefaultNodeChunkSize,
		groupChunkSize: DefaultGroupChunkSize,
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With().Str("component", component).Logger()
	return o
}
