package imgmatch

import (
	"log/slog"
	"runtime"

	"github.com/hupe1980/imgmatch/codec"
	"github.com/hupe1980/imgmatch/index"
	"github.com/hupe1980/imgmatch/index/bktree"
	"github.com/hupe1980/imgmatch/persistence"
	"github.com/hupe1980/imgmatch/resource"
)

type options struct {
	logger               *Logger
	metricsCollector     MetricsCollector
	indexFactory         index.Factory
	parallelism          int
	maxConcurrentMatches int64
	ioLimit              int64
	memoryLimit          int64
	codec                codec.Codec
	compression          persistence.Compression
}

// Option configures a Matcher at construction or load time.
type Option func(*options)

// WithLogger sets the logger. If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithLogLevel installs a text logger writing to stderr at the given level.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector sets the metrics collector.
// If nil is passed, metrics collection is disabled.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithIndexFactory selects the index implementation used for each algorithm.
// The default is bktree.Factory.
//
// Example:
//
//	m := imgmatch.New(imgmatch.WithIndexFactory(flat.Factory))
func WithIndexFactory(f index.Factory) Option {
	return func(o *options) {
		if f != nil {
			o.indexFactory = f
		}
	}
}

// WithParallelism bounds how many pipeline stages are evaluated at once for
// a single match or add. 1 evaluates stages in order and stops as soon as no
// candidate survives. Defaults to GOMAXPROCS.
func WithParallelism(n int) Option {
	return func(o *options) {
		o.parallelism = n
	}
}

// WithMaxConcurrentMatches bounds the number of Match calls evaluated at once.
// Excess callers block until a slot frees up or their context is done.
// 0 means unlimited.
func WithMaxConcurrentMatches(n int64) Option {
	return func(o *options) {
		o.maxConcurrentMatches = n
	}
}

// WithIOLimit throttles snapshot reads and writes to bytesPerSec.
// 0 means unlimited.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.ioLimit = bytesPerSec
	}
}

// WithMemoryLimit bounds the memory reserved for snapshot state while saving.
// A save that needs more than the limit fails. 0 means unlimited.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimit = bytes
	}
}

// WithCodec configures the codec used to encode snapshot payloads.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithCompression sets the snapshot payload compression. Defaults to zstd.
func WithCompression(c persistence.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		indexFactory: bktree.Factory,
		parallelism:  runtime.GOMAXPROCS(0),
		codec:        codec.Default,
		compression:  persistence.CompressionZstd,
	}

	for _, fn := range optFns {
		if fn == nil {
			continue
		}
		fn(&o)
	}

	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}

	return o
}

func (o options) resources() *resource.Controller {
	if o.maxConcurrentMatches <= 0 && o.ioLimit <= 0 && o.memoryLimit <= 0 {
		return nil
	}
	return resource.NewController(resource.Config{
		MaxConcurrentMatches: o.maxConcurrentMatches,
		MemoryLimitBytes:     o.memoryLimit,
		IOLimitBytesPerSec:   o.ioLimit,
	})
}

func (o options) persistenceOptions(rc *resource.Controller) persistence.Options {
	po := persistence.Options{
		Codec:       o.codec,
		Compression: o.compression,
	}
	if o.ioLimit > 0 {
		po.IO = rc
	}
	return po
}
