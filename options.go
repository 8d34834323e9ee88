package offheap

import (
	"log/slog"

	"github.com/hupe1980/offheap/internal/fs"
	"github.com/hupe1980/offheap/resource"
)

type options struct {
	heap             *Heap
	resources        *resource.Controller
	fileSystem       fs.FileSystem
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures handle and file-backed value constructors.
type Option func(*options)

// WithHeap selects the heap a Handle allocates from and releases to.
//
// If nil is passed, the process-global DefaultHeap is used.
func WithHeap(h *Heap) Option {
	return func(o *options) {
		if h == nil {
			h = DefaultHeap()
		}
		o.heap = h
	}
}

// WithResourceController throttles Flush and WriteTo of file-backed values
// through the controller's IO limit.
//
// Memory budgets belong to the heap; see WithMemoryLimit.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// WithFileSystem configures the file system used by OpenFile and AttachFile.
//
// If nil is passed, the local file system is used.
func WithFileSystem(fsys FileSystem) Option {
	return func(o *options) {
		if fsys == nil {
			fsys = fs.Default
		}
		o.fileSystem = fsys
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &offheap.BasicMetricsCollector{}
//	h := offheap.New(value, offheap.WithMetricsCollector(metrics))
//	defer h.Release()
//	fmt.Println("live handles:", metrics.LiveHandles())
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := offheap.NewJSONLogger(slog.LevelDebug)
//	v, _ := offheap.Map(f, initial, offheap.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		fileSystem:       fs.Default,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.heap == nil {
		o.heap = DefaultHeap()
	}
	return o
}
