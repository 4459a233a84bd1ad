package segmap

import (
	"encoding/binary"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hupe1980/segmap/internal/engine"
	"github.com/hupe1980/segmap/internal/fs"
	"github.com/hupe1980/segmap/resource"
)

const (
	// MinSegmentSize is the smallest segment size. Smaller requests are raised to it.
	MinSegmentSize = 1 << 7

	// MaxSegmentSize is the largest segment size. The header stores the size
	// as an int32, so larger requests are lowered to it.
	MaxSegmentSize = 1 << 30

	// DefaultSegmentSize is the segment size used when none is configured.
	DefaultSegmentSize = 1 << 20

	// DefaultRetryDelay is the pause before retrying a failed segment map.
	DefaultRetryDelay = engine.DefaultRetryDelay
)

type options struct {
	segmentSize        int
	byteOrder          binary.ByteOrder
	readOnly           bool
	growth             GrowthMode
	retryDelay         time.Duration
	metricsCollector   MetricsCollector
	logger             *Logger
	resourceController *resource.Controller
	pathResolver       func(location, name string) string
	renameCheck        func(fromPath, toPath string) bool

	fsys  fs.FileSystem
	mapFn engine.MapFunc
}

// Option configures a Store.
type Option func(*options)

// WithSegmentSize sets the segment size in bytes. The value is rounded down
// to a power of two and clamped to [MinSegmentSize, MaxSegmentSize]. A store that is
// loaded from an existing file adopts the persisted segment size instead.
func WithSegmentSize(size int) Option {
	return func(o *options) {
		o.segmentSize = size
	}
}

// WithByteOrder sets the byte order of the fixed-width accessors.
// If nil is passed, binary.LittleEndian is used.
func WithByteOrder(order binary.ByteOrder) Option {
	return func(o *options) {
		if order == nil {
			order = binary.LittleEndian
		}
		o.byteOrder = order
	}
}

// WithReadOnly opens the backing file read-only and maps segments without
// write permission. Writes through the accessors panic with ErrReadOnly.
func WithReadOnly() Option {
	return func(o *options) {
		o.readOnly = true
	}
}

// WithGrowth selects how capacity growth maps new segments.
func WithGrowth(mode GrowthMode) Option {
	return func(o *options) {
		o.growth = mode
	}
}

// WithRetryDelay sets the pause before the single retry of a failed segment
// map. Defaults to 5ms.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) {
		o.retryDelay = d
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &segmap.BasicMetricsCollector{}
//	st := segmap.New("./data", "graph", segmap.WithMetricsCollector(metrics))
//	// ... use st ...
//	stats := metrics.GetStats()
//	fmt.Printf("Flushes: %d, Avg latency: %dns\n", stats.FlushCount, stats.FlushAvgNanos)
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
//	logger := segmap.NewJSONLogger(slog.LevelInfo)
//	st := segmap.New("./data", "graph", segmap.WithLogger(logger))
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

// WithResourceController shares mapped-memory, flush-worker and backup I/O
// budgets between stores.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resourceController = rc
	}
}

// WithPathResolver sets how a location and a name become a file path.
// Defaults to filepath.Join.
func WithPathResolver(fn func(location, name string) string) Option {
	return func(o *options) {
		if fn != nil {
			o.pathResolver = fn
		}
	}
}

// WithRenameCheck sets the precondition Rename evaluates before renaming.
// When it returns false, Rename does nothing.
func WithRenameCheck(fn func(fromPath, toPath string) bool) Option {
	return func(o *options) {
		if fn != nil {
			o.renameCheck = fn
		}
	}
}

// withFileSystem replaces the file system. Used by tests to inject faults.
func withFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fsys = fsys
	}
}

// withMapFunc replaces the OS mapping call. Used by tests to inject faults.
func withMapFunc(fn engine.MapFunc) Option {
	return func(o *options) {
		o.mapFn = fn
	}
}

func defaultRenameCheck(fsys fs.FileSystem) func(string, string) bool {
	return func(fromPath, toPath string) bool {
		if toPath == "" || filepath.Clean(fromPath) == filepath.Clean(toPath) {
			return false
		}
		_, err := fsys.Stat(toPath)
		return os.IsNotExist(err)
	}
}

func joinPath(location, name string) string {
	return filepath.Join(location, name)
}

func applyOptions(optFns []Option) options {
	o := options{
		segmentSize:      DefaultSegmentSize,
		byteOrder:        binary.LittleEndian,
		growth:           GrowthDefault,
		retryDelay:       DefaultRetryDelay,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		pathResolver:     joinPath,
		fsys:             fs.Default,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.renameCheck == nil {
		o.renameCheck = defaultRenameCheck(o.fsys)
	}
	return o
}
