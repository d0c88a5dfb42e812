package kmemgo

import (
	"log/slog"
)

type options struct {
	policy           HeapPolicy
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures SecureResource constructor behavior.
type Option func(*options)

// WithHeapPolicy configures how the secure region's pages are split between
// the page-table, memory-block and block-info heaps.
//
// The policy is validated during Initialize; invalid policies are rejected
// with ErrInvalidPolicy.
func WithHeapPolicy(policy HeapPolicy) Option {
	return func(o *options) {
		o.policy = policy
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &kmemgo.BasicMetricsCollector{}
//	sr := kmemgo.New(device, kmemgo.WithMetricsCollector(metrics))
//	// ... use sr ...
//	stats := metrics.GetStats()
//	fmt.Printf("Initializes: %d, Avg latency: %dns\n", stats.InitializeCount, stats.InitializeAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := kmemgo.NewJSONLogger(slog.LevelInfo)
//	sr := kmemgo.New(device, kmemgo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
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
		policy:           DefaultHeapPolicy,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}
