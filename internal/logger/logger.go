package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Encodings accepted by New.
const (
	EncodingJSON    = "json"
	EncodingConsole = "console"
)

type options struct {
	encoding string
	output   []string
}

// Option customizes the logger built by New.
type Option func(*options)

// WithEncoding selects the json or console encoder.
func WithEncoding(encoding string) Option {
	return func(o *options) {
		o.encoding = encoding
	}
}

// WithOutput replaces stderr with the given sinks.
func WithOutput(paths ...string) Option {
	return func(o *options) {
		o.output = paths
	}
}

// New builds a production logger at the given level. Logs go to stderr so
// they never interleave with the report on stdout.
func New(verbosity string, opts ...Option) (*zap.Logger, error) {
	o := options{encoding: EncodingJSON}
	for _, opt := range opts {
		opt(&o)
	}

	config := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(verbosity)
	if err != nil {
		return nil, err
	}
	config.Level = level
	config.Encoding = o.encoding
	if o.encoding == EncodingConsole {
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	if len(o.output) > 0 {
		config.OutputPaths = o.output
	}
	return config.Build()
}
