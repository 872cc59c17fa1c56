package logging

import (
	"errors"
	"os"
	"sort"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const instrumentationName = "github.com/fyrsmithlabs/ratlr"

var droppedEntries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ratlr_log_entries_dropped_total",
	Help: "Log entries dropped by sampling.",
}, []string{"level"})

// New builds the process logger. provider may be nil, in which case the
// OpenTelemetry output is skipped even when cfg enables it.
func New(cfg *Config, provider log.LoggerProvider) (*zap.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var cores []zapcore.Core
	if cfg.Stderr {
		enc, err := newRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(os.Stderr), cfg.Level))
	}
	if cfg.OTEL && provider != nil {
		cores = append(cores, otelzap.NewCore(instrumentationName, otelzap.WithLoggerProvider(provider)))
	}
	if len(cores) == 0 {
		return nil, errors.Join(ErrInvalidConfig, errors.New("no logging output is available"))
	}

	var opts []zap.Option
	if cfg.Caller {
		opts = append(opts, zap.AddCaller())
	}
	opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))

	logger := zap.New(sample(zapcore.NewTee(cores...), cfg.Sampling), opts...)
	if len(cfg.Fields) > 0 {
		keys := make([]string, 0, len(cfg.Fields))
		for k := range cfg.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make([]zap.Field, len(keys))
		for i, k := range keys {
			fields[i] = zap.String(k, cfg.Fields[k])
		}
		logger = logger.With(fields...)
	}
	return logger, nil
}

// Sync flushes l. Linux reports EINVAL or ENOTTY when syncing a terminal;
// those are not failures.
func Sync(l *zap.Logger) error {
	err := l.Sync()
	var errno syscall.Errno
	if errors.As(err, &errno) && (errno == syscall.EINVAL || errno == syscall.ENOTTY) {
		return nil
	}
	return err
}

func newEncoder(format string) zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(encCfg)
	}
	return zapcore.NewJSONEncoder(encCfg)
}

// sample thins entries below error level; errors always pass.
func sample(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}
	hook := zapcore.SamplerHook(func(e zapcore.Entry, d zapcore.SamplingDecision) {
		if d&zapcore.LogDropped != 0 {
			droppedEntries.WithLabelValues(e.Level.String()).Inc()
		}
	})
	return zapcore.NewTee(
		zapcore.NewSamplerWithOptions(levelSplit{Core: core}, cfg.Tick, cfg.Initial, cfg.Thereafter, hook),
		levelSplit{Core: core, errors: true},
	)
}

// levelSplit passes either the entries at error level and above or the
// ones below it.
type levelSplit struct {
	zapcore.Core
	errors bool
}

func (s levelSplit) Enabled(lvl zapcore.Level) bool {
	return (lvl >= zapcore.ErrorLevel) == s.errors && s.Core.Enabled(lvl)
}

func (s levelSplit) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if (e.Level >= zapcore.ErrorLevel) != s.errors {
		return ce
	}
	return s.Core.Check(e, ce)
}

func (s levelSplit) With(fields []zapcore.Field) zapcore.Core {
	return levelSplit{Core: s.Core.With(fields), errors: s.errors}
}
