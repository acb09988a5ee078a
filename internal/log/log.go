package log

import (
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	mu       sync.Mutex
	logger   *zap.SugaredLogger
	minLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	output   io.Writer = os.Stderr
)

// current returns the process-wide logger, building it on first use.
func current() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = build(output)
	}
	return logger
}

func build(w io.Writer) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.ConsoleSeparator = " "

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), minLevel)
	return zap.New(core).Sugar()
}

// SetOutput redirects log lines, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	logger = build(w)
}

func SetLevel(l Level) {
	minLevel.SetLevel(zapLevel(l))
}

// ParseLevel maps a config string ("debug", "info", ...) to a Level.
// Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn:
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

func Debug(msg string, kv ...any) {
	current().Debugw(msg, pairs(kv)...)
}

func Info(msg string, kv ...any) {
	current().Infow(msg, pairs(kv)...)
}

// Warn logs a recovered failure. err may be nil.
func Warn(msg string, err error, kv ...any) {
	current().Warnw(msg, withErr(err, kv)...)
}

func Error(msg string, err error, kv ...any) {
	current().Errorw(msg, withErr(err, kv)...)
}

// Sync flushes buffered entries; call before exit.
func Sync() {
	_ = current().Sync()
}

func withErr(err error, kv []any) []any {
	out := pairs(kv)
	if err == nil {
		return out
	}
	return append([]any{"err", err.Error()}, out...)
}

// pairs keeps only well-formed key/value pairs. A trailing key without a
// value and non-string keys are dropped.
func pairs(kv []any) []any {
	out := make([]any, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, key, kv[i+1])
	}
	return out
}

func zapLevel(l Level) zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
