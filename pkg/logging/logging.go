package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	ctrl "sigs.k8s.io/controller-runtime"
)

// LogLevel defines the severity of the log entry.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String makes LogLevel satisfy the fmt.Stringer interface.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel converts a configuration string ("debug", "info", "warn",
// "error") into a LogLevel. Unknown values map to LevelInfo.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
)

// InitForCLI initializes the logging system with a text handler writing to
// output. It also routes controller-runtime logging (informers, caches)
// through the same handler.
func InitForCLI(filterLevel LogLevel, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}
	handler := slog.NewTextHandler(output, &slog.HandlerOptions{
		Level: filterLevel.SlogLevel(),
	})

	mu.Lock()
	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
	mu.Unlock()

	initControllerRuntimeLogger(handler)
}

// initControllerRuntimeLogger bridges controller-runtime's logr logger to slog.
func initControllerRuntimeLogger(handler slog.Handler) {
	if handler == nil {
		return
	}
	ctrl.SetLogger(logr.FromSlogHandler(handler.WithAttrs([]slog.Attr{
		slog.String("subsystem", "ControllerRuntime"),
	})))
}

func logInternal(level LogLevel, subsystem string, err error, messageFmt string, args ...interface{}) {
	mu.RLock()
	logger := defaultLogger
	mu.RUnlock()

	if logger == nil {
		msg := messageFmt
		if len(args) > 0 {
			msg = fmt.Sprintf(messageFmt, args...)
		}
		fmt.Fprintf(os.Stderr, "[LOGGING_ERROR] Logger not initialized. Log: %s [%s] %s\n", time.Now().Format(time.RFC3339), level, msg)
		return
	}
	if !logger.Enabled(context.Background(), level.SlogLevel()) {
		return
	}

	msg := messageFmt
	if len(args) > 0 {
		msg = fmt.Sprintf(messageFmt, args...)
	}

	attrs := []slog.Attr{slog.String("subsystem", subsystem)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}

	logger.LogAttrs(context.Background(), level.SlogLevel(), msg, attrs...)
}

// Debug logs a debug message.
func Debug(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelDebug, subsystem, nil, messageFmt, args...)
}

// Info logs an informational message.
func Info(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelInfo, subsystem, nil, messageFmt, args...)
}

// Warn logs a warning message.
func Warn(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelWarn, subsystem, nil, messageFmt, args...)
}

// Error logs an error message. The full cause chain of err is included.
func Error(subsystem string, err error, messageFmt string, args ...interface{}) {
	logInternal(LevelError, subsystem, err, messageFmt, args...)
}

// ForSubsystem returns a structured logger tagged with subsystem, for
// libraries that accept a leveled logger. It falls back to slog.Default
// before InitForCLI has run.
func ForSubsystem(subsystem string) *slog.Logger {
	mu.RLock()
	logger := defaultLogger
	mu.RUnlock()

	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("subsystem", subsystem))
}
