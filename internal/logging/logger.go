package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config holds logger configuration.
type Config struct {
	Level     string // debug, info, warn, error
	Format    string // "json" (the log-pipeline contract) or "text" for terminals
	AddSource bool
}

// Logger wraps slog with the line contract the log pipeline expects: one
// JSON object per line on stdout carrying event, level, timestamp and
// logger. The message becomes the event name (dotted, e.g. "tool.call");
// the logger field is a dotted component name whose last segment is the
// module label downstream.
type Logger struct {
	slog  *slog.Logger
	level slog.Level
	name  string
}

var (
	globalLogger *Logger
	once         sync.Once
)

// Initialize configures the global logger. Safe to call more than once;
// only the first call wins.
func Initialize(config Config) {
	once.Do(func() {
		globalLogger = New(config)
	})
}

// Default returns the global logger, initializing it with defaults when
// Initialize was never called.
func Default() *Logger {
	Initialize(Config{Level: "info", Format: "json"})
	return globalLogger
}

// New creates a logger instance with the given configuration.
func New(config Config) *Logger {
	level := parseLevel(config.Level)
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   config.AddSource,
		ReplaceAttr: contractAttrs,
	}

	var handler slog.Handler
	if config.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{
		slog:  slog.New(handler),
		level: level,
		name:  "vulnsentinel",
	}
}

// contractAttrs renames the default slog keys to the pipeline contract and
// lowercases the level value.
func contractAttrs(groups []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.TimeKey:
		a.Key = "timestamp"
	case slog.MessageKey:
		a.Key = "event"
	case slog.LevelKey:
		if lv, ok := a.Value.Any().(slog.Level); ok {
			a.Value = slog.StringValue(strings.ToLower(lv.String()))
		}
	}
	return a
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a component logger. The component is appended to the dotted
// logger name ("vulnsentinel.collector", "vulnsentinel.agent.classifier").
func (l *Logger) With(component string) *Logger {
	name := l.name + "." + component
	return &Logger{
		slog:  l.slog.With("logger", name),
		level: l.level,
		name:  name,
	}
}

// ForAgent returns a run-scoped logger carrying the identifiers every agent
// log line must include. agent_id is the AgentRun UUID.
func (l *Logger) ForAgent(agentType, runID, targetID string) *Logger {
	return &Logger{
		slog:  l.With("agent."+agentType).slog.With("agent_type", agentType, "agent_id", runID, "target_id", targetID),
		level: l.level,
		name:  l.name,
	}
}

// DebugEnabled reports whether conversation-level logging is on.
// Conversation content and raw tool output are only emitted at DEBUG.
func (l *Logger) DebugEnabled() bool {
	return l.level <= slog.LevelDebug
}

func (l *Logger) Debug(event string, args ...any) {
	l.slog.Debug(event, args...)
}

func (l *Logger) Info(event string, args ...any) {
	l.slog.Info(event, args...)
}

func (l *Logger) Warn(event string, args ...any) {
	l.slog.Warn(event, args...)
}

func (l *Logger) Error(event string, args ...any) {
	l.slog.Error(event, args...)
}

// Fatal logs at error level and exits. Startup failures only.
func (l *Logger) Fatal(event string, args ...any) {
	l.slog.Error(event, args...)
	os.Exit(1)
}

// WithArgs returns a logger with extra key/value pairs bound.
func (l *Logger) WithArgs(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), level: l.level, name: l.name}
}

// Slog exposes the underlying slog.Logger for libraries that want one.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}
