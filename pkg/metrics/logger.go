package metrics

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/francoispqt/gojay"
)

// Level is a logging level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelSilent // Disables all logging
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "SILENT"}

// String returns the level name.
func (l Level) String() string {
	if l >= 0 && int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "UNKNOWN"
}

// ParseLevel parses a level name. Unknown names select LevelInfo.
func ParseLevel(s string) Level {
	switch s = strings.ToUpper(s); s {
	case "WARNING":
		return LevelWarn
	case "OFF", "NONE":
		return LevelSilent
	}
	if i := slices.Index(levelNames[:], s); i >= 0 {
		return Level(i)
	}
	return LevelInfo
}

// Fields are structured log fields.
type Fields map[string]interface{}

// Format is the log output format.
type Format int

const (
	FormatText Format = iota // Human-readable text format
	FormatJSON               // One JSON object per line
)

// Redacted replaces the value of any field whose key names secret material.
const Redacted = "[REDACTED]"

// secretKeys are field keys whose values are never written. Matching is by
// substring of the lower-cased key.
var secretKeys = []string{"secret", "premaster", "psk", "private", "password", "key_material"}

func isSecretKey(k string) bool {
	k = strings.ToLower(k)
	return slices.ContainsFunc(secretKeys, func(s string) bool { return strings.Contains(k, s) })
}

// Logger is a levelled structured logger. Loggers derived with With and
// Named share the output and its lock.
type Logger struct {
	out      *syncWriter
	level    Level
	format   Format
	fields   Fields
	name     string
	timeFunc func() time.Time
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// LoggerOption configures a logger.
type LoggerOption func(*Logger)

// WithOutput sets the output writer.
func WithOutput(w io.Writer) LoggerOption {
	return func(l *Logger) { l.out = &syncWriter{w: w} }
}

// WithLevel sets the minimum level.
func WithLevel(level Level) LoggerOption {
	return func(l *Logger) { l.level = level }
}

// WithFormat sets the output format.
func WithFormat(format Format) LoggerOption {
	return func(l *Logger) { l.format = format }
}

// WithFields sets default fields for every entry.
func WithFields(fields Fields) LoggerOption {
	return func(l *Logger) { l.fields = maps.Clone(fields) }
}

// WithName sets the logger name.
func WithName(name string) LoggerOption {
	return func(l *Logger) { l.name = name }
}

// NewLogger creates a logger writing text at LevelInfo to stderr unless
// options say otherwise.
func NewLogger(opts ...LoggerOption) *Logger {
	l := &Logger{
		out:      &syncWriter{w: os.Stderr},
		level:    LevelInfo,
		format:   FormatText,
		fields:   make(Fields),
		timeFunc: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Logger) derive() *Logger {
	n := *l
	return &n
}

// With returns a logger that adds fields to every entry.
func (l *Logger) With(fields Fields) *Logger {
	n := l.derive()
	n.fields = make(Fields, len(l.fields)+len(fields))
	maps.Copy(n.fields, l.fields)
	maps.Copy(n.fields, fields)
	return n
}

// Named returns a logger whose name is extended with name.
func (l *Logger) Named(name string) *Logger {
	n := l.derive()
	if l.name != "" {
		name = l.name + "." + name
	}
	n.name = name
	return n
}

// Enabled reports whether entries at level are written.
func (l *Logger) Enabled(level Level) bool {
	return level >= l.level && l.level != LevelSilent
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, fields ...Fields) { l.log(LevelDebug, msg, fields) }

// Info logs at info level.
func (l *Logger) Info(msg string, fields ...Fields) { l.log(LevelInfo, msg, fields) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, fields ...Fields) { l.log(LevelWarn, msg, fields) }

// Error logs at error level.
func (l *Logger) Error(msg string, fields ...Fields) { l.log(LevelError, msg, fields) }

func (l *Logger) log(level Level, msg string, extra []Fields) {
	if !l.Enabled(level) {
		return
	}
	all := maps.Clone(l.fields)
	if all == nil {
		all = make(Fields)
	}
	for _, f := range extra {
		maps.Copy(all, f)
	}
	for k := range all {
		if isSecretKey(k) {
			all[k] = Redacted
		}
	}

	e := &logEntry{time: l.timeFunc(), level: level, name: l.name, msg: msg, fields: all}
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	if l.format == FormatJSON {
		e.writeJSON(l.out.w)
	} else {
		e.writeText(l.out.w)
	}
}

type logEntry struct {
	time   time.Time
	level  Level
	name   string
	msg    string
	fields Fields
}

func (e *logEntry) IsNil() bool { return e == nil }

func (e *logEntry) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("time", e.time.Format(time.RFC3339Nano))
	enc.StringKey("level", e.level.String())
	enc.StringKey("msg", e.msg)
	enc.StringKeyOmitEmpty("logger", e.name)
	for _, k := range slices.Sorted(maps.Keys(e.fields)) {
		switch v := e.fields[k].(type) {
		case string:
			enc.StringKey(k, v)
		case bool:
			enc.BoolKey(k, v)
		case int:
			enc.IntKey(k, v)
		case int64:
			enc.Int64Key(k, v)
		case uint16:
			enc.Uint64Key(k, uint64(v))
		case uint32:
			enc.Uint64Key(k, uint64(v))
		case uint64:
			enc.Uint64Key(k, v)
		case float64:
			enc.Float64Key(k, v)
		case time.Duration:
			enc.StringKey(k, v.String())
		case error:
			enc.StringKey(k, v.Error())
		case fmt.Stringer:
			enc.StringKey(k, v.String())
		default:
			enc.StringKey(k, fmt.Sprint(v))
		}
	}
}

func (e *logEntry) writeJSON(w io.Writer) {
	enc := gojay.BorrowEncoder(w)
	defer enc.Release()
	if err := enc.EncodeObject(e); err != nil {
		fmt.Fprintf(w, "LOG_ERROR: %v\n", err)
		return
	}
	w.Write([]byte{'\n'})
}

func (e *logEntry) writeText(w io.Writer) {
	var b strings.Builder
	b.WriteString(e.time.Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(levelColor(e.level))
	fmt.Fprintf(&b, "%-5s", e.level)
	b.WriteString(colorReset)
	b.WriteByte(' ')
	if e.name != "" {
		b.WriteString("[" + e.name + "] ")
	}
	b.WriteString(e.msg)
	for _, k := range slices.Sorted(maps.Keys(e.fields)) {
		fmt.Fprintf(&b, " %s=%v", k, e.fields[k])
	}
	b.WriteByte('\n')
	io.WriteString(w, b.String())
}

// ANSI color codes for log levels.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[90m"
)

func levelColor(level Level) string {
	switch level {
	case LevelDebug:
		return colorGray
	case LevelInfo:
		return colorBlue
	case LevelWarn:
		return colorYellow
	case LevelError:
		return colorRed
	default:
		return ""
	}
}

// --- Global Logger ---

var (
	globalLogger   = NewLogger()
	globalLoggerMu sync.RWMutex
)

// SetLogger sets the global logger.
func SetLogger(l *Logger) {
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()
	globalLogger = l
}

// GetLogger returns the global logger.
func GetLogger() *Logger {
	globalLoggerMu.RLock()
	defer globalLoggerMu.RUnlock()
	return globalLogger
}

// NullLogger returns a logger that discards all output.
func NullLogger() *Logger {
	return NewLogger(WithOutput(io.Discard), WithLevel(LevelSilent))
}

// TestLogger returns a debug-level text logger for tests.
func TestLogger(w io.Writer) *Logger {
	return NewLogger(WithOutput(w), WithLevel(LevelDebug), WithFormat(FormatText))
}

// ProductionLogger returns an info-level JSON logger.
func ProductionLogger(w io.Writer) *Logger {
	return NewLogger(WithOutput(w), WithLevel(LevelInfo), WithFormat(FormatJSON))
}
