package logger

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger is a leveled logger over an arbitrary set of sinks, each with its
// own minimum level. The default record format is
// "%(asctime)s %(levelname)s %(message)s" with millisecond local time,
// matching the original Python implementation's template.
type Logger struct {
	mu     sync.Mutex
	base   *logrus.Logger
	level  Level
	sinks  []*sinkHook
	fallback io.Writer
}

// sinkHook adapts a Sink to logrus.Hook. It fires for every entry (it
// registers on logrus.AllLevels) and does its own filtering against the
// custom Level stashed in entry.Data, so each sink applies its own floor.
type sinkHook struct {
	level    Level
	sink     Sink
	fallback *io.Writer
}

func (h *sinkHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *sinkHook) Fire(e *logrus.Entry) error {
	lvl, _ := e.Data["suplevel"].(Level)
	if lvl < h.level {
		return nil
	}
	line := formatRecord(e.Time, lvl, e.Message)
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(*h.fallback, "logger: sink panic: %v\n", r)
		}
	}()
	if _, err := h.sink.Write([]byte(line)); err != nil {
		fmt.Fprintf(*h.fallback, "logger: sink write error: %v\n", err)
	}
	// Never propagate: a broken sink must not silence its siblings.
	return nil
}

// New creates a Logger that drops anything below level before it even
// reaches a sink. Individual sinks may set a higher floor still.
func New(level Level) *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	base.SetLevel(logrus.TraceLevel)
	l := &Logger{base: base, level: level, fallback: os.Stderr}
	return l
}

// AddSink attaches a sink with its own minimum level and wires it into the
// underlying logrus instance as a hook. Hook errors are trapped inside the
// hook's Fire and never propagate: one misbehaving sink cannot silence
// others.
func (l *Logger) AddSink(sink Sink, level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := &sinkHook{level: level, sink: sink, fallback: &l.fallback}
	l.sinks = append(l.sinks, h)
	l.base.AddHook(h)
}

const asctimeFormat = "2006-01-02 15:04:05.000"

func formatRecord(t time.Time, level Level, msg string) string {
	return fmt.Sprintf("%s %s %s\n", t.Local().Format(asctimeFormat), level.String(), msg)
}

var substPattern = regexp.MustCompile(`%\(([a-zA-Z_][a-zA-Z0-9_]*)\)s`)

// interpolate expands "%(name)s"-style named placeholders against kw, the
// same substitution syntax the original LogRecord.asdict() used against a
// Python format string.
func interpolate(msgTemplate string, kw map[string]interface{}) string {
	if len(kw) == 0 {
		return msgTemplate
	}
	return substPattern.ReplaceAllStringFunc(msgTemplate, func(m string) string {
		name := substPattern.FindStringSubmatch(m)[1]
		if v, ok := kw[name]; ok {
			return fmt.Sprint(v)
		}
		return m
	})
}

func toKW(kv []interface{}) map[string]interface{} {
	if len(kv) == 0 {
		return nil
	}
	kw := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		kw[key] = kv[i+1]
	}
	return kw
}

func (l *Logger) emit(level Level, msgTemplate string, kv ...interface{}) {
	if level < l.level {
		return
	}
	msg := interpolate(msgTemplate, toKW(kv))
	l.base.WithField("suplevel", level).Log(level.toLogrus(), msg)
}

func (l *Logger) Trace(msg string, kv ...interface{})    { l.emit(TRACE, msg, kv...) }
func (l *Logger) Debug(msg string, kv ...interface{})    { l.emit(DEBUG, msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})     { l.emit(INFO, msg, kv...) }
func (l *Logger) Warn(msg string, kv ...interface{})     { l.emit(WARN, msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{})    { l.emit(ERROR, msg, kv...) }
func (l *Logger) Critical(msg string, kv ...interface{}) { l.emit(CRIT, msg, kv...) }
func (l *Logger) Log(level Level, msg string, kv ...interface{}) { l.emit(level, msg, kv...) }

// Reopen reopens every sink (file sinks close and reopen at the same path,
// stream sinks do nothing, ring sinks drop their retained content), used on
// SIGUSR2.
func (l *Logger) Reopen() []error {
	l.mu.Lock()
	sinks := make([]*sinkHook, len(l.sinks))
	copy(sinks, l.sinks)
	l.mu.Unlock()

	var errs []error
	for _, h := range sinks {
		if err := h.sink.Reopen(); err != nil {
			errs = append(errs, fmt.Errorf("reopen sink: %w", err))
		}
	}
	return errs
}

// Close closes every sink.
func (l *Logger) Close() []error {
	l.mu.Lock()
	sinks := make([]*sinkHook, len(l.sinks))
	copy(sinks, l.sinks)
	l.mu.Unlock()

	var errs []error
	for _, h := range sinks {
		if err := h.sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// SetFallback overrides where sink errors themselves get reported; tests
// use this to capture fallback output instead of polluting stderr.
func (l *Logger) SetFallback(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fallback = w
}

// DescribeLevel renders a Level as the lowercase form of its four-letter
// name ("crit", "erro", "warn", "info", "debg", "trac"). Only "warn" and
// "info" are also names ByDescription accepts.
func DescribeLevel(l Level) string {
	return strings.ToLower(l.String())
}
