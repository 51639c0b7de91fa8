package logx

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

const (
	timeFormat      = "2006-01-02T15:04:05.000Z07:00"
	defaultFilePath = "./durasched.log"

	// Frames between zerolog's caller lookup and the code that logged:
	// Logger.log and the level method.
	callerSkip = 2
)

var setupOnce sync.Once

func setup() {
	setupOnce.Do(func() {
		zerolog.TimeFieldFormat = timeFormat
		zerolog.ErrorFieldName = "err"
		zerolog.CallerMarshalFunc = func(_ uintptr, file string, line int) string {
			return filepath.Base(file) + ":" + strconv.Itoa(line)
		}
	})
}

// Field adds one key to an event. Later fields overwrite earlier ones.
type Field func(e *zerolog.Event)

func String(k, v string) Field                 { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field                { return func(e *zerolog.Event) { e.Int(k, v) } }
func Bool(k string, v bool) Field              { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Duration(k string, v time.Duration) Field { return func(e *zerolog.Event) { e.Dur(k, v) } }
func Time(k string, v time.Time) Field         { return func(e *zerolog.Event) { e.Time(k, v) } }
func Any(k string, v any) Field                { return func(e *zerolog.Event) { e.Interface(k, v) } }

// Err is a no-op for a nil error.
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Logger writes through a Service (following its reconfigurations) or a
// fixed zerolog logger. The zero value discards everything.
type Logger struct {
	svc    *Service
	base   *zerolog.Logger
	fields []Field
}

// Nop returns a logger that never writes.
func Nop() Logger {
	zl := zerolog.Nop()
	return Logger{base: &zl}
}

// NewConsole is a stderr logger for use before the config is loaded.
func NewConsole(level string) Logger {
	setup()
	zl := zerolog.New(consoleWriter(os.Stderr)).Level(parseLevel(level, zerolog.InfoLevel)).With().Timestamp().Logger()
	return Logger{base: &zl}
}

func NewFrom(zl zerolog.Logger) Logger {
	setup()
	return Logger{base: &zl}
}

func (l Logger) IsZero() bool { return l.svc == nil && l.base == nil && len(l.fields) == 0 }

func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	l.fields = append(append([]Field(nil), l.fields...), fields...)
	return l
}

func (l Logger) Debug(msg string, fields ...Field) { l.log(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.log(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.log(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.log(zerolog.ErrorLevel, msg, fields) }

func (l Logger) zl() *zerolog.Logger {
	switch {
	case l.svc != nil:
		return l.svc.root.Load()
	case l.base != nil:
		return l.base
	}
	return nil
}

func (l Logger) log(level zerolog.Level, msg string, fields []Field) {
	zl := l.zl()
	if zl == nil {
		return
	}
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	e = e.Caller(callerSkip)
	for _, group := range [][]Field{l.fields, fields} {
		for _, f := range group {
			if f != nil {
				f(e)
			}
		}
	}
	e.Msg(msg)
}

// Service owns the process sinks. Loggers derived from it pick up every
// Apply without being rebuilt.
type Service struct {
	mu   sync.Mutex
	file *os.File
	root atomic.Pointer[zerolog.Logger]
}

// New builds the service from cfg. A file sink that cannot be opened is
// reported on the console and skipped.
func New(cfg Config) (*Service, Logger) {
	setup()
	s := &Service{}
	log := Logger{svc: s}
	if err := s.Apply(cfg); err != nil {
		log.Warn("log file unavailable; console only", Err(err))
	}
	return s, log
}

// Apply swaps level and sinks. The console takes over when no sink is
// configured or the file cannot be opened; the error is returned either way.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ferr := openSink(cfg.File)
	var sinks []io.Writer
	if cfg.Console || f == nil {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}
	if f != nil {
		sinks = append(sinks, zerolog.SyncWriter(f))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)

	if s.file != nil {
		_ = s.file.Close()
	}
	s.file = f
	return ferr
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func openSink(fc FileConfig) (*os.File, error) {
	if !fc.Enabled {
		return nil, nil
	}
	path := strings.TrimSpace(fc.Path)
	if path == "" {
		path = defaultFilePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "log dir for %s", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open log file %s", path)
	}
	return f, nil
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat}
}

// parseLevel accepts zerolog level names in any case, plus "warning".
func parseLevel(s string, def zerolog.Level) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	if s == "" {
		return def
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return def
	}
	return lvl
}
