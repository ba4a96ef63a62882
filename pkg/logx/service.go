package logx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const (
	timeFormat      = "2006-01-02T15:04:05.000Z07:00"
	defaultFilePath = "./schedd.log"
)

type Config struct {
	Level   string
	Console bool
	// JSON writes raw JSON lines to the console instead of the pretty form.
	JSON bool
	File FileConfig
	// Out receives console output; nil means os.Stderr.
	Out io.Writer
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// Service owns the sinks and swaps them on Apply.
type Service struct {
	mu   sync.Mutex
	file *os.File

	root atomic.Pointer[zerolog.Logger]
}

// New applies cfg and returns the service with its root logger. A file sink
// that cannot be opened is reported on stderr and skipped.
func New(cfg Config) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat

	s := &Service{}
	if err := s.Apply(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "logx: %v\n", err)
	}
	return s, Logger{svc: s}
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Apply rebuilds the sinks from cfg. The console sink is always kept when
// nothing else is configured, so an error never leaves the service silent.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}

	var (
		sinks   []io.Writer
		fileErr error
		newFile *os.File
	)
	if cfg.Console {
		if cfg.JSON {
			sinks = append(sinks, out)
		} else {
			sinks = append(sinks, consoleWriter(out))
		}
	}
	if cfg.File.Enabled {
		newFile, fileErr = openLogFile(cfg.File.Path)
		if newFile != nil {
			sinks = append(sinks, zerolog.SyncWriter(newFile))
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter(out))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)

	if s.file != nil {
		_ = s.file.Close()
	}
	s.file = newFile
	return fileErr
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

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultFilePath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("log dir %q: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: timeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}

var errUnknownLevel = errors.New("unknown log level")

// ParseLevel accepts trace, debug, info, warn(ing) and error in any case.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	}
	return zerolog.NoLevel, fmt.Errorf("%w %q", errUnknownLevel, s)
}

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	if strings.TrimSpace(s) == "" {
		return def
	}
	lvl, err := ParseLevel(s)
	if err != nil {
		return def
	}
	return lvl
}
