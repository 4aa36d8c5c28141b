package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is the daemon logger. The embedded zerolog.Logger writes through
// the redactor (when enabled) to the console and the rotating file.
type Logger struct {
	zerolog.Logger

	file     *RotatingWriter
	redactor *Redactor
}

type Config struct {
	Level     string // debug, info, warn, error; anything else means info
	File      string
	Console   bool
	Pretty    bool
	Redaction bool
	MaxSize   int // MB
	MaxAge    int // days
	Compress  bool
	// Secrets are masked verbatim on top of the built-in patterns
	Secrets []string
}

func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   true,
		Pretty:    true,
		Redaction: true,
		MaxSize:   100,
		MaxAge:    7,
		Compress:  true,
	}
}

// New builds the logger and installs it as log.Logger
func New(cfg Config) (*Logger, error) {
	l := &Logger{}

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleSink(cfg.Pretty))
	}
	if cfg.File != "" {
		file, err := NewRotatingWriter(cfg.File, cfg.MaxSize, cfg.MaxAge, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", cfg.File, err)
		}
		l.file = file
		sinks = append(sinks, file)
	}

	out := fanOut(sinks)
	if cfg.Redaction {
		l.redactor = NewRedactor()
		for _, secret := range cfg.Secrets {
			l.redactor.AddLiteral(secret)
		}
		out = l.redactor.Wrap(out)
	}

	l.Logger = zerolog.New(out).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
	log.Logger = l.Logger
	return l, nil
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func consoleSink(pretty bool) io.Writer {
	if !pretty {
		return os.Stderr
	}
	return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
}

func fanOut(sinks []io.Writer) io.Writer {
	switch len(sinks) {
	case 0:
		return io.Discard
	case 1:
		return sinks[0]
	}
	return zerolog.MultiLevelWriter(sinks...)
}

// Component returns a child logger tagged with the component name
func (l *Logger) Component(name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

func (l *Logger) GetZerolog() zerolog.Logger {
	return l.Logger
}

// Close closes the log file, if any
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
