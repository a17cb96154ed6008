package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Format represents the output format for log messages.
type Format int

const (
	FormatNormal Format = iota
	FormatJSON
)

// ParseFormat converts a string to a Format. Case-insensitive. Defaults to FormatNormal.
func ParseFormat(s string) Format {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON
	default:
		return FormatNormal
	}
}

// ParseLevel converts a string to a zerolog level. Case-insensitive. Defaults to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warning":
		return zerolog.WarnLevel
	case "":
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Config captures options for building the base logger.
type Config struct {
	Level   string
	Format  Format
	Output  io.Writer // defaults to os.Stdout
	Service string    // attached to every entry; defaults to "sticky-watch"
}

// New builds the base logger. Normal format renders console lines shaped
// "2006/01/02 15:04:05 LVL message key=value"; JSON format emits one object
// per line.
func New(cfg Config) zerolog.Logger {
	w := cfg.Output
	if w == nil {
		w = os.Stdout
	}
	if cfg.Format == FormatNormal {
		w = zerolog.ConsoleWriter{
			Out:        w,
			NoColor:    true,
			TimeFormat: "2006/01/02 15:04:05",
		}
	}

	service := cfg.Service
	if service == "" {
		service = "sticky-watch"
	}

	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(w).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

// Nop returns a disabled logger, used by tests and as a zero-value fallback.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// WithComponent returns a child logger annotated with the given component name.
func WithComponent(l zerolog.Logger, component string) zerolog.Logger {
	return l.With().Str(FieldComponent, component).Logger()
}

// Event starts an info-level lifecycle event. Events are the stable,
// machine-parsable lines (RECORDING START, RECORDING END, ...).
//
//	logger.Event(log, "RECORDING START").Str(logger.FieldFile, path).Msg("")
func Event(l *zerolog.Logger, name string) *zerolog.Event {
	return l.Info().Str(FieldEvent, name)
}

// Writer returns an io.Writer that logs each written line at the given level.
// Useful for capturing subprocess output (e.g. ffmpeg stderr).
func Writer(l zerolog.Logger, level zerolog.Level) io.Writer {
	return &writerAdapter{logger: l, level: level}
}

type writerAdapter struct {
	logger zerolog.Logger
	level  zerolog.Level
}

func (w *writerAdapter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(string(p), "\n") {
		msg := strings.TrimRight(line, "\r")
		if msg != "" {
			w.logger.WithLevel(w.level).Msg(msg)
		}
	}
	return len(p), nil
}
