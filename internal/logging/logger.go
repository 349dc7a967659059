package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Options struct {
	App    string
	Level  string
	Format string
	Out    io.Writer
}

func New(options Options) (zerolog.Logger, error) {
	level, err := ParseLevel(options.Level)
	if err != nil {
		return zerolog.Nop(), err
	}
	out := options.Out
	if out == nil {
		out = os.Stderr
	}
	switch strings.ToLower(strings.TrimSpace(options.Format)) {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q (expected console or json)", options.Format)
	}

	loggerContext := zerolog.New(out).Level(level).With().Timestamp()
	if options.App != "" {
		loggerContext = loggerContext.Str("app", options.App)
	}
	return loggerContext.Logger(), nil
}

func ParseLevel(value string) (zerolog.Level, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(normalized)
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q: %w", value, err)
	}
	return level, nil
}
