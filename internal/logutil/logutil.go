package logutil

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"cloud.google.com/go/compute/metadata"
)

// ConfigureLogger sets up the global logger. Records below level are dropped.
func ConfigureLogger(level zerolog.Level) {
	configure(level, os.Stderr, metadata.OnGCE())
}

func configure(level zerolog.Level, out io.Writer, structured bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = zerolog.New(out).With().Timestamp().Caller().Stack().Logger()
	if structured {
		log.Logger = log.Hook(ErrorHook{})
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: out})
	}
	log.Logger = log.Sample(LevelSampler{Level: level})
}

// ParseLevel parses a level name and falls back to info.
func ParseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(s)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

type ErrorHook struct{}

func (h ErrorHook) Run(e *zerolog.Event, level zerolog.Level, _ string) {
	e.Str("severity", level.String())
}
