package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Init points the global logger at a rotating log file, or at a console writer on
// stderr when logFile is empty.
func Init(level zerolog.Level, logFile string) {
	log.Logger = New(level, writer(logFile))

	if level == zerolog.DebugLevel {
		log.Debug().Msg("Log level set to DEBUG")
	}
}

func New(level zerolog.Level, w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.MultiLevelWriter(w)).Level(level).With().Timestamp().Logger()
}

func writer(logFile string) io.Writer {
	if logFile == "" {
		return zerolog.ConsoleWriter{Out: os.Stderr}
	}
	return &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
	}
}
