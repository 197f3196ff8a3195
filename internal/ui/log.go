package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// SetupLogging configures the global logger. Console output goes to out at
// level; when debugFile is set every debug event is also appended to it.
func SetupLogging(level string, out io.Writer, debugFile string) (io.Closer, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}

	console := zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	writers := []io.Writer{
		&zerolog.FilteredLevelWriter{Writer: zerolog.LevelWriterAdapter{Writer: console}, Level: lvl},
	}
	global := lvl
	var closer io.Closer = nopCloser{}

	if debugFile != "" {
		f, err := os.OpenFile(debugFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open debug log %s: %w", debugFile, err)
		}
		writers = append(writers, f)
		if global > zerolog.DebugLevel {
			global = zerolog.DebugLevel
		}
		closer = f
	}

	zerolog.SetGlobalLevel(global)
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	return closer, nil
}

// WithRunID tags every following log event with the run identifier
func WithRunID(id string) {
	log.Logger = log.Logger.With().Str("run_id", id).Logger()
}

// LogShellCommand logs a shell command before it is executed
func LogShellCommand(command string, args []string, dir string) {
	log.Debug().
		Str("dir", dir).
		Str("command", strings.TrimSpace(command+" "+strings.Join(args, " "))).
		Msg("Running shell command")
}
