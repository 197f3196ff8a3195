package ui

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreLogger(t *testing.T) {
	logger, level := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = logger
		zerolog.SetGlobalLevel(level)
	})
}

func TestSetupLoggingSplitsConsoleAndDebugFile(t *testing.T) {
	restoreLogger(t)
	var console bytes.Buffer
	debugFile := filepath.Join(t.TempDir(), "debug.log")

	closer, err := SetupLogging("warn", &console, debugFile)
	require.NoError(t, err)
	WithRunID("run-1")

	log.Debug().Msg("debug detail")
	log.Info().Msg("info detail")
	log.Warn().Msg("warning shown")
	LogShellCommand("go", []string{"build", "./..."}, "/repo")
	require.NoError(t, closer.Close())

	assert.Contains(t, console.String(), "warning shown")
	assert.NotContains(t, console.String(), "info detail")
	assert.NotContains(t, console.String(), "debug detail")

	data, err := os.ReadFile(debugFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "debug detail")
	assert.Contains(t, string(data), "info detail")
	assert.Contains(t, string(data), `"run_id":"run-1"`)
	assert.Contains(t, string(data), "go build ./...")
}

func TestSetupLoggingRejectsUnknownLevel(t *testing.T) {
	restoreLogger(t)
	_, err := SetupLogging("chatty", &bytes.Buffer{}, "")
	assert.Error(t, err)
}
