package services

import (
	"context"
	"errors"
	"testing"

	"github.com/MrLemur/retcon/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier(t *testing.T) {
	pass := Step{Command: []string{"sh", "-c", "echo ok"}}
	fail := Step{Command: []string{"sh", "-c", "echo broken >&2; exit 1"}}
	missing := Step{Command: []string{"retcon-no-such-binary"}}

	tests := []struct {
		name       string
		build      Step
		test       Step
		wantPassed bool
		wantOutput string
		wantExec   bool
	}{
		{name: "build and test pass", build: pass, test: pass, wantPassed: true, wantOutput: "ok"},
		{name: "build fails", build: fail, test: pass, wantOutput: "broken"},
		{name: "test fails", build: pass, test: fail, wantOutput: "broken"},
		{name: "skipped steps pass", build: Step{Skip: true}, test: Step{Skip: true}, wantPassed: true},
		{name: "build skipped and test fails", build: Step{Skip: true}, test: fail, wantOutput: "broken"},
		{name: "missing binary", build: missing, test: pass, wantExec: true},
		{name: "empty command", build: Step{}, test: pass, wantExec: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier(t.TempDir(), tt.build, tt.test)
			verdict, err := v.Verify(context.Background())
			if tt.wantExec {
				var execErr *models.BuildExecutionError
				require.True(t, errors.As(err, &execErr), "got %v", err)
				assert.Equal(t, "build", execErr.Step)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPassed, verdict.Passed)
			assert.Contains(t, verdict.Output, tt.wantOutput)
		})
	}
}

func TestVerifierRunsInDirectory(t *testing.T) {
	dir := t.TempDir()
	v := NewVerifier(dir, Step{Command: []string{"sh", "-c", "test -f marker || exit 3"}}, Step{Skip: true})

	verdict, err := v.Build(context.Background())
	require.NoError(t, err)
	assert.False(t, verdict.Passed)

	writeFile(t, dir, "marker", "")
	verdict, err = v.Build(context.Background())
	require.NoError(t, err)
	assert.True(t, verdict.Passed)
}
