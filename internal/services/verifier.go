package services

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/MrLemur/retcon/internal/models"
	"github.com/MrLemur/retcon/internal/ui"
	"github.com/rs/zerolog/log"
)

// Step is one verification command, run as an argv list
type Step struct {
	Name    string
	Command []string
	Skip    bool
}

// Verifier runs the configured build and test commands in the repository root
type Verifier struct {
	dir   string
	build Step
	test  Step
}

// NewVerifier creates a verifier running build and test in dir
func NewVerifier(dir string, build, test Step) *Verifier {
	if build.Name == "" {
		build.Name = "build"
	}
	if test.Name == "" {
		test.Name = "test"
	}
	return &Verifier{dir: dir, build: build, test: test}
}

// Build runs the build command
func (v *Verifier) Build(ctx context.Context) (models.Verdict, error) {
	return v.run(ctx, v.build)
}

// Test runs the test command
func (v *Verifier) Test(ctx context.Context) (models.Verdict, error) {
	return v.run(ctx, v.test)
}

// Verify runs the build and, only if it passed, the tests
func (v *Verifier) Verify(ctx context.Context) (models.Verdict, error) {
	verdict, err := v.Build(ctx)
	if err != nil || !verdict.Passed {
		return verdict, err
	}
	testVerdict, err := v.Test(ctx)
	if err != nil {
		return models.Verdict{}, err
	}
	if verdict.Output != "" && testVerdict.Output != "" {
		testVerdict.Output = verdict.Output + "\n" + testVerdict.Output
	} else if testVerdict.Output == "" {
		testVerdict.Output = verdict.Output
	}
	return testVerdict, nil
}

func (v *Verifier) run(ctx context.Context, step Step) (models.Verdict, error) {
	if step.Skip {
		log.Debug().Str("step", step.Name).Msg("Verification step skipped")
		return models.Verdict{Passed: true}, nil
	}
	if len(step.Command) == 0 {
		return models.Verdict{}, &models.BuildExecutionError{Step: step.Name, Err: errors.New("no command configured")}
	}

	ui.LogShellCommand(step.Command[0], step.Command[1:], v.dir)
	cmd := exec.CommandContext(ctx, step.Command[0], step.Command[1:]...)
	cmd.Dir = v.dir
	output, err := cmd.CombinedOutput()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		log.Debug().Str("step", step.Name).Msg("Verification step passed")
		return models.Verdict{Passed: true, Output: string(output)}, nil
	case ctx.Err() != nil:
		return models.Verdict{}, fmt.Errorf("%s interrupted: %w", step.Name, ctx.Err())
	case errors.As(err, &exitErr):
		log.Debug().Str("step", step.Name).Int("exit_code", exitErr.ExitCode()).Msg("Verification step failed")
		return models.Verdict{Passed: false, Output: string(output)}, nil
	default:
		return models.Verdict{}, &models.BuildExecutionError{Step: step.Name, Command: step.Command, Err: err}
	}
}
