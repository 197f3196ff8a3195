package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrLemur/retcon/internal/models"
	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog/log"
)

// ErrPathDenied is returned for paths outside the tool sandbox
var ErrPathDenied = errors.New("path not allowed")

// Workspace is the bounded set of capabilities handed to the reasoning engine.
// File access is confined to the working tree of the cleaned branch; the
// source branch is only visible through Diff.
type Workspace struct {
	git      *GitService
	verifier *Verifier
	source   string
	cleaned  string
}

var _ models.Toolbox = (*Workspace)(nil)

// NewWorkspace creates a toolbox operating on the checked out cleaned branch
func NewWorkspace(git *GitService, verifier *Verifier, source, cleaned string) *Workspace {
	return &Workspace{git: git, verifier: verifier, source: source, cleaned: cleaned}
}

func (w *Workspace) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" || filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: %q", ErrPathDenied, path)
	}
	full, err := securejoin.SecureJoin(w.git.Root(), path)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrPathDenied, path, err)
	}
	rel, err := filepath.Rel(w.git.Root(), full)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrPathDenied, path)
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".git" || strings.HasPrefix(rel, ".git/") || w.git.IsExcluded(rel) {
		return "", fmt.Errorf("%w: %q", ErrPathDenied, path)
	}
	return full, nil
}

// ReadFile returns the content of a file in the working tree
func (w *Workspace) ReadFile(ctx context.Context, path string) (string, error) {
	full, err := w.resolve(path)
	if err != nil {
		return "", err
	}
	log.Debug().Str("tool", "read_file").Str("path", path).Msg("Tool call")
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

// WriteFile replaces or creates a file in the working tree
func (w *Workspace) WriteFile(ctx context.Context, path, content string) error {
	full, err := w.resolve(path)
	if err != nil {
		return err
	}
	log.Debug().Str("tool", "write_file").Str("path", path).Int("bytes", len(content)).Msg("Tool call")
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	// existing files keep their mode, new ones take it from source
	rel, _ := filepath.Rel(w.git.Root(), full)
	perm := w.git.FileMode(w.source, filepath.ToSlash(rel))
	if err := renameio.WriteFile(full, []byte(content), perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// DeleteFile removes a file from the working tree
func (w *Workspace) DeleteFile(ctx context.Context, path string) error {
	full, err := w.resolve(path)
	if err != nil {
		return err
	}
	log.Debug().Str("tool", "delete_file").Str("path", path).Msg("Tool call")
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// Diff returns what the committed cleaned branch still lacks from source
func (w *Workspace) Diff(ctx context.Context) (string, error) {
	log.Debug().Str("tool", "diff").Msg("Tool call")
	return w.git.Diff(w.cleaned, w.source)
}

// Build runs the build command
func (w *Workspace) Build(ctx context.Context) (models.Verdict, error) {
	log.Debug().Str("tool", "build").Msg("Tool call")
	return w.verifier.Build(ctx)
}

// Test runs the test command
func (w *Workspace) Test(ctx context.Context) (models.Verdict, error) {
	log.Debug().Str("tool", "test").Msg("Tool call")
	return w.verifier.Test(ctx)
}

// Commit records the current working tree changes on the cleaned branch
func (w *Workspace) Commit(ctx context.Context, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("%w: commit message must not be empty", ErrInvalidArgument)
	}
	log.Debug().Str("tool", "commit").Str("subject", firstLine(message)).Msg("Tool call")
	return w.git.CommitOnCleaned(w.cleaned, message, false)
}
