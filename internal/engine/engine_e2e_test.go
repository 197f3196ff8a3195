package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrLemur/retcon/internal/models"
	"github.com/MrLemur/retcon/internal/services"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// copyingReasoner reproduces the single file added on the source branch
type copyingReasoner struct {
	path    string
	content string
	calls   int
}

func (r *copyingReasoner) Extract(ctx context.Context, req models.ExtractRequest, tools models.Toolbox) (models.Extraction, error) {
	r.calls++
	diff, err := tools.Diff(ctx)
	if err != nil {
		return models.Extraction{}, err
	}
	if !strings.Contains(diff, r.path) {
		return models.Extraction{}, nil
	}
	return models.Extraction{Body: "Adds " + r.path + "."}, tools.WriteFile(ctx, r.path, r.content)
}

func (r *copyingReasoner) Assess(ctx context.Context, req models.AssessRequest, tools models.Toolbox) (models.Assessment, error) {
	r.calls++
	return models.Assessment{Stuck: true, Summary: "unexpected failure"}, nil
}

func TestEndToEndSingleFile(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	sig := &object.Signature{Name: "dev", Email: "dev@example.com", When: time.Now()}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("readme\n"), 0644))
	_, err = wt.Add("README")
	require.NoError(t, err)
	base, err := wt.Commit("init", &git.CommitOptions{Author: sig})
	require.NoError(t, err)

	for _, name := range []string{"main", "messy"} {
		ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), base)
		require.NoError(t, repo.Storer.SetReference(ref))
	}
	require.NoError(t, wt.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName("messy")}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello\n"), 0644))
	_, err = wt.Add("hello.txt")
	require.NoError(t, err)
	_, err = wt.Commit("stuff", &git.CommitOptions{Author: sig})
	require.NoError(t, err)

	specPath := filepath.Join(t.TempDir(), "history.toml")
	store, err := services.NewSpecStore(specPath, models.HistorySpec{
		Source:  "messy",
		Remote:  "main",
		Cleaned: "clean",
		Commits: []models.CommitSpec{{Message: "Add hello"}},
	})
	require.NoError(t, err)

	gitSvc, err := services.OpenRepository(dir)
	require.NoError(t, err)
	verifier := services.NewVerifier(dir,
		services.Step{Command: []string{"sh", "-c", "test -f hello.txt"}},
		services.Step{Skip: true},
	)
	reasoner := &copyingReasoner{path: "hello.txt", content: "hello\n"}

	eng := New(Deps{
		Store:    store,
		Branches: gitSvc,
		Verifier: verifier,
		Reasoner: reasoner,
		Tools:    services.NewWorkspace(gitSvc, verifier, "messy", "clean"),
	}, Options{})

	result, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeComplete, result.Outcome)
	assert.Empty(t, result.RemainingDiff)
	assert.Equal(t, 1, reasoner.calls)

	reloaded, err := services.LoadSpec(specPath)
	require.NoError(t, err)
	history := reloaded.Spec().Commits[0].History
	require.Len(t, history, 2)
	assert.Len(t, reloaded.Spec().Commits[0].CreatedCommits(), 1)
	assert.Equal(t, models.Complete{}, history[1])

	head, err := repo.Head()
	require.NoError(t, err)
	assert.Equal(t, "clean", head.Name().Short())
	commit, err := repo.CommitObject(head.Hash())
	require.NoError(t, err)
	assert.Equal(t, "Add hello\n\nAdds hello.txt.", commit.Message)
	assert.True(t, strings.HasPrefix(head.Hash().String(), history[0].(models.CommitCreated).Hash))

	again, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeComplete, again.Outcome)
	assert.Equal(t, 1, reasoner.calls)
}
