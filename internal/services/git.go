package services

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MrLemur/retcon/internal/models"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/rs/zerolog/log"
)

// shortHashLength matches the abbreviated hashes recorded in the spec history
const shortHashLength = 8

// GitService is the branch manager. It computes merge-bases and diffs and is
// the only code path that creates commits on the cleaned branch.
type GitService struct {
	repo        *git.Repository
	root        string
	authorName  string
	authorEmail string
	excluded    map[string]bool
}

// OpenRepository opens the git repository containing start
func OpenRepository(start string) (*GitService, error) {
	repo, err := git.PlainOpenWithOptions(start, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("not a git repository (searched from '%s'): %w", start, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("repository at %s has no working tree: %w", start, err)
	}
	return &GitService{
		repo:        repo,
		root:        wt.Filesystem.Root(),
		authorName:  "retcon",
		authorEmail: "retcon@localhost",
		excluded:    map[string]bool{},
	}, nil
}

// Root returns the working tree root
func (g *GitService) Root() string { return g.root }

// RepoName extracts the name of the repository from its root path
func (g *GitService) RepoName() string {
	name := filepath.Base(g.root)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "git-repo"
	}
	return name
}

// SetAuthor sets the identity used for commits on the cleaned branch
func (g *GitService) SetAuthor(name, email string) {
	if name != "" {
		g.authorName = name
	}
	if email != "" {
		g.authorEmail = email
	}
}

// Exclude keeps a file out of every commit and diff. Paths outside the
// repository are ignored.
func (g *GitService) Exclude(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	rel, err := filepath.Rel(g.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return
	}
	g.excluded[filepath.ToSlash(rel)] = true
}

// IsExcluded reports whether a repository-relative slash path is excluded
func (g *GitService) IsExcluded(rel string) bool {
	return g.excluded[rel]
}

// CurrentBranch returns the short name of the checked out branch
func (g *GitService) CurrentBranch() (string, error) {
	head, err := g.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", fmt.Errorf("HEAD is detached at %s", shortHash(head.Hash()))
	}
	return head.Name().Short(), nil
}

func (g *GitService) resolveCommit(name string) (*object.Commit, error) {
	hash, err := g.repo.ResolveRevision(plumbing.Revision(name))
	if err != nil {
		return nil, &models.BranchError{Branch: name, Reason: "cannot resolve reference", Err: err}
	}
	commit, err := g.repo.CommitObject(*hash)
	if err != nil {
		return nil, &models.BranchError{Branch: name, Reason: "cannot load commit " + shortHash(*hash), Err: err}
	}
	return commit, nil
}

// MergeBase returns the full hash of the best common ancestor of a and b
func (g *GitService) MergeBase(a, b string) (string, error) {
	ca, err := g.resolveCommit(a)
	if err != nil {
		return "", err
	}
	cb, err := g.resolveCommit(b)
	if err != nil {
		return "", err
	}
	bases, err := ca.MergeBase(cb)
	if err != nil {
		return "", &models.BranchError{Branch: a, Reason: "failed to compute merge-base with " + b, Err: err}
	}
	if len(bases) == 0 {
		return "", &models.BranchError{Branch: a, Reason: "no common ancestor with " + b}
	}
	return bases[0].Hash.String(), nil
}

// EnsureCleaned creates the cleaned branch at the merge-base of source and
// remote if it does not exist, verifies that an existing one grows from that
// base, and checks it out. It returns the merge-base hash.
func (g *GitService) EnsureCleaned(source, remote, cleaned string) (string, error) {
	base, err := g.MergeBase(source, remote)
	if err != nil {
		return "", err
	}
	baseHash := plumbing.NewHash(base)
	refName := plumbing.NewBranchReferenceName(cleaned)

	ref, err := g.repo.Reference(refName, true)
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		log.Info().Str("branch", cleaned).Str("base", shortHash(baseHash)).Msg("Creating cleaned branch at merge-base")
		if err := g.repo.Storer.SetReference(plumbing.NewHashReference(refName, baseHash)); err != nil {
			return "", &models.BranchError{Branch: cleaned, Reason: "failed to create branch", Err: err}
		}
	case err != nil:
		return "", &models.BranchError{Branch: cleaned, Reason: "failed to read branch", Err: err}
	default:
		if ref.Hash() != baseHash {
			baseCommit, err := g.repo.CommitObject(baseHash)
			if err != nil {
				return "", &models.BranchError{Branch: cleaned, Reason: "cannot load merge-base", Err: err}
			}
			tip, err := g.repo.CommitObject(ref.Hash())
			if err != nil {
				return "", &models.BranchError{Branch: cleaned, Reason: "cannot load branch tip", Err: err}
			}
			ok, err := baseCommit.IsAncestor(tip)
			if err != nil {
				return "", &models.BranchError{Branch: cleaned, Reason: "failed to walk history", Err: err}
			}
			if !ok {
				return "", &models.BranchError{
					Branch: cleaned,
					Reason: fmt.Sprintf("does not descend from the merge-base %s of %s and %s", shortHash(baseHash), source, remote),
				}
			}
		}
		log.Info().Str("branch", cleaned).Str("tip", shortHash(ref.Hash())).Msg("Reusing existing cleaned branch")
	}

	if current, err := g.CurrentBranch(); err == nil && current == cleaned {
		return base, nil
	}

	wt, err := g.repo.Worktree()
	if err != nil {
		return "", &models.BranchError{Branch: cleaned, Reason: "no working tree", Err: err}
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: refName}); err != nil {
		return "", &models.BranchError{Branch: cleaned, Reason: "failed to check out (commit or stash local changes first)", Err: err}
	}
	return base, nil
}

// FileMode returns the permissions path has on rev: 0755 for executables,
// 0644 otherwise, including paths that do not exist there.
func (g *GitService) FileMode(rev, path string) os.FileMode {
	commit, err := g.resolveCommit(rev)
	if err != nil {
		return 0644
	}
	tree, err := commit.Tree()
	if err != nil {
		return 0644
	}
	entry, err := tree.FindEntry(path)
	if err != nil || entry.Mode != filemode.Executable {
		return 0644
	}
	return 0755
}

// Diff returns a unified diff of every file that differs between the tips of
// from and to. An empty string means the two trees hold the same content.
func (g *GitService) Diff(from, to string) (string, error) {
	fromCommit, err := g.resolveCommit(from)
	if err != nil {
		return "", err
	}
	toCommit, err := g.resolveCommit(to)
	if err != nil {
		return "", err
	}
	fromTree, err := fromCommit.Tree()
	if err != nil {
		return "", fmt.Errorf("failed to get tree for %s: %w", from, err)
	}
	toTree, err := toCommit.Tree()
	if err != nil {
		return "", fmt.Errorf("failed to get tree for %s: %w", to, err)
	}

	changes, err := object.DiffTree(fromTree, toTree)
	if err != nil {
		return "", fmt.Errorf("failed to compute diff %s..%s: %w", from, to, err)
	}

	var kept object.Changes
	for _, change := range changes {
		if g.excluded[changePath(change)] {
			continue
		}
		kept = append(kept, change)
	}
	if len(kept) == 0 {
		return "", nil
	}
	sort.Slice(kept, func(i, j int) bool { return changePath(kept[i]) < changePath(kept[j]) })

	patch, err := kept.Patch()
	if err != nil {
		return "", fmt.Errorf("failed to generate patch %s..%s: %w", from, to, err)
	}
	return patch.String(), nil
}

// CommitOnCleaned stages every working tree change and commits it on the
// cleaned branch, returning the abbreviated commit hash.
func (g *GitService) CommitOnCleaned(cleaned, message string, allowEmpty bool) (string, error) {
	current, err := g.CurrentBranch()
	if err != nil {
		return "", &models.BranchError{Branch: cleaned, Reason: "cannot determine checked out branch", Err: err}
	}
	if current != cleaned {
		return "", &models.BranchError{Branch: cleaned, Reason: fmt.Sprintf("HEAD is on %s, refusing to commit", current)}
	}

	wt, err := g.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("failed to read worktree status: %w", err)
	}

	paths := make([]string, 0, len(status))
	for path := range status {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if g.excluded[path] {
			continue
		}
		st := status[path]
		switch {
		case st.Worktree == git.Deleted:
			if _, err := wt.Remove(path); err != nil {
				return "", fmt.Errorf("failed to stage removal of %s: %w", path, err)
			}
		case st.Worktree != git.Unmodified:
			if _, err := wt.Add(path); err != nil {
				return "", fmt.Errorf("failed to stage %s: %w", path, err)
			}
		}
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  g.authorName,
			Email: g.authorEmail,
			When:  time.Now(),
		},
		AllowEmptyCommits: allowEmpty,
	})
	if errors.Is(err, git.ErrEmptyCommit) {
		return "", models.ErrNothingToCommit
	}
	if err != nil {
		return "", fmt.Errorf("failed to commit on %s: %w", cleaned, err)
	}

	short := shortHash(hash)
	log.Info().Str("branch", cleaned).Str("commit", short).Str("subject", firstLine(message)).Msg("Created commit")
	return short, nil
}

func changePath(change *object.Change) string {
	if change.To.Name != "" {
		return change.To.Name
	}
	return change.From.Name
}

func shortHash(h plumbing.Hash) string {
	return h.String()[:shortHashLength]
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
