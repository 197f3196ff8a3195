// Package engine drives the per-commit reconstruction loop: extract the
// commit from the source diff, verify it, and let the reasoning engine fix
// it until it builds or declares itself stuck.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrLemur/retcon/internal/models"
	"github.com/MrLemur/retcon/pkg/helpers"
	"github.com/rs/zerolog/log"
)

// Reasoner is the external reasoning engine. It performs file edits and
// commits only through the toolbox it is handed.
type Reasoner interface {
	Extract(ctx context.Context, req models.ExtractRequest, tools models.Toolbox) (models.Extraction, error)
	Assess(ctx context.Context, req models.AssessRequest, tools models.Toolbox) (models.Assessment, error)
}

// Branches is the branch manager surface the engine needs
type Branches interface {
	EnsureCleaned(source, remote, cleaned string) (string, error)
	Diff(from, to string) (string, error)
	CommitOnCleaned(cleaned, message string, allowEmpty bool) (string, error)
}

// Verifier checks whether the working tree builds and passes its tests
type Verifier interface {
	Verify(ctx context.Context) (models.Verdict, error)
}

// Store persists the history specification
type Store interface {
	Spec() models.HistorySpec
	Append(index int, entry models.HistoryEntry) error
}

// Observer receives progress events. Implementations must not block.
type Observer interface {
	CommitStarted(index, total int, message string)
	EntryAppended(index int, entry models.HistoryEntry)
	VerificationFinished(index int, verdict models.Verdict)
}

// Deps wires the engine to its collaborators
type Deps struct {
	Store    Store
	Branches Branches
	Verifier Verifier
	Reasoner Reasoner
	Tools    models.Toolbox
	Observer Observer
}

// Options tunes the reconstruction loop
type Options struct {
	// WIPPrefix is prepended to the commit message of fix-round commits
	WIPPrefix string
	// MaxFixRounds turns a commit stuck after that many failed fix rounds. Zero means no limit.
	MaxFixRounds int
}

// DefaultWIPPrefix marks commits created during fix rounds
const DefaultWIPPrefix = "WIP: "

// Outcome is how a run ended
type Outcome int

const (
	OutcomeComplete Outcome = iota
	OutcomeStuck
)

func (o Outcome) String() string {
	switch o {
	case OutcomeComplete:
		return "complete"
	case OutcomeStuck:
		return "stuck"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result summarizes a run
type Result struct {
	Outcome Outcome
	// Index, Message and Summary describe the stuck commit when Outcome is OutcomeStuck
	Index   int
	Message string
	Summary string
	// Completed counts the commits completed by this run
	Completed int
	// RemainingDiff is the content of source not present on cleaned after all commits completed
	RemainingDiff string
}

// Engine reconstructs the commits of a history specification one at a time
type Engine struct {
	deps Deps
	opts Options
}

// New creates an engine
func New(deps Deps, opts Options) *Engine {
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if opts.WIPPrefix == "" {
		opts.WIPPrefix = DefaultWIPPrefix
	}
	return &Engine{deps: deps, opts: opts}
}

// Run processes commits from the resume pointer until every commit is
// complete or one gets stuck. A stuck outcome is not an error.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	var result Result
	ensured := false

	for {
		spec := e.deps.Store.Spec()
		index, pending := spec.ResumeIndex()
		if !pending {
			break
		}
		commit := spec.Commits[index]
		if commit.IsStuck() {
			return result, &models.UnresolvedResumeError{Index: index, Message: commit.Message, Summary: commit.StuckSummary()}
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if !ensured {
			base, err := e.deps.Branches.EnsureCleaned(spec.Source, spec.Remote, spec.Cleaned)
			if err != nil {
				return result, err
			}
			log.Debug().Str("base", base).Str("cleaned", spec.Cleaned).Msg("Cleaned branch ready")
			ensured = true
		}

		stuck, err := e.reconstruct(ctx, spec, index)
		if err != nil {
			return result, err
		}
		if stuck != nil {
			result.Outcome = OutcomeStuck
			result.Index = index
			result.Message = commit.Message
			result.Summary = stuck.Summary
			return result, nil
		}
		result.Completed++
	}

	if !ensured {
		log.Info().Msg("All commits are already complete")
		return result, nil
	}

	spec := e.deps.Store.Spec()
	remaining, err := e.deps.Branches.Diff(spec.Cleaned, spec.Source)
	if err != nil {
		return result, err
	}
	result.RemainingDiff = remaining
	if remaining != "" {
		log.Warn().Str("cleaned", spec.Cleaned).Str("source", spec.Source).Msg("All commits complete but the cleaned branch still differs from source")
	}
	return result, nil
}

func (e *Engine) reconstruct(ctx context.Context, spec models.HistorySpec, index int) (*models.Stuck, error) {
	commit := spec.Commits[index]
	e.deps.Observer.CommitStarted(index, len(spec.Commits), commit.Message)
	log.Info().Int("commit", index+1).Int("total", len(spec.Commits)).Str("message", commit.Message).Msg("Reconstructing commit")

	if len(commit.CreatedCommits()) == 0 {
		if err := e.extract(ctx, spec, index); err != nil {
			return nil, err
		}
	} else {
		log.Info().Int("commit", index+1).Msg("Commit already created, verifying")
		// an interrupted fix round can leave edits behind; only committed content is verified
		if err := e.commitLeftovers(spec.Cleaned, index, e.opts.WIPPrefix+commit.Message); err != nil {
			return nil, err
		}
	}

	for round := 1; ; round++ {
		verdict, err := e.deps.Verifier.Verify(ctx)
		if err != nil {
			return nil, err
		}
		e.deps.Observer.VerificationFinished(index, verdict)
		if verdict.Passed {
			return nil, e.append(index, models.Complete{})
		}

		if e.opts.MaxFixRounds > 0 && round > e.opts.MaxFixRounds {
			stuck := models.Stuck{Summary: fmt.Sprintf("build still failing after %d fix rounds", e.opts.MaxFixRounds)}
			return &stuck, e.append(index, stuck)
		}

		log.Info().Int("commit", index+1).Int("round", round).Msg("Verification failed, asking for a fix")
		diff, err := e.deps.Branches.Diff(spec.Cleaned, spec.Source)
		if err != nil {
			return nil, err
		}
		current := e.deps.Store.Spec().Commits[index]
		assessment, err := e.deps.Reasoner.Assess(ctx, models.AssessRequest{
			Index:       index,
			Message:     commit.Message,
			Hints:       commit.Hints,
			BuildOutput: verdict.Output,
			Diff:        diff,
			History:     current.History,
			Round:       round,
		}, e.recorder(index))
		if err != nil {
			return nil, fmt.Errorf("assessment of commit %d failed: %w", index+1, err)
		}

		if assessment.Stuck {
			summary := assessment.Summary
			if summary == "" {
				summary = "no further progress possible"
			}
			stuck := models.Stuck{Summary: summary}
			return &stuck, e.append(index, stuck)
		}

		if err := e.commitLeftovers(spec.Cleaned, index, e.opts.WIPPrefix+commit.Message); err != nil {
			return nil, err
		}
	}
}

func (e *Engine) extract(ctx context.Context, spec models.HistorySpec, index int) error {
	commit := spec.Commits[index]
	diff, err := e.deps.Branches.Diff(spec.Cleaned, spec.Source)
	if err != nil {
		return err
	}

	tools := e.recorder(index)
	extraction, err := e.deps.Reasoner.Extract(ctx, models.ExtractRequest{
		Index:     index,
		Total:     len(spec.Commits),
		Message:   commit.Message,
		Hints:     commit.Hints,
		Diff:      diff,
		History:   commit.History,
		Completed: spec.CompletedMessages(index),
	}, tools)
	if err != nil {
		return fmt.Errorf("extraction of commit %d failed: %w", index+1, err)
	}

	if tools.commits > 0 {
		return e.commitLeftovers(spec.Cleaned, index, e.opts.WIPPrefix+commit.Message)
	}

	hash, err := e.deps.Branches.CommitOnCleaned(spec.Cleaned, helpers.ComposeMessage(commit.Message, extraction.Body), true)
	if err != nil {
		return err
	}
	return e.append(index, models.CommitCreated{Hash: hash})
}

// commitLeftovers commits whatever the reasoning engine left uncommitted
func (e *Engine) commitLeftovers(cleaned string, index int, message string) error {
	hash, err := e.deps.Branches.CommitOnCleaned(cleaned, message, false)
	if errors.Is(err, models.ErrNothingToCommit) {
		log.Debug().Int("commit", index+1).Msg("No uncommitted changes left")
		return nil
	}
	if err != nil {
		return err
	}
	return e.append(index, models.CommitCreated{Hash: hash})
}

func (e *Engine) append(index int, entry models.HistoryEntry) error {
	if err := e.deps.Store.Append(index, entry); err != nil {
		return err
	}
	e.deps.Observer.EntryAppended(index, entry)
	log.Info().Int("commit", index+1).Str("entry", models.DescribeEntry(entry)).Msg("History updated")
	return nil
}

func (e *Engine) recorder(index int) *recordingToolbox {
	return &recordingToolbox{Toolbox: e.deps.Tools, engine: e, index: index}
}

// recordingToolbox persists a CommitCreated entry for every commit the
// reasoning engine makes before reporting the hash back to it.
type recordingToolbox struct {
	models.Toolbox
	engine  *Engine
	index   int
	commits int
}

func (r *recordingToolbox) Commit(ctx context.Context, message string) (string, error) {
	hash, err := r.Toolbox.Commit(ctx, message)
	if err != nil {
		return "", err
	}
	if err := r.engine.append(r.index, models.CommitCreated{Hash: hash}); err != nil {
		return "", err
	}
	r.commits++
	return hash, nil
}

type nopObserver struct{}

func (nopObserver) CommitStarted(int, int, string)           {}
func (nopObserver) EntryAppended(int, models.HistoryEntry)   {}
func (nopObserver) VerificationFinished(int, models.Verdict) {}
