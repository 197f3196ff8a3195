package models

import (
	"fmt"
	"strings"
)

// HistorySpec is the persisted description of the logical commits to reconstruct
// and of the progress made on each of them.
type HistorySpec struct {
	Source  string
	Remote  string
	Cleaned string
	Commits []CommitSpec
}

// CommitSpec describes one logical commit of the cleaned history
type CommitSpec struct {
	Message string
	Hints   string
	History []HistoryEntry
}

// EntryKind identifies the variant of a HistoryEntry
type EntryKind int

const (
	KindCommitCreated EntryKind = iota + 1
	KindStuck
	KindResolved
	KindComplete
)

func (k EntryKind) String() string {
	switch k {
	case KindCommitCreated:
		return "commit_created"
	case KindStuck:
		return "stuck"
	case KindResolved:
		return "resolved"
	case KindComplete:
		return "complete"
	default:
		return fmt.Sprintf("EntryKind(%d)", int(k))
	}
}

// HistoryEntry is one step recorded in a commit's execution history. The set of
// implementations is closed: CommitCreated, Stuck, Resolved and Complete.
type HistoryEntry interface {
	Kind() EntryKind
	isHistoryEntry()
}

// CommitCreated records a commit (primary or WIP fix) made on the cleaned branch
type CommitCreated struct {
	Hash string
}

// Stuck records that the reasoning engine could not proceed
type Stuck struct {
	Summary string
}

// Resolved is a human note that unblocks a stuck commit
type Resolved struct {
	Note string
}

// Complete marks a logical commit as fully reconstructed
type Complete struct{}

func (CommitCreated) Kind() EntryKind { return KindCommitCreated }
func (Stuck) Kind() EntryKind         { return KindStuck }
func (Resolved) Kind() EntryKind      { return KindResolved }
func (Complete) Kind() EntryKind      { return KindComplete }

func (CommitCreated) isHistoryEntry() {}
func (Stuck) isHistoryEntry()         {}
func (Resolved) isHistoryEntry()      {}
func (Complete) isHistoryEntry()      {}

// DescribeEntry renders an entry for logs and status output
func DescribeEntry(e HistoryEntry) string {
	switch v := e.(type) {
	case CommitCreated:
		return "commit created " + v.Hash
	case Stuck:
		return "stuck: " + v.Summary
	case Resolved:
		return "resolved: " + v.Note
	case Complete:
		return "complete"
	default:
		return fmt.Sprintf("unknown history entry %T", e)
	}
}

// Last returns the most recent history entry, or nil for an untouched commit
func (c CommitSpec) Last() HistoryEntry {
	if len(c.History) == 0 {
		return nil
	}
	return c.History[len(c.History)-1]
}

// IsComplete reports whether the history ends in Complete
func (c CommitSpec) IsComplete() bool {
	_, ok := c.Last().(Complete)
	return ok
}

// IsStuck reports whether the commit awaits a human Resolved entry
func (c CommitSpec) IsStuck() bool {
	_, ok := c.Last().(Stuck)
	return ok
}

// StuckSummary returns the summary of the trailing Stuck entry
func (c CommitSpec) StuckSummary() string {
	if s, ok := c.Last().(Stuck); ok {
		return s.Summary
	}
	return ""
}

// ResolutionNote returns the note of the trailing Resolved entry
func (c CommitSpec) ResolutionNote() string {
	if r, ok := c.Last().(Resolved); ok {
		return r.Note
	}
	return ""
}

// CreatedCommits lists the hashes of every CommitCreated entry, oldest first
func (c CommitSpec) CreatedCommits() []string {
	var hashes []string
	for _, e := range c.History {
		if cc, ok := e.(CommitCreated); ok {
			hashes = append(hashes, cc.Hash)
		}
	}
	return hashes
}

// CheckAppend reports whether entry may be appended to this commit's history.
func (c CommitSpec) CheckAppend(index int, entry HistoryEntry) error {
	last := c.Last()
	if _, done := last.(Complete); done {
		return fmt.Errorf("commit %d (%q) is already complete", index+1, c.Message)
	}

	switch v := entry.(type) {
	case CommitCreated:
		if strings.TrimSpace(v.Hash) == "" {
			return fmt.Errorf("commit_created entry needs a hash")
		}
		if c.IsStuck() {
			return &UnresolvedResumeError{Index: index, Message: c.Message, Summary: c.StuckSummary()}
		}
	case Complete:
		if c.IsStuck() {
			return &UnresolvedResumeError{Index: index, Message: c.Message, Summary: c.StuckSummary()}
		}
		if len(c.CreatedCommits()) == 0 {
			return fmt.Errorf("commit %d (%q) cannot be complete before any commit was created", index+1, c.Message)
		}
	case Stuck:
		if c.IsStuck() {
			return fmt.Errorf("commit %d (%q) is already stuck", index+1, c.Message)
		}
	case Resolved:
		if !c.IsStuck() {
			return fmt.Errorf("commit %d (%q) is not stuck, nothing to resolve", index+1, c.Message)
		}
	default:
		return fmt.Errorf("unknown history entry %T", entry)
	}
	return nil
}

// Clone returns a deep copy of the spec
func (s HistorySpec) Clone() HistorySpec {
	out := s
	out.Commits = make([]CommitSpec, len(s.Commits))
	for i, c := range s.Commits {
		out.Commits[i] = c
		out.Commits[i].History = append([]HistoryEntry(nil), c.History...)
	}
	return out
}

// ResumeIndex returns the first commit that is not complete. The boolean is
// false when every commit is complete.
func (s HistorySpec) ResumeIndex() (int, bool) {
	for i, c := range s.Commits {
		if !c.IsComplete() {
			return i, true
		}
	}
	return 0, false
}

// CompletedMessages returns the messages of the commits before index
func (s HistorySpec) CompletedMessages(index int) []string {
	var messages []string
	for i := 0; i < index && i < len(s.Commits); i++ {
		messages = append(messages, s.Commits[i].Message)
	}
	return messages
}

// Validate checks required fields and replays every history through CheckAppend
func (s HistorySpec) Validate() error {
	var problems []string
	if strings.TrimSpace(s.Source) == "" {
		problems = append(problems, "missing required key 'source'")
	}
	if strings.TrimSpace(s.Remote) == "" {
		problems = append(problems, "missing required key 'remote'")
	}
	if strings.TrimSpace(s.Cleaned) == "" {
		problems = append(problems, "missing required key 'cleaned'")
	}
	if s.Cleaned != "" && (s.Cleaned == s.Source || s.Cleaned == s.Remote) {
		problems = append(problems, fmt.Sprintf("'cleaned' branch %q must differ from 'source' and 'remote'", s.Cleaned))
	}
	if len(s.Commits) == 0 {
		problems = append(problems, "at least one [[commit]] is required")
	}

	for i, c := range s.Commits {
		if strings.TrimSpace(c.Message) == "" {
			problems = append(problems, fmt.Sprintf("commit %d: missing required key 'message'", i+1))
		}
		replay := CommitSpec{Message: c.Message}
		for j, e := range c.History {
			if err := replay.CheckAppend(i, e); err != nil {
				problems = append(problems, fmt.Sprintf("commit %d: history entry %d (%s): %v", i+1, j+1, DescribeEntry(e), err))
				break
			}
			replay.History = append(replay.History, e)
		}
	}

	if len(problems) > 0 {
		return &SpecValidationError{Problems: problems}
	}
	return nil
}
