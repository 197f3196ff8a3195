package services

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/MrLemur/retcon/internal/models"
	"github.com/google/renameio/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

// specFile is the on-disk TOML layout of a history specification
type specFile struct {
	Source  string       `toml:"source"`
	Remote  string       `toml:"remote"`
	Cleaned string       `toml:"cleaned"`
	Commits []commitFile `toml:"commit"`
}

type commitFile struct {
	Message string `toml:"message"`
	Hints   string `toml:"hints,multiline,omitempty"`
	History []any  `toml:"history,inline,omitempty"`
}

const completeMarker = "complete"

// ParseSpec decodes and validates a history specification
func ParseSpec(data []byte) (*models.HistorySpec, error) {
	var f specFile
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, &models.SpecValidationError{Problems: []string{"unknown keys:\n" + strict.String()}}
		}
		var decErr *toml.DecodeError
		if errors.As(err, &decErr) {
			row, col := decErr.Position()
			return nil, &models.SpecValidationError{Problems: []string{fmt.Sprintf("line %d, column %d: %s", row, col, decErr.Error())}}
		}
		return nil, &models.SpecValidationError{Err: err}
	}

	spec := &models.HistorySpec{
		Source:  f.Source,
		Remote:  f.Remote,
		Cleaned: f.Cleaned,
	}
	var problems []string
	for i, c := range f.Commits {
		cs := models.CommitSpec{Message: c.Message, Hints: c.Hints}
		for j, raw := range c.History {
			entry, err := decodeEntry(raw)
			if err != nil {
				problems = append(problems, fmt.Sprintf("commit %d: history entry %d: %v", i+1, j+1, err))
				continue
			}
			cs.History = append(cs.History, entry)
		}
		spec.Commits = append(spec.Commits, cs)
	}
	if len(problems) > 0 {
		return nil, &models.SpecValidationError{Problems: problems}
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// EncodeSpec serializes a specification to TOML
func EncodeSpec(spec models.HistorySpec) ([]byte, error) {
	f := specFile{
		Source:  spec.Source,
		Remote:  spec.Remote,
		Cleaned: spec.Cleaned,
	}
	for _, c := range spec.Commits {
		cf := commitFile{Message: c.Message, Hints: c.Hints}
		for _, e := range c.History {
			raw, err := encodeEntry(e)
			if err != nil {
				return nil, err
			}
			cf.History = append(cf.History, raw)
		}
		f.Commits = append(f.Commits, cf)
	}

	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(false)
	if err := enc.Encode(f); err != nil {
		return nil, fmt.Errorf("failed to encode spec: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeEntry(raw any) (models.HistoryEntry, error) {
	switch v := raw.(type) {
	case string:
		if v == completeMarker {
			return models.Complete{}, nil
		}
		return nil, fmt.Errorf("unknown marker %q (only %q is allowed as a bare string)", v, completeMarker)
	case map[string]any:
		if len(v) != 1 {
			return nil, fmt.Errorf("expected a table with exactly one key, got %d keys", len(v))
		}
		for key, val := range v {
			text, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("value of %q must be a string", key)
			}
			switch key {
			case models.KindCommitCreated.String():
				return models.CommitCreated{Hash: text}, nil
			case models.KindStuck.String():
				return models.Stuck{Summary: text}, nil
			case models.KindResolved.String():
				return models.Resolved{Note: text}, nil
			default:
				return nil, fmt.Errorf("unknown entry key %q", key)
			}
		}
	}
	return nil, fmt.Errorf("unsupported entry of type %T", raw)
}

func encodeEntry(e models.HistoryEntry) (any, error) {
	switch v := e.(type) {
	case models.CommitCreated:
		return map[string]string{models.KindCommitCreated.String(): v.Hash}, nil
	case models.Stuck:
		return map[string]string{models.KindStuck.String(): v.Summary}, nil
	case models.Resolved:
		return map[string]string{models.KindResolved.String(): v.Note}, nil
	case models.Complete:
		return completeMarker, nil
	default:
		return nil, fmt.Errorf("unknown history entry %T", e)
	}
}

// SpecStore owns a loaded specification and is the only writer of its file.
// Every append is persisted before Append returns.
type SpecStore struct {
	path string
	perm os.FileMode
	spec models.HistorySpec
}

// LoadSpec reads and validates the specification at path
func LoadSpec(path string) (*SpecStore, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &models.SpecValidationError{Path: path, Err: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &models.SpecValidationError{Path: path, Err: err}
	}
	spec, err := ParseSpec(data)
	if err != nil {
		var verr *models.SpecValidationError
		if errors.As(err, &verr) {
			verr.Path = path
		}
		return nil, err
	}
	return &SpecStore{path: path, perm: info.Mode().Perm(), spec: *spec}, nil
}

// NewSpecStore validates spec and writes it to path
func NewSpecStore(path string, spec models.HistorySpec) (*SpecStore, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	s := &SpecStore{path: path, perm: 0644, spec: spec.Clone()}
	if err := s.save(s.spec); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the file backing the store
func (s *SpecStore) Path() string { return s.path }

// Spec returns a copy of the current specification
func (s *SpecStore) Spec() models.HistorySpec { return s.spec.Clone() }

// ResumeIndex returns the first commit that is not complete
func (s *SpecStore) ResumeIndex() (int, bool) { return s.spec.ResumeIndex() }

// Append adds entry to the history of commit index and persists the spec
func (s *SpecStore) Append(index int, entry models.HistoryEntry) error {
	if index < 0 || index >= len(s.spec.Commits) {
		return fmt.Errorf("commit index %d out of range (spec has %d commits)", index, len(s.spec.Commits))
	}
	if err := s.spec.Commits[index].CheckAppend(index, entry); err != nil {
		return err
	}

	next := s.spec.Clone()
	next.Commits[index].History = append(next.Commits[index].History, entry)
	if err := s.save(next); err != nil {
		return err
	}
	s.spec = next

	log.Debug().
		Int("commit", index+1).
		Str("entry", models.DescribeEntry(entry)).
		Str("spec", s.path).
		Msg("History entry persisted")
	return nil
}

func (s *SpecStore) save(spec models.HistorySpec) error {
	data, err := EncodeSpec(spec)
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(s.path, data, s.perm); err != nil {
		return fmt.Errorf("failed to write spec %s: %w", s.path, err)
	}
	return nil
}
