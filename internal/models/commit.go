package models

import "context"

// Verdict is the outcome of a build or test run that could be launched
type Verdict struct {
	Passed bool   `json:"passed"`
	Output string `json:"output"`
}

// ExtractRequest is the input of the reasoning engine's extraction call
type ExtractRequest struct {
	Index     int            `json:"index"`
	Total     int            `json:"total"`
	Message   string         `json:"message"`
	Hints     string         `json:"hints,omitempty"`
	Diff      string         `json:"diff"`
	History   []HistoryEntry `json:"-"`
	Completed []string       `json:"completed,omitempty"`
}

// Extraction is what the reasoning engine returns after applying changes.
// Body, when set, becomes the body of the commit message.
type Extraction struct {
	Body string `json:"body,omitempty"`
}

// AssessRequest is the input of the reasoning engine's progress assessment call
type AssessRequest struct {
	Index       int            `json:"index"`
	Message     string         `json:"message"`
	Hints       string         `json:"hints,omitempty"`
	BuildOutput string         `json:"build_output"`
	Diff        string         `json:"diff"`
	History     []HistoryEntry `json:"-"`
	Round       int            `json:"round"`
}

// Assessment is the reasoning engine's verdict on a failed build. When Stuck is
// false the engine has applied a fix through the toolbox.
type Assessment struct {
	Stuck   bool   `json:"stuck"`
	Summary string `json:"summary"`
}

// Toolbox is the capability surface offered to the reasoning engine
type Toolbox interface {
	ReadFile(ctx context.Context, path string) (string, error)
	WriteFile(ctx context.Context, path, content string) error
	DeleteFile(ctx context.Context, path string) error
	Diff(ctx context.Context) (string, error)
	Build(ctx context.Context) (Verdict, error)
	Test(ctx context.Context) (Verdict, error)
	Commit(ctx context.Context, message string) (string, error)
}

// OllamaOutputFormat defines the JSON schema for Ollama API responses
type OllamaOutputFormat struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
	Required   []string               `json:"required"`
}
