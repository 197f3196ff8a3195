package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/MrLemur/retcon/internal/models"
	ollama "github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedOllama struct {
	mu       sync.Mutex
	replies  []string
	requests []ollama.ChatRequest
}

func (s *scriptedOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/chat":
		var req ollama.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		reply := s.replies[len(s.replies)-1]
		if len(s.requests) <= len(s.replies) {
			reply = s.replies[len(s.requests)-1]
		}
		s.mu.Unlock()
		fmt.Fprintf(w, `{"model":"test","created_at":"2024-01-01T00:00:00Z","message":%s,"done":true}`+"\n", reply)
	case "/api/show":
		fmt.Fprint(w, `{"model_info":{"general.architecture":"llama","llama.context_length":8192}}`)
	case "/api/tags":
		fmt.Fprint(w, `{"models":[]}`)
	default:
		http.NotFound(w, r)
	}
}

func newScriptedClient(t *testing.T, replies ...string) (*ollama.Client, *scriptedOllama) {
	t.Helper()
	script := &scriptedOllama{replies: replies}
	srv := httptest.NewServer(script)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return ollama.NewClient(u, srv.Client()), script
}

type memToolbox struct {
	files    map[string]string
	buildErr error
	commits  []string
}

func (m *memToolbox) ReadFile(ctx context.Context, path string) (string, error) {
	content, ok := m.files[path]
	if !ok {
		return "", fmt.Errorf("failed to read %s: %w", path, fs.ErrNotExist)
	}
	return content, nil
}

func (m *memToolbox) WriteFile(ctx context.Context, path, content string) error {
	m.files[path] = content
	return nil
}

func (m *memToolbox) DeleteFile(ctx context.Context, path string) error {
	delete(m.files, path)
	return nil
}

func (m *memToolbox) Diff(ctx context.Context) (string, error) { return "diff --git a/a.go b/a.go", nil }

func (m *memToolbox) Build(ctx context.Context) (models.Verdict, error) {
	if m.buildErr != nil {
		return models.Verdict{}, m.buildErr
	}
	return models.Verdict{Passed: true, Output: "ok"}, nil
}

func (m *memToolbox) Test(ctx context.Context) (models.Verdict, error) {
	return models.Verdict{Passed: false, Output: "FAIL"}, nil
}

func (m *memToolbox) Commit(ctx context.Context, message string) (string, error) {
	m.commits = append(m.commits, message)
	return fmt.Sprintf("c%d", len(m.commits)), nil
}

func toolCall(name string, args map[string]string) string {
	encodedArgs, _ := json.Marshal(args)
	return fmt.Sprintf(`{"role":"assistant","content":"","tool_calls":[{"function":{"name":%q,"arguments":%s}}]}`, name, encodedArgs)
}

func answer(content string) string {
	encoded, _ := json.Marshal(content)
	return fmt.Sprintf(`{"role":"assistant","content":%s}`, encoded)
}

func TestOllamaExtractRunsToolsUntilAnswer(t *testing.T) {
	client, script := newScriptedClient(t,
		toolCall("write_file", map[string]string{"path": "a.go", "content": "package a"}),
		toolCall("read_file", map[string]string{"path": "missing.go"}),
		toolCall("test", nil),
		answer("```json\n{\"body\": \"Adds package a.\"}\n```"),
	)
	reasoner, err := NewOllamaReasoner(client, OllamaConfig{Model: "test", Temperature: 0.1, MaxDiff: 4096})
	require.NoError(t, err)

	tools := &memToolbox{files: map[string]string{}}
	extraction, err := reasoner.Extract(context.Background(), models.ExtractRequest{
		Index:     1,
		Total:     3,
		Message:   "Add package a",
		Hints:     "only a.go",
		Diff:      "diff --git a/a.go b/a.go",
		Completed: []string{"Initial layout"},
		History:   []models.HistoryEntry{models.CommitCreated{Hash: "a1"}, models.Stuck{Summary: "x"}, models.Resolved{Note: "split a.go"}},
	}, tools)
	require.NoError(t, err)

	assert.Equal(t, "Adds package a.", extraction.Body)
	assert.Equal(t, "package a", tools.files["a.go"])

	require.Len(t, script.requests, 4)
	first := script.requests[0]
	assert.Equal(t, "test", first.Model)
	require.NotNil(t, first.Stream)
	assert.False(t, *first.Stream)
	assert.Len(t, first.Tools, 7)
	assert.Contains(t, first.Messages[1].Content, "Commit 2 of 3: Add package a")
	assert.Contains(t, first.Messages[1].Content, "- Initial layout")
	assert.Contains(t, first.Messages[1].Content, "split a.go")

	last := script.requests[3].Messages
	var toolResults []string
	for _, msg := range last {
		if msg.Role == "tool" {
			toolResults = append(toolResults, msg.Content)
		}
	}
	require.Len(t, toolResults, 3)
	assert.Equal(t, "wrote a.go", toolResults[0])
	assert.Contains(t, toolResults[1], "error: ")
	assert.Contains(t, toolResults[2], "test failed")
}

func TestOllamaExtractPlainTextBody(t *testing.T) {
	client, _ := newScriptedClient(t, answer("  Adds the parser.\n\n\n\nMore detail.  "))
	reasoner, err := NewOllamaReasoner(client, OllamaConfig{Model: "test"})
	require.NoError(t, err)

	extraction, err := reasoner.Extract(context.Background(), models.ExtractRequest{Message: "m", Total: 1}, &memToolbox{files: map[string]string{}})
	require.NoError(t, err)
	assert.Equal(t, "Adds the parser.\n\nMore detail.", extraction.Body)
}

func TestOllamaAssessFallsBackToSchema(t *testing.T) {
	client, script := newScriptedClient(t,
		toolCall("commit", map[string]string{"message": "Wire parser"}),
		answer("I could not make it build."),
		answer(`{"stuck": true, "summary": "needs the config loader from a later commit"}`),
	)
	reasoner, err := NewOllamaReasoner(client, OllamaConfig{Model: "test"})
	require.NoError(t, err)

	tools := &memToolbox{files: map[string]string{}}
	assessment, err := reasoner.Assess(context.Background(), models.AssessRequest{
		Index:       0,
		Message:     "Wire parser",
		BuildOutput: "undefined: config.Load",
		Diff:        "diff",
		Round:       2,
	}, tools)
	require.NoError(t, err)

	assert.True(t, assessment.Stuck)
	assert.Equal(t, "needs the config loader from a later commit", assessment.Summary)
	assert.Equal(t, []string{"Wire parser"}, tools.commits)

	require.Len(t, script.requests, 3)
	assert.Contains(t, script.requests[0].Messages[1].Content, "fix round 2")
	assert.Contains(t, script.requests[0].Messages[1].Content, "undefined: config.Load")
	assert.Empty(t, script.requests[1].Format)
	assert.NotEmpty(t, script.requests[2].Format)
	assert.Empty(t, script.requests[2].Tools)
}

func TestOllamaFatalToolErrorAborts(t *testing.T) {
	client, _ := newScriptedClient(t, toolCall("build", nil), answer(`{"stuck": false}`))
	reasoner, err := NewOllamaReasoner(client, OllamaConfig{Model: "test"})
	require.NoError(t, err)

	tools := &memToolbox{files: map[string]string{}, buildErr: &models.BuildExecutionError{Step: "build", Err: errors.New("exec: not found")}}
	_, err = reasoner.Assess(context.Background(), models.AssessRequest{Message: "m"}, tools)
	var execErr *models.BuildExecutionError
	assert.True(t, errors.As(err, &execErr), "got %v", err)
}

func TestOllamaTurnLimit(t *testing.T) {
	client, script := newScriptedClient(t, toolCall("diff", nil))
	reasoner, err := NewOllamaReasoner(client, OllamaConfig{Model: "test", MaxTurns: 3})
	require.NoError(t, err)

	_, err = reasoner.Extract(context.Background(), models.ExtractRequest{Message: "m", Total: 1}, &memToolbox{files: map[string]string{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not finish within 3 turns")
	assert.Len(t, script.requests, 3)
}

func TestOllamaUnknownToolIsReported(t *testing.T) {
	client, script := newScriptedClient(t, toolCall("rm_rf", map[string]string{"path": "/"}), answer(`{"body": ""}`))
	reasoner, err := NewOllamaReasoner(client, OllamaConfig{Model: "test"})
	require.NoError(t, err)

	_, err = reasoner.Extract(context.Background(), models.ExtractRequest{Message: "m", Total: 1}, &memToolbox{files: map[string]string{}})
	require.NoError(t, err)
	messages := script.requests[1].Messages
	assert.Contains(t, messages[len(messages)-1].Content, "unknown tool")
}

func TestOllamaModelInfo(t *testing.T) {
	client, _ := newScriptedClient(t, answer(""))
	require.NoError(t, CheckOllamaAvailability(context.Background(), client))

	size, err := GetModelContextSize(context.Background(), client, "test")
	require.NoError(t, err)
	assert.Equal(t, 8192, size)
}

func TestFitDiffRespectsContextSize(t *testing.T) {
	reasoner, err := NewOllamaReasoner(nil, OllamaConfig{Model: "test", MaxDiff: 10000, ContextSize: 200})
	require.NoError(t, err)

	diff := make([]byte, 5000)
	for i := range diff {
		diff[i] = 'x'
	}
	fitted := reasoner.fitDiff(string(diff), "")
	assert.Len(t, fitted, 600)

	_, err = NewOllamaReasoner(nil, OllamaConfig{})
	assert.Error(t, err)
}
