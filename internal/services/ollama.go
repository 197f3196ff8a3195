package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/MrLemur/retcon/internal/models"
	"github.com/MrLemur/retcon/pkg/helpers"
	ollama "github.com/ollama/ollama/api"
	"github.com/rs/zerolog/log"
)

// ErrInvalidArgument is reported back to the model when a tool call is malformed
var ErrInvalidArgument = errors.New("invalid tool argument")

const extractSystemPrompt = `You rebuild a clean git history one commit at a time.
The working tree holds the cleaned branch. The diff shows everything the source branch still has that the cleaned branch lacks.
Apply only the changes that belong to the requested commit using write_file and delete_file. Leave unrelated changes for later commits.
Use read_file to inspect files and build or test to check your work. Do not commit unless the commit must be split.
When you are done reply with JSON only: {"body": "<optional commit message body>"}.`

const assessSystemPrompt = `You rebuild a clean git history one commit at a time.
The commit below was created but the build or tests fail. Fix the working tree with the tools so the commit builds on its own, pulling in the smallest amount of code from the remaining diff.
If the commit cannot build without content that belongs to a later commit, or you cannot make progress, declare yourself stuck.
When you are done reply with JSON only: {"stuck": <true|false>, "summary": "<what blocks progress, empty when not stuck>"}.`

const toolDefinitions = `[
  {"type": "function", "function": {"name": "read_file", "description": "Read a file from the working tree",
    "parameters": {"type": "object", "required": ["path"], "properties": {
      "path": {"type": "string", "description": "Repository relative path"}}}}},
  {"type": "function", "function": {"name": "write_file", "description": "Create or replace a file in the working tree",
    "parameters": {"type": "object", "required": ["path", "content"], "properties": {
      "path": {"type": "string", "description": "Repository relative path"},
      "content": {"type": "string", "description": "Complete new file content"}}}}},
  {"type": "function", "function": {"name": "delete_file", "description": "Delete a file from the working tree",
    "parameters": {"type": "object", "required": ["path"], "properties": {
      "path": {"type": "string", "description": "Repository relative path"}}}}},
  {"type": "function", "function": {"name": "diff", "description": "Show what the source branch has that the cleaned branch lacks",
    "parameters": {"type": "object", "properties": {}}}},
  {"type": "function", "function": {"name": "build", "description": "Run the build command",
    "parameters": {"type": "object", "properties": {}}}},
  {"type": "function", "function": {"name": "test", "description": "Run the test command",
    "parameters": {"type": "object", "properties": {}}}},
  {"type": "function", "function": {"name": "commit", "description": "Commit the current working tree changes on the cleaned branch",
    "parameters": {"type": "object", "required": ["message"], "properties": {
      "message": {"type": "string", "description": "Commit message"}}}}}
]`

// OllamaConfig tunes the Ollama backed reasoning engine
type OllamaConfig struct {
	Model       string
	Temperature float64
	// MaxTurns bounds the number of chat round trips per request
	MaxTurns int
	// MaxDiff is the largest diff, in bytes, sent to the model
	MaxDiff int
	// ContextSize is the model context window in tokens, zero when unknown
	ContextSize int
}

// OllamaReasoner drives an Ollama model through a tool calling loop
type OllamaReasoner struct {
	client *ollama.Client
	cfg    OllamaConfig
	tools  ollama.Tools
}

// NewOllamaReasoner creates a reasoner using client
func NewOllamaReasoner(client *ollama.Client, cfg OllamaConfig) (*OllamaReasoner, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("Ollama model must be specified")
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 40
	}
	var tools ollama.Tools
	if err := json.Unmarshal([]byte(toolDefinitions), &tools); err != nil {
		return nil, fmt.Errorf("invalid tool definitions: %w", err)
	}
	return &OllamaReasoner{client: client, cfg: cfg, tools: tools}, nil
}

// Extract asks the model to apply the changes of one commit
func (r *OllamaReasoner) Extract(ctx context.Context, req models.ExtractRequest, tools models.Toolbox) (models.Extraction, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Commit %d of %d: %s\n", req.Index+1, req.Total, req.Message)
	if req.Hints != "" {
		fmt.Fprintf(&prompt, "\nHints:\n%s\n", req.Hints)
	}
	if len(req.Completed) > 0 {
		fmt.Fprintf(&prompt, "\nAlready reconstructed:\n%s\n", helpers.Indent(strings.Join(req.Completed, "\n"), "- "))
	}
	writeHistory(&prompt, req.History)
	fmt.Fprintf(&prompt, "\nRemaining diff:\n%s\n", r.fitDiff(req.Diff, extractSystemPrompt))

	content, err := r.converse(ctx, extractSystemPrompt, prompt.String(), tools)
	if err != nil {
		return models.Extraction{}, err
	}

	var extraction models.Extraction
	if err := json.Unmarshal([]byte(stripFences(content)), &extraction); err != nil {
		log.Debug().Str("response", helpers.TruncateString(content, 200)).Msg("Extraction reply is not JSON, using it as the body")
		extraction.Body = content
	}
	extraction.Body = helpers.SanitizeCommitMessage(extraction.Body)
	return extraction, nil
}

// Assess asks the model to fix a failing build or declare itself stuck
func (r *OllamaReasoner) Assess(ctx context.Context, req models.AssessRequest, tools models.Toolbox) (models.Assessment, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Commit %d: %s (fix round %d)\n", req.Index+1, req.Message, req.Round)
	if req.Hints != "" {
		fmt.Fprintf(&prompt, "\nHints:\n%s\n", req.Hints)
	}
	writeHistory(&prompt, req.History)
	fmt.Fprintf(&prompt, "\nBuild output:\n%s\n", helpers.TruncateString(req.BuildOutput, r.maxDiff()))
	fmt.Fprintf(&prompt, "\nRemaining diff:\n%s\n", r.fitDiff(req.Diff, assessSystemPrompt+req.BuildOutput))

	messages := []ollama.Message{
		{Role: "system", Content: assessSystemPrompt},
		{Role: "user", Content: prompt.String()},
	}
	messages, content, err := r.loop(ctx, messages, tools)
	if err != nil {
		return models.Assessment{}, err
	}

	var assessment models.Assessment
	if err := json.Unmarshal([]byte(stripFences(content)), &assessment); err == nil {
		return assessment, nil
	}

	// Ask once more with a response schema and no tools.
	format, err := json.Marshal(models.OllamaOutputFormat{
		Type: "object",
		Properties: map[string]interface{}{
			"stuck":   map[string]interface{}{"type": "boolean"},
			"summary": map[string]interface{}{"type": "string"},
		},
		Required: []string{"stuck", "summary"},
	})
	if err != nil {
		return models.Assessment{}, err
	}
	messages = append(messages, ollama.Message{Role: "user", Content: "Reply with the verdict JSON only."})
	reply, err := r.chat(ctx, messages, format, nil)
	if err != nil {
		return models.Assessment{}, err
	}
	if err := json.Unmarshal([]byte(stripFences(reply.Content)), &assessment); err != nil {
		return models.Assessment{}, fmt.Errorf("failed to unmarshal Ollama verdict: %w", err)
	}
	return assessment, nil
}

func (r *OllamaReasoner) converse(ctx context.Context, system, prompt string, tools models.Toolbox) (string, error) {
	_, content, err := r.loop(ctx, []ollama.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: prompt},
	}, tools)
	return content, err
}

// loop exchanges messages until the model answers without calling a tool
func (r *OllamaReasoner) loop(ctx context.Context, messages []ollama.Message, tools models.Toolbox) ([]ollama.Message, string, error) {
	for turn := 0; turn < r.cfg.MaxTurns; turn++ {
		reply, err := r.chat(ctx, messages, nil, r.tools)
		if err != nil {
			return messages, "", err
		}
		messages = append(messages, reply)
		if len(reply.ToolCalls) == 0 {
			return messages, reply.Content, nil
		}
		for _, call := range reply.ToolCalls {
			result, err := r.dispatch(ctx, call, tools)
			if err != nil {
				return messages, "", err
			}
			messages = append(messages, ollama.Message{Role: "tool", Content: result})
		}
	}
	return messages, "", fmt.Errorf("model %s did not finish within %d turns", r.cfg.Model, r.cfg.MaxTurns)
}

func (r *OllamaReasoner) chat(ctx context.Context, messages []ollama.Message, format json.RawMessage, tools ollama.Tools) (ollama.Message, error) {
	stream := false
	var reply ollama.Message
	err := r.client.Chat(ctx, &ollama.ChatRequest{
		Model:    r.cfg.Model,
		Messages: messages,
		Stream:   &stream,
		Format:   format,
		Tools:    tools,
		Options:  map[string]any{"temperature": r.cfg.Temperature},
	}, func(resp ollama.ChatResponse) error {
		reply.Role = resp.Message.Role
		reply.Content += resp.Message.Content
		reply.ToolCalls = append(reply.ToolCalls, resp.Message.ToolCalls...)
		return nil
	})
	if err != nil {
		return ollama.Message{}, fmt.Errorf("failed to send Ollama message: %w", err)
	}
	if reply.Role == "" {
		reply.Role = "assistant"
	}
	return reply, nil
}

// dispatch runs one tool call. Recoverable failures are returned to the model
// as text; anything else aborts the request.
func (r *OllamaReasoner) dispatch(ctx context.Context, call ollama.ToolCall, tools models.Toolbox) (string, error) {
	name := call.Function.Name
	args := call.Function.Arguments
	log.Debug().Str("tool", name).Msg("Model requested tool")

	var (
		result string
		err    error
	)
	switch name {
	case "read_file":
		var path string
		if path, err = stringArg(args, "path"); err == nil {
			result, err = tools.ReadFile(ctx, path)
		}
	case "write_file":
		var path, content string
		if path, err = stringArg(args, "path"); err == nil {
			if content, err = stringArg(args, "content"); err == nil {
				if err = tools.WriteFile(ctx, path, content); err == nil {
					result = "wrote " + path
				}
			}
		}
	case "delete_file":
		var path string
		if path, err = stringArg(args, "path"); err == nil {
			if err = tools.DeleteFile(ctx, path); err == nil {
				result = "deleted " + path
			}
		}
	case "diff":
		if result, err = tools.Diff(ctx); err == nil {
			if result == "" {
				result = "no remaining differences"
			}
			result = helpers.TruncateString(result, r.maxDiff())
		}
	case "build", "test":
		var verdict models.Verdict
		if name == "build" {
			verdict, err = tools.Build(ctx)
		} else {
			verdict, err = tools.Test(ctx)
		}
		if err == nil {
			status := "failed"
			if verdict.Passed {
				status = "passed"
			}
			result = fmt.Sprintf("%s %s\n%s", name, status, helpers.TruncateString(verdict.Output, r.maxDiff()))
		}
	case "commit":
		var message, hash string
		if message, err = stringArg(args, "message"); err == nil {
			if hash, err = tools.Commit(ctx, message); err == nil {
				result = "created commit " + hash
			}
		}
	default:
		err = fmt.Errorf("%w: unknown tool %q", ErrInvalidArgument, name)
	}

	if err != nil {
		if recoverableToolError(err) {
			log.Debug().Str("tool", name).Err(err).Msg("Tool call failed")
			return "error: " + err.Error(), nil
		}
		return "", fmt.Errorf("tool %s: %w", name, err)
	}
	return result, nil
}

func recoverableToolError(err error) bool {
	return errors.Is(err, ErrPathDenied) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, models.ErrNothingToCommit) ||
		errors.Is(err, fs.ErrNotExist)
}

func stringArg(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %q", ErrInvalidArgument, key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q must be a string", ErrInvalidArgument, key)
	}
	return s, nil
}

func (r *OllamaReasoner) maxDiff() int {
	if r.cfg.MaxDiff <= 0 {
		return 1 << 20
	}
	return r.cfg.MaxDiff
}

// fitDiff truncates diff to the configured size and, when the context window
// is known, to what fits next to the rest of the prompt.
func (r *OllamaReasoner) fitDiff(diff, rest string) string {
	limit := r.maxDiff()
	if r.cfg.ContextSize > 0 {
		// Keep a quarter of the window for the response.
		budget := (r.cfg.ContextSize*3/4 - EstimateTokenCount(rest)) * 4
		if budget < limit {
			limit = budget
		}
	}
	if limit < 64 {
		limit = 64
	}
	if len(diff) > limit {
		log.Warn().Int("diff_bytes", len(diff)).Int("limit", limit).Msg("Diff truncated to fit the model context")
	}
	return helpers.TruncateString(diff, limit)
}

func writeHistory(b *strings.Builder, history []models.HistoryEntry) {
	if len(history) == 0 {
		return
	}
	b.WriteString("\nHistory of this commit:\n")
	for _, entry := range history {
		fmt.Fprintf(b, "- %s\n", models.DescribeEntry(entry))
	}
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// CheckOllamaAvailability checks if the Ollama server is available
func CheckOllamaAvailability(ctx context.Context, client *ollama.Client) error {
	if _, err := client.List(ctx); err != nil {
		return fmt.Errorf("failed to connect to Ollama server: %w", err)
	}
	return nil
}

// GetModelContextSize retrieves the context window size for a model
func GetModelContextSize(ctx context.Context, client *ollama.Client, model string) (int, error) {
	modelInfo, err := client.Show(ctx, &ollama.ShowRequest{Name: model})
	if err != nil {
		return 0, fmt.Errorf("failed to get model info from Ollama: %w", err)
	}
	if modelInfo.ModelInfo == nil {
		return 0, fmt.Errorf("no model info available for %s", model)
	}

	// The key is "<architecture>.context_length".
	for key, value := range modelInfo.ModelInfo {
		if !strings.HasSuffix(key, ".context_length") {
			continue
		}
		var size int
		switch v := value.(type) {
		case float64:
			size = int(v)
		case int:
			size = v
		case int64:
			size = int(v)
		case string:
			size, _ = strconv.Atoi(v)
		}
		if size > 0 {
			log.Debug().Str("model", model).Str("key", key).Int("context_size", size).Msg("Found model context size")
			return size, nil
		}
	}
	return 0, fmt.Errorf("could not determine context size for model %s", model)
}

// EstimateTokenCount provides a rough estimate of token count for text
func EstimateTokenCount(text string) int {
	// ~4 characters per token for English text
	return len(text) / 4
}
