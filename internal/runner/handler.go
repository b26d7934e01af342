package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// HandlerLoadError is raised when a handler executable cannot be used.
type HandlerLoadError struct {
	Message string
}

// Error implements the error interface.
func (e *HandlerLoadError) Error() string {
	return e.Message
}

// ExecutionError is raised when a handler runs but fails.
type ExecutionError struct {
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// HandlerRequest is the JSON document written to the handler's stdin.
type HandlerRequest struct {
	Type     string         `json:"type"`
	Query    string         `json:"query,omitempty"`
	Messages []Message      `json:"messages,omitempty"`
	Metadata map[string]any `json:"metadata"`
}

// Handler executes the caller's business logic for one request.
type Handler interface {
	Run(ctx context.Context, req HandlerRequest) (any, error)
}

// HandlerFunc adapts a plain function to the Handler interface, for
// in-process handlers and tests.
type HandlerFunc func(ctx context.Context, req HandlerRequest) (any, error)

// Run calls the wrapped function.
func (f HandlerFunc) Run(ctx context.Context, req HandlerRequest) (any, error) {
	return f(ctx, req)
}

// ExecHandler runs an external executable as the handler. The request is
// written to its stdin as JSON; the result is read from its stdout. A
// stdout document that is not valid JSON is wrapped as {"result": <text>}.
type ExecHandler struct {
	path    string
	workDir string
}

// LoadHandler validates the handler executable at path and returns an
// ExecHandler running in workDir.
func LoadHandler(path, workDir string) (*ExecHandler, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &HandlerLoadError{Message: fmt.Sprintf("handler not found: %s", path)}
	}
	if err != nil {
		return nil, &HandlerLoadError{Message: fmt.Sprintf("stat handler %s: %v", path, err)}
	}
	if info.IsDir() {
		return nil, &HandlerLoadError{Message: fmt.Sprintf("handler path is a directory: %s", path)}
	}
	if info.Mode()&0111 == 0 {
		return nil, &HandlerLoadError{Message: fmt.Sprintf("handler is not executable: %s", path)}
	}
	return &ExecHandler{path: path, workDir: workDir}, nil
}

// Run executes the handler process. The context bounds its lifetime.
func (h *ExecHandler) Run(ctx context.Context, req HandlerRequest) (any, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return nil, &ExecutionError{Message: "encode handler request", Err: err}
	}

	cmd := exec.CommandContext(ctx, h.path)
	cmd.Dir = h.workDir
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := fmt.Sprintf("handler execution failed: %v", err)
		if detail := strings.TrimSpace(stderr.String()); detail != "" {
			msg += ": " + detail
		}
		return nil, &ExecutionError{Message: msg}
	}

	raw := strings.TrimSpace(stdout.String())
	if raw == "" {
		return nil, nil
	}

	var result any
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		// Plain-text handlers are allowed; wrap their output.
		return map[string]any{"result": raw}, nil
	}
	return result, nil
}
