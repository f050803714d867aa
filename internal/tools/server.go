// Package tools exposes the runner as MCP tools.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/michaelbrown/runbox/internal/gate"
	"github.com/michaelbrown/runbox/internal/runner"
	"github.com/michaelbrown/runbox/internal/session"
)

const (
	ToolExecuteCode   = "execute_code"
	ToolNewSession    = "new_session"
	ToolDeleteSession = "delete_session"
)

// ExecuteResult is the JSON text returned by execute_code.
type ExecuteResult struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Output    string `json:"output"`
	Errors    string `json:"errors"`
}

type handlers struct {
	runner *runner.Runner
}

// NewServer builds an MCP server with the execute_code, new_session and
// delete_session tools.
func NewServer(r *runner.Runner, version string) *server.MCPServer {
	s := server.NewMCPServer("runbox", version)
	h := &handlers{runner: r}

	s.AddTool(mcp.Tool{
		Name: ToolExecuteCode,
		Description: "Run a Python snippet in a session working directory and return its stdout and stderr. " +
			"Imports of os, sys, subprocess, socket and similar modules, and calls to exec, eval and open, are rejected.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Python source to execute",
				},
				"session_id": map[string]any{
					"type":        "string",
					"description": "Existing session to run in; a new session is created when omitted",
				},
			},
			Required: []string{"code"},
		},
	}, h.executeCode)

	s.AddTool(mcp.Tool{
		Name:        ToolNewSession,
		Description: "Create an empty session working directory and return its id.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}, h.newSession)

	s.AddTool(mcp.Tool{
		Name:        ToolDeleteSession,
		Description: "Delete a session and every file in its working directory.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": map[string]any{
					"type":        "string",
					"description": "Session to delete",
				},
			},
			Required: []string{"session_id"},
		},
	}, h.deleteSession)

	return s
}

// ServeStdio serves s over stdin/stdout until the client disconnects.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func (h *handlers) executeCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	if args == nil {
		return errResult("error: invalid arguments"), nil
	}

	code, ok := args["code"].(string)
	if !ok {
		return errResult("error: 'code' is required"), nil
	}
	sessionID, _ := args["session_id"].(string)

	res, err := h.runner.Execute(ctx, runner.Request{Code: code, SessionID: sessionID})
	if err != nil {
		var rej *gate.Rejection
		switch {
		case errors.As(err, &rej):
			return errResult("Security Error: " + rej.Error()), nil
		case errors.Is(err, session.ErrSessionNotFound):
			return errResult("session not found: " + sessionID), nil
		default:
			return errResult("Execution failed: " + err.Error()), nil
		}
	}

	out := ExecuteResult{
		SessionID: res.SessionID,
		Status:    "success",
		Output:    res.Stdout,
		Errors:    res.Stderr,
	}
	if res.Failed() {
		out.Status = "error"
	}
	data, err := json.Marshal(out)
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}
	return textResult(string(data)), nil
}

func (h *handlers) newSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := h.runner.NewSession(ctx)
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}
	return textResult(id), nil
}

func (h *handlers) deleteSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	id, _ := args["session_id"].(string)
	if id == "" {
		return errResult("error: 'session_id' is required"), nil
	}

	if err := h.runner.DeleteSession(ctx, id); err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}
	return textResult("Session " + id + " deleted"), nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
	}
}

func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: msg}},
		IsError: true,
	}
}
