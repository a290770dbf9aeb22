package mcp

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/drip/internal/config"
	"github.com/hpungsan/drip/internal/errors"
	"github.com/hpungsan/drip/internal/logging"
	"github.com/hpungsan/drip/internal/ops"
)

// Handlers holds the long-lived views behind the MCP tools.
// Editor and Dashboard share one history and one quota gate, so rewrites appear in
// listings without a reload and email_status refreshes the gate email_rewrite checks.
type Handlers struct {
	deps    ops.Deps
	editor  *ops.Editor
	dash    *ops.Dashboard
	account *ops.Account
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps ops.Deps) *Handlers {
	dash := ops.NewDashboard(deps, nil)
	return &Handlers{
		deps:    deps,
		editor:  dash.Editor(),
		dash:    dash,
		account: ops.NewAccount(deps),
	}
}

// tones returns the configured tone set.
func (h *Handlers) tones() []string {
	if h.deps.Config != nil {
		return h.deps.Config.Tones
	}
	return config.DefaultTones
}

// Close releases the views. In-flight rewrites are dropped.
func (h *Handlers) Close() {
	h.editor.Close()
	h.dash.Close()
}

// callContext tags ctx with a fresh request id unless it already carries one.
func callContext(ctx context.Context) context.Context {
	if logging.RequestID(ctx) != "" {
		return ctx
	}
	return logging.WithRequestID(ctx, uuid.NewString())
}

// Request types for each tool

// RewriteRequest represents the arguments for email_rewrite.
type RewriteRequest struct {
	Draft string `json:"draft"`
	Tone  string `json:"tone,omitempty"`
	Roast bool   `json:"roast,omitempty"`
}

// HistoryRequest represents the arguments for email_history.
type HistoryRequest struct {
	Page   int  `json:"page,omitempty"`
	Expand bool `json:"expand,omitempty"`
}

// CopyRequest represents the arguments for email_copy.
type CopyRequest struct {
	ID    string `json:"id"`
	Field string `json:"field,omitempty"`
}

// ExportRequest represents the arguments for email_export.
type ExportRequest struct {
	Format string `json:"format,omitempty"`
	Path   string `json:"path,omitempty"`
	Stdout bool   `json:"stdout,omitempty"`
}

// Handler implementations

// HandleRewrite handles the email_rewrite tool call.
func (h *Handlers) HandleRewrite(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RewriteRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.editor.Rewrite(callContext(ctx), ops.RewriteInput{
		Draft: input.Draft,
		Tone:  input.Tone,
		Roast: input.Roast,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleStatus handles the email_status tool call.
func (h *Handlers) HandleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := h.dash.Load(callContext(ctx))
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleHistory handles the email_history tool call.
func (h *Handlers) HandleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[HistoryRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.dash.ListHistory(callContext(ctx), ops.HistoryInput{
		Page:   input.Page,
		Expand: input.Expand,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleCopy handles the email_copy tool call.
func (h *Handlers) HandleCopy(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CopyRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.dash.Copy(callContext(ctx), ops.CopyInput{
		ID:    input.ID,
		Field: input.Field,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleExport handles the email_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.dash.Export(callContext(ctx), ops.ExportInput{
		Format: input.Format,
		Path:   input.Path,
		Stdout: input.Stdout,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleCheckout handles the billing_checkout tool call.
func (h *Handlers) HandleCheckout(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := h.account.Upgrade(callContext(ctx))
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleWhoami handles the account_whoami tool call.
func (h *Handlers) HandleWhoami(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(h.account.Whoami())
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are never exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if dErr, ok := errors.As(err); ok {
		errorObj := map[string]any{
			"code":    dErr.Code,
			"message": dErr.Message,
			"status":  dErr.Status,
		}
		if dErr.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		} else if dErr.Details != nil {
			errorObj["details"] = dErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
