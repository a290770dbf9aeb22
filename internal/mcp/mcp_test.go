package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/drip/internal/config"
	"github.com/hpungsan/drip/internal/db"
	"github.com/hpungsan/drip/internal/email"
	"github.com/hpungsan/drip/internal/errors"
	"github.com/hpungsan/drip/internal/logging"
	"github.com/hpungsan/drip/internal/ops"
	"github.com/hpungsan/drip/internal/session"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fakeRewriter struct {
	mu         sync.Mutex
	calls      int
	requestIDs []string
}

func (f *fakeRewriter) Rewrite(ctx context.Context, req email.Request) (*email.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.requestIDs = append(f.requestIDs, logging.RequestID(ctx))
	res := &email.Result{Rewritten: "[" + string(req.Tone) + "] " + req.Draft}
	if req.Roast {
		res.Roast = email.StringPtr("nice try")
	}
	return res, nil
}

type fakeBilling struct{}

func (fakeBilling) CreateCheckout(context.Context, string, string) (string, error) {
	return "https://checkout.example.com/s/1", nil
}

type testEnv struct {
	deps     ops.Deps
	store    *db.Store
	rewriter *fakeRewriter
}

// testSetup creates a temporary database and deps for testing. The session starts anonymous.
func testSetup(t *testing.T) *testEnv {
	t.Helper()

	tmpDir := t.TempDir()
	database, err := db.Init(tmpDir)
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	store := db.NewStore(database)
	store.SetClock(func() time.Time { return testNow })
	sess := session.New(store, nil)
	sess.Resolve(context.Background())

	cfg := config.DefaultConfig()
	cfg.AllowUnsafePaths = true // Allow temp dirs in tests

	rw := &fakeRewriter{}
	return &testEnv{
		deps: ops.Deps{
			Config:   cfg,
			BaseDir:  tmpDir,
			Session:  sess,
			Store:    store,
			Rewriter: rw,
			Billing:  fakeBilling{},
			Now:      func() time.Time { return testNow },
		},
		store:    store,
		rewriter: rw,
	}
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	out, err := ops.NewAccount(e.deps).Login(context.Background(), ops.LoginInput{Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	return out.UserID
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func TestHandleRewrite(t *testing.T) {
	env := testSetup(t)
	env.login(t)
	h := NewHandlers(env.deps)
	defer h.Close()
	ctx := context.Background()

	tests := []struct {
		name      string
		args      map[string]any
		wantError bool
		errorCode string
	}{
		{
			name:      "rewrite with defaults",
			args:      map[string]any{"draft": "send the report"},
			wantError: false,
		},
		{
			name:      "rewrite with tone and roast",
			args:      map[string]any{"draft": "send the report", "tone": "Karen", "roast": true},
			wantError: false,
		},
		{
			name:      "missing draft",
			args:      map[string]any{"tone": "Funny"},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name:      "unknown tone",
			args:      map[string]any{"draft": "hi", "tone": "Sarcastic"},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name:      "wrong argument type",
			args:      map[string]any{"draft": 42},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandleRewrite(ctx, makeRequest(tt.args))
			if err != nil {
				t.Fatalf("handler returned error: %v", err)
			}

			if tt.wantError {
				if !result.IsError {
					t.Errorf("expected error result, got success")
				}
				if tt.errorCode != "" {
					assertErrorCode(t, result, tt.errorCode)
				}
			} else if result.IsError {
				t.Errorf("expected success, got error: %v", extractErrorMessage(result))
			}
		})
	}
}

func TestHandleRewrite_QuotaExceeded(t *testing.T) {
	env := testSetup(t)
	env.login(t)
	h := NewHandlers(env.deps)
	defer h.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, _ := h.HandleRewrite(ctx, makeRequest(map[string]any{"draft": fmt.Sprintf("draft %d", i)}))
		out := parseOutput(t, result)
		quota := out["quota"].(map[string]any)
		if quota["usage_count"] != float64(i+1) {
			t.Fatalf("usage_count = %v, want %d", quota["usage_count"], i+1)
		}
	}

	result, _ := h.HandleRewrite(ctx, makeRequest(map[string]any{"draft": "one more"}))
	assertErrorCode(t, result, "QUOTA_EXCEEDED")
	if env.rewriter.calls != 5 {
		t.Errorf("rewrite service called %d times, want 5", env.rewriter.calls)
	}
}

func TestHandleRewrite_StatusAfterUpgradeUnblocks(t *testing.T) {
	env := testSetup(t)
	userID := env.login(t)
	h := NewHandlers(env.deps)
	defer h.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := env.store.InsertRecord(ctx, email.NewRecord{UserID: userID, Original: "o", Rewritten: "r", CreatedAt: testNow}); err != nil {
			t.Fatalf("InsertRecord failed: %v", err)
		}
	}

	result, _ := h.HandleRewrite(ctx, makeRequest(map[string]any{"draft": "blocked"}))
	assertErrorCode(t, result, "QUOTA_EXCEEDED")

	if err := env.store.SetUserPro(ctx, userID, true); err != nil {
		t.Fatalf("SetUserPro failed: %v", err)
	}
	result, _ = h.HandleStatus(ctx, makeRequest(nil))
	quota := parseOutput(t, result)["quota"].(map[string]any)
	if quota["plan"] != "Pro" {
		t.Fatalf("plan = %v, want Pro", quota["plan"])
	}

	result, _ = h.HandleRewrite(ctx, makeRequest(map[string]any{"draft": "after upgrade"}))
	out := parseOutput(t, result)
	quota = out["quota"].(map[string]any)
	if quota["plan"] != "Pro" || quota["usage_count"] != float64(6) {
		t.Errorf("quota = %v, want Pro with usage 6", quota)
	}
	if env.rewriter.calls != 1 {
		t.Errorf("rewrite service called %d times, want 1", env.rewriter.calls)
	}
}

func TestHandleRewrite_SetsRequestID(t *testing.T) {
	env := testSetup(t)
	env.login(t)
	h := NewHandlers(env.deps)
	defer h.Close()

	result, _ := h.HandleRewrite(context.Background(), makeRequest(map[string]any{"draft": "a"}))
	parseOutput(t, result)

	ctx := logging.WithRequestID(context.Background(), "req-fixed")
	result, _ = h.HandleRewrite(ctx, makeRequest(map[string]any{"draft": "b"}))
	parseOutput(t, result)

	if env.rewriter.requestIDs[0] == "" {
		t.Error("expected a generated request id")
	}
	if env.rewriter.requestIDs[1] != "req-fixed" {
		t.Errorf("request id = %q, want %q", env.rewriter.requestIDs[1], "req-fixed")
	}
}

func TestHandlers_RequireSignIn(t *testing.T) {
	env := testSetup(t)
	h := NewHandlers(env.deps)
	defer h.Close()
	ctx := context.Background()

	calls := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"rewrite":  h.HandleRewrite,
		"status":   h.HandleStatus,
		"history":  h.HandleHistory,
		"export":   h.HandleExport,
		"checkout": h.HandleCheckout,
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			result, err := call(ctx, makeRequest(map[string]any{"draft": "hi", "id": "x"}))
			if err != nil {
				t.Fatalf("handler returned error: %v", err)
			}
			assertErrorCode(t, result, "AUTH_REQUIRED")
		})
	}
}

func TestHandleStatus(t *testing.T) {
	env := testSetup(t)
	env.login(t)
	h := NewHandlers(env.deps)
	defer h.Close()

	result, _ := h.HandleStatus(context.Background(), makeRequest(nil))
	out := parseOutput(t, result)

	if out["email"] != "ada@example.com" {
		t.Errorf("email = %v", out["email"])
	}
	quota := out["quota"].(map[string]any)
	if quota["plan"] != "Free" || quota["remaining"] != float64(5) {
		t.Errorf("quota = %v, want Free with 5 remaining", quota)
	}
}

func TestHandleHistoryAndCopy(t *testing.T) {
	env := testSetup(t)
	env.login(t)
	h := NewHandlers(env.deps)
	defer h.Close()
	ctx := context.Background()

	long := strings.Repeat("word ", 40)
	result, _ := h.HandleRewrite(ctx, makeRequest(map[string]any{"draft": long, "roast": true}))
	rewrite := parseOutput(t, result)
	id, _ := rewrite["record_id"].(string)
	if id == "" {
		t.Fatal("expected record_id in rewrite output")
	}

	// Rewrites land in the shared history without a reload
	result, _ = h.HandleHistory(ctx, makeRequest(map[string]any{"page": 1}))
	page := parseOutput(t, result)
	if page["total"] != float64(1) {
		t.Fatalf("total = %v, want 1", page["total"])
	}
	item := page["items"].([]any)[0].(map[string]any)
	if item["id"] != id {
		t.Errorf("item id = %v, want %v", item["id"], id)
	}
	if orig := item["original"].(string); len(orig) != email.PreviewChars+3 {
		t.Errorf("collapsed preview length = %d, want %d", len(orig), email.PreviewChars+3)
	}

	result, _ = h.HandleHistory(ctx, makeRequest(map[string]any{"expand": true}))
	item = parseOutput(t, result)["items"].([]any)[0].(map[string]any)
	if item["original"] != long {
		t.Error("expanded item should carry the full original")
	}

	result, _ = h.HandleCopy(ctx, makeRequest(map[string]any{"id": id, "field": "roast"}))
	cp := parseOutput(t, result)
	if cp["text"] != "nice try" {
		t.Errorf("text = %v, want %q", cp["text"], "nice try")
	}

	result, _ = h.HandleCopy(ctx, makeRequest(map[string]any{"id": "missing"}))
	assertErrorCode(t, result, "NOT_FOUND")

	result, _ = h.HandleCopy(ctx, makeRequest(map[string]any{"id": id, "field": "subject"}))
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandleExport(t *testing.T) {
	env := testSetup(t)
	userID := env.login(t)
	h := NewHandlers(env.deps)
	defer h.Close()
	ctx := context.Background()

	result, _ := h.HandleExport(ctx, makeRequest(map[string]any{"format": "csv"}))
	assertErrorCode(t, result, "PRO_REQUIRED")

	if err := env.store.SetUserPro(ctx, userID, true); err != nil {
		t.Fatalf("SetUserPro failed: %v", err)
	}

	// A fresh handler set re-resolves the plan
	h2 := NewHandlers(env.deps)
	defer h2.Close()

	result, _ = h2.HandleExport(ctx, makeRequest(map[string]any{"format": "text", "stdout": true}))
	out := parseOutput(t, result)
	if !strings.HasPrefix(out["content"].(string), "Email Export\n") {
		t.Errorf("content = %q", out["content"])
	}
	if out["filename"] != "emails-export-2026-03-14.txt" {
		t.Errorf("filename = %v", out["filename"])
	}

	result, _ = h2.HandleExport(ctx, makeRequest(map[string]any{"format": "xml"}))
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandleCheckoutAndWhoami(t *testing.T) {
	env := testSetup(t)
	h := NewHandlers(env.deps)
	defer h.Close()
	ctx := context.Background()

	result, _ := h.HandleWhoami(ctx, makeRequest(nil))
	if out := parseOutput(t, result); out["state"] != "anonymous" {
		t.Errorf("state = %v, want anonymous", out["state"])
	}

	env.login(t)

	result, _ = h.HandleWhoami(ctx, makeRequest(nil))
	if out := parseOutput(t, result); out["authenticated"] != true {
		t.Errorf("authenticated = %v, want true", out["authenticated"])
	}

	result, _ = h.HandleCheckout(ctx, makeRequest(nil))
	if out := parseOutput(t, result); out["url"] != "https://checkout.example.com/s/1" {
		t.Errorf("url = %v", out["url"])
	}
}

func TestServerRegistration(t *testing.T) {
	env := testSetup(t)
	h := NewHandlers(env.deps)
	defer h.Close()

	s := NewServer(h, "test")
	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	expectedTools := []string{
		"email_rewrite",
		"email_status",
		"email_history",
		"email_copy",
		"email_export",
		"billing_checkout",
		"account_whoami",
	}

	if len(tools) != len(expectedTools) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expectedTools))
	}
	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_ToneEnumFollowsConfig(t *testing.T) {
	env := testSetup(t)
	env.deps.Config.Tones = []string{"Formal", "Casual"}
	h := NewHandlers(env.deps)
	defer h.Close()

	tools := NewServer(h, "test").ListTools()
	tone, ok := tools["email_rewrite"].Tool.InputSchema.Properties["tone"].(map[string]any)
	if !ok {
		t.Fatal("email_rewrite has no tone property")
	}
	enum, _ := tone["enum"].([]string)
	if strings.Join(enum, ",") != "Formal,Casual" {
		t.Errorf("tone enum = %v, want [Formal Casual]", tone["enum"])
	}
	if tone["description"] != "Rewrite tone (default Formal)" {
		t.Errorf("tone description = %v", tone["description"])
	}

	env.login(t)
	result, _ := h.HandleRewrite(context.Background(), makeRequest(map[string]any{"draft": "hi", "tone": "Polite"}))
	assertErrorCode(t, result, "INVALID_REQUEST")
	result, _ = h.HandleRewrite(context.Background(), makeRequest(map[string]any{"draft": "hi", "tone": "casual"}))
	if out := parseOutput(t, result); out["tone"] != "Casual" {
		t.Errorf("tone = %v, want Casual", out["tone"])
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	env := testSetup(t)
	env.deps.Config.DisabledTools = []string{"email_export", "billing_checkout", "email_export"}
	h := NewHandlers(env.deps)
	defer h.Close()

	tools := NewServer(h, "test").ListTools()

	if len(tools) != 5 {
		t.Errorf("registered tool count = %d, want 5", len(tools))
	}
	for _, name := range []string{"email_export", "billing_checkout"} {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	env := testSetup(t)
	env.deps.Config.DisabledTools = AllToolNames()
	h := NewHandlers(env.deps)
	defer h.Close()

	if tools := NewServer(h, "test").ListTools(); len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0 (all disabled)", len(tools))
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		wantLen int
	}{
		{name: "all valid", input: []string{"email_export", "billing_checkout"}, wantLen: 0},
		{name: "one unknown", input: []string{"email_export", "email_delete"}, wantLen: 1},
		{name: "all unknown", input: []string{"foo", "bar", "baz"}, wantLen: 3},
		{name: "empty list", input: []string{}, wantLen: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unknown := ValidateDisabledTools(tt.input)
			if len(unknown) != tt.wantLen {
				t.Errorf("ValidateDisabledTools() returned %d unknown, want %d", len(unknown), tt.wantLen)
			}
		})
	}
}

func TestAllToolNames(t *testing.T) {
	names := AllToolNames()
	if len(names) != 7 {
		t.Errorf("AllToolNames() returned %d names, want 7", len(names))
	}
	if names[0] != "account_whoami" {
		t.Errorf("AllToolNames() not sorted: %v", names)
	}
	if unknown := ValidateDisabledTools(names); len(unknown) != 0 {
		t.Errorf("AllToolNames() returned invalid names: %v", unknown)
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	r := errorResult(errors.NewInternal(fmt.Errorf("sql error: open /tmp/secret.db: permission denied")))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}

	errObj := errorObject(t, r)
	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
	if _, ok := errObj["details"]; ok {
		t.Fatal("expected INTERNAL errors to omit details")
	}
	if strings.Contains(errObj["message"].(string), "secret.db") {
		t.Fatal("expected INTERNAL message to hide the cause")
	}
}

func TestErrorResult_WrappedErrorKeepsCode(t *testing.T) {
	r := errorResult(fmt.Errorf("submit: %w", errors.NewBusy()))

	errObj := errorObject(t, r)
	if errObj["code"] != string(errors.ErrBusy) {
		t.Errorf("code=%v, want %v", errObj["code"], errors.ErrBusy)
	}
}

func TestErrorResult_NonInternalIncludesDetails(t *testing.T) {
	r := errorResult(errors.NewQuotaExceeded(5, 5))

	errObj := errorObject(t, r)
	details, ok := errObj["details"].(map[string]any)
	if !ok {
		t.Fatal("expected non-INTERNAL errors to include details when present")
	}
	if details["upgrade_command"] != errors.UpgradeCommand {
		t.Errorf("upgrade_command = %v", details["upgrade_command"])
	}
}

func TestErrorResult_PlainError(t *testing.T) {
	errObj := errorObject(t, errorResult(fmt.Errorf("boom")))
	if errObj["code"] != "INTERNAL" || errObj["message"] != "an internal error occurred" {
		t.Errorf("error = %v", errObj)
	}
}

// Helper functions

// parseOutput extracts and unmarshals the JSON output from an MCP result.
func parseOutput(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &output); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return output
}

func errorObject(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	errObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Fatal("no error object in payload")
	}
	return errObj
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()
	if !result.IsError {
		t.Errorf("expected error %s, got success: %s", expectedCode, extractErrorMessage(result))
		return
	}
	if code, _ := errorObject(t, result)["code"].(string); code != expectedCode {
		t.Errorf("got error code %q, want %q", code, expectedCode)
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "<not text content>"
	}
	return text.Text
}
