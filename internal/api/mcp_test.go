package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/calscribe/internal/intent"
	"github.com/kalambet/calscribe/internal/ledger"
	"github.com/kalambet/calscribe/internal/reconcile"
	"github.com/kalambet/calscribe/internal/storage"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T, extractor ActionExtractor, remote reconcile.Remote) (MCPDeps, *ledger.Manager) {
	t.Helper()

	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	lm := ledger.NewManager(store)
	rec := reconcile.New(lm, store, remote, nil, 0.8)

	return MCPDeps{
		Store:      store,
		Ledger:     lm,
		Extractor:  extractor,
		Reconciler: rec,
	}, lm
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_ExtractActions(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &mockExtractor{actions: confidentCreate()}, &stubRemote{})
	handler := mcpExtractActions(deps)

	result, err := handler(context.Background(), makeCallToolRequest("extract_actions", map[string]interface{}{
		"message": "dentist tuesday at 10",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var actions []intent.ProposedAction
	if err := json.Unmarshal([]byte(toolText(t, result)), &actions); err != nil {
		t.Fatalf("decoding actions: %v", err)
	}
	if len(actions) != 1 || actions[0].Type != intent.ActionCreate {
		t.Errorf("actions = %+v", actions)
	}
}

func TestMCPTool_ExtractActions_MissingMessage(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &mockExtractor{}, &stubRemote{})
	handler := mcpExtractActions(deps)

	result, err := handler(context.Background(), makeCallToolRequest("extract_actions", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing message")
	}
}

func TestMCPTool_ExtractActions_ExtractorFailure(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &mockExtractor{err: errors.New("provider down")}, &stubRemote{})
	handler := mcpExtractActions(deps)

	result, err := handler(context.Background(), makeCallToolRequest("extract_actions", map[string]interface{}{
		"message": "dentist tuesday",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error when extraction fails")
	}
	if !strings.Contains(toolText(t, result), "extraction failed") {
		t.Errorf("text = %s", toolText(t, result))
	}
}

func TestMCPTool_ApplyAction(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &mockExtractor{}, &stubRemote{insertID: "remote-1"})
	handler := mcpApplyAction(deps)

	actionJSON := `{"type":"CREATE","confidence":0.9,"event":{"summary":"Dentist","start_time":"2026-09-01T10:00:00Z","end_time":"2026-09-01T11:00:00Z"}}`
	result, err := handler(context.Background(), makeCallToolRequest("apply_action", map[string]interface{}{
		"action":        actionJSON,
		"original_text": "dentist tuesday",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var rec storage.EventRecord
	if err := json.Unmarshal([]byte(toolText(t, result)), &rec); err != nil {
		t.Fatalf("decoding record: %v", err)
	}
	if !rec.Synced || rec.GCalID != "remote-1" {
		t.Errorf("rec = %+v", rec)
	}
	if rec.OriginalText != "dentist tuesday" {
		t.Errorf("OriginalText = %q", rec.OriginalText)
	}
}

func TestMCPTool_ApplyAction_InvalidJSON(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &mockExtractor{}, &stubRemote{})
	handler := mcpApplyAction(deps)

	result, err := handler(context.Background(), makeCallToolRequest("apply_action", map[string]interface{}{
		"action": "not json {{",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for invalid action JSON")
	}
}

func TestMCPTool_ApplyAction_Ignore(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &mockExtractor{}, &stubRemote{})
	handler := mcpApplyAction(deps)

	result, err := handler(context.Background(), makeCallToolRequest("apply_action", map[string]interface{}{
		"action": `{"type":"IGNORE","confidence":0.99}`,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if toolText(t, result) != "ignored" {
		t.Errorf("text = %s", toolText(t, result))
	}
}

func TestMCPTool_ListEvents(t *testing.T) {
	deps, lm := newTestMCPDeps(t, &mockExtractor{}, &stubRemote{})
	if _, err := lm.CreateFromDraft(intent.EventDraft{
		Summary:   "Standup",
		StartTime: "2026-09-01T09:00:00Z",
		EndTime:   "2026-09-01T09:15:00Z",
	}, "standup"); err != nil {
		t.Fatalf("CreateFromDraft: %v", err)
	}

	handler := mcpListEvents(deps)
	result, err := handler(context.Background(), makeCallToolRequest("list_events", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var events []storage.EventRecord
	if err := json.Unmarshal([]byte(toolText(t, result)), &events); err != nil {
		t.Fatalf("decoding events: %v", err)
	}
	if len(events) != 1 || events[0].Summary != "Standup" {
		t.Errorf("events = %+v", events)
	}
}

func TestMCPTool_ListEvents_Empty(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &mockExtractor{}, &stubRemote{})
	handler := mcpListEvents(deps)

	result, err := handler(context.Background(), makeCallToolRequest("list_events", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if toolText(t, result) != "[]" {
		t.Errorf("text = %s", toolText(t, result))
	}
}

func TestMCPTool_RetryEvent(t *testing.T) {
	deps, lm := newTestMCPDeps(t, &mockExtractor{}, &stubRemote{insertID: "remote-3"})

	created, err := lm.CreateFromDraft(intent.EventDraft{
		Summary:   "Dentist",
		StartTime: "2026-09-01T10:00:00Z",
		EndTime:   "2026-09-01T11:00:00Z",
	}, "dentist")
	if err != nil {
		t.Fatalf("CreateFromDraft: %v", err)
	}
	if err := lm.MarkError(created.LocalID, "network down"); err != nil {
		t.Fatalf("MarkError: %v", err)
	}

	handler := mcpRetryEvent(deps)
	result, herr := handler(context.Background(), makeCallToolRequest("retry_event", map[string]interface{}{
		"local_id": created.LocalID,
	}))
	if herr != nil {
		t.Fatalf("unexpected error: %v", herr)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var rec storage.EventRecord
	json.Unmarshal([]byte(toolText(t, result)), &rec)
	if !rec.Synced || rec.GCalID != "remote-3" {
		t.Errorf("rec = %+v", rec)
	}
}

func TestMCPResource_Ledger(t *testing.T) {
	deps, lm := newTestMCPDeps(t, &mockExtractor{}, &stubRemote{})
	if _, err := lm.CreateFromDraft(intent.EventDraft{
		Summary:   "Dentist",
		StartTime: "2026-09-01T10:00:00Z",
		EndTime:   "2026-09-01T11:00:00Z",
	}, "dentist"); err != nil {
		t.Fatalf("CreateFromDraft: %v", err)
	}

	handler := mcpResourceLedger(deps)
	contents, err := handler(context.Background(), makeReadResourceRequest("calendar://ledger"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("len(contents) = %d, want 1", len(contents))
	}

	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var entries []intent.LedgerEntry
	if err := json.Unmarshal([]byte(text.Text), &entries); err != nil {
		t.Fatalf("decoding ledger: %v", err)
	}
	if len(entries) != 1 || entries[0].Summary != "Dentist" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestNewMCPServerRegisters(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &mockExtractor{}, &stubRemote{})
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_ApplyAction_MissingEvent(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &mockExtractor{}, &stubRemote{})
	handler := mcpApplyAction(deps)

	result, err := handler(context.Background(), makeCallToolRequest("apply_action", map[string]interface{}{
		"action": `{"type":"CREATE","confidence":0.9}`,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for action without event")
	}
	if !strings.Contains(toolText(t, result), "action.event") {
		t.Errorf("text = %s", toolText(t, result))
	}
}
