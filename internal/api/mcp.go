package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/calscribe/internal/intent"
	"github.com/kalambet/calscribe/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store      *storage.Store
	Ledger     LedgerReader
	Extractor  ActionExtractor
	Reconciler ActionApplier
}

// LedgerReader abstracts ledger reads for the MCP layer.
type LedgerReader interface {
	Snapshot() ([]intent.LedgerEntry, error)
	List(limit, offset int) ([]storage.EventRecord, error)
	Get(localID string) (storage.EventRecord, error)
}

// ActionApplier abstracts action application for the MCP layer.
type ActionApplier interface {
	Apply(ctx context.Context, action intent.ProposedAction, originalText string) (*storage.EventRecord, error)
	Retry(ctx context.Context, localID string) (*storage.EventRecord, error)
}

// NewMCPServer creates an MCP server with all calscribe tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"calscribe",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("calscribe — extracts calendar intents from chat text and keeps a durable local event ledger synced to Google Calendar."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("extract_actions",
			mcp.WithDescription("Analyze a chat message against the event ledger and return proposed calendar actions. Does not apply them."),
			mcp.WithString("message", mcp.Description("The chat message to analyze"), mcp.Required()),
		),
		mcpExtractActions(deps),
	)

	s.AddTool(
		mcp.NewTool("apply_action",
			mcp.WithDescription("Apply one proposed calendar action: merge it into the ledger and push it to the remote calendar."),
			mcp.WithString("action", mcp.Description("JSON object of the proposed action"), mcp.Required()),
			mcp.WithString("original_text", mcp.Description("The chat text the action came from")),
		),
		mcpApplyAction(deps),
	)

	s.AddTool(
		mcp.NewTool("list_events",
			mcp.WithDescription("List ledger events, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of events (default 20)")),
		),
		mcpListEvents(deps),
	)

	s.AddTool(
		mcp.NewTool("retry_event",
			mcp.WithDescription("Retry the remote calendar write for a ledger event that previously failed."),
			mcp.WithString("local_id", mcp.Description("Local id of the ledger event"), mcp.Required()),
		),
		mcpRetryEvent(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"calendar://ledger",
			"Event Ledger",
			mcp.WithResourceDescription("Current event ledger snapshot as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceLedger(deps),
	)

	return s
}

func mcpExtractActions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		snapshot, err := deps.Ledger.Snapshot()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load ledger: %v", err)), nil
		}

		actions, err := deps.Extractor.Extract(ctx, message, snapshot, time.Now())
		if err != nil {
			return mcpError(fmt.Sprintf("extraction failed: %v", err)), nil
		}

		b, err := json.Marshal(actions)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal actions: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpApplyAction(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		actionJSON, err := req.RequireString("action")
		if err != nil {
			return mcpError("action is required"), nil
		}

		var action intent.ProposedAction
		if err := json.Unmarshal([]byte(actionJSON), &action); err != nil {
			return mcpError(fmt.Sprintf("invalid action JSON: %v", err)), nil
		}
		if action.Type == "" {
			return mcpError("action.type is required"), nil
		}
		switch action.Type {
		case intent.ActionCreate, intent.ActionUpdate, intent.ActionMove:
			if action.Event == nil {
				return mcpError(fmt.Sprintf("action.event is required for %s actions", action.Type)), nil
			}
		}

		originalText := req.GetString("original_text", "")

		rec, err := deps.Reconciler.Apply(ctx, action, originalText)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to apply action: %v", err)), nil
		}
		if rec == nil {
			return mcpText("ignored"), nil
		}

		b, err := json.Marshal(rec)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal record: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListEvents(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		events, err := deps.Ledger.List(limit, 0)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list events: %v", err)), nil
		}
		if len(events) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(events)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal events: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRetryEvent(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		localID, err := req.RequireString("local_id")
		if err != nil {
			return mcpError("local_id is required"), nil
		}

		rec, err := deps.Reconciler.Retry(ctx, localID)
		if err != nil {
			return mcpError(fmt.Sprintf("retry failed: %v", err)), nil
		}

		b, err := json.Marshal(rec)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal record: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceLedger(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		entries, err := deps.Ledger.Snapshot()
		if err != nil {
			return nil, fmt.Errorf("failed to load ledger: %w", err)
		}

		b, err := json.Marshal(entries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal ledger: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
