package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/calscribe/internal/ai"
)

const (
	extractionTimeout = 30 * time.Second
	repairTimeout     = 20 * time.Second
)

// Chatter is the chat-completion surface the extractor needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []ai.Message, jsonSchema *ai.Schema) (string, error)
}

// Extractor turns free-form chat text into proposed calendar actions using
// the configured AI provider.
type Extractor struct {
	client Chatter
	model  string
}

// NewExtractor creates an Extractor using the given provider and model name.
func NewExtractor(client Chatter, model string) *Extractor {
	return &Extractor{client: client, model: model}
}

// Extract analyses the message against the ledger snapshot and returns the
// proposed actions. Unlike a best-effort enrichment step, extraction failure
// is surfaced to the caller; no partial result is retained. UPDATE actions
// referencing a local_id that is not in the ledger are dropped with a
// warning so an invalid reference never reaches reconciliation.
func (e *Extractor) Extract(ctx context.Context, message string, ledger []LedgerEntry, now time.Time) ([]ProposedAction, error) {
	if message == "" {
		return nil, fmt.Errorf("message is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, extractionTimeout)
	defer cancel()

	messages := BuildExtractionPrompt(message, ledger, now)

	raw, err := e.client.Chat(ctx, e.model, messages, actionSchema())
	if err != nil {
		return nil, fmt.Errorf("extraction chat failed: %w", err)
	}

	var result struct {
		Actions []ProposedAction `json:"actions"`
	}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("unmarshaling extraction response: %w", err)
	}

	known := make(map[string]bool, len(ledger))
	for _, entry := range ledger {
		known[entry.LocalID] = true
	}

	actions := make([]ProposedAction, 0, len(result.Actions))
	for _, a := range result.Actions {
		switch a.Type {
		case ActionCreate, ActionMove:
			if a.Event == nil {
				slog.Warn("dropping action without event data", "type", a.Type)
				continue
			}
		case ActionUpdate:
			if a.Event == nil {
				slog.Warn("dropping UPDATE action without event data")
				continue
			}
			if !known[a.TargetLocalID] {
				slog.Warn("dropping UPDATE action with unknown target", "target_local_id", a.TargetLocalID)
				continue
			}
		case ActionIgnore:
		default:
			slog.Warn("dropping action with unknown type", "type", a.Type)
			continue
		}

		if a.Confidence < 0 {
			a.Confidence = 0
		}
		if a.Confidence > 1 {
			a.Confidence = 1
		}
		actions = append(actions, a)
	}

	return actions, nil
}

// Repair asks the model to fix a payload the calendar API rejected. It is
// called at most once per action by the reconciler.
func (e *Extractor) Repair(ctx context.Context, draft EventDraft, apiError string) (*EventDraft, error) {
	ctx, cancel := context.WithTimeout(ctx, repairTimeout)
	defer cancel()

	raw, err := e.client.Chat(ctx, e.model, BuildRepairPrompt(draft, apiError), repairSchema())
	if err != nil {
		return nil, fmt.Errorf("repair chat failed: %w", err)
	}

	var repaired EventDraft
	if err := json.Unmarshal([]byte(raw), &repaired); err != nil {
		return nil, fmt.Errorf("unmarshaling repaired payload: %w", err)
	}
	if repaired.Summary == "" || repaired.StartTime == "" || repaired.EndTime == "" {
		return nil, fmt.Errorf("repaired payload is missing required fields")
	}
	return &repaired, nil
}
