package intent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/calscribe/internal/ai"
)

const extractionSystemPrompt = `You are a calendar intent extraction engine. Analyze the user's message against their existing event ledger. Your output must be ONLY a single valid JSON object with an "actions" array that conforms to the provided schema. Do not include any other text, prose, or markdown.

Action types:
- "CREATE": the message describes a new event not present in the ledger
- "UPDATE": the message changes an event already in the ledger; target_local_id must be the local_id of that ledger entry
- "MOVE": the message refers to an event on another calendar that should be tracked here; set source_calendar_id and source_event_id
- "IGNORE": the message is not calendar-relevant; explain why in reasoning

Rules:
- Resolve relative dates ("tomorrow", "next friday") against the current time given below.
- start_time and end_time must either both be dates (YYYY-MM-DD, all-day) or both be RFC3339 date-times with timezone offsets. Never mix the two.
- If no end is mentioned, assume one hour after the start.
- confidence is your certainty in [0,1] that the action reflects the user's intent.
- Emit one action per distinct event mentioned; emit a single IGNORE when nothing is calendar-relevant.`

const repairSystemPrompt = `You are a calendar payload repair engine. A calendar API rejected an event payload. Fix the payload so the API will accept it, changing as little as possible. Your output must be ONLY a single valid JSON object with the fields summary, description, location, start_time, end_time. start_time and end_time must either both be dates (YYYY-MM-DD) or both be RFC3339 date-times, never mixed.`

// BuildExtractionPrompt constructs the chat messages for action extraction.
// The response schema, ledger snapshot and current time travel in the system
// message so the model can resolve references and relative dates.
func BuildExtractionPrompt(message string, ledger []LedgerEntry, now time.Time) []ai.Message {
	var sb strings.Builder
	sb.WriteString(extractionSystemPrompt)

	if schema, err := json.Marshal(actionSchema()); err == nil {
		fmt.Fprintf(&sb, "\n\n[Response Schema]\n%s", schema)
	}

	fmt.Fprintf(&sb, "\n\n[Current Time]\n%s", now.Format(time.RFC3339))

	if len(ledger) > 0 {
		entries, err := json.Marshal(ledger)
		if err == nil {
			fmt.Fprintf(&sb, "\n\n[Event Ledger]\n%s", entries)
		}
	} else {
		sb.WriteString("\n\n[Event Ledger]\n(empty)")
	}

	return []ai.Message{
		{Role: "system", Content: sb.String()},
		{Role: "user", Content: message},
	}
}

// BuildRepairPrompt constructs the chat messages asking the model to fix a
// payload the calendar API rejected.
func BuildRepairPrompt(draft EventDraft, apiError string) []ai.Message {
	payload, _ := json.Marshal(draft)

	system := repairSystemPrompt
	if schema, err := json.Marshal(repairSchema()); err == nil {
		system = fmt.Sprintf("%s\n\n[Response Schema]\n%s", system, schema)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[Rejected Payload]\n%s\n\n[API Error]\n%s", payload, apiError)

	return []ai.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: sb.String()},
	}
}

// actionSchema returns the JSON schema for structured extraction output.
func actionSchema() *ai.Schema {
	return &ai.Schema{
		Type: "object",
		Properties: map[string]ai.SchemaProperty{
			"actions": {
				Type:        "array",
				Description: "Proposed calendar actions extracted from the message",
				Items: &ai.Schema{
					Type: "object",
					Properties: map[string]ai.SchemaProperty{
						"type":               {Type: "string", Description: "One of: CREATE, UPDATE, MOVE, IGNORE"},
						"confidence":         {Type: "number", Description: "Certainty in [0,1]"},
						"reasoning":          {Type: "string", Description: "Why this action was proposed"},
						"target_local_id":    {Type: "string", Description: "Ledger local_id for UPDATE actions"},
						"event":              {Type: "object", Description: "Event fields: summary, description, location, start_time, end_time"},
						"source_calendar_id": {Type: "string", Description: "Source calendar for MOVE actions"},
						"source_event_id":    {Type: "string", Description: "Source event for MOVE actions"},
					},
					Required: []string{"type", "confidence", "reasoning"},
				},
			},
		},
		Required: []string{"actions"},
	}
}

// repairSchema returns the JSON schema for repaired event payloads.
func repairSchema() *ai.Schema {
	return &ai.Schema{
		Type: "object",
		Properties: map[string]ai.SchemaProperty{
			"summary":     {Type: "string"},
			"description": {Type: "string"},
			"location":    {Type: "string"},
			"start_time":  {Type: "string", Description: "YYYY-MM-DD or RFC3339"},
			"end_time":    {Type: "string", Description: "YYYY-MM-DD or RFC3339"},
		},
		Required: []string{"summary", "start_time", "end_time"},
	}
}
