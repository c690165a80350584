package intent

// ActionType classifies a proposed calendar action.
type ActionType string

const (
	ActionCreate ActionType = "CREATE"
	ActionUpdate ActionType = "UPDATE"
	ActionMove   ActionType = "MOVE"
	ActionIgnore ActionType = "IGNORE"
)

// EventDraft carries the event fields a proposed action wants to write.
// StartTime and EndTime are either both date-only (YYYY-MM-DD, all-day
// events) or both RFC3339 date-times; the assistant is responsible for
// keeping them consistent and a rejected remote write is repaired rather
// than pre-validated.
type EventDraft struct {
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
}

// ProposedAction is one structured suggestion produced by the extraction
// call, awaiting user or automatic confirmation. It is consumed and
// discarded once actioned or rejected.
type ProposedAction struct {
	Type             ActionType  `json:"type"`
	Confidence       float64     `json:"confidence"`
	Reasoning        string      `json:"reasoning"`
	TargetLocalID    string      `json:"target_local_id,omitempty"`
	Event            *EventDraft `json:"event,omitempty"`
	SourceCalendarID string      `json:"source_calendar_id,omitempty"`
	SourceEventID    string      `json:"source_event_id,omitempty"`
}

// LedgerEntry is the slice of a ledger record the extraction prompt needs:
// enough for the model to reference existing events without leaking the
// whole record.
type LedgerEntry struct {
	LocalID   string `json:"local_id"`
	Summary   string `json:"summary"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Synced    bool   `json:"synced"`
}
