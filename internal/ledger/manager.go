// Package ledger maintains the durable local event ledger. Every event the
// assistant knows about has a record here, whether or not it ever reached
// the remote calendar.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/calscribe/internal/intent"
	"github.com/kalambet/calscribe/internal/storage"
)

// placeholderPrefix marks gcal ids that were generated locally and not yet
// replaced by a real remote id.
const placeholderPrefix = "local-"

// Manager provides ledger semantics over the event store.
type Manager struct {
	store *storage.Store
	now   func() time.Time
}

// NewManager creates a Manager backed by the given store.
func NewManager(store *storage.Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// IsPlaceholder reports whether a gcal id is a local placeholder rather
// than a real remote id.
func IsPlaceholder(gcalID string) bool {
	return strings.HasPrefix(gcalID, placeholderPrefix)
}

// CreateFromDraft persists a new unsynced record for the draft. The record
// gets a fresh local id and a placeholder gcal id so it is addressable
// before any remote write succeeds.
func (m *Manager) CreateFromDraft(draft intent.EventDraft, originalText string) (storage.EventRecord, error) {
	rec := storage.EventRecord{
		LocalID:      uuid.NewString(),
		GCalID:       placeholderPrefix + uuid.NewString(),
		Summary:      draft.Summary,
		Description:  draft.Description,
		Location:     draft.Location,
		StartTime:    draft.StartTime,
		EndTime:      draft.EndTime,
		LastUpdated:  m.now().UTC(),
		OriginalText: originalText,
		Synced:       false,
	}
	if err := m.store.SaveEvent(rec); err != nil {
		return storage.EventRecord{}, fmt.Errorf("save event: %w", err)
	}
	return rec, nil
}

// ApplyUpdate merges the draft's non-empty fields into the target record and
// marks it unsynced again. Only the addressed record changes.
func (m *Manager) ApplyUpdate(localID string, draft intent.EventDraft, originalText string) (storage.EventRecord, error) {
	rec, err := m.store.GetEvent(localID)
	if err != nil {
		return storage.EventRecord{}, fmt.Errorf("get event %s: %w", localID, err)
	}

	if draft.Summary != "" {
		rec.Summary = draft.Summary
	}
	if draft.Description != "" {
		rec.Description = draft.Description
	}
	if draft.Location != "" {
		rec.Location = draft.Location
	}
	if draft.StartTime != "" {
		rec.StartTime = draft.StartTime
	}
	if draft.EndTime != "" {
		rec.EndTime = draft.EndTime
	}
	if originalText != "" {
		rec.OriginalText = originalText
	}
	rec.LastUpdated = m.now().UTC()
	rec.Synced = false
	rec.SyncError = ""

	if err := m.store.UpdateEvent(rec); err != nil {
		return storage.EventRecord{}, fmt.Errorf("update event %s: %w", localID, err)
	}
	return rec, nil
}

// AdoptRepaired folds a repaired draft into the record and records the
// successful remote write in a single update, so the record never reads as
// unsynced in between.
func (m *Manager) AdoptRepaired(localID, gcalID string, draft intent.EventDraft) (storage.EventRecord, error) {
	rec, err := m.store.GetEvent(localID)
	if err != nil {
		return storage.EventRecord{}, fmt.Errorf("get event %s: %w", localID, err)
	}

	if draft.Summary != "" {
		rec.Summary = draft.Summary
	}
	if draft.Description != "" {
		rec.Description = draft.Description
	}
	if draft.Location != "" {
		rec.Location = draft.Location
	}
	if draft.StartTime != "" {
		rec.StartTime = draft.StartTime
	}
	if draft.EndTime != "" {
		rec.EndTime = draft.EndTime
	}
	rec.GCalID = gcalID
	rec.LastUpdated = m.now().UTC()
	rec.Synced = true
	rec.SyncError = ""

	if err := m.store.UpdateEvent(rec); err != nil {
		return storage.EventRecord{}, fmt.Errorf("update event %s: %w", localID, err)
	}
	return rec, nil
}

// FindByRemote returns the record already tracking the given remote id, or
// storage.ErrNotFound.
func (m *Manager) FindByRemote(gcalID string) (storage.EventRecord, error) {
	return m.store.GetEventByGCalID(gcalID)
}

// AdoptRemote records a successful remote write: the placeholder is replaced
// with the real remote id, the synced flag is set and any error cleared.
func (m *Manager) AdoptRemote(localID, gcalID string) error {
	if err := m.store.MarkEventSynced(localID, gcalID); err != nil {
		return fmt.Errorf("mark synced %s: %w", localID, err)
	}
	return nil
}

// MarkError flags the record as needing manual retry. The record itself is
// preserved untouched so no user intent is lost.
func (m *Manager) MarkError(localID, msg string) error {
	if err := m.store.MarkEventError(localID, msg); err != nil {
		return fmt.Errorf("mark error %s: %w", localID, err)
	}
	return nil
}

// Get returns a single ledger record.
func (m *Manager) Get(localID string) (storage.EventRecord, error) {
	return m.store.GetEvent(localID)
}

// List returns ledger records, newest first.
func (m *Manager) List(limit, offset int) ([]storage.EventRecord, error) {
	return m.store.ListEvents(limit, offset)
}

// snapshotLimit bounds how many ledger entries travel into an extraction
// prompt.
const snapshotLimit = 200

// Snapshot returns the ledger view handed to the extractor so the model can
// resolve references against existing events.
func (m *Manager) Snapshot() ([]intent.LedgerEntry, error) {
	records, err := m.store.ListEvents(snapshotLimit, 0)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	entries := make([]intent.LedgerEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, intent.LedgerEntry{
			LocalID:   rec.LocalID,
			Summary:   rec.Summary,
			StartTime: rec.StartTime,
			EndTime:   rec.EndTime,
			Synced:    rec.Synced,
		})
	}
	return entries, nil
}
